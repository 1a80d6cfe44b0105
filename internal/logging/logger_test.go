package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"discarchive/internal/logging"
	"discarchive/internal/services"
)

func newFileLogger(t *testing.T, format, level string) (string, func() string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.log")
	logger, err := logging.New(logging.Options{Format: format, Level: level, OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.NewComponentLogger(logger, "monitor").Info("disc detected", logging.String("label", "MY MOVIE"), logging.Int("attempt", 2))
	logger.Debug("hidden unless debug")
	return path, func() string {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read log: %v", err)
		}
		return string(data)
	}
}

func TestConsoleLoggerFormatsComponentAndFields(t *testing.T) {
	_, read := newFileLogger(t, "console", "info")
	content := read()
	for _, fragment := range []string{"INFO monitor: disc detected", `label="MY MOVIE"`, "attempt=2"} {
		if !strings.Contains(content, fragment) {
			t.Fatalf("expected %q in %q", fragment, content)
		}
	}
	if strings.Contains(content, "hidden unless debug") {
		t.Fatalf("debug line leaked at info level: %q", content)
	}
	if strings.Contains(content, "\x1b[") {
		t.Fatalf("expected no color codes in file output: %q", content)
	}
}

func TestJSONLoggerRenamesKeys(t *testing.T) {
	_, read := newFileLogger(t, "json", "info")
	line := strings.TrimSpace(strings.Split(read(), "\n")[0])
	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("decode json line %q: %v", line, err)
	}
	if payload["level"] != "info" || payload["msg"] != "disc detected" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key in %v", payload)
	}
	if payload[logging.FieldComponent] != "monitor" {
		t.Fatalf("expected component field, got %v", payload)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWithContextAddsJobFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := services.WithStep(services.WithJob(context.Background(), 7, ""), "ripping")
	logging.WithContext(ctx, logger).Info("step started")

	data, _ := os.ReadFile(path)
	for _, fragment := range []string{"job_id=7", "stage=ripping"} {
		if !strings.Contains(string(data), fragment) {
			t.Fatalf("expected %q in %q", fragment, data)
		}
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logging.WarnWithContext(logger, "metadata lookup failed", "metadata_fallback", logging.String(logging.FieldImpact, "using disc label"))
	data, _ := os.ReadFile(path)
	content := string(data)
	for _, fragment := range []string{"event_type=metadata_fallback", "error_hint=", `impact="using disc label"`} {
		if !strings.Contains(content, fragment) {
			t.Fatalf("expected %q in %q", fragment, content)
		}
	}
}
