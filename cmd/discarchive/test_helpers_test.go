package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"discarchive/internal/config"
	"discarchive/internal/queue"
	"discarchive/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *queue.Store
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	t.Setenv("HOME", filepath.Join(testsupport.BaseDir(cfg), "home"))
	t.Setenv("NO_COLOR", "1")

	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return &cliTestEnv{
		cfg:        cfg,
		store:      testsupport.MustOpenStore(t, cfg),
		configPath: configPath,
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}
