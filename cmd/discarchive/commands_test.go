package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", target}, ""); err == nil {
		t.Fatal("expected refusal to overwrite")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--overwrite", target}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestStatusReportsDaemonLock(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "not running")

	lock := flock.New(env.cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil || !ok {
		t.Fatalf("take lock: %v %v", ok, err)
	}
	defer lock.Unlock()

	out, _, err = runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "[OK] running")
}

func TestDriveStatusReportsMissingDevice(t *testing.T) {
	env := setupCLITestEnv(t)
	missing := filepath.Join(t.TempDir(), "sr9")

	out, _, err := runCLI(t, []string{"drive", "status", "--device", missing}, env.configPath)
	if err != nil {
		t.Fatalf("drive status: %v", err)
	}
	requireContains(t, out, "[ERROR]")
}

func TestDepsReportsSections(t *testing.T) {
	env := setupCLITestEnv(t)
	t.Setenv("PATH", t.TempDir())

	out, _, err := runCLI(t, []string{"deps"}, env.configPath)
	if err == nil {
		t.Fatal("expected missing tools to fail the check")
	}
	requireContains(t, out, "== Tools ==")
	requireContains(t, out, "== Directories ==")
	requireContains(t, out, "MakeMKV")
}

func TestRenderStatusLinePlain(t *testing.T) {
	got := renderStatusLine("Daemon", statusOK, "running", false)
	want := "  Daemon:              [OK] running"
	if got != want {
		t.Fatalf("renderStatusLine = %q, want %q", got, want)
	}
}
