package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autosort.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsAndFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9090"
database:
  url: postgres://localhost/autosort
auth:
  jwt_secret: sekrit
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":9090" {
		t.Fatalf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Folders.Prefix != "@" || cfg.Folders.BlackholeName != "@Blackhole" {
		t.Fatalf("folder defaults not applied: %+v", cfg.Folders)
	}
	if cfg.Sweep.PageSize != 500 {
		t.Fatalf("sweep default not applied: %+v", cfg.Sweep)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/autosort
auth:
  jwt_secret: sekrit
`)
	t.Setenv("AUTOSORT_LISTEN", ":7070")
	t.Setenv("AUTOSORT_DATABASE_URL", "postgres://db/override")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":7070" {
		t.Fatalf("env override ignored: %q", cfg.Server.Listen)
	}
	if cfg.Database.URL != "postgres://db/override" {
		t.Fatalf("database override ignored: %q", cfg.Database.URL)
	}
}

func TestLoadRejectsMissingDatabase(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: sekrit
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
}
