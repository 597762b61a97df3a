package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	content := `
database:
  driver: sqlite
  name: lookups
lookup:
  memoize: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if !cfg.Database.IsSQLite() {
		t.Fatalf("expected sqlite driver, got %s", cfg.Database.Driver)
	}
	if got := cfg.Database.DSN(); got != "./data/lookups.db" {
		t.Fatalf("unexpected DSN: %s", got)
	}
	if cfg.Lookup.Driver != "sql" {
		t.Fatalf("expected default lookup driver sql, got %s", cfg.Lookup.Driver)
	}
	if !cfg.Lookup.Memoize {
		t.Fatal("expected memoize=true")
	}
	if cfg.Instrumentation.BufferSize != 500 {
		t.Fatalf("expected buffer_size=500, got %d", cfg.Instrumentation.BufferSize)
	}
}

func TestDatabaseConfig_PostgresDSN(t *testing.T) {
	d := DatabaseConfig{Driver: "postgres", User: "u", Password: "p", Host: "db", Port: 5432, Name: "enricher"}
	want := "postgres://u:p@db:5432/enricher?sslmode=disable"
	if got := d.DSN(); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
