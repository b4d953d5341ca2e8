package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quill-vm/quill/heap"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[gc]
initial-threshold = 4096

[log]
level = "debug"

[store]
dsn = "quill.db"

[introspect]
enabled = true
listen-addr = "0.0.0.0:9000"
`
	path := filepath.Join(dir, "quill.toml")
	if err := os.WriteFile(path, []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.GC.InitialThreshold != 4096 {
		t.Errorf("gc.initial-threshold = %d, want 4096", c.GC.InitialThreshold)
	}
	if c.Log.Level != "debug" {
		t.Errorf("log.level = %q, want debug", c.Log.Level)
	}
	if c.Store.DSN != "quill.db" {
		t.Errorf("store.dsn = %q, want quill.db", c.Store.DSN)
	}
	if !c.Introspect.Enabled {
		t.Error("introspect.enabled = false, want true")
	}
	if c.Introspect.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("introspect.listen-addr = %q, want 0.0.0.0:9000", c.Introspect.ListenAddr)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quill.toml")
	if err := os.WriteFile(path, []byte("[project]\n"), 0644); err != nil {
		// well-formed but unknown: an unknown top-level section is
		// simply ignored by toml.Unmarshal
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.GC.InitialThreshold != heap.MinThreshold {
		t.Errorf("gc.initial-threshold = %d, want %d", c.GC.InitialThreshold, heap.MinThreshold)
	}
	if c.Log.Level != DefaultLogLevel {
		t.Errorf("log.level = %q, want %q", c.Log.Level, DefaultLogLevel)
	}
	if c.Introspect.Enabled {
		t.Error("introspect.enabled should default to false")
	}
	if c.Introspect.ListenAddr != "" {
		t.Errorf("introspect.listen-addr should default to empty when disabled, got %q", c.Introspect.ListenAddr)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/quill.toml"); err == nil {
		t.Error("expected an error loading a missing quill.toml")
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.GC.InitialThreshold != heap.MinThreshold {
		t.Errorf("gc.initial-threshold = %d, want %d", c.GC.InitialThreshold, heap.MinThreshold)
	}
	if c.Log.Level != DefaultLogLevel {
		t.Errorf("log.level = %q, want %q", c.Log.Level, DefaultLogLevel)
	}
}
