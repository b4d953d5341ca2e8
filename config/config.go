// Package config handles quill.toml runtime configuration: the knobs that
// tune the collector, logging, persistent store, and remote introspection
// service without recompiling the embedding host.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/quill-vm/quill/heap"
)

// Config is the parsed contents of a quill.toml file. Every section is
// optional; Load fills in documented defaults for whatever is missing
// rather than failing.
type Config struct {
	GC         GC         `toml:"gc"`
	Log        Log        `toml:"log"`
	Store      Store      `toml:"store"`
	Introspect Introspect `toml:"introspect"`

	// Dir is the directory the quill.toml file was loaded from, resolved at
	// load time rather than stored in the file itself.
	Dir string `toml:"-"`
}

// GC configures the collector's allocation threshold.
type GC struct {
	// InitialThreshold is the live-cell count that triggers the first
	// collection. Zero means use heap.MinThreshold.
	InitialThreshold int `toml:"initial-threshold"`
}

// Log configures the structured logging facade.
type Log struct {
	// Level is one of "debug", "info", "warning", "error". Empty means
	// "info".
	Level string `toml:"level"`
}

// Store configures the persistent object store.
type Store struct {
	// DSN is the modernc.org/sqlite data source name. Nothing in this
	// module opens the store from it; a host passes it to store.Install.
	DSN string `toml:"dsn"`
}

// Introspect configures the remote introspection service.
type Introspect struct {
	// ListenAddr is the host:port for the gRPC/Connect mux. Nothing in this
	// module starts a listener from it; the host does.
	ListenAddr string `toml:"listen-addr"`

	// Enabled is the host's opt-in flag for the service; Load only uses it
	// to decide whether an empty ListenAddr gets DefaultIntrospectAddr.
	Enabled bool `toml:"enabled"`
}

// DefaultLogLevel is applied when [log].level is missing or empty.
const DefaultLogLevel = "info"

// DefaultIntrospectAddr is applied when [introspect].listen-addr is missing
// or empty but the service has been enabled.
const DefaultIntrospectAddr = "localhost:7766"

// Load reads and parses a quill.toml file at path, applying documented
// defaults to any section left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse error in %s: %w", path, err)
	}

	c.applyDefaults()
	c.Dir = filepath.Dir(path)
	return &c, nil
}

// Default returns a Config with every documented default applied, used
// when no quill.toml is present at all.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.GC.InitialThreshold <= 0 {
		c.GC.InitialThreshold = heap.MinThreshold
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Introspect.Enabled && c.Introspect.ListenAddr == "" {
		c.Introspect.ListenAddr = DefaultIntrospectAddr
	}
}
