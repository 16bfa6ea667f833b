package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Protocol != "tls" {
		t.Fatalf("default protocol: got %q", cfg.Server.Protocol)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("default backend: got %q", cfg.Storage.Backend)
	}
	if cfg.Broker.QueueCapacity != 128 {
		t.Fatalf("default queue capacity: got %d", cfg.Broker.QueueCapacity)
	}
	if cfg.Frame.CompressionThreshold != 1436 {
		t.Fatalf("default compression threshold: got %d", cfg.Frame.CompressionThreshold)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kv.toml")
	body := `
[server]
protocol = "quic"
addr = "127.0.0.1:5000"

[storage]
backend = "badger"
data_dir = "/tmp/kv-data"

[broker]
queue_capacity = 16

[frame]
algorithm = "zstd"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Protocol != "quic" || cfg.Server.Addr != "127.0.0.1:5000" {
		t.Fatalf("server section not applied: %+v", cfg.Server)
	}
	if cfg.Storage.Backend != "badger" || cfg.Storage.DataDir != "/tmp/kv-data" {
		t.Fatalf("storage section not applied: %+v", cfg.Storage)
	}
	if cfg.Broker.QueueCapacity != 16 {
		t.Fatalf("broker section not applied: %+v", cfg.Broker)
	}
	if cfg.Frame.Algorithm != "zstd" {
		t.Fatalf("frame section not applied: %+v", cfg.Frame)
	}
}

func TestLoadRejectsUnknownProtocol(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kv.toml")
	if err := os.WriteFile(path, []byte("[server]\nprotocol = \"carrier-pigeon\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for unknown protocol")
	}
}
