package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Default()
	if cfg.Tracker.ListenAddr != want.Tracker.ListenAddr {
		t.Fatalf("listen addr = %q", cfg.Tracker.ListenAddr)
	}
	if cfg.Node.HeartbeatInterval != want.Node.HeartbeatInterval {
		t.Fatalf("heartbeat interval = %d", cfg.Node.HeartbeatInterval)
	}
}

func TestLoad_OverridesMergeOverDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"tracker": {"listen_addr": "0.0.0.0:9001", "local_ai": false},
		"node": {"weight": 2.5},
		"log": {"level": "debug"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tracker.ListenAddr != "0.0.0.0:9001" {
		t.Fatalf("listen addr = %q", cfg.Tracker.ListenAddr)
	}
	if cfg.Tracker.LocalAI {
		t.Fatal("local_ai override lost")
	}
	if cfg.Node.Weight != 2.5 {
		t.Fatalf("weight = %v", cfg.Node.Weight)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Tracker.ControlAddr != Default().Tracker.ControlAddr {
		t.Fatalf("control addr = %q", cfg.Tracker.ControlAddr)
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeConfig(t, `{"tracker": {"listn_addr": "oops"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("misspelled key accepted")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	path := writeConfig(t, `{"tracker": `)
	if _, err := Load(path); err == nil {
		t.Fatal("malformed JSON accepted")
	}
}
