package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRunValidate(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "relay.yaml")
	if err := os.WriteFile(valid, []byte(`
name: edge
proxies:
  - name: api
    path: /
    remote:
      endpoints:
        - url: http://a.example
`), 0o600); err != nil {
		t.Fatal(err)
	}

	invalid := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(invalid, []byte("name: edge\nproxies: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { cfgPath = "" })

	cfgPath = valid
	if err := runValidate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cfgPath = invalid
	if err := runValidate(); err == nil {
		t.Fatal("expected an error for a config without proxies")
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Cleanup(func() { cfgPath = "" })

	t.Setenv(configEnv, "")
	cfgPath = ""

	if got := resolveConfigPath(); got != defaultConfigPath {
		t.Errorf("expected default path, got %q", got)
	}

	t.Setenv(configEnv, "/etc/relay.toml")
	if got := resolveConfigPath(); got != "/etc/relay.toml" {
		t.Errorf("expected env path, got %q", got)
	}

	cfgPath = "custom.json"
	if got := resolveConfigPath(); got != "custom.json" {
		t.Errorf("expected flag path, got %q", got)
	}
}
