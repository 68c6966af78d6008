package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
state:
  path: /tmp/hookgate-test.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Service.Name != "hookgate" {
		t.Errorf("Name = %q", cfg.Service.Name)
	}
	if cfg.Service.LogLevel != "info" || cfg.Service.LogFormat != "json" {
		t.Errorf("log defaults = %q/%q", cfg.Service.LogLevel, cfg.Service.LogFormat)
	}
	if cfg.API.Listen != ":8080" {
		t.Errorf("Listen = %q", cfg.API.Listen)
	}
	if cfg.Events.Buffer != 100 {
		t.Errorf("Buffer = %d", cfg.Events.Buffer)
	}
}

func TestLoadInterpolatesEnv(t *testing.T) {
	t.Setenv("HOOKGATE_TEST_API_KEY", "from-env")
	t.Setenv("HOOKGATE_TEST_ENC_KEY", "enc-from-env")

	path := writeConfig(t, `
state:
  path: /tmp/hookgate-test.db
api:
  auth:
    api_key: ${HOOKGATE_TEST_API_KEY}
security:
  encryption_key: ${HOOKGATE_TEST_ENC_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Auth.APIKey != "from-env" {
		t.Errorf("APIKey = %q", cfg.API.Auth.APIKey)
	}
	if cfg.Security.EncryptionKey != "enc-from-env" {
		t.Errorf("EncryptionKey = %q", cfg.Security.EncryptionKey)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"bad log level",
			"state:\n  path: /tmp/x.db\nservice:\n  log_level: verbose\n",
			"log_level",
		},
		{
			"bad log format",
			"state:\n  path: /tmp/x.db\nservice:\n  log_format: xml\n",
			"log_format",
		},
		{
			"token without scopes",
			"state:\n  path: /tmp/x.db\napi:\n  auth:\n    tokens:\n      - token: abc\n",
			"scope",
		},
		{
			"empty interpolated token",
			"state:\n  path: /tmp/x.db\napi:\n  auth:\n    tokens:\n      - token: ${HOOKGATE_DEFINITELY_UNSET}\n        scopes: [\"webhooks:ro\"]\n",
			"token is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load succeeded for missing file")
	}
}

func TestLoadAcceptsDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("state:\n  path: /tmp/x.db\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.State.Path != "/tmp/x.db" {
		t.Errorf("Path = %q", cfg.State.Path)
	}
}

func TestDiscoverConfigFilePrefersEnv(t *testing.T) {
	path := writeConfig(t, "state:\n  path: /tmp/x.db\n")
	t.Setenv("HOOKGATE_CONFIG", path)

	got, err := DiscoverConfigFile()
	if err != nil {
		t.Fatalf("DiscoverConfigFile: %v", err)
	}
	if got != path {
		t.Errorf("path = %q, want %q", got, path)
	}

	t.Setenv("HOOKGATE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := DiscoverConfigFile(); err == nil {
		t.Error("expected error for dangling $HOOKGATE_CONFIG")
	}
}
