package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Stream.Path != "/api/chat/stream" {
		t.Errorf("Stream.Path = %q", cfg.Stream.Path)
	}
	if cfg.Stream.MaxLineBytes != 1<<20 {
		t.Errorf("Stream.MaxLineBytes = %d, want 1MiB", cfg.Stream.MaxLineBytes)
	}
	if cfg.Preview.ConsoleDebounce != 500*time.Millisecond {
		t.Errorf("Preview.ConsoleDebounce = %v", cfg.Preview.ConsoleDebounce)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != Defaults().API.BaseURL {
		t.Errorf("expected default base url, got %q", cfg.API.BaseURL)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `
api:
  base_url: "https://editor.example.com"
  default_project: "42"
  rate_limit: 5
  rate_burst: 5
stream:
  require_sentinel: true
workspace:
  mirror_dir: "/tmp/mirror"
  watch: true
logger:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "https://editor.example.com" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.DefaultProject != "42" {
		t.Errorf("DefaultProject = %q", cfg.API.DefaultProject)
	}
	if !cfg.Stream.RequireSentinel {
		t.Error("RequireSentinel should be true")
	}
	if cfg.Stream.Path != "/api/chat/stream" {
		t.Errorf("unset fields keep defaults, got Stream.Path=%q", cfg.Stream.Path)
	}
	if !cfg.Workspace.Watch || cfg.Workspace.MirrorDir != "/tmp/mirror" {
		t.Errorf("Workspace = %+v", cfg.Workspace)
	}
	if cfg.Logger.Format != "json" {
		t.Errorf("Logger.Format = %q", cfg.Logger.Format)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", "api: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadRejectsWorldWritable(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", "logger:\n  level: debug\n")
	if err := os.Chmod(path, 0o666); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "insecure permissions") {
		t.Fatalf("expected permissions error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COMPANION_API_BASE_URL", "https://env.example.com")
	t.Setenv("COMPANION_PROJECT", "7")
	t.Setenv("COMPANION_LOGGER_LEVEL", "debug")
	t.Setenv("COMPANION_STREAM_REQUIRE_SENTINEL", "true")
	t.Setenv("COMPANION_WORKSPACE_WATCH", "not-a-bool")
	t.Setenv("COMPANION_PREVIEW_ALLOWED_ORIGINS", "localhost:*, , example.com")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.API.BaseURL != "https://env.example.com" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.DefaultProject != "7" {
		t.Errorf("DefaultProject = %q", cfg.API.DefaultProject)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "debug")
	}
	if !cfg.Stream.RequireSentinel {
		t.Error("RequireSentinel should be true")
	}
	if cfg.Workspace.Watch {
		t.Error("unparseable bool must leave the default")
	}
	if got := cfg.Preview.AllowedOrigins; len(got) != 2 || got[0] != "localhost:*" || got[1] != "example.com" {
		t.Errorf("AllowedOrigins = %v", got)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", "api:\n  base_url: https://file.example.com\n")
	t.Setenv("COMPANION_API_BASE_URL", "https://env.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "https://env.example.com" {
		t.Errorf("BaseURL = %q, env should win", cfg.API.BaseURL)
	}
}

func TestEncryptDecryptValue(t *testing.T) {
	enc, err := EncryptValue("s3cret-token", "passphrase")
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	if strings.Contains(enc, "s3cret") {
		t.Fatal("ciphertext leaks plaintext")
	}

	got, err := DecryptValue(enc, "passphrase")
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if got != "s3cret-token" {
		t.Errorf("DecryptValue = %q", got)
	}

	if _, err := DecryptValue(enc, "wrong"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
	if _, err := DecryptValue("no-separator", "passphrase"); err == nil {
		t.Error("expected error for malformed value")
	}
}

func TestLoadDecryptsToken(t *testing.T) {
	enc, err := EncryptValue("tok-123", "k")
	if err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, t.TempDir(), "config.yaml", "api:\n  token: \"enc:"+enc+"\"\n")
	t.Setenv("COMPANION_CONFIG_KEY", "k")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Token != "tok-123" {
		t.Errorf("Token = %q", cfg.API.Token)
	}
}

func TestLoadDecryptWrongKey(t *testing.T) {
	enc, err := EncryptValue("tok-123", "k")
	if err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, t.TempDir(), "config.yaml", "api:\n  token: \"enc:"+enc+"\"\n")
	t.Setenv("COMPANION_CONFIG_KEY", "other")

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "api.token") {
		t.Fatalf("expected api.token decrypt error, got %v", err)
	}
}
