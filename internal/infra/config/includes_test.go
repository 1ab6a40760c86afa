package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestIncludesMergeAndMainWins(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "api.yaml", `
api:
  base_url: "https://included.example.com"
  default_project: "9"
`)
	main := writeConfig(t, dir, "config.yaml", `
includes:
  - api.yaml
api:
  base_url: "https://main.example.com"
`)

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "https://main.example.com" {
		t.Errorf("BaseURL = %q, main file should win", cfg.API.BaseURL)
	}
	if cfg.API.DefaultProject != "9" {
		t.Errorf("DefaultProject = %q, want value from include", cfg.API.DefaultProject)
	}
	if cfg.Includes != nil {
		t.Errorf("Includes should be cleared, got %v", cfg.Includes)
	}
}

func TestIncludesGlobAndNested(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.inc.yaml", "includes:\n  - nested.yaml\nlogger:\n  level: debug\n")
	writeConfig(t, dir, "nested.yaml", "preview:\n  max_errors: 7\n")
	writeConfig(t, dir, "b.inc.yaml", "logger:\n  format: json\n")
	main := writeConfig(t, dir, "config.yaml", "includes:\n  - \"*.inc.yaml\"\n")

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logger.Level != "debug" || cfg.Logger.Format != "json" {
		t.Errorf("Logger = %+v", cfg.Logger)
	}
	if cfg.Preview.MaxErrors != 7 {
		t.Errorf("Preview.MaxErrors = %d, want 7 from nested include", cfg.Preview.MaxErrors)
	}
}

func TestIncludesUnmatchedGlobIsFine(t *testing.T) {
	dir := t.TempDir()
	main := writeConfig(t, dir, "config.yaml", "includes:\n  - \"conf.d/*.yaml\"\n")
	if _, err := Load(main); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestIncludesErrors(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantErr string
	}{
		{
			name:    "missing literal",
			files:   map[string]string{"config.yaml": "includes:\n  - nope.yaml\n"},
			wantErr: "nope.yaml",
		},
		{
			name:    "escapes directory",
			files:   map[string]string{"config.yaml": "includes:\n  - ../outside.yaml\n"},
			wantErr: "escapes config directory",
		},
		{
			name: "circular",
			files: map[string]string{
				"config.yaml": "includes:\n  - a.yaml\n",
				"a.yaml":      "includes:\n  - b.yaml\n",
				"b.yaml":      "includes:\n  - a.yaml\n",
			},
			wantErr: "circular",
		},
		{
			name: "bad yaml",
			files: map[string]string{
				"config.yaml": "includes:\n  - a.yaml\n",
				"a.yaml":      "logger: [",
			},
			wantErr: "parse",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				writeConfig(t, dir, name, content)
			}
			_, err := Load(filepath.Join(dir, "config.yaml"))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
