package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaultConfig verifies default configuration values
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.DryRun {
		t.Errorf("DryRun = %v, want false", cfg.DryRun)
	}
	if cfg.Executor.ProcessTimeout != 30*time.Second {
		t.Errorf("ProcessTimeout = %v, want 30s", cfg.Executor.ProcessTimeout)
	}
	if !cfg.Approval.AutoApproveLowRisk {
		t.Error("AutoApproveLowRisk should default to true")
	}
	if len(cfg.Approval.SafetyKeywords) == 0 {
		t.Error("SafetyKeywords should have defaults")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

// TestLoadConfigValidFile tests loading a valid YAML config file
func TestLoadConfigValidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `log_level: debug
dry_run: true
db_path: /tmp/ops.db
executor:
  process_timeout: 2m
  max_output_bytes: 1024
approval:
  auto_approve_low_risk: false
  confidence_threshold: 0.9
  safety_keywords: [nuke]
verification:
  layer_timeout: 250ms
  default_mode: fast
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if !cfg.DryRun {
		t.Error("DryRun = false, want true")
	}
	if cfg.DBPath != "/tmp/ops.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Executor.ProcessTimeout != 2*time.Minute {
		t.Errorf("ProcessTimeout = %v, want 2m", cfg.Executor.ProcessTimeout)
	}
	if cfg.Executor.MaxOutputBytes != 1024 {
		t.Errorf("MaxOutputBytes = %d, want 1024", cfg.Executor.MaxOutputBytes)
	}
	// Untouched keys keep defaults
	if cfg.Executor.BackupDir != ".opgate/backups" {
		t.Errorf("BackupDir = %q, want default", cfg.Executor.BackupDir)
	}
	if cfg.Approval.AutoApproveLowRisk {
		t.Error("AutoApproveLowRisk = true, want false")
	}
	if cfg.Approval.ConfidenceThreshold != 0.9 {
		t.Errorf("ConfidenceThreshold = %v, want 0.9", cfg.Approval.ConfidenceThreshold)
	}
	if len(cfg.Approval.SafetyKeywords) != 1 || cfg.Approval.SafetyKeywords[0] != "nuke" {
		t.Errorf("SafetyKeywords = %v, want [nuke]", cfg.Approval.SafetyKeywords)
	}
	if cfg.Verification.LayerTimeout != 250*time.Millisecond {
		t.Errorf("LayerTimeout = %v", cfg.Verification.LayerTimeout)
	}
	if cfg.Verification.DefaultMode != "FAST" {
		t.Errorf("DefaultMode = %q, want FAST", cfg.Verification.DefaultMode)
	}
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "log_level: [unclosed"},
		{"bad process timeout", "executor:\n  process_timeout: soon\n"},
		{"bad layer timeout", "verification:\n  layer_timeout: 5 parsecs\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"zero timeout", func(c *Config) { c.Executor.ProcessTimeout = 0 }},
		{"zero output cap", func(c *Config) { c.Executor.MaxOutputBytes = 0 }},
		{"threshold above one", func(c *Config) { c.Approval.ConfidenceThreshold = 1.2 }},
		{"unknown mode", func(c *Config) { c.Verification.DefaultMode = "THOROUGH" }},
		{"empty shell", func(c *Config) { c.Executor.Shell = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestMergeWithFlags(t *testing.T) {
	cfg := DefaultConfig()
	dry := true
	level := "warn"
	timeout := 5 * time.Second

	cfg.MergeWithFlags(&dry, &level, nil, &timeout)

	if !cfg.DryRun || cfg.LogLevel != "warn" || cfg.Executor.ProcessTimeout != timeout {
		t.Errorf("flags not merged: %+v", cfg)
	}
	if cfg.DBPath != ".opgate/operations.db" {
		t.Errorf("nil flag should not override DBPath, got %q", cfg.DBPath)
	}
}

func TestGetHomeFromEnv(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	t.Setenv(HomeEnv, dir)

	home, err := GetHome()
	if err != nil {
		t.Fatalf("GetHome() error = %v", err)
	}
	if home != dir {
		t.Errorf("GetHome() = %q, want %q", home, dir)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("home directory not created: %v", err)
	}
}

func TestResolvePath(t *testing.T) {
	if got := ResolvePath("/base", "ops.db"); got != "/base/ops.db" {
		t.Errorf("ResolvePath relative = %q", got)
	}
	if got := ResolvePath("/base", "/abs/ops.db"); got != "/abs/ops.db" {
		t.Errorf("ResolvePath absolute = %q", got)
	}
	if got := ResolvePath("/base", ":memory:"); got != ":memory:" {
		t.Errorf("ResolvePath memory = %q", got)
	}
}
