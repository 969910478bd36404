package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default safety keywords. A verification warning containing any of these
// forces human approval regardless of classification.
var DefaultSafetyKeywords = []string{
	"delete", "remove", "rm ", "format", "shutdown", "reboot", "kill",
	"overwrite", "drop", "sudo", "chmod", "chown", "wipe", "truncate",
}

// ExecutorConfig controls operation execution.
type ExecutorConfig struct {
	// ProcessTimeout is the wall-clock limit for spawned processes
	ProcessTimeout time.Duration `yaml:"process_timeout"`

	// MaxOutputBytes caps captured stdout and stderr individually
	MaxOutputBytes int64 `yaml:"max_output_bytes"`

	// BackupDir is where pre-execution backups are written
	BackupDir string `yaml:"backup_dir"`

	// MaxBackupBytes skips backups of files larger than this
	MaxBackupBytes int64 `yaml:"max_backup_bytes"`

	// Shell runs PROCESS commands (invoked as "<shell> -c <command>")
	Shell string `yaml:"shell"`
}

// ApprovalConfig controls the approval policy.
type ApprovalConfig struct {
	// AutoApproveLowRisk skips approval for confident READ/INTERPRET STREAM HUMAN operations
	AutoApproveLowRisk bool `yaml:"auto_approve_low_risk"`

	// ConfidenceThreshold is the minimum classifier confidence considered "confident"
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// SafetyKeywords force approval when they appear in a verification warning
	SafetyKeywords []string `yaml:"safety_keywords"`
}

// VerificationConfig controls the verification pipeline.
type VerificationConfig struct {
	// LayerTimeout bounds each layer; a layer exceeding it fails the pipeline
	LayerTimeout time.Duration `yaml:"layer_timeout"`

	// DefaultMode is used when the behavior mode gives no hint (FAST or STANDARD)
	DefaultMode string `yaml:"default_mode"`
}

// Config represents opgate configuration options
type Config struct {
	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where logs will be written
	LogDir string `yaml:"log_dir"`

	// DBPath is the operation store database
	DBPath string `yaml:"db_path"`

	// DryRun short-circuits every execution without side effects
	DryRun bool `yaml:"dry_run"`

	Executor     ExecutorConfig     `yaml:"executor"`
	Approval     ApprovalConfig     `yaml:"approval"`
	Verification VerificationConfig `yaml:"verification"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		LogDir:   ".opgate/logs",
		DBPath:   ".opgate/operations.db",
		DryRun:   false,
		Executor: ExecutorConfig{
			ProcessTimeout: 30 * time.Second,
			MaxOutputBytes: 64 * 1024,
			BackupDir:      ".opgate/backups",
			MaxBackupBytes: 50 * 1024 * 1024,
			Shell:          "/bin/sh",
		},
		Approval: ApprovalConfig{
			AutoApproveLowRisk:  true,
			ConfidenceThreshold: 0.7,
			SafetyKeywords:      append([]string(nil), DefaultSafetyKeywords...),
		},
		Verification: VerificationConfig{
			LayerTimeout: 5 * time.Second,
			DefaultMode:  "STANDARD",
		},
	}
}

// yamlConfig mirrors Config with pointer fields so absent keys keep their defaults.
type yamlConfig struct {
	LogLevel *string `yaml:"log_level"`
	LogDir   *string `yaml:"log_dir"`
	DBPath   *string `yaml:"db_path"`
	DryRun   *bool   `yaml:"dry_run"`
	Executor *struct {
		ProcessTimeout *string `yaml:"process_timeout"`
		MaxOutputBytes *int64  `yaml:"max_output_bytes"`
		BackupDir      *string `yaml:"backup_dir"`
		MaxBackupBytes *int64  `yaml:"max_backup_bytes"`
		Shell          *string `yaml:"shell"`
	} `yaml:"executor"`
	Approval *struct {
		AutoApproveLowRisk  *bool    `yaml:"auto_approve_low_risk"`
		ConfidenceThreshold *float64 `yaml:"confidence_threshold"`
		SafetyKeywords      []string `yaml:"safety_keywords"`
	} `yaml:"approval"`
	Verification *struct {
		LayerTimeout *string `yaml:"layer_timeout"`
		DefaultMode  *string `yaml:"default_mode"`
	} `yaml:"verification"`
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if raw.LogLevel != nil {
		cfg.LogLevel = *raw.LogLevel
	}
	if raw.LogDir != nil {
		cfg.LogDir = *raw.LogDir
	}
	if raw.DBPath != nil {
		cfg.DBPath = *raw.DBPath
	}
	if raw.DryRun != nil {
		cfg.DryRun = *raw.DryRun
	}

	if e := raw.Executor; e != nil {
		if e.ProcessTimeout != nil {
			d, err := time.ParseDuration(*e.ProcessTimeout)
			if err != nil {
				return nil, fmt.Errorf("invalid executor.process_timeout %q: %w", *e.ProcessTimeout, err)
			}
			cfg.Executor.ProcessTimeout = d
		}
		if e.MaxOutputBytes != nil {
			cfg.Executor.MaxOutputBytes = *e.MaxOutputBytes
		}
		if e.BackupDir != nil {
			cfg.Executor.BackupDir = *e.BackupDir
		}
		if e.MaxBackupBytes != nil {
			cfg.Executor.MaxBackupBytes = *e.MaxBackupBytes
		}
		if e.Shell != nil {
			cfg.Executor.Shell = *e.Shell
		}
	}

	if a := raw.Approval; a != nil {
		if a.AutoApproveLowRisk != nil {
			cfg.Approval.AutoApproveLowRisk = *a.AutoApproveLowRisk
		}
		if a.ConfidenceThreshold != nil {
			cfg.Approval.ConfidenceThreshold = *a.ConfidenceThreshold
		}
		// An explicit keyword list replaces the defaults
		if a.SafetyKeywords != nil {
			cfg.Approval.SafetyKeywords = a.SafetyKeywords
		}
	}

	if v := raw.Verification; v != nil {
		if v.LayerTimeout != nil {
			d, err := time.ParseDuration(*v.LayerTimeout)
			if err != nil {
				return nil, fmt.Errorf("invalid verification.layer_timeout %q: %w", *v.LayerTimeout, err)
			}
			cfg.Verification.LayerTimeout = d
		}
		if v.DefaultMode != nil {
			cfg.Verification.DefaultMode = strings.ToUpper(*v.DefaultMode)
		}
	}

	return cfg, nil
}

// LoadConfigFromDir loads configuration from .opgate/config.yaml in the specified directory
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".opgate", "config.yaml"))
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
func (c *Config) MergeWithFlags(dryRun *bool, logLevel *string, dbPath *string, processTimeout *time.Duration) {
	if dryRun != nil {
		c.DryRun = *dryRun
	}
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if dbPath != nil {
		c.DBPath = *dbPath
	}
	if processTimeout != nil {
		c.Executor.ProcessTimeout = *processTimeout
	}
}

// Validate validates the configuration values
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if c.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}

	if c.Executor.ProcessTimeout <= 0 {
		return fmt.Errorf("executor.process_timeout must be > 0, got %v", c.Executor.ProcessTimeout)
	}
	if c.Executor.MaxOutputBytes <= 0 {
		return fmt.Errorf("executor.max_output_bytes must be > 0, got %d", c.Executor.MaxOutputBytes)
	}
	if c.Executor.MaxBackupBytes < 0 {
		return fmt.Errorf("executor.max_backup_bytes must be >= 0, got %d", c.Executor.MaxBackupBytes)
	}
	if c.Executor.BackupDir == "" {
		return fmt.Errorf("executor.backup_dir cannot be empty")
	}
	if c.Executor.Shell == "" {
		return fmt.Errorf("executor.shell cannot be empty")
	}

	if c.Approval.ConfidenceThreshold < 0 || c.Approval.ConfidenceThreshold > 1 {
		return fmt.Errorf("approval.confidence_threshold must be within [0,1], got %v", c.Approval.ConfidenceThreshold)
	}

	// Zero means no per-layer timeout
	if c.Verification.LayerTimeout < 0 {
		return fmt.Errorf("verification.layer_timeout must be >= 0, got %v", c.Verification.LayerTimeout)
	}
	switch c.Verification.DefaultMode {
	case "FAST", "STANDARD":
	default:
		return fmt.Errorf("invalid verification.default_mode %q, must be FAST or STANDARD", c.Verification.DefaultMode)
	}

	return nil
}
