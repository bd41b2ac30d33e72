package schema

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ServiceConfig defines defaults and limits for the console service.
type ServiceConfig struct {
	StateDir string
	// StateBackend selects the durable store: file, sqlite, or memory.
	StateBackend    string
	TerminalLatency time.Duration
	SSHCredential   string
	PollInterval    time.Duration
	DefaultTheme    ThemeName
}

const (
	// DefaultTerminalLatency is the simulated command round trip.
	DefaultTerminalLatency = 500 * time.Millisecond
	// DefaultSSHCredential is the accepted shell password.
	DefaultSSHCredential = "password"
	// DefaultPollInterval is the task registry refresh period.
	DefaultPollInterval = 30 * time.Second
)

// State backends.
const (
	StateBackendFile   = "file"
	StateBackendSQLite = "sqlite"
	StateBackendMemory = "memory"
)

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	cfg.StateBackend = strings.ToLower(strings.TrimSpace(cfg.StateBackend))
	if cfg.StateBackend == "" {
		cfg.StateBackend = StateBackendFile
	}
	switch cfg.StateBackend {
	case StateBackendFile, StateBackendSQLite, StateBackendMemory:
	default:
		return ServiceConfig{}, ErrInvalidRequest
	}
	if cfg.StateDir == "" && cfg.StateBackend != StateBackendMemory {
		home, err := os.UserHomeDir()
		if err != nil {
			return ServiceConfig{}, err
		}
		cfg.StateDir = filepath.Join(home, ".kconsole", "state")
	}
	if cfg.TerminalLatency < 0 {
		cfg.TerminalLatency = 0
	}
	if cfg.TerminalLatency == 0 {
		cfg.TerminalLatency = DefaultTerminalLatency
	}
	if cfg.SSHCredential == "" {
		cfg.SSHCredential = DefaultSSHCredential
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	cfg.DefaultTheme = NormalizeTheme(cfg.DefaultTheme)
	return cfg, nil
}
