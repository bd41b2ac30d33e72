package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/kconsole/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int            `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string         `mapstructure:"state_dir" yaml:"state_dir"`
	StateBackend  string         `mapstructure:"state_backend" yaml:"state_backend"`
	Backend       BackendConfig  `mapstructure:"backend" yaml:"backend"`
	Push          PushConfig     `mapstructure:"push" yaml:"push"`
	Terminal      TerminalConfig `mapstructure:"terminal" yaml:"terminal"`
	HTTP          HTTPConfig     `mapstructure:"http" yaml:"http"`
	UI            UIConfig       `mapstructure:"ui" yaml:"ui"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// BackendConfig points at the task backend REST API.
type BackendConfig struct {
	BaseURL             string `mapstructure:"base_url" yaml:"base_url"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	RetryCount          int    `mapstructure:"retry_count" yaml:"retry_count"`
}

// PushConfig configures the websocket log push channel. An empty URL is
// derived from the backend base URL.
type PushConfig struct {
	URL                   string `mapstructure:"url" yaml:"url"`
	ReconnectDelaySeconds int    `mapstructure:"reconnect_delay_seconds" yaml:"reconnect_delay_seconds"`
}

// TerminalConfig configures the simulated terminals.
type TerminalConfig struct {
	LatencyMS     int    `mapstructure:"latency_ms" yaml:"latency_ms"`
	SSHCredential string `mapstructure:"ssh_credential" yaml:"ssh_credential"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr       string `mapstructure:"addr" yaml:"addr"`
	BasePath   string `mapstructure:"base_path" yaml:"base_path"`
	HubHistory int    `mapstructure:"hub_history" yaml:"hub_history"`
}

// UIConfig holds presentation defaults.
type UIConfig struct {
	Theme string `mapstructure:"theme" yaml:"theme"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".kconsole", "state"),
		StateBackend:  schema.StateBackendFile,
		Backend: BackendConfig{
			BaseURL:             "http://127.0.0.1:8080/api/v1",
			TimeoutSeconds:      10,
			PollIntervalSeconds: int(schema.DefaultPollInterval / time.Second),
			RetryCount:          2,
		},
		Push: PushConfig{
			URL:                   "",
			ReconnectDelaySeconds: 5,
		},
		Terminal: TerminalConfig{
			LatencyMS:     int(schema.DefaultTerminalLatency / time.Millisecond),
			SSHCredential: schema.DefaultSSHCredential,
		},
		HTTP: HTTPConfig{
			Addr:       "127.0.0.1:8090",
			BasePath:   "",
			HubHistory: 1000,
		},
		UI: UIConfig{
			Theme: string(schema.DefaultTheme),
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".kconsole", "config.yaml"), nil
}

// ServiceConfig maps the file config onto the console service settings.
func (c Config) ServiceConfig() schema.ServiceConfig {
	return schema.ServiceConfig{
		StateDir:        c.StateDir,
		StateBackend:    c.StateBackend,
		TerminalLatency: time.Duration(c.Terminal.LatencyMS) * time.Millisecond,
		SSHCredential:   c.Terminal.SSHCredential,
		PollInterval:    time.Duration(c.Backend.PollIntervalSeconds) * time.Second,
		DefaultTheme:    schema.ThemeName(c.UI.Theme),
	}
}

// BackendTimeout returns the per-request backend timeout.
func (c Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// ReconnectDelay returns the push reconnect delay.
func (c Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Push.ReconnectDelaySeconds) * time.Second
}
