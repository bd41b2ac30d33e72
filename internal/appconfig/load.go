package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/kconsole/internal/pushclient"
	"pkt.systems/kconsole/schema"
)

// Load reads configuration from the provided path. If path is empty, uses
// DefaultConfigPath. A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("state_backend", cfg.StateBackend)
	v.SetDefault("backend.base_url", cfg.Backend.BaseURL)
	v.SetDefault("backend.timeout_seconds", cfg.Backend.TimeoutSeconds)
	v.SetDefault("backend.poll_interval_seconds", cfg.Backend.PollIntervalSeconds)
	v.SetDefault("backend.retry_count", cfg.Backend.RetryCount)
	v.SetDefault("push.url", cfg.Push.URL)
	v.SetDefault("push.reconnect_delay_seconds", cfg.Push.ReconnectDelaySeconds)
	v.SetDefault("terminal.latency_ms", cfg.Terminal.LatencyMS)
	v.SetDefault("terminal.ssh_credential", cfg.Terminal.SSHCredential)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.base_path", cfg.HTTP.BasePath)
	v.SetDefault("http.hub_history", cfg.HTTP.HubHistory)
	v.SetDefault("ui.theme", cfg.UI.Theme)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.StateBackend)) {
	case schema.StateBackendFile, schema.StateBackendSQLite, schema.StateBackendMemory:
	default:
		return fmt.Errorf("unsupported state_backend %q", cfg.StateBackend)
	}
	baseURL := strings.TrimSpace(cfg.Backend.BaseURL)
	parsed, err := url.Parse(baseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("backend.base_url must be an http(s) URL with a host (e.g. http://127.0.0.1:8080/api/v1)")
	}
	cfg.Backend.BaseURL = strings.TrimRight(baseURL, "/")
	if strings.TrimSpace(cfg.Push.URL) == "" {
		derived, err := pushclient.DeriveURL(cfg.Backend.BaseURL)
		if err != nil {
			return fmt.Errorf("derive push.url: %w", err)
		}
		cfg.Push.URL = derived
	} else {
		pushURL, err := url.Parse(cfg.Push.URL)
		if err != nil || (pushURL.Scheme != "ws" && pushURL.Scheme != "wss") || pushURL.Host == "" {
			return fmt.Errorf("push.url must be a ws(s) URL with a host")
		}
	}
	if cfg.Backend.PollIntervalSeconds <= 0 {
		return fmt.Errorf("backend.poll_interval_seconds must be positive")
	}
	if cfg.Backend.RetryCount < 0 {
		return fmt.Errorf("backend.retry_count must not be negative")
	}
	if cfg.Terminal.LatencyMS < 0 {
		return fmt.Errorf("terminal.latency_ms must not be negative")
	}
	basePath := strings.TrimSpace(cfg.HTTP.BasePath)
	if basePath != "" {
		if strings.Contains(basePath, "://") {
			return fmt.Errorf("http.base_path must be a path prefix, not a URL")
		}
		if strings.ContainsAny(basePath, "?#") {
			return fmt.Errorf("http.base_path must not include query or fragment")
		}
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Backend.BaseURL = expandEnv(cfg.Backend.BaseURL)
	cfg.Push.URL = expandEnv(cfg.Push.URL)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
