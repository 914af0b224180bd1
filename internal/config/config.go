package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	LogLevel   string `json:"log_level"`
	ListenAddr string `json:"listen_addr"`
	Operator   string `json:"operator"`
	MaxLanes   int    `json:"max_lanes"`
	Backend    struct {
		BaseURL        string `json:"base_url"`
		Token          string `json:"token"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	} `json:"backend"`
	Push struct {
		URL                 string `json:"url"`
		PingIntervalSeconds int    `json:"ping_interval_seconds"`
	} `json:"push"`
	Vendor struct {
		TimeoutSeconds int `json:"timeout_seconds"`
	} `json:"vendor"`
	Resync struct {
		Enabled  bool   `json:"enabled"`
		Schedule string `json:"schedule"`
	} `json:"resync"`
	Notify struct {
		Targets []string `json:"targets"`
	} `json:"notify"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
}

// DefaultPath is ~/.ambuwatch/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".ambuwatch", "config.json")
}

func defaults() *Config {
	cfg := &Config{
		LogLevel:   "info",
		ListenAddr: "127.0.0.1:8420",
		Operator:   "dispatch",
		MaxLanes:   4,
	}
	cfg.Backend.BaseURL = "http://localhost:5000/api"
	cfg.Backend.TimeoutSeconds = 30
	cfg.Push.PingIntervalSeconds = 30
	cfg.Vendor.TimeoutSeconds = 10
	cfg.Resync.Schedule = "@every 30s"
	cfg.Notify.Targets = []string{"log:"}
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if token := os.Getenv("AMBUWATCH_BACKEND_TOKEN"); token != "" {
		cfg.Backend.Token = token
	}
	if baseURL := os.Getenv("AMBUWATCH_BACKEND_URL"); baseURL != "" {
		cfg.Backend.BaseURL = baseURL
	}
	if pushURL := os.Getenv("AMBUWATCH_PUSH_URL"); pushURL != "" {
		cfg.Push.URL = pushURL
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}

	return cfg, nil
}

// BackendTimeout returns the REST request timeout.
func (c *Config) BackendTimeout() time.Duration {
	return seconds(c.Backend.TimeoutSeconds, 30)
}

// VendorTimeout bounds a single vendor login.
func (c *Config) VendorTimeout() time.Duration {
	return seconds(c.Vendor.TimeoutSeconds, 10)
}

// PingInterval is the push channel keepalive period.
func (c *Config) PingInterval() time.Duration {
	return seconds(c.Push.PingIntervalSeconds, 30)
}

func seconds(n, def int) time.Duration {
	if n <= 0 {
		n = def
	}
	return time.Duration(n) * time.Second
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap renders cfg as the generic JSON object it would be saved as.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues flattens cfg into dotted keys, optionally masking secrets.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, fmt.Errorf("convert config: %w", err)
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue loads the config at path and returns the value of a dotted key.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	flat, err := ListValues(cfg, false)
	if err != nil {
		return nil, err
	}
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	// Keys not in Config survive only in the raw file.
	for k, v := range Flatten(raw) {
		if _, ok := flat[k]; !ok {
			flat[k] = v
		}
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue sets a dotted key in the existing config file. value is parsed
// as JSON when possible, so numbers and booleans keep their type.
func SetValue(path, key, value string) error {
	raw, err := readRaw(path)
	if err != nil {
		return err
	}
	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	flat := Flatten(raw)
	flat[key] = parsed
	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	m := make(map[string]any)
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return m, nil
}
