package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type WalletConfig struct {
	// BridgeURL is the wallet connector endpoint exposing the CIP-30 surface
	// of the installed extensions.
	BridgeURL string `yaml:"bridge_url"`
}

type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type RedisConfig struct {
	URL       string `yaml:"url"` // empty: in-memory credential cache
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type SessionConfig struct {
	// WatchdogCadence is the fixed interval of the account drift check.
	WatchdogCadence time.Duration `yaml:"watchdog_cadence"`
	// ErrorWindow is how long a connect error stays visible before the
	// negotiator returns to discovery.
	ErrorWindow time.Duration `yaml:"error_window"`
	// NoticeWindow is the display window for settlement notices.
	NoticeWindow time.Duration `yaml:"notice_window"`
}

type SettlementConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	// PollDeadline bounds the settlement poll loop; zero polls without a
	// deadline.
	PollDeadline time.Duration `yaml:"poll_deadline"`
}

type ControlConfig struct {
	Port        int           `yaml:"port"`
	APIKey      string        `yaml:"api_key"`
	TokenSecret string        `yaml:"token_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Wallet     WalletConfig     `yaml:"wallet"`
	Backend    BackendConfig    `yaml:"backend"`
	Redis      RedisConfig      `yaml:"redis"`
	Session    SessionConfig    `yaml:"session"`
	Settlement SettlementConfig `yaml:"settlement"`
	Control    ControlConfig    `yaml:"control"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Runtime.Dev = dev
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = 15 * time.Second
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "session"
	}
	if c.Session.WatchdogCadence <= 0 {
		c.Session.WatchdogCadence = 3 * time.Second
	}
	if c.Session.ErrorWindow <= 0 {
		c.Session.ErrorWindow = 3 * time.Second
	}
	if c.Session.NoticeWindow <= 0 {
		c.Session.NoticeWindow = 5 * time.Second
	}
	if c.Settlement.PollInterval <= 0 {
		c.Settlement.PollInterval = time.Second
	}
	if c.Control.Port == 0 {
		c.Control.Port = 8099
	}
	if c.Control.TokenTTL <= 0 {
		c.Control.TokenTTL = 12 * time.Hour
	}
}

func (c *Config) validate() error {
	if c.Wallet.BridgeURL == "" {
		return errors.New("wallet.bridge_url is required")
	}
	if _, err := url.Parse(c.Wallet.BridgeURL); err != nil {
		return fmt.Errorf("wallet.bridge_url: %w", err)
	}
	if c.Backend.BaseURL == "" {
		return errors.New("backend.base_url is required")
	}
	if _, err := url.Parse(c.Backend.BaseURL); err != nil {
		return fmt.Errorf("backend.base_url: %w", err)
	}
	if c.Control.TokenSecret == "" && !c.Runtime.Dev {
		return errors.New("control.token_secret is required outside dev mode")
	}
	return nil
}
