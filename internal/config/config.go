package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the global ~/.chatterm/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	APIURL         string `toml:"api_url"`
	LogLevel       string `toml:"log_level"`
	RequestTimeout string `toml:"request_timeout"`
	Reverb         Reverb `toml:"reverb"`
}

// Reverb holds the broadcasting server coordinates.
type Reverb struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	Scheme          string `toml:"scheme"`
	AppKey          string `toml:"app_key"`
	PrivateChannels *bool  `toml:"private_channels"`
}

// Defaults used when neither the file nor the environment set a value.
const (
	DefaultReverbPort     = 3001
	DefaultReverbScheme   = "ws"
	DefaultRequestTimeout = 10 * time.Second
	DefaultLogLevel       = "info"
)

// Default returns a config with every optional field filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads config from the given path. Returns nil config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Resolve loads the file at path if it exists, then applies a .env file from the
// working directory and CHATTERM_* environment variables on top.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	// A missing .env is the normal case.
	_ = godotenv.Load()

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CHATTERM_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("CHATTERM_API_URL"); ok && v != "" {
		c.APIURL = v
	}
	if v, ok := lookup("CHATTERM_REVERB_HOST"); ok && v != "" {
		c.Reverb.Host = v
	}
	if v, ok := lookup("CHATTERM_REVERB_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHATTERM_REVERB_PORT: %w", err)
		}
		c.Reverb.Port = port
	}
	if v, ok := lookup("CHATTERM_REVERB_SCHEME"); ok && v != "" {
		c.Reverb.Scheme = v
	}
	if v, ok := lookup("CHATTERM_REVERB_APP_KEY"); ok && v != "" {
		c.Reverb.AppKey = v
	}
	if v, ok := lookup("CHATTERM_LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	c.applyDefaults()
	return nil
}

func (c *Config) applyDefaults() {
	if c.Reverb.Port == 0 {
		c.Reverb.Port = DefaultReverbPort
	}
	if c.Reverb.Scheme == "" {
		c.Reverb.Scheme = DefaultReverbScheme
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Reverb.Host == "" && c.APIURL != "" {
		if u, err := url.Parse(c.APIURL); err == nil {
			c.Reverb.Host = u.Hostname()
		}
	}
}

// Validate reports missing required settings.
func (c *Config) Validate() error {
	var missing []string
	if c.APIURL == "" {
		missing = append(missing, "api_url")
	}
	if c.Reverb.AppKey == "" {
		missing = append(missing, "reverb.app_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config incomplete: missing %s", strings.Join(missing, ", "))
	}
	if _, err := url.Parse(c.APIURL); err != nil {
		return fmt.Errorf("api_url: %w", err)
	}
	if c.Reverb.Scheme != "ws" && c.Reverb.Scheme != "wss" {
		return fmt.Errorf("reverb.scheme must be ws or wss, got %q", c.Reverb.Scheme)
	}
	return nil
}

// Timeout returns the HTTP request timeout.
func (c *Config) Timeout() time.Duration {
	if c.RequestTimeout == "" {
		return DefaultRequestTimeout
	}
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		return DefaultRequestTimeout
	}
	return d
}

// UsePrivateChannels reports whether topics are prefixed with "private-".
func (c *Config) UsePrivateChannels() bool {
	return c.Reverb.PrivateChannels == nil || *c.Reverb.PrivateChannels
}

// BroadcastAuthURL is the endpoint used to sign private channel subscriptions.
func (c *Config) BroadcastAuthURL() string {
	return strings.TrimRight(c.APIURL, "/") + "/api/broadcasting/auth"
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
