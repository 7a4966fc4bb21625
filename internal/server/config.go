// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat service.
package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

// RateLimitConfig defines the parameters for per-session frame rate limiting.
type RateLimitConfig struct {
	Burst          int           `toml:"burst"`
	RefillInterval time.Duration `toml:"refill_interval"`
}

// Config holds the server configuration settings.
type Config struct {
	// Address is the TCP listen address of the chat protocol.
	Address string `toml:"address"`
	// HTTPAddress serves the health endpoint and the WebSocket gateway.
	// Empty disables the HTTP surface.
	HTTPAddress string `toml:"http_address"`
	// Admins seeds the admin list, in order.
	Admins []string `toml:"admins"`
	// AllowedOrigins lists WebSocket origins; "*" allows any.
	AllowedOrigins []string `toml:"allowed_origins"`

	// ReadTimeout disconnects a session silent for that long. Zero waits forever.
	ReadTimeout time.Duration `toml:"read_timeout"`
	// WriteTimeout bounds a single reply write. Zero waits forever.
	WriteTimeout time.Duration `toml:"write_timeout"`
	// SendQueueSize is the number of reply frames queued per session before
	// the session counts as failed.
	SendQueueSize int `toml:"send_queue_size"`
	// MaxMessageSize is the WebSocket read limit per message.
	MaxMessageSize int64 `toml:"max_message_size"`

	RateLimit RateLimitConfig `toml:"rate_limit"`
	LogLevel  string          `toml:"log_level"`
}

func defaultConfig() Config {
	return Config{
		Address:     "127.0.0.1:8080",
		HTTPAddress: "127.0.0.1:8081",
		Admins:      []string{"liron", "admin", "nadavmit"},
		AllowedOrigins: []string{
			"http://localhost:8081",
		},
		ReadTimeout:    0,
		WriteTimeout:   10 * time.Second,
		SendQueueSize:  256,
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
		LogLevel: "info",
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	cfg.ApplyEnv(os.LookupEnv)
	return &cfg
}

// LoadConfig builds the configuration from defaults, then the TOML file at
// path (skipped when path is empty), then environment variables.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return &cfg, nil
}

// LoadFromFile overlays the settings present in a TOML file. Unknown keys are an error.
func (c *Config) LoadFromFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file %q is not found", path)
	}
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("config file %q: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnv overlays settings from environment variables read through lookup.
// Unparseable values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("CHAT_ADDRESS"); ok && v != "" {
		c.Address = v
	}
	if v, ok := lookup("HTTP_ADDRESS"); ok {
		c.HTTPAddress = v
	}
	if v, ok := lookup("CHAT_ADMINS"); ok && v != "" {
		c.Admins = parseList(v)
	}
	if v, ok := lookup("ALLOWED_ORIGINS"); ok && v != "" {
		c.AllowedOrigins = parseList(v)
	}
	if v, ok := lookup("READ_TIMEOUT"); ok && v != "" {
		c.ReadTimeout = parseDuration(v, c.ReadTimeout)
	}
	if v, ok := lookup("WRITE_TIMEOUT"); ok && v != "" {
		c.WriteTimeout = parseDuration(v, c.WriteTimeout)
	}
	if v, ok := lookup("SEND_QUEUE_SIZE"); ok && v != "" {
		c.SendQueueSize = parseIntValue(v, c.SendQueueSize)
	}
	if v, ok := lookup("MAX_MESSAGE_SIZE"); ok && v != "" {
		c.MaxMessageSize = parseMaxMessageSize(v, c.MaxMessageSize)
	}
	if v, ok := lookup("RATE_LIMIT_BURST"); ok && v != "" {
		c.RateLimit.Burst = parseIntValue(v, c.RateLimit.Burst)
	}
	if v, ok := lookup("RATE_LIMIT_REFILL_INTERVAL"); ok && v != "" {
		c.RateLimit.RefillInterval = parseDuration(v, c.RateLimit.RefillInterval)
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
}

// Sanitize returns a copy with invalid values replaced by defaults and
// invalid admin names dropped.
func (c Config) Sanitize() Config {
	def := defaultConfig()
	cfg := c

	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ReadTimeout < 0 {
		cfg.ReadTimeout = 0
	}
	if cfg.WriteTimeout < 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.MaxMessageSize < protocol.MaxFrameSize {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		cfg.LogLevel = def.LogLevel
	}

	admins := make([]string, 0, len(cfg.Admins))
	for _, name := range cfg.Admins {
		name = strings.TrimSpace(name)
		if err := protocol.ValidateUsername(name); err != nil {
			logrus.Warnf("Ignoring invalid admin in configuration: %v", err)
			continue
		}
		admins = append(admins, name)
	}
	cfg.Admins = admins
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go durations ("1m30s") or whole seconds ("90").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
