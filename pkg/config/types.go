package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct, loaded from YAML with env
// overrides applied on top. Flags win over both.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
	Presence  PresenceConfig  `yaml:"presence"`
	History   HistoryConfig   `yaml:"history"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds http and tls settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// SecurityConfig holds identity and gateway settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	// SigningKeys verify the HMAC identity signature presented at the
	// handshake and on REST requests.
	SigningKeys []string `yaml:"signing_keys"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// SlowRequestThreshold is the request duration above which a warn
	// line is emitted; zero keeps the built-in default.
	SlowRequestThreshold Duration `yaml:"slow_request_threshold"`
}

// PresenceConfig tunes the connection registry.
type PresenceConfig struct {
	// SendBuffer is the per-connection outbound event buffer. A full
	// buffer drops events for that connection only.
	SendBuffer int `yaml:"send_buffer"`
	// MaxPooledBufferBytes caps broadcast buffers returned to the pool.
	MaxPooledBufferBytes SizeBytes `yaml:"max_pooled_buffer_bytes"`
}

// HistoryConfig tunes the paginator.
type HistoryConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// RetentionConfig holds configuration for the automatic purge runner.
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	// Period is how long soft-deleted message versions and terminal
	// call records are kept before purge.
	Period    Duration `yaml:"period"`
	BatchSize int      `yaml:"batch_size"`
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	host := c.Server.Address
	port := c.Server.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// SizeBytes represents a number of bytes, unmarshaled from
// human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration wraps time.Duration with YAML parsing from strings like
// "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
