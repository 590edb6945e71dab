// Package config loads and validates the YAML configuration shared by the
// collector and writer daemons.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// TemplatesConfig bounds the per-exporter template cache.
type TemplatesConfig struct {
	MaxExporters int `yaml:"max_exporters" default:"1024"`
	MaxTemplates int `yaml:"max_templates" default:"256"`
}

// CollectorConfig holds the UDP receive loop and pipeline settings.
type CollectorConfig struct {
	ListenAddr    string          `yaml:"listen_addr" default:"0.0.0.0:2055"`
	Workers       int             `yaml:"workers" default:"4"`
	QueueSize     int             `yaml:"queue_size" default:"1024"`
	ReadBuffer    int             `yaml:"read_buffer" default:"1048576"`
	FlushInterval string          `yaml:"flush_interval" default:"10s"`
	WriteTimeout  string          `yaml:"write_timeout" default:"5s"`
	Pairing       string          `yaml:"pairing" default:"tuple"`
	Templates     TemplatesConfig `yaml:"templates"`
}

// AdminConfig exposes the HTTP status and metrics endpoints.
type AdminConfig struct {
	Enabled    bool   `yaml:"enabled" default:"true"`
	ListenAddr string `yaml:"listen_addr" default:"127.0.0.1:8099"`
}

// JSONSinkConfig writes batches to a softflowd-style JSON dump file.
type JSONSinkConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"./flows.json"`
}

// ClickHouseSinkConfig inserts connections into a ClickHouse table.
type ClickHouseSinkConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"127.0.0.1:9000"`
	Database string `yaml:"database" default:"nfsession"`
	Username string `yaml:"username" default:"default"`
	Password string `yaml:"password"`
}

// NATSSinkConfig publishes batches to a NATS subject.
type NATSSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" default:"nats://127.0.0.1:4222"`
	Subject string `yaml:"subject" default:"nfsession.batches"`
}

// SinksConfig groups the batch destinations. More than one may be enabled.
type SinksConfig struct {
	JSON       JSONSinkConfig       `yaml:"json"`
	ClickHouse ClickHouseSinkConfig `yaml:"clickhouse"`
	NATS       NATSSinkConfig       `yaml:"nats"`
}

// EnrichConfig adds GeoIP country codes to connections when a database
// path is configured.
type EnrichConfig struct {
	GeoIPDB string `yaml:"geoip_db"`
}

// SMTPConfig is the mail relay used for alert notifications.
type SMTPConfig struct {
	Server   string   `yaml:"server"`
	Port     int      `yaml:"port" default:"25"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// AlertConfig triggers notifications for connections moving at least
// MinBytes, rate limited to one mail per Interval.
type AlertConfig struct {
	Enabled  bool       `yaml:"enabled"`
	MinBytes uint64     `yaml:"min_bytes" default:"104857600"`
	Interval string     `yaml:"interval" default:"10m"`
	SMTP     SMTPConfig `yaml:"smtp"`
}

// CaptureConfig mirrors received datagrams into a pcap file.
type CaptureConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" default:"./datagrams.pcap"`
}

// LogConfig controls log level and optional per-level files.
type LogConfig struct {
	Level string `yaml:"level" default:"info"`
	Dir   string `yaml:"dir"`
}

// StreamConfig is the NATS subscription consumed by the writer daemon.
type StreamConfig struct {
	URL     string `yaml:"url" default:"nats://127.0.0.1:4222"`
	Subject string `yaml:"subject" default:"nfsession.batches"`
	Queue   string `yaml:"queue" default:"nf-writer"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Collector CollectorConfig `yaml:"collector"`
	Admin     AdminConfig     `yaml:"admin"`
	Sinks     SinksConfig     `yaml:"sinks"`
	Enrich    EnrichConfig    `yaml:"enrich"`
	Alert     AlertConfig     `yaml:"alert"`
	Capture   CaptureConfig   `yaml:"capture"`
	Log       LogConfig       `yaml:"log"`
	Stream    StreamConfig    `yaml:"stream"`
}

// Load reads the configuration from a YAML file, fills defaults for
// anything the file leaves unset and validates the result.
func Load(filePath string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set config defaults: %w", err)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set config defaults: %w", err)
	}
	return cfg, nil
}

// Validate rejects values the daemons cannot start with. Durations are
// parsed again at their use sites; checking here surfaces typos at load
// time with the file still in hand.
func (c *Config) Validate() error {
	if c.Collector.Workers < 1 {
		return fmt.Errorf("collector.workers must be at least 1, got %d", c.Collector.Workers)
	}
	if c.Collector.QueueSize < 1 {
		return fmt.Errorf("collector.queue_size must be at least 1, got %d", c.Collector.QueueSize)
	}
	if p := c.Collector.Pairing; p != "tuple" && p != "sequential" {
		return fmt.Errorf("collector.pairing must be tuple or sequential, got %q", p)
	}
	for name, v := range map[string]string{
		"collector.flush_interval": c.Collector.FlushInterval,
		"collector.write_timeout":  c.Collector.WriteTimeout,
		"alert.interval":           c.Alert.Interval,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Alert.Enabled && c.Alert.SMTP.Server == "" {
		return fmt.Errorf("alert.smtp.server is required when alerting is enabled")
	}
	if c.Capture.Enabled && c.Capture.Path == "" {
		return fmt.Errorf("capture.path is required when capture is enabled")
	}
	return nil
}
