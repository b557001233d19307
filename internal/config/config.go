package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration loaded from config.yaml.
type Config struct {
	Engine                  Engine        `yaml:"engine"                    json:"engine"`
	HTTPAddr                string        `yaml:"http_addr"                 json:"-"`
	DBPath                  string        `yaml:"db_path"                   json:"-"`
	LogLevel                string        `yaml:"log_level"                 json:"log_level"`
	LogFormat               string        `yaml:"log_format"                json:"log_format"`
	LogFile                 string        `yaml:"log_file"                  json:"-"`
	MountRoot               string        `yaml:"mount_root"                json:"mount_root"`
	UI                      string        `yaml:"ui"                        json:"ui"`
	ScheduleShutdownTimeout time.Duration `yaml:"schedule_shutdown_timeout" json:"schedule_shutdown_timeout"`
}

// Engine describes how to reach the scanning engine bridge.
type Engine struct {
	NATSURL        string        `yaml:"nats_url"        json:"nats_url"`
	SubjectPrefix  string        `yaml:"subject_prefix"  json:"subject_prefix"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	ScanTimeout    time.Duration `yaml:"scan_timeout"    json:"scan_timeout"`
	// DBFile overrides the engine's default signature database; empty means default.
	DBFile string `yaml:"db_file" json:"db_file"`
}

// UI modes.
const (
	UIAuto     = "auto"
	UITUI      = "tui"
	UIHeadless = "headless"
)

// EnvNATSURL overrides engine.nats_url when set.
const EnvNATSURL = "STICKSCAN_NATS_URL"

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Engine.NATSURL == "" {
		c.Engine.NATSURL = "nats://127.0.0.1:4222"
	}
	if c.Engine.SubjectPrefix == "" {
		c.Engine.SubjectPrefix = "engine"
	}
	if c.Engine.RequestTimeout == 0 {
		c.Engine.RequestTimeout = 10 * time.Second
	}
	if c.Engine.ScanTimeout == 0 {
		c.Engine.ScanTimeout = 2 * time.Hour
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = "127.0.0.1:8484"
	}
	if c.DBPath == "" {
		c.DBPath = "stickscan.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.LogFile == "" {
		c.LogFile = "stickscan.log"
	}
	if c.MountRoot == "" {
		c.MountRoot = "/media"
	}
	if c.UI == "" {
		c.UI = UIAuto
	}
	if c.ScheduleShutdownTimeout == 0 {
		c.ScheduleShutdownTimeout = 30 * time.Second
	}
}

func (c *Config) validate() error {
	switch c.UI {
	case UIAuto, UITUI, UIHeadless:
	default:
		return fmt.Errorf("ui must be one of auto, tui, headless; got %q", c.UI)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json; got %q", c.LogFormat)
	}
	if c.Engine.RequestTimeout < 0 || c.Engine.ScanTimeout < 0 {
		return fmt.Errorf("engine timeouts must be positive")
	}
	return nil
}

// Load reads and parses the YAML config file at path.
// If the file does not exist, Load returns a default Config so the
// coordinator can start without a config file.
func Load(path string) (*Config, error) {
	var cfg Config

	f, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("open config %q: %w", path, err)
	default:
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	if v := os.Getenv(EnvNATSURL); v != "" {
		cfg.Engine.NATSURL = v
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return &cfg, nil
}
