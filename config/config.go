package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samaelod/pglink/types"
)

type Config struct {
	SocketPath       string  `json:"socket_path"`
	ConnectTimeoutMs int     `json:"connect_timeout_ms"`
	SchemaPath       string  `json:"schema_path"`
	LogLevel         string  `json:"log_level"`
	LogLines         int     `json:"log_lines"`
	LogsDir          string  `json:"logs_dir"`
	RecordingsDir    string  `json:"recordings_dir"`
	FrameRate        float64 `json:"frame_rate"`
	ProfileSeconds   float64 `json:"profile_buffer_seconds"`
	ProfileField     string  `json:"profile_field"`
	MetricsAddr      string  `json:"metrics_addr"`
	HostProcess      string  `json:"host_process"`
}

var (
	defaultConfig *Config
	once          sync.Once
)

func Default() *Config {
	return &Config{
		SocketPath:       "mglMetal.socket",
		ConnectTimeoutMs: 10000,
		SchemaPath:       "mglCommandTypes.h",
		LogLevel:         "info",
		LogLines:         1000,
		LogsDir:          "logs",
		RecordingsDir:    "recordings",
		FrameRate:        60,
		ProfileSeconds:   60,
		ProfileField:     "drawablePresented",
		HostProcess:      "mglMetal",
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		// Try default locations
		defaultPaths := []string{
			"pglink.json",
			".pglink.json",
			filepath.Join(os.Getenv("HOME"), ".config", "pglink", "config.json"),
		}

		for _, p := range defaultPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}

		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if _, err := cfg.Field(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills zero values left by a partial file.
func (c *Config) applyDefaults() {
	d := Default()
	if c.SocketPath == "" {
		c.SocketPath = d.SocketPath
	}
	if c.ConnectTimeoutMs <= 0 {
		c.ConnectTimeoutMs = d.ConnectTimeoutMs
	}
	if c.SchemaPath == "" {
		c.SchemaPath = d.SchemaPath
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogLines <= 0 {
		c.LogLines = d.LogLines
	}
	if c.LogsDir == "" {
		c.LogsDir = d.LogsDir
	}
	if c.RecordingsDir == "" {
		c.RecordingsDir = d.RecordingsDir
	}
	if c.FrameRate <= 0 {
		c.FrameRate = d.FrameRate
	}
	if c.ProfileSeconds <= 0 {
		c.ProfileSeconds = d.ProfileSeconds
	}
	if c.ProfileField == "" {
		c.ProfileField = d.ProfileField
	}
	if c.HostProcess == "" {
		c.HostProcess = d.HostProcess
	}
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// Field is the result field that supplies flush timestamps.
func (c *Config) Field() (types.ResultField, error) {
	return types.ParseResultField(c.ProfileField)
}

// LogFile is the path of the session log under LogsDir.
func (c *Config) LogFile() string {
	return filepath.Join(c.LogsDir, "pglink.log")
}

// LoadDefault loads the config once and caches it
func LoadDefault() (*Config, error) {
	var err error
	once.Do(func() {
		defaultConfig, err = Load("")
	})
	if err != nil {
		return Default(), err
	}
	if defaultConfig == nil {
		return Default(), nil
	}
	return defaultConfig, nil
}
