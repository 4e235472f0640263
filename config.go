package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for trace-triage.
type Config struct {
	Intake  IntakeConfig  `yaml:"intake"`
	Tracker TrackerConfig `yaml:"tracker"`
	Store   StoreConfig   `yaml:"store"`
	Logger  LoggerConfig  `yaml:"logger"`
}

type IntakeConfig struct {
	Listen         string `yaml:"listen"`
	AuthToken      string `yaml:"auth_token"`
	MaxPayloadSize int    `yaml:"max_payload_size"`
}

// TrackerConfig holds everything the tracker client needs; nothing here is
// process-wide mutable state.
type TrackerConfig struct {
	BaseURL            string   `yaml:"base_url"`
	Username           string   `yaml:"username"`
	Password           string   `yaml:"password"`
	Project            string   `yaml:"project"`
	BoardID            int      `yaml:"board_id"`
	IssueType          string   `yaml:"issue_type"`
	Labels             []string `yaml:"labels"`
	TitlePrefix        string   `yaml:"title_prefix"`
	TransitionReopenID string   `yaml:"transition_reopen_id"`
	Timeout            string   `yaml:"timeout"`
}

type StoreConfig struct {
	Type   string    `yaml:"type"`
	SQLite SQLiteCfg `yaml:"sqlite"`
	MySQL  MySQLCfg  `yaml:"mysql"`
}

type SQLiteCfg struct {
	Path string `yaml:"path"`
}

type MySQLCfg struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
}

type LoggerConfig struct {
	Level      string        `yaml:"level"`
	Console    ConsoleLogCfg `yaml:"console"`
	Structured StructLogCfg  `yaml:"structured"`
}

type ConsoleLogCfg struct {
	Color bool `yaml:"color"`
}

type StructLogCfg struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoadConfig reads and parses the config file, expanding environment variables.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand ${ENV_VAR} references
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Intake.Listen == "" {
		c.Intake.Listen = ":8080"
	}
	if c.Intake.MaxPayloadSize == 0 {
		c.Intake.MaxPayloadSize = 1 << 20
	}
	if c.Tracker.IssueType == "" {
		c.Tracker.IssueType = "Bug"
	}
	if c.Tracker.TitlePrefix == "" {
		c.Tracker.TitlePrefix = "Exception"
	}
	if c.Tracker.TransitionReopenID == "" {
		c.Tracker.TransitionReopenID = "3"
	}
	if c.Tracker.Timeout == "" {
		c.Tracker.Timeout = "30s"
	}
	if c.Store.Type == "" {
		c.Store.Type = "sqlite"
	}
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = "./data/triage.db"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Structured.Enabled && c.Logger.Structured.Path == "" {
		c.Logger.Structured.Path = "./logs/triage.ndjson"
	}
}

func (c *Config) validate() error {
	if c.Tracker.BaseURL == "" {
		return fmt.Errorf("tracker.base_url is required")
	}
	if c.Tracker.Project == "" {
		return fmt.Errorf("tracker.project is required")
	}
	return nil
}

// ParseDuration parses a duration string, returning a fallback on error.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
