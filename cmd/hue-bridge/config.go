package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Bridge struct {
		Name     string `yaml:"name"`
		Address  string `yaml:"address"`
		Port     int    `yaml:"port"`
		MAC      string `yaml:"mac"`
		Netmask  string `yaml:"netmask"`
		Gateway  string `yaml:"gateway"`
		Timezone string `yaml:"timezone"`
	} `yaml:"bridge"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled         bool   `yaml:"enabled"`
		Broker          string `yaml:"broker"`
		Username        string `yaml:"username"`
		Password        string `yaml:"password"`
		TopicPrefix     string `yaml:"topic_prefix"`
		Discovery       bool   `yaml:"discovery"`
		DiscoveryPrefix string `yaml:"discovery_prefix"`
	} `yaml:"mqtt"`
	Influx struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		Token         string `yaml:"token"`
		Org           string `yaml:"org"`
		Bucket        string `yaml:"bucket"`
		BatchSize     int    `yaml:"batch_size"`
		FlushInterval int    `yaml:"flush_interval"`
	} `yaml:"influx"`
	Rules struct {
		Tick string `yaml:"tick"`
	} `yaml:"rules"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ScriptsDir string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	if c.Bridge.Address == "" {
		return fmt.Errorf("bridge.address is required")
	}
	hw, err := net.ParseMAC(c.Bridge.MAC)
	if err != nil || len(hw) != 6 {
		return fmt.Errorf("bridge.mac must be a 6-octet MAC address, got %q", c.Bridge.MAC)
	}
	if c.Bridge.Port < 1 || c.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port must be 1-65535, got %d", c.Bridge.Port)
	}
	if _, err := time.LoadLocation(c.Bridge.Timezone); err != nil {
		return fmt.Errorf("bridge.timezone: %w", err)
	}
	if d, err := time.ParseDuration(c.Rules.Tick); err != nil || d <= 0 {
		return fmt.Errorf("rules.tick must be a positive duration, got %q", c.Rules.Tick)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.Influx.Enabled && (c.Influx.URL == "" || c.Influx.Bucket == "") {
		return fmt.Errorf("influx.url and influx.bucket are required when influx is enabled")
	}
	return nil
}

// tick is the parsed rule evaluation interval. validate has checked it.
func (c *Config) tick() time.Duration {
	d, _ := time.ParseDuration(c.Rules.Tick)
	return d
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Bridge.Name == "" {
		cfg.Bridge.Name = "Go Hue Bridge"
	}
	if cfg.Bridge.Port == 0 {
		cfg.Bridge.Port = 80
	}
	if cfg.Bridge.Netmask == "" {
		cfg.Bridge.Netmask = "255.255.255.0"
	}
	if cfg.Bridge.Timezone == "" {
		cfg.Bridge.Timezone = "Europe/Copenhagen"
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "0.0.0.0:80"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "hue-bridge.db"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "huebridge"
	}
	if cfg.MQTT.DiscoveryPrefix == "" {
		cfg.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if cfg.Influx.BatchSize == 0 {
		cfg.Influx.BatchSize = 100
	}
	if cfg.Influx.FlushInterval == 0 {
		cfg.Influx.FlushInterval = 10
	}
	if cfg.Rules.Tick == "" {
		cfg.Rules.Tick = "1s"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
