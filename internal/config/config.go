// Package config loads the YAML service configuration.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port            string `yaml:"port" mapstructure:"port"`
		ShutdownTimeout string `yaml:"shutdownTimeout" mapstructure:"shutdownTimeout"`
	} `yaml:"server" mapstructure:"server"`
	Redis struct {
		Addr     string `yaml:"addr" mapstructure:"addr"`
		Password string `yaml:"password" mapstructure:"password"`
		DB       int    `yaml:"db" mapstructure:"db"`
		// TTL expires idle session documents; empty keeps them forever.
		TTL string `yaml:"ttl" mapstructure:"ttl"`
	} `yaml:"redis" mapstructure:"redis"`
	Postgres struct {
		URL string `yaml:"url" mapstructure:"url"`
	} `yaml:"postgres" mapstructure:"postgres"`
	SQLite struct {
		Path string `yaml:"path" mapstructure:"path"`
	} `yaml:"sqlite" mapstructure:"sqlite"`
	Quiz struct {
		CacheTTL          string `yaml:"cacheTTL" mapstructure:"cacheTTL"`
		AutoProgressGrace string `yaml:"autoProgressGrace" mapstructure:"autoProgressGrace"`
		// File is a YAML or JSON list of quiz definitions.
		File string `yaml:"file" mapstructure:"file"`
	} `yaml:"quiz" mapstructure:"quiz"`
	Log struct {
		Level string `yaml:"level" mapstructure:"level"`
	} `yaml:"log" mapstructure:"log"`
}

// Load reads YAML config from path. A missing file yields the zero config so
// the service can run on flags and environment alone.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
