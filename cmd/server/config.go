// Package main provides the Siren server CLI.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/calm-otter-ops/siren/internal/models"
	"github.com/calm-otter-ops/siren/internal/sla"
)

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	SLA       SLAConfig       `yaml:"sla"`
	Policy    PolicyConfig    `yaml:"policy"`
	Verbose   bool            `yaml:"-"` // set via CLI flag
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Address        string `yaml:"address"`         // API listen address (default: :8080)
	MetricsAddress string `yaml:"metrics_address"` // Prometheus listen address (default: :9091)
	ProducerToken  string `yaml:"producer_token"`  // static bearer token for ingest producers
	TokenTTL       string `yaml:"token_ttl"`       // JWT lifetime (default: 12h)
}

// DatabaseConfig contains storage settings.
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite database path
}

// SchedulerConfig contains evaluation loop settings.
type SchedulerConfig struct {
	Interval      string `yaml:"interval"`       // tick interval (default: 30s)
	DegradedAfter string `yaml:"degraded_after"` // outage length that warrants a meta-alert
}

// SLAConfig overrides the built-in severity targets. Durations are
// strings such as "15m". Unset severities keep the defaults.
type SLAConfig struct {
	Targets map[string]SLATargetConfig `yaml:"targets"`
}

// SLATargetConfig is one severity's target pair.
type SLATargetConfig struct {
	TTA string `yaml:"tta"`
	TTR string `yaml:"ttr"`
}

// PolicyConfig names the default escalation policy and the optional
// provisioning file watched for policy/schedule definitions.
type PolicyConfig struct {
	Default          string `yaml:"default"`           // default policy name (default: "default")
	ProvisioningFile string `yaml:"provisioning_file"` // YAML file with policies/schedules
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.MetricsAddress == "" {
		c.Server.MetricsAddress = ":9091"
	}
	if c.Server.TokenTTL == "" {
		c.Server.TokenTTL = "12h"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/siren.db"
	}
	if c.Scheduler.Interval == "" {
		c.Scheduler.Interval = "30s"
	}
	if c.Scheduler.DegradedAfter == "" {
		c.Scheduler.DegradedAfter = "5m"
	}
	if c.Policy.Default == "" {
		c.Policy.Default = "default"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if _, err := time.ParseDuration(c.Server.TokenTTL); err != nil {
		return fmt.Errorf("server.token_ttl: %w", err)
	}
	if _, err := time.ParseDuration(c.Scheduler.Interval); err != nil {
		return fmt.Errorf("scheduler.interval: %w", err)
	}
	if _, err := time.ParseDuration(c.Scheduler.DegradedAfter); err != nil {
		return fmt.Errorf("scheduler.degraded_after: %w", err)
	}
	if _, err := c.SLATargets(); err != nil {
		return err
	}
	return nil
}

// SLATargets builds the severity target table, applying overrides on
// top of the defaults.
func (c *Config) SLATargets() (sla.TargetTable, error) {
	table := sla.DefaultTargets()
	for name, target := range c.SLA.Targets {
		severity := models.Severity(name)
		if !severity.Valid() {
			return nil, fmt.Errorf("sla.targets: unknown severity %q", name)
		}
		tta, err := time.ParseDuration(target.TTA)
		if err != nil {
			return nil, fmt.Errorf("sla.targets.%s.tta: %w", name, err)
		}
		ttr, err := time.ParseDuration(target.TTR)
		if err != nil {
			return nil, fmt.Errorf("sla.targets.%s.ttr: %w", name, err)
		}
		table[severity] = models.SLATargets{TTA: tta, TTR: ttr}
	}
	return table, nil
}
