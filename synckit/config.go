package synckit

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	syncErrors "github.com/boxboard/boxsync/errors"
	"github.com/boxboard/boxsync/logging"
)

// Environment variables that override the configuration file.
const (
	EnvBaseURL     = "BOXSYNC_BASE_URL"
	EnvToken       = "BOXSYNC_TOKEN"
	EnvTokenSecret = "BOXSYNC_TOKEN_SECRET"
	EnvStoreDSN    = "BOXSYNC_STORE_DSN"
)

// Config is the complete client configuration. It is read from YAML (JSON is
// accepted as well) and then overridden from the environment.
type Config struct {
	BaseURL      string `yaml:"base_url"`
	Token        string `yaml:"token,omitempty"`
	TokenSecret  string `yaml:"token_secret,omitempty"`
	TokenSubject string `yaml:"token_subject,omitempty"`
	DeviceID     string `yaml:"device_id,omitempty"`

	Collections        []string      `yaml:"collections"`
	SyncInterval       time.Duration `yaml:"sync_interval"`
	StrategyTimeout    time.Duration `yaml:"strategy_timeout"`
	OperationTimeout   time.Duration `yaml:"operation_timeout"`
	Overlap            OverlapPolicy `yaml:"overlap"`
	HistoryCapacity    int           `yaml:"history_capacity"`
	OverwriteUnchanged bool          `yaml:"overwrite_unchanged"`

	Strategy    StrategyConfig    `yaml:"strategy"`
	Store       StoreConfig       `yaml:"store"`
	Probe       ProbeConfig       `yaml:"probe"`
	Compression CompressionConfig `yaml:"compression"`
	Log         logging.Config    `yaml:"log"`
}

// StrategyConfig declares a rule-based conflict strategy.
type StrategyConfig struct {
	Default Decision     `yaml:"default"`
	Rules   []RuleConfig `yaml:"rules,omitempty"`
}

// RuleConfig matches conflicts by collection and, optionally, by the fields
// that differ. Empty lists match everything.
type RuleConfig struct {
	Name        string   `yaml:"name"`
	Collections []string `yaml:"collections,omitempty"`
	Fields      []string `yaml:"fields,omitempty"`
	Decision    Decision `yaml:"decision"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres, memory
	DSN    string `yaml:"dsn"`
}

type ProbeConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

type CompressionConfig struct {
	Enabled   bool  `yaml:"enabled"`
	Threshold int64 `yaml:"threshold"`
}

// DefaultConfig returns a configuration with every default filled in. The
// base URL is left empty and must be provided.
func DefaultConfig() Config {
	return Config{
		Collections:        DefaultCollections(),
		SyncInterval:       DefaultSyncInterval,
		StrategyTimeout:    DefaultStrategyTimeout,
		OperationTimeout:   DefaultOperationTimeout,
		Overlap:            OverlapDrop,
		HistoryCapacity:    DefaultHistoryCapacity,
		OverwriteUnchanged: true,
		TokenSubject:       "boxsync",
		Strategy:           StrategyConfig{Default: Cancel},
		Store:              StoreConfig{Driver: "sqlite", DSN: "boxsync.db"},
		Probe:              ProbeConfig{Enabled: true, Interval: 15 * time.Second, Timeout: 5 * time.Second},
		Compression:        CompressionConfig{Enabled: true, Threshold: 1024},
		Log:                logging.DefaultConfig,
	}
}

// LoadConfig reads path (skipped when empty), applies environment overrides
// and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReadConfig is LoadConfig without validation.
func ReadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, syncErrors.NewConfigError(fmt.Errorf("read config %s: %w", path, err))
		}
		if cfg, err = ParseConfig(data); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// ParseConfig decodes YAML on top of DefaultConfig. Unknown keys are
// rejected.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, syncErrors.NewConfigError(fmt.Errorf("parse config: %w", err))
	}
	return cfg, nil
}

// ApplyEnv overrides connection settings from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := getenv(EnvToken); v != "" {
		c.Token = v
	}
	if v := getenv(EnvTokenSecret); v != "" {
		c.TokenSecret = v
	}
	if v := getenv(EnvStoreDSN); v != "" {
		c.Store.DSN = v
	}
	c.Log = logging.GetConfigFromEnv(c.Log)
}

// Validate checks the whole configuration and reports every problem found.
func (c Config) Validate() error { return c.validate(true) }

// ValidateLocal is Validate for commands that never reach the remote store:
// base_url may be empty.
func (c Config) ValidateLocal() error { return c.validate(c.BaseURL != "") }

func (c Config) validate(remote bool) error {
	var errs []error

	if remote {
		u, err := url.Parse(c.BaseURL)
		switch {
		case c.BaseURL == "":
			errs = append(errs, errors.New("base_url is required"))
		case err != nil:
			errs = append(errs, fmt.Errorf("base_url: %w", err))
		case (u.Scheme != "http" && u.Scheme != "https") || u.Host == "":
			errs = append(errs, fmt.Errorf("base_url %q must be an absolute http(s) URL", c.BaseURL))
		}
	}

	if err := ValidateCollections(c.Collections); err != nil {
		errs = append(errs, err)
	}
	for name, d := range map[string]time.Duration{
		"sync_interval":     c.SyncInterval,
		"strategy_timeout":  c.StrategyTimeout,
		"operation_timeout": c.OperationTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if _, err := ParseOverlapPolicy(string(c.Overlap)); err != nil {
		errs = append(errs, err)
	}
	if c.HistoryCapacity <= 0 {
		errs = append(errs, errors.New("history_capacity must be positive"))
	}

	if !c.Strategy.Default.Valid() {
		errs = append(errs, errors.New("strategy.default must be one of keep_local, keep_remote, merge, cancel"))
	}
	for i, r := range c.Strategy.Rules {
		if !r.Decision.Valid() {
			errs = append(errs, fmt.Errorf("strategy.rules[%d] (%s): decision is required", i, r.Name))
		}
		for _, coll := range r.Collections {
			if _, ok := LookupSchema(coll); !ok {
				errs = append(errs, fmt.Errorf("strategy.rules[%d] (%s): unknown collection %q", i, r.Name, coll))
			}
		}
	}

	switch strings.ToLower(c.Store.Driver) {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	if c.Probe.Enabled && (c.Probe.Interval <= 0 || c.Probe.Timeout <= 0) {
		errs = append(errs, errors.New("probe interval and timeout must be positive"))
	}
	if c.Compression.Threshold < 0 {
		errs = append(errs, errors.New("compression.threshold cannot be negative"))
	}

	if len(errs) > 0 {
		return syncErrors.NewConfigError(errors.Join(errs...))
	}
	return nil
}

// BuildStrategy turns the strategy section into a RuleStrategy whose
// fallback is the default decision.
func (c Config) BuildStrategy(hooks RuleHooks) (ConflictStrategy, error) {
	rules := make([]Rule, 0, len(c.Strategy.Rules))
	for _, rc := range c.Strategy.Rules {
		var specs []Spec
		if len(rc.Collections) > 0 {
			specs = append(specs, CollectionIs(rc.Collections...))
		}
		if len(rc.Fields) > 0 {
			specs = append(specs, FieldDiffers(rc.Fields...))
		}
		matcher := Always()
		if len(specs) > 0 {
			matcher = And(specs...)
		}
		rules = append(rules, Rule{Name: rc.Name, Matcher: matcher, Strategy: FixedStrategy(rc.Decision)})
	}
	return NewRuleStrategy(rules, FixedStrategy(c.Strategy.Default), hooks)
}

// ManagerOptions returns the options for NewManager derived from the
// configuration. Store, gateway and strategy are supplied by the caller.
func (c Config) ManagerOptions() []ManagerOption {
	return []ManagerOption{
		WithCollections(c.Collections...),
		WithStrategyTimeout(c.StrategyTimeout),
		WithOperationTimeout(c.OperationTimeout),
		WithOverlapPolicy(c.Overlap),
		WithHistoryCapacity(c.HistoryCapacity),
		WithUnchangedOverwrite(c.OverwriteUnchanged),
	}
}
