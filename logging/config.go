package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Environment types
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// GetConfigFromEnv overlays LOG_LEVEL, LOG_FORMAT, ENVIRONMENT and
// LOG_ADD_SOURCE on top of base. Values not set in the environment keep
// the environment-specific defaults.
func GetConfigFromEnv(base Config) Config {
	config := base

	if env := os.Getenv("ENVIRONMENT"); env != "" {
		config.Environment = strings.ToLower(env)
	}

	// Environment-specific defaults
	switch config.Environment {
	case EnvProduction:
		config.Format = "json"
		config.AddSource = false
	case EnvTest:
		config.Format = "text"
		config.Level = "debug"
		config.AddSource = false
	case EnvDevelopment:
		config.Format = "text"
		config.Level = "debug"
		config.AddSource = true
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Level = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Format = strings.ToLower(format)
	}
	if addSource := os.Getenv("LOG_ADD_SOURCE"); addSource != "" {
		config.AddSource = strings.ToLower(addSource) == "true"
	}

	return config
}

// CustomLevel defines a custom log level between existing ones
type CustomLevel slog.Level

const (
	LevelTrace CustomLevel = CustomLevel(slog.LevelDebug - 4)
)

// String returns the string representation of the custom level
func (l CustomLevel) String() string {
	if l == LevelTrace {
		return "TRACE"
	}
	return slog.Level(l).String()
}
