package logging

import (
	"os"
	"strings"
)

// Environment variables read when a Config is built from the environment.
const (
	EnvLevel  = "SLIDESYNC_LOG_LEVEL"
	EnvCaller = "SLIDESYNC_LOG_CALLER"
	EnvFormat = "SLIDESYNC_LOG_FORMAT"
	EnvFile   = "SLIDESYNC_LOG_FILE"
)

// Config defines how component loggers are built.
type Config struct {
	// Level is the minimum log level to output (e.g., "debug", "info", "warn", "error").
	Level string

	// ReportCaller, if true, includes the file, line, and function name in the log output.
	ReportCaller bool

	// File, when set, receives a copy of every log line in addition to stderr.
	File string

	// Format configures the appearance of the log output.
	Format FormatConfig
}

// FormatConfig controls the log output format.
type FormatConfig struct {
	// Preset can be "auto" (default), "text", or "json".
	// "auto" selects json when stderr is not a terminal, text otherwise.
	Preset string
	// DisableTimestamp disables the timestamp from the text format.
	DisableTimestamp bool
	// DisableComponent disables the component name from the text format.
	DisableComponent bool
	// DisableColor renders the component without styling.
	DisableColor bool
}

// ConfigFromEnv builds a Config from the SLIDESYNC_LOG_* variables.
func ConfigFromEnv() Config {
	cfg := Config{
		Level:  "info",
		File:   os.Getenv(EnvFile),
		Format: FormatConfig{Preset: "auto"},
	}
	if lvl := os.Getenv(EnvLevel); lvl != "" {
		cfg.Level = lvl
	}
	if os.Getenv(EnvCaller) == "true" {
		cfg.ReportCaller = true
	}
	if f := strings.ToLower(os.Getenv(EnvFormat)); f != "" {
		cfg.Format.Preset = f
	}
	return cfg
}
