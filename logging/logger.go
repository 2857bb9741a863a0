package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex

	current    = ConfigFromEnv()
	output     io.Writer
	fileOutput *os.File
)

// NewLogger creates and returns a pre-configured logger for a specific component.
// It uses a singleton pattern per component to avoid re-initializing.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}

	logger := logrus.New()
	apply(logger, current)

	entry := logger.WithField("component", component)
	loggers[component] = entry
	return entry
}

// Configure replaces the active configuration and reapplies it to every
// logger created so far.
func Configure(cfg Config) {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	current = cfg
	if fileOutput != nil {
		_ = fileOutput.Close()
		fileOutput = nil
	}
	for _, entry := range loggers {
		apply(entry.Logger, cfg)
	}
}

// SetOutput redirects all loggers to w. Passing nil restores stderr.
func SetOutput(w io.Writer) {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	output = w
	for _, entry := range loggers {
		apply(entry.Logger, current)
	}
}

// Current returns the active configuration.
func Current() Config {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	return current
}

func apply(logger *logrus.Logger, cfg Config) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetReportCaller(cfg.ReportCaller)

	stderr := output
	interactive := false
	if stderr == nil {
		stderr = os.Stderr
		interactive = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	}

	preset := cfg.Format.Preset
	if preset == "" || preset == "auto" {
		// Piped or containerized output is consumed by log collectors
		preset = "json"
		if interactive {
			preset = "text"
		}
	}

	switch preset {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		format := cfg.Format
		if !interactive {
			format.DisableColor = true
		}
		logger.SetFormatter(&TextFormatter{Config: format})
	}

	writers := []io.Writer{stderr}
	if cfg.File != "" {
		if f := openLogFile(cfg.File); f != nil {
			writers = append(writers, f)
		}
	}

	if len(writers) == 1 {
		logger.SetOutput(writers[0])
	} else {
		logger.SetOutput(io.MultiWriter(writers...))
	}
}

// openLogFile opens the shared file sink once; callers hold loggersMu.
func openLogFile(path string) *os.File {
	if fileOutput != nil {
		return fileOutput
	}
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil
	}
	fileOutput = f
	return f
}

// expandPath expands tilde in file paths
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
