// Package logging builds the process-wide pslog logger and the annotation
// helpers used by the supervisor and session.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/pslog"
)

type Config struct {
	Level string
	// File receives structured JSON logs when set.
	File string
	// Console receives human readable logs when no file is configured.
	// Nil discards them, which is what the TUI wants.
	Console io.Writer
}

// New returns the configured logger and a function releasing its output.
func New(cfg Config) (pslog.Logger, func() error, error) {
	opts := pslog.Options{Mode: pslog.ModeConsole}
	if err := setLevel(&opts, cfg.Level); err != nil {
		return Discard(), nil, err
	}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return Discard(), nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return Discard(), nil, fmt.Errorf("open log file: %w", err)
		}
		opts.Mode = pslog.ModeStructured
		opts.NoColor = true
		return pslog.NewWithOptions(f, opts), f.Close, nil
	}

	w := cfg.Console
	if w == nil {
		w = io.Discard
		opts.NoColor = true
	}
	return pslog.NewWithOptions(w, opts), func() error { return nil }, nil
}

// Discard returns a logger that writes nowhere.
func Discard() pslog.Logger {
	return pslog.NewWithOptions(io.Discard, pslog.Options{Mode: pslog.ModeConsole, NoColor: true})
}

// ValidLevel reports whether level is accepted by New.
func ValidLevel(level string) bool {
	var opts pslog.Options
	return setLevel(&opts, level) == nil
}

func setLevel(opts *pslog.Options, level string) error {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		opts.MinLevel = pslog.TraceLevel
	case "debug":
		opts.MinLevel = pslog.DebugLevel
	case "", "info":
		opts.MinLevel = pslog.InfoLevel
	case "warn", "warning":
		opts.MinLevel = pslog.WarnLevel
	case "error":
		opts.MinLevel = pslog.ErrorLevel
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	return nil
}

// WithCommand annotates the logger with the supervised command line.
func WithCommand(log pslog.Logger, command string) pslog.Logger {
	if command != "" {
		log = log.With("command", command)
	}
	return log
}

// WithInstance annotates the logger with one process instance.
func WithInstance(log pslog.Logger, id string, gen uint64) pslog.Logger {
	if id != "" {
		log = log.With("instance", id)
	}
	return log.With("generation", gen)
}
