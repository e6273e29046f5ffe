package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config represents the complete riverflow configuration
type Config struct {
	Process ProcessConfig `mapstructure:"process" yaml:"process"`
	Buffer  BufferConfig  `mapstructure:"buffer" yaml:"buffer"`
	Input   InputConfig   `mapstructure:"input" yaml:"input"`
	TUI     TUIConfig     `mapstructure:"tui" yaml:"tui"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ProcessConfig controls how the child process is run and stopped
type ProcessConfig struct {
	// GracePeriod is how long a stop waits after SIGTERM before SIGKILL
	GracePeriod time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	// KillTimeout bounds the wait for the process to die after SIGKILL
	KillTimeout time.Duration `mapstructure:"kill_timeout" yaml:"kill_timeout"`
	// DrainTimeout bounds how long output is read after the process exited
	DrainTimeout time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	RestartDelay time.Duration `mapstructure:"restart_delay" yaml:"restart_delay"`
	// ClearOnRestart empties the log before the new instance starts
	ClearOnRestart bool `mapstructure:"clear_on_restart" yaml:"clear_on_restart"`
	// PTY attaches stdin and stdout to a pseudo terminal
	PTY bool `mapstructure:"pty" yaml:"pty"`
}

// BufferConfig controls the captured line buffer
type BufferConfig struct {
	// MaxLines bounds the buffer; 0 keeps everything
	MaxLines     int `mapstructure:"max_lines" yaml:"max_lines"`
	MaxLineBytes int `mapstructure:"max_line_bytes" yaml:"max_line_bytes"`
	// FollowScreenClear clears the buffer when the child clears its screen
	FollowScreenClear bool `mapstructure:"follow_screen_clear" yaml:"follow_screen_clear"`
}

// InputConfig controls lines sent to the child
type InputConfig struct {
	// Echo shows sent lines in the log
	Echo bool `mapstructure:"echo" yaml:"echo"`
	// InterpretEscapes decodes \n, \t, \xNN and friends before sending
	InterpretEscapes bool `mapstructure:"interpret_escapes" yaml:"interpret_escapes"`
}

// TUIConfig controls the terminal UI. It is reloaded when the file changes.
type TUIConfig struct {
	AutoScroll      bool `mapstructure:"auto_scroll" yaml:"auto_scroll"`
	StripANSI       bool `mapstructure:"strip_ansi" yaml:"strip_ansi"`
	ShowTimestamps  bool `mapstructure:"show_timestamps" yaml:"show_timestamps"`
	ShowLineNumbers bool `mapstructure:"show_line_numbers" yaml:"show_line_numbers"`
}

// LoggingConfig controls the diagnostic log
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	// File receives JSON logs; empty keeps logs off the terminal in the TUI
	File string `mapstructure:"file" yaml:"file"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Process: ProcessConfig{
			GracePeriod:  3 * time.Second,
			KillTimeout:  2 * time.Second,
			DrainTimeout: time.Second,
			WriteTimeout: 2 * time.Second,
		},
		Buffer: BufferConfig{
			MaxLineBytes: 64 * 1024,
		},
		TUI: TUIConfig{
			AutoScroll:      true,
			StripANSI:       true,
			ShowLineNumbers: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// defaults lists every key with its default. Durations are registered as
// strings so the effective configuration prints the way it is written.
func defaults() map[string]any {
	d := Default()
	return map[string]any{
		"process.grace_period":       d.Process.GracePeriod.String(),
		"process.kill_timeout":       d.Process.KillTimeout.String(),
		"process.drain_timeout":      d.Process.DrainTimeout.String(),
		"process.write_timeout":      d.Process.WriteTimeout.String(),
		"process.restart_delay":      d.Process.RestartDelay.String(),
		"process.clear_on_restart":   d.Process.ClearOnRestart,
		"process.pty":                d.Process.PTY,
		"buffer.max_lines":           d.Buffer.MaxLines,
		"buffer.max_line_bytes":      d.Buffer.MaxLineBytes,
		"buffer.follow_screen_clear": d.Buffer.FollowScreenClear,
		"input.echo":                 d.Input.Echo,
		"input.interpret_escapes":    d.Input.InterpretEscapes,
		"tui.auto_scroll":            d.TUI.AutoScroll,
		"tui.strip_ansi":             d.TUI.StripANSI,
		"tui.show_timestamps":        d.TUI.ShowTimestamps,
		"tui.show_line_numbers":      d.TUI.ShowLineNumbers,
		"logging.level":              d.Logging.Level,
		"logging.file":               d.Logging.File,
	}
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "riverflow")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".riverflow"
	}
	return filepath.Join(home, ".config", "riverflow")
}

// ConfigFile returns the path to the default config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
