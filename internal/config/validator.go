package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sleepiecappy/riverflow/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// MinLineBytes is the smallest accepted buffer.max_line_bytes.
const MinLineBytes = 80

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	positive := []struct {
		field string
		value time.Duration
	}{
		{"process.grace_period", c.Process.GracePeriod},
		{"process.kill_timeout", c.Process.KillTimeout},
		{"process.drain_timeout", c.Process.DrainTimeout},
		{"process.write_timeout", c.Process.WriteTimeout},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, ValidationError{Field: p.field, Value: p.value, Message: "must be positive"})
		}
	}
	if c.Process.RestartDelay < 0 {
		errs = append(errs, ValidationError{
			Field:   "process.restart_delay",
			Value:   c.Process.RestartDelay,
			Message: "must not be negative",
		})
	}

	if c.Buffer.MaxLines < 0 {
		errs = append(errs, ValidationError{
			Field:   "buffer.max_lines",
			Value:   c.Buffer.MaxLines,
			Message: "must be 0 (unbounded) or positive",
		})
	}
	if c.Buffer.MaxLineBytes < MinLineBytes {
		errs = append(errs, ValidationError{
			Field:   "buffer.max_line_bytes",
			Value:   c.Buffer.MaxLineBytes,
			Message: fmt.Sprintf("must be at least %d", MinLineBytes),
		})
	}

	if !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: "must be one of trace, debug, info, warn, error",
		})
	}
	return errs
}
