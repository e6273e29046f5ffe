package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	l := NewLoader("")
	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *cfg != *Default() {
		t.Errorf("cfg = %+v, want defaults %+v", cfg, Default())
	}
	if used := l.ConfigFileUsed(); used != "" {
		t.Errorf("ConfigFileUsed = %q, want empty", used)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
process:
  grace_period: 500ms
  pty: true
buffer:
  max_lines: 1000
tui:
  strip_ansi: false
logging:
  level: debug
`)
	l := NewLoader(path)
	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Process.GracePeriod != 500*time.Millisecond {
		t.Errorf("grace_period = %s", cfg.Process.GracePeriod)
	}
	if !cfg.Process.PTY || cfg.Buffer.MaxLines != 1000 || cfg.TUI.StripANSI {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Process.KillTimeout != 2*time.Second {
		t.Errorf("unset kill_timeout = %s, want default", cfg.Process.KillTimeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	if l.ConfigFileUsed() != path {
		t.Errorf("ConfigFileUsed = %q, want %q", l.ConfigFileUsed(), path)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "process:\n  grace_period: 5s\n")
	t.Setenv("RIVERFLOW_PROCESS_GRACE_PERIOD", "750ms")
	t.Setenv("RIVERFLOW_INPUT_ECHO", "true")

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Process.GracePeriod != 750*time.Millisecond {
		t.Errorf("grace_period = %s, want env value", cfg.Process.GracePeriod)
	}
	if !cfg.Input.Echo {
		t.Error("input.echo not taken from env")
	}
}

func TestLoadSetOverride(t *testing.T) {
	path := writeConfig(t, "buffer:\n  max_lines: 10\n")
	l := NewLoader(path)
	l.Set("buffer.max_lines", 20)

	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Buffer.MaxLines != 20 {
		t.Errorf("max_lines = %d, want 20", cfg.Buffer.MaxLines)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want not exist", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "process: [\n")
	if _, err := NewLoader(path).Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadValidation(t *testing.T) {
	path := writeConfig(t, `
process:
  grace_period: 0s
  restart_delay: -1s
buffer:
  max_lines: -5
  max_line_bytes: 10
logging:
  level: loud
`)
	_, err := NewLoader(path).Load()
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("err = %v, want ValidationErrors", err)
	}

	fields := map[string]bool{}
	for _, e := range verrs {
		fields[e.Field] = true
	}
	for _, want := range []string{
		"process.grace_period", "process.restart_delay", "buffer.max_lines",
		"buffer.max_line_bytes", "logging.level",
	} {
		if !fields[want] {
			t.Errorf("missing validation error for %s in %v", want, verrs)
		}
	}
	if !strings.HasPrefix(err.Error(), "5 validation errors:") {
		t.Errorf("error text = %q", err.Error())
	}
}

func TestValidationErrorFormat(t *testing.T) {
	e := ValidationError{Field: "buffer.max_lines", Value: -1, Message: "must be 0 (unbounded) or positive"}
	want := "buffer.max_lines: must be 0 (unbounded) or positive (got: -1)"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
	if got := ValidationErrors([]ValidationError{e}).Error(); got != want {
		t.Errorf("single ValidationErrors = %q", got)
	}
}

func TestYAML(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	l := NewLoader("")
	if _, err := l.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	out, err := l.YAML()
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	for _, want := range []string{"grace_period: 3s", "max_line_bytes: 65536", "level: info"} {
		if !strings.Contains(string(out), want) {
			t.Errorf("yaml missing %q:\n%s", want, out)
		}
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "riverflow", "config.yaml")
	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("write default: %v", err)
	}
	if err := WriteDefault(path, false); err == nil {
		t.Error("second write without force succeeded")
	}
	if err := WriteDefault(path, true); err != nil {
		t.Errorf("forced write: %v", err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *cfg != *Default() {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}

func TestConfigDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	if got := ConfigFile(); got != filepath.Join(dir, "riverflow", "config.yaml") {
		t.Errorf("ConfigFile = %q", got)
	}
}

func TestWatchReloads(t *testing.T) {
	path := writeConfig(t, "tui:\n  show_timestamps: false\n")
	l := NewLoader(path)
	if _, err := l.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	changed := make(chan *Config, 4)
	l.Watch(func(cfg *Config, err error) {
		if err == nil {
			changed <- cfg
		}
	})

	if err := os.WriteFile(path, []byte("tui:\n  show_timestamps: true\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	timeout := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changed:
			if cfg.TUI.ShowTimestamps {
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for reload")
		}
	}
}
