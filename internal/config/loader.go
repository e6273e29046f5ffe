package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. RIVERFLOW_PROCESS_PTY.
const EnvPrefix = "RIVERFLOW"

// Loader resolves configuration from defaults, the config file, the
// environment and flags, in increasing order of precedence.
type Loader struct {
	v        *viper.Viper
	path     string
	explicit bool
	loaded   bool
}

// NewLoader returns a Loader for path. An empty path uses ConfigFile and
// tolerates it being absent.
func NewLoader(path string) *Loader {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	l := &Loader{v: v, path: path, explicit: path != ""}
	if !l.explicit {
		l.path = ConfigFile()
	}
	return l
}

// BindFlag makes flag override key when it was set on the command line.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("bind %s: flag not defined", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Set overrides key with the highest precedence.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// Load reads the config file if present and returns the validated result.
func (l *Loader) Load() (*Config, error) {
	if err := l.read(); err != nil {
		return nil, err
	}
	return l.decode()
}

func (l *Loader) read() error {
	if _, err := os.Stat(l.path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !l.explicit {
			return nil
		}
		return fmt.Errorf("config file %s: %w", l.path, err)
	}
	l.v.SetConfigFile(l.path)
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && !l.explicit {
			return nil
		}
		return fmt.Errorf("read config %s: %w", l.path, err)
	}
	l.loaded = true
	return nil
}

func (l *Loader) decode() (*Config, error) {
	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return cfg, nil
}

// ConfigFileUsed returns the file Load read, or "" when none was found.
func (l *Loader) ConfigFileUsed() string {
	if !l.loaded {
		return ""
	}
	return l.v.ConfigFileUsed()
}

// Watch calls fn with the re-decoded configuration each time the loaded
// file changes. It does nothing when no file was loaded.
func (l *Loader) Watch(fn func(*Config, error)) {
	if !l.loaded {
		return
	}
	l.v.OnConfigChange(func(fsnotify.Event) {
		fn(l.decode())
	})
	l.v.WatchConfig()
}

// YAML renders the effective settings.
func (l *Loader) YAML() ([]byte, error) {
	out, err := yaml.Marshal(l.v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return out, nil
}

// WriteDefault writes the default configuration to path, creating its
// directory. An existing file is left alone unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	nested := map[string]map[string]any{}
	for key, value := range defaults() {
		section, name, _ := strings.Cut(key, ".")
		if nested[section] == nil {
			nested[section] = map[string]any{}
		}
		nested[section][name] = value
	}
	out, err := yaml.Marshal(nested)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}
