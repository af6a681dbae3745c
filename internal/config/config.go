// Package config loads the server configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/raysh454/reconcile/internal/app"
	"github.com/raysh454/reconcile/internal/logging"
	"github.com/raysh454/reconcile/internal/server"
	"github.com/raysh454/reconcile/internal/store"
)

// EnvConfigPath names the environment variable consulted when no -config flag is given.
const EnvConfigPath = "RECONCILE_CONFIG"

// DefaultFile is looked up in the working directory as a last resort.
const DefaultFile = "reconcile.yaml"

// Config is the whole runtime configuration of the server binary.
type Config struct {
	Server  server.Config  `yaml:"server"`
	Storage store.Config   `yaml:"storage"`
	Service app.Config     `yaml:"service"`
	Log     logging.Config `yaml:"log"`
}

// Default returns a Config that keeps its data under ~/.local/share/reconcile.
func Default() *Config {
	return &Config{
		Server:  server.DefaultConfig(),
		Storage: store.DefaultConfig("~/.local/share/reconcile"),
		Service: *app.DefaultConfig(),
		Log:     logging.DefaultConfig(),
	}
}

// Path picks the configuration file: the flag value, else $RECONCILE_CONFIG, else
// reconcile.yaml in the working directory if it exists. It returns "" when there is
// none, meaning defaults only.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	if info, err := os.Stat(DefaultFile); err == nil && !info.IsDir() {
		return DefaultFile
	}
	return ""
}

// Load reads path over Default, expands ~ in filesystem paths, makes the blob
// directory absolute and validates the result. An empty path yields the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) expandPaths() error {
	var err error
	if c.Storage.BlobDir, err = expandPath(c.Storage.BlobDir); err != nil {
		return err
	}
	if c.Storage.BlobDir != "" {
		if c.Storage.BlobDir, err = filepath.Abs(c.Storage.BlobDir); err != nil {
			return fmt.Errorf("resolving storage.blob_dir: %w", err)
		}
	}
	if c.Log.File, err = expandPath(c.Log.File); err != nil {
		return err
	}
	if c.Storage.Driver == store.DriverSQLite {
		if c.Storage.DSN, err = expandPath(c.Storage.DSN); err != nil {
			return err
		}
	}
	return nil
}

func expandPath(p string) (string, error) {
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding %s: %w", p, err)
		}
		return filepath.Join(home, p[1:]), nil
	}
	return p, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	validate := validator.New()

	// Register custom validation for LogLevel
	_ = validate.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		_, err := logging.ParseLevel(fl.Field().String())
		return err == nil
	})

	// Register custom validation for LogFormat
	_ = validate.RegisterValidation("logformat", func(fl validator.FieldLevel) bool {
		switch strings.ToLower(fl.Field().String()) {
		case "", logging.FormatJSON, logging.FormatConsole:
			return true
		default:
			return false
		}
	})

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
