package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/mj1618/support-roster/internal/logger"
)

// Duration is a time.Duration that reads and writes as "5s" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(b), err)
	}
	if v < 0 {
		return fmt.Errorf("duration %q must not be negative", string(b))
	}
	d.Duration = v
	return nil
}

type Config struct {
	DBPath string `toml:"db_path"`

	PollInterval       Duration `toml:"poll_interval"`
	Retention          Duration `toml:"retention"`
	ConflictProtection Duration `toml:"conflict_protection"`
	StartupGrace       Duration `toml:"startup_grace"`
	FocusTimeout       Duration `toml:"focus_timeout"`
	DecisionQueueSize  int      `toml:"decision_queue_size"`

	Log logger.Config `toml:"log"`
}

func DefaultConfig() Config {
	return Config{
		DBPath:             defaultDBPath(),
		PollInterval:       Duration{5 * time.Second},
		Retention:          Duration{30 * time.Second},
		ConflictProtection: Duration{15 * time.Second},
		StartupGrace:       Duration{5 * time.Second},
		FocusTimeout:       Duration{10 * time.Second},
		DecisionQueueSize:  8,
		Log:                logger.Config{Level: "info"},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return DefaultConfig(), err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if c.PollInterval.Duration < 500*time.Millisecond {
		return fmt.Errorf("poll_interval %s is below the 500ms minimum", c.PollInterval)
	}
	if c.FocusTimeout.Duration <= 0 {
		return fmt.Errorf("focus_timeout must be positive")
	}
	if c.DecisionQueueSize < 0 {
		return fmt.Errorf("decision_queue_size must not be negative")
	}
	return nil
}

// DefaultPath is where the config file lives when --config is not given.
func DefaultPath() string {
	return filepath.Join(stateDir(), "config.toml")
}

func defaultDBPath() string {
	return filepath.Join(stateDir(), "roster.db")
}

func stateDir() string {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		if appData != "" {
			return filepath.Join(appData, "support-roster")
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".support-roster"
	}
	return filepath.Join(home, ".local", "state", "support-roster")
}
