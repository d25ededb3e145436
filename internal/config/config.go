package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"

	"nem_dashboard/internal/model"
)

// Config is read from NEM_* environment variables.
type Config struct {
	DataDir string `envconfig:"DATA_DIR" default:"data"`
	Region  string `envconfig:"REGION" default:"NEM"`

	Source  SourceConfig  `envconfig:"SOURCE"`
	SQL     SQLConfig     `envconfig:"SQL"`
	Refresh RefreshConfig `envconfig:"REFRESH"`
	HTTP    HTTPConfig    `envconfig:"HTTP"`
	Logging LoggingConfig `envconfig:"LOG"`
	Alerts  AlertsConfig  `envconfig:"ALERTS"`
	Repair  RepairConfig  `envconfig:"REPAIR"`
	Files   FilesConfig   `envconfig:"FILES"`
}

type SourceConfig struct {
	Kind string `envconfig:"KIND" default:"csv"` // csv or sql
}

type SQLConfig struct {
	Driver string `envconfig:"DRIVER" default:"sqlite"` // sqlite, clickhouse or postgres
	DSN    string `envconfig:"DSN"`
}

type RefreshConfig struct {
	// Window bounds how much history is read per refresh.
	Window         time.Duration `envconfig:"WINDOW" default:"2160h"`
	OverviewWindow time.Duration `envconfig:"OVERVIEW_WINDOW" default:"24h"`
	Interval       time.Duration `envconfig:"INTERVAL" default:"4m30s"`
	WatchData      bool          `envconfig:"WATCH_DATA" default:"false"`
}

type HTTPConfig struct {
	Addr        string `envconfig:"ADDR" default:":8080"`
	FrontendDir string `envconfig:"FRONTEND_DIR"`
}

type LoggingConfig struct {
	Level string `envconfig:"LEVEL" default:"info"`
	File  string `envconfig:"FILE"`
}

type AlertsConfig struct {
	Enabled           bool          `envconfig:"ENABLED" default:"false"`
	AutoAddExceptions bool          `envconfig:"AUTO_ADD_EXCEPTIONS" default:"true"`
	Cooldown          time.Duration `envconfig:"COOLDOWN" default:"24h"`
}

type RepairConfig struct {
	FlatRunMin int     `envconfig:"FLAT_RUN_MIN" default:"5"`
	FlatRunMax int     `envconfig:"FLAT_RUN_MAX" default:"12"`
	Decay      float64 `envconfig:"DECAY" default:"0.9"`
	Horizon    int     `envconfig:"HORIZON" default:"6"`
	FillLimit  int     `envconfig:"FILL_LIMIT" default:"6"`
	AlignLimit int     `envconfig:"ALIGN_LIMIT" default:"24"`
	AlignDecay float64 `envconfig:"ALIGN_DECAY" default:"0.98"`
}

// FilesConfig holds persisted documents. Relative paths resolve against DataDir.
type FilesConfig struct {
	Records         string `envconfig:"RECORDS" default:"renewable_records.json"`
	Exceptions      string `envconfig:"EXCEPTIONS" default:"duid_exceptions.json"`
	Interconnectors string `envconfig:"INTERCONNECTORS"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("NEM", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks if configuration is valid.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case "csv":
	case "sql":
		switch c.SQL.Driver {
		case "sqlite", "clickhouse", "postgres":
		default:
			return fmt.Errorf("unsupported SQL driver %q", c.SQL.Driver)
		}
		if c.SQL.DSN == "" {
			return fmt.Errorf("SQL source requires NEM_SQL_DSN")
		}
	default:
		return fmt.Errorf("unsupported source kind %q", c.Source.Kind)
	}

	if _, ok := model.ParseRegion(c.Region); !ok {
		return fmt.Errorf("unknown region %q", c.Region)
	}
	if c.Refresh.Window <= 0 || c.Refresh.OverviewWindow <= 0 {
		return fmt.Errorf("refresh windows must be positive")
	}
	if c.Refresh.Interval < time.Second {
		return fmt.Errorf("refresh interval %s is too short", c.Refresh.Interval)
	}
	if c.Repair.FlatRunMin < 2 || c.Repair.FlatRunMax < c.Repair.FlatRunMin {
		return fmt.Errorf("invalid flat-run bounds %d..%d", c.Repair.FlatRunMin, c.Repair.FlatRunMax)
	}
	if c.Repair.Decay <= 0 || c.Repair.Decay > 1 || c.Repair.AlignDecay <= 0 || c.Repair.AlignDecay > 1 {
		return fmt.Errorf("decay factors must be in (0, 1]")
	}

	return nil
}

// Path resolves a configured file name against the data directory.
func (c *Config) Path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir, name)
}
