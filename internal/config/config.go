package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/marine"
)

// TableNone is the field-mapping sentinel for "no dedicated table": fields
// mapped to it are deliberately dropped by the router.
const TableNone = "none"

// ForecastTable is the destination for tide prediction rows. It gets
// rolling-window retention instead of plain upserts.
const ForecastTable = "marine_forecast_data"

var validate = validator.New()

// Duration wraps time.Duration so intervals can be written as "10m" or
// "6h" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// StationConfig is one configured station for a provider module.
type StationConfig struct {
	ID      string `yaml:"id" validate:"required"`
	Enabled bool   `yaml:"enabled"`
	// Datum overrides the module default for CO-OPS stations.
	Datum string `yaml:"datum"`
}

// FieldMapping declares where one logical field lands in the store.
// Entries are checked in Validate; validator tags cannot reach map values.
type FieldMapping struct {
	Table  string `yaml:"table"`
	Column string `yaml:"column"`
	Type   string `yaml:"type"`
}

// CoopsConfig configures the CO-OPS (tide/water-level) poller.
type CoopsConfig struct {
	// BaseURL overrides the production API endpoint, mainly for proxies.
	BaseURL             string          `yaml:"base_url"`
	Stations            []StationConfig `yaml:"stations" validate:"required,dive"`
	WaterLevelInterval  Duration        `yaml:"water_level_interval"`
	PredictionsInterval Duration        `yaml:"predictions_interval"`
	PredictionsHorizon  Duration        `yaml:"predictions_horizon"`
	StaleAfter          Duration        `yaml:"stale_after"`
	DefaultDatum        string          `yaml:"default_datum"`
	MinRequestInterval  Duration        `yaml:"min_request_interval"`
}

// NdbcConfig configures the NDBC (buoy) poller.
type NdbcConfig struct {
	BaseURL             string          `yaml:"base_url"`
	Stations            []StationConfig `yaml:"stations" validate:"required,dive"`
	ObservationInterval Duration        `yaml:"observation_interval"`
	OceanInterval       Duration        `yaml:"ocean_interval"`
	StaleAfter          Duration        `yaml:"stale_after"`
}

// Config is the full service configuration, read-only after Load.
type Config struct {
	Enabled     bool     `yaml:"enabled"`
	DatabaseURL string   `yaml:"database_url" validate:"required"`
	ListenAddr  string   `yaml:"listen_addr"`
	Timeout     Duration `yaml:"timeout"`
	MaxRetries  int      `yaml:"max_retries" validate:"min=1"`
	BackoffBase Duration `yaml:"backoff_base"`

	CheckInterval    Duration `yaml:"check_interval"`
	WatchdogInterval Duration `yaml:"watchdog_interval"`
	JoinTimeout      Duration `yaml:"join_timeout"`

	Coops *CoopsConfig `yaml:"coops"`
	Ndbc  *NdbcConfig  `yaml:"ndbc"`

	// FieldMappings: module name -> logical field -> destination.
	FieldMappings map[string]map[string]FieldMapping `yaml:"field_mappings" validate:"required"`
}

// Load reads the YAML config file (path from CONFIG_FILE unless given
// explicitly), applies environment overrides and defaults, and validates
// required sections. A missing required section yields a
// marine.ConfigError so the caller can refuse to start.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		return nil, &marine.ConfigError{Reason: "no config file given and CONFIG_FILE not set"}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &marine.ConfigError{Reason: fmt.Sprintf("read %s: %v", path, err)}
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &marine.ConfigError{Reason: fmt.Sprintf("decode %s: %v", path, err)}
	}

	// Environment overrides for deployment-specific values.
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = Duration(30 * time.Second)
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = Duration(time.Second)
	}
	if c.CheckInterval == 0 {
		c.CheckInterval = Duration(60 * time.Second)
	}
	if c.WatchdogInterval == 0 {
		c.WatchdogInterval = Duration(5 * time.Minute)
	}
	if c.JoinTimeout == 0 {
		c.JoinTimeout = Duration(10 * time.Second)
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}

	if c.Coops != nil {
		if c.Coops.WaterLevelInterval == 0 {
			c.Coops.WaterLevelInterval = Duration(10 * time.Minute)
		}
		if c.Coops.PredictionsInterval == 0 {
			c.Coops.PredictionsInterval = Duration(6 * time.Hour)
		}
		if c.Coops.PredictionsHorizon == 0 {
			c.Coops.PredictionsHorizon = Duration(7 * 24 * time.Hour)
		}
		if c.Coops.StaleAfter == 0 {
			c.Coops.StaleAfter = Duration(2 * time.Hour)
		}
		if c.Coops.DefaultDatum == "" {
			c.Coops.DefaultDatum = "MLLW"
		}
		if c.Coops.MinRequestInterval == 0 {
			c.Coops.MinRequestInterval = Duration(5 * time.Second)
		}
	}
	if c.Ndbc != nil {
		if c.Ndbc.ObservationInterval == 0 {
			c.Ndbc.ObservationInterval = Duration(time.Hour)
		}
		if c.Ndbc.OceanInterval == 0 {
			c.Ndbc.OceanInterval = Duration(time.Hour)
		}
		if c.Ndbc.StaleAfter == 0 {
			c.Ndbc.StaleAfter = Duration(3 * time.Hour)
		}
	}
}

// Validate checks that the configuration is complete enough to run.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return &marine.ConfigError{Reason: err.Error()}
	}
	if c.Coops == nil && c.Ndbc == nil {
		return &marine.ConfigError{Reason: "no provider modules configured"}
	}
	if len(c.CoopsStations()) == 0 && len(c.NdbcStations()) == 0 {
		return &marine.ConfigError{Reason: "no enabled stations configured"}
	}
	if len(c.FieldMappings) == 0 {
		return &marine.ConfigError{Reason: "field_mappings section is empty"}
	}
	for module, fields := range c.FieldMappings {
		for field, fm := range fields {
			if fm.Table == "" {
				return &marine.ConfigError{Reason: fmt.Sprintf("field_mappings.%s.%s: table is required (use %q to drop the field)", module, field, TableNone)}
			}
			if fm.Table == TableNone {
				continue
			}
			if fm.Column == "" {
				return &marine.ConfigError{Reason: fmt.Sprintf("field_mappings.%s.%s: column is required", module, field)}
			}
			if fm.Type != "numeric" && fm.Type != "text" {
				return &marine.ConfigError{Reason: fmt.Sprintf("field_mappings.%s.%s: type must be numeric or text, got %q", module, field, fm.Type)}
			}
		}
	}
	return nil
}

// CoopsStations returns the enabled CO-OPS stations with datum resolved.
func (c *Config) CoopsStations() []marine.Station {
	if c.Coops == nil {
		return nil
	}
	var out []marine.Station
	for _, sc := range c.Coops.Stations {
		if !sc.Enabled {
			continue
		}
		datum := sc.Datum
		if datum == "" {
			datum = c.Coops.DefaultDatum
		}
		out = append(out, marine.Station{
			ID: sc.ID, Source: marine.SourceCoops, Enabled: true, Datum: datum,
		})
	}
	return out
}

// NdbcStations returns the enabled NDBC stations.
func (c *Config) NdbcStations() []marine.Station {
	if c.Ndbc == nil {
		return nil
	}
	var out []marine.Station
	for _, sc := range c.Ndbc.Stations {
		if !sc.Enabled {
			continue
		}
		out = append(out, marine.Station{ID: sc.ID, Source: marine.SourceNdbc, Enabled: true})
	}
	return out
}

// ModuleMappings returns the field mappings for one provider module, or nil
// when the module has none configured.
func (c *Config) ModuleMappings(module string) map[string]FieldMapping {
	return c.FieldMappings[module]
}
