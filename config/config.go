package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/arbitrage/connectors"
	coremetrics "github.com/kilianp07/arbitrage/core/metrics"
	"github.com/kilianp07/arbitrage/core/scheduler"
	"github.com/kilianp07/arbitrage/infra/monitoring"
	"github.com/kilianp07/arbitrage/infra/mqtt"
	"github.com/kilianp07/arbitrage/jobs/planner"
)

// EnvPrefix marks environment variables overriding file settings.
// Nested keys are separated by a double underscore, e.g.
// ARB_SITE__NETWORK_FEE=0.5.
const EnvPrefix = "ARB_"

type Config struct {
	HTTP    HTTPConfig         `json:"http"`
	MQTT    mqtt.Config        `json:"mqtt"`
	Metrics coremetrics.Config `json:"metrics"`
	Solver  SolverConfig       `json:"solver"`
	Site    scheduler.Config   `json:"site"`
	Prices  connectors.Config  `json:"prices"`
	Planner planner.Config     `json:"planner"`
	Logging LoggingConfig      `json:"logging"`
	Sentry  monitoring.Config  `json:"sentry"`
}

// HTTPConfig configures the recommendation API listener.
type HTTPConfig struct {
	Address string `json:"address"`
	// Token, when set, is required as a bearer token on every request.
	Token string `json:"token"`
}

// SolverConfig tunes the simplex routine.
type SolverConfig struct {
	Tolerance float64 `json:"tolerance"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// SetDefaults fills every section that has defaults.
func (c *Config) SetDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	c.Logging.SetDefaults()
	if c.MQTT.Enabled {
		c.MQTT.SetDefaults()
	}
}

// Validate checks the loaded configuration.
func (c Config) Validate() error {
	if err := c.Site.Validate(); err != nil {
		return fmt.Errorf("site: %w", err)
	}
	if err := c.MQTT.Validate(); err != nil {
		return err
	}
	if c.Solver.Tolerance < 0 {
		return fmt.Errorf("solver: tolerance must be >= 0")
	}
	if c.Planner.IntervalMinutes < 0 || c.Planner.LevelMaxAgeMinutes < 0 {
		return fmt.Errorf("planner: durations must be >= 0")
	}
	if c.Planner.Enabled() && c.Prices.Source == "" {
		return fmt.Errorf("planner: a price source is required")
	}
	return c.Logging.Validate()
}
