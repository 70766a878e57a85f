package scheduler

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/arbitrage/core/model"
	"github.com/kilianp07/arbitrage/core/timeseries"
)

// Config groups the battery parameters and solve settings of a site.
type Config struct {
	Battery             model.Battery `json:"battery" yaml:"battery"`
	NetworkFee          float64       `json:"network_fee" yaml:"network_fee"`
	SolveTimeoutSeconds int           `json:"solve_timeout_seconds" yaml:"solve_timeout_seconds"`
}

// SolveTimeout returns the solver deadline, 30s when unset.
func (c Config) SolveTimeout() time.Duration {
	if c.SolveTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.SolveTimeoutSeconds) * time.Second
}

// Validate checks the battery and the network fee.
func (c Config) Validate() error {
	if c.NetworkFee < 0 || !timeseries.IsFinite(c.NetworkFee) {
		return fmt.Errorf("%w: network_fee must be >= 0", ErrInvalidValue)
	}
	return c.Battery.Validate()
}

// LoadConfig loads a Config from a JSON or YAML file.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return DecodeConfig(f, ext)
}

// DecodeConfig reads a Config from r in the given format ("yaml", "yml" or "json").
func DecodeConfig(r io.Reader, format string) (Config, error) {
	var cfg Config
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode yaml: %w", err)
		}
	case "json":
		if err := json.NewDecoder(r).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode json: %w", err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config format: %q", format)
	}
	return cfg, nil
}
