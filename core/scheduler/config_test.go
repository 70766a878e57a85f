package scheduler

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlConfig = `battery:
  max_charge_kw: 15
  max_discharge_kw: 12
  efficiency: 0.9
  min_capacity_kwh: 5
  max_capacity_kwh: 100
  initial_level_kwh: 10
network_fee: 0.02
solve_timeout_seconds: 5
`

func TestDecodeConfigYAML(t *testing.T) {
	cfg, err := DecodeConfig(bytes.NewBufferString(yamlConfig), "yaml")
	require.NoError(t, err)
	assert.Equal(t, 15.0, cfg.Battery.MaxChargeKW)
	assert.Equal(t, 12.0, cfg.Battery.MaxDischargeKW)
	assert.Equal(t, 0.9, cfg.Battery.Efficiency)
	assert.Equal(t, 0.02, cfg.NetworkFee)
	assert.Equal(t, 5*time.Second, cfg.SolveTimeout())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "battery.json")
	data := `{"battery":{"max_charge_kw":3,"max_discharge_kw":3,"efficiency":1,"max_capacity_kwh":10,"initial_level_kwh":2}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3.0, cfg.Battery.MaxChargeKW)
	assert.Equal(t, 30*time.Second, cfg.SolveTimeout())

	yml := filepath.Join(dir, "battery.yml")
	require.NoError(t, os.WriteFile(yml, []byte(yamlConfig), 0o644))
	cfg, err = LoadConfig(yml)
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.Battery.MinCapacityKWh)
}

func TestConfigErrors(t *testing.T) {
	_, err := DecodeConfig(bytes.NewBufferString("{}"), "toml")
	assert.Error(t, err)
	_, err = DecodeConfig(bytes.NewBufferString(":"), "yaml")
	assert.Error(t, err)
	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "cfg.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	_, err = LoadConfig(path)
	assert.Error(t, err)

	cfg := Config{NetworkFee: -1}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidValue)
}
