package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Port    int
	Enabled bool
}

type sampleConf struct {
	Port    int  `json:"port"`
	Enabled bool `json:"enabled"`
}

func TestRegistryCreate(t *testing.T) {
	reg := NewRegistry[*sample]()
	require.NoError(t, reg.Register("s", func(conf map[string]any) (*sample, error) {
		var c sampleConf
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		return &sample{Port: c.Port, Enabled: c.Enabled}, nil
	}))
	inst, err := reg.Create(ModuleConfig{Type: "s", Conf: map[string]any{"port": "9100", "enabled": "true"}})
	require.NoError(t, err)
	assert.Equal(t, 9100, inst.Port)
	assert.True(t, inst.Enabled)
}

func TestRegistryErrors(t *testing.T) {
	reg := NewRegistry[int]()
	require.NoError(t, reg.Register("x", func(map[string]any) (int, error) { return 1, nil }))
	assert.Error(t, reg.Register("x", func(map[string]any) (int, error) { return 2, nil }))
	assert.Error(t, reg.Register("y", nil))
	_, err := reg.Create(ModuleConfig{Type: "y"})
	assert.ErrorContains(t, err, `unknown module type "y"`)
	assert.Equal(t, []string{"x"}, reg.Names())
}
