package model

import (
	"fmt"

	"github.com/kilianp07/arbitrage/core/timeseries"
)

// Battery holds the physical limits of the storage device. Powers are in kW
// over one-hour steps, so they double as kWh per step.
type Battery struct {
	MaxChargeKW     float64 `json:"max_charge_kw" yaml:"max_charge_kw"`
	MaxDischargeKW  float64 `json:"max_discharge_kw" yaml:"max_discharge_kw"`
	Efficiency      float64 `json:"efficiency" yaml:"efficiency"`
	MinCapacityKWh  float64 `json:"min_capacity_kwh" yaml:"min_capacity_kwh"`
	MaxCapacityKWh  float64 `json:"max_capacity_kwh" yaml:"max_capacity_kwh"`
	InitialLevelKWh float64 `json:"initial_level_kwh" yaml:"initial_level_kwh"`
}

// Validate checks that the parameters describe a usable battery.
func (b Battery) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"max_charge_kw", b.MaxChargeKW},
		{"max_discharge_kw", b.MaxDischargeKW},
		{"efficiency", b.Efficiency},
		{"min_capacity_kwh", b.MinCapacityKWh},
		{"max_capacity_kwh", b.MaxCapacityKWh},
		{"initial_level_kwh", b.InitialLevelKWh},
	} {
		if !timeseries.IsFinite(f.v) {
			return fmt.Errorf("%w: %s must be finite, got %v", timeseries.ErrInvalidValue, f.name, f.v)
		}
	}
	switch {
	case b.MaxChargeKW < 0:
		return fmt.Errorf("%w: max_charge_kw must be >= 0", timeseries.ErrInvalidValue)
	case b.MaxDischargeKW < 0:
		return fmt.Errorf("%w: max_discharge_kw must be >= 0", timeseries.ErrInvalidValue)
	case b.Efficiency <= 0 || b.Efficiency > 1:
		return fmt.Errorf("%w: efficiency must be in (0, 1]", timeseries.ErrInvalidValue)
	case b.MaxCapacityKWh < b.MinCapacityKWh:
		return fmt.Errorf("%w: max_capacity_kwh below min_capacity_kwh", timeseries.ErrInvalidValue)
	case b.InitialLevelKWh < b.MinCapacityKWh || b.InitialLevelKWh > b.MaxCapacityKWh:
		return fmt.Errorf("%w: initial_level_kwh %v outside [%v, %v]",
			timeseries.ErrInvalidValue, b.InitialLevelKWh, b.MinCapacityKWh, b.MaxCapacityKWh)
	}
	return nil
}
