package model

import (
	"time"

	"github.com/kilianp07/arbitrage/core/lp"
)

// HourPlan is the recommended set point for one hour.
type HourPlan struct {
	Start       time.Time `json:"start"`
	Price       float64   `json:"price"`
	ChargeKW    float64   `json:"charge_kw"`
	DischargeKW float64   `json:"discharge_kw"`
	// LevelKWh is the storage level at the end of the hour.
	LevelKWh float64 `json:"level_kwh"`
}

// NetPowerKW returns the grid exchange for the hour, positive when exporting.
func (h HourPlan) NetPowerKW() float64 { return h.DischargeKW - h.ChargeKW }

// Recommendation is the schedule returned for one request. Hours is empty
// unless Status is optimal.
type Recommendation struct {
	ID             string     `json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	Horizon        int        `json:"horizon"`
	Status         lp.Status  `json:"status"`
	ExpectedProfit float64    `json:"expected_profit"`
	Hours          []HourPlan `json:"hours"`
}

// Charge returns the per-hour charge rates.
func (r Recommendation) Charge() []float64 {
	out := make([]float64, len(r.Hours))
	for i, h := range r.Hours {
		out[i] = h.ChargeKW
	}
	return out
}

// Discharge returns the per-hour discharge rates.
func (r Recommendation) Discharge() []float64 {
	out := make([]float64, len(r.Hours))
	for i, h := range r.Hours {
		out[i] = h.DischargeKW
	}
	return out
}
