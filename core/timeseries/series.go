package timeseries

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"time"
)

// ErrInvalidValue is returned when an observation violates the bounds of its series.
var ErrInvalidValue = errors.New("invalid value")

// Observation is a single timestamped sample.
type Observation struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Series stores observations in insertion order. Chronological insertion is
// expected but not enforced.
type Series struct {
	obs []Observation
}

// Add appends an observation.
func (s *Series) Add(ts time.Time, v float64) {
	s.obs = append(s.obs, Observation{Timestamp: ts, Value: v})
}

// Len returns the number of stored observations.
func (s *Series) Len() int { return len(s.obs) }

// All returns a copy of the stored observations.
func (s *Series) All() []Observation { return slices.Clone(s.obs) }

// Future yields the observations strictly after ref, in insertion order.
// The sequence can be ranged over any number of times.
func (s *Series) Future(ref time.Time) iter.Seq[Observation] {
	return func(yield func(Observation) bool) {
		for _, o := range s.obs {
			if !o.Timestamp.After(ref) {
				continue
			}
			if !yield(o) {
				return
			}
		}
	}
}

// PriceSeries holds market prices. Negative prices are valid.
type PriceSeries struct {
	Series
}

// ConsumptionSeries holds expected energy consumption per hour.
type ConsumptionSeries struct {
	series Series
}

// Add appends a consumption entry. Negative and non-finite values are rejected.
func (c *ConsumptionSeries) Add(ts time.Time, v float64) error {
	if !IsFinite(v) {
		return fmt.Errorf("%w: consumption %v at %s is not finite", ErrInvalidValue, v, ts.Format(time.RFC3339))
	}
	if v < 0 {
		return fmt.Errorf("%w: consumption %v at %s is negative", ErrInvalidValue, v, ts.Format(time.RFC3339))
	}
	c.series.Add(ts, v)
	return nil
}

// Len returns the number of stored entries.
func (c *ConsumptionSeries) Len() int { return c.series.Len() }

// All returns a copy of the stored entries.
func (c *ConsumptionSeries) All() []Observation { return c.series.All() }

// Future yields the entries strictly after ref, in insertion order.
func (c *ConsumptionSeries) Future(ref time.Time) iter.Seq[Observation] {
	return c.series.Future(ref)
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Values collects the observation values of seq.
func Values(seq iter.Seq[Observation]) []float64 {
	var out []float64
	for o := range seq {
		out = append(out, o.Value)
	}
	return out
}

// Timestamps collects the observation timestamps of seq.
func Timestamps(seq iter.Seq[Observation]) []time.Time {
	var out []time.Time
	for o := range seq {
		out = append(out, o.Timestamp)
	}
	return out
}
