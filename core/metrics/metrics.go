package metrics

import (
	"time"

	"github.com/kilianp07/arbitrage/core/model"
	"github.com/kilianp07/arbitrage/core/timeseries"
)

// RecommendationEvent describes one scheduling run.
type RecommendationEvent struct {
	Recommendation model.Recommendation
	SolveDuration  time.Duration
	// Err is set when the run failed before a status was obtained.
	Err  error
	Time time.Time
}

// MetricsSink records recommendation outcomes.
type MetricsSink interface {
	RecordRecommendation(ev RecommendationEvent) error
}

// PriceEvent carries a batch of prices fetched from a market source.
type PriceEvent struct {
	Source string
	Prices []timeseries.Observation
	Time   time.Time
}

// PriceRecorder is implemented by sinks able to store market prices.
type PriceRecorder interface {
	RecordPrices(ev PriceEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordRecommendation(RecommendationEvent) error { return nil }
func (NopSink) RecordPrices(PriceEvent) error                  { return nil }
