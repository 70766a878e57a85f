package metrics

import (
	"errors"

	coremetrics "github.com/kilianp07/arbitrage/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records scheduling runs in Prometheus metrics.
type PromSink struct {
	runs     *prometheus.CounterVec
	duration prometheus.Histogram
	profit   prometheus.Gauge
	horizon  prometheus.Gauge
}

// NewPromSink registers the metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers the metrics on reg. A nil registerer
// defaults to the global one. Collectors already registered by a previous
// sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arbitrage_recommendations_total",
		Help: "Number of scheduling runs by solver status",
	}, []string{"status"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbitrage_solve_duration_seconds",
		Help:    "Time spent solving the charge/discharge program",
		Buckets: prometheus.DefBuckets,
	})
	profit := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arbitrage_expected_profit",
		Help: "Expected profit of the last optimal schedule",
	})
	horizon := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arbitrage_horizon_hours",
		Help: "Number of future hours in the last scheduling run",
	})

	var err error
	if runs, err = register(reg, runs); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if profit, err = register(reg, profit); err != nil {
		return nil, err
	}
	if horizon, err = register(reg, horizon); err != nil {
		return nil, err
	}
	return &PromSink{runs: runs, duration: duration, profit: profit, horizon: horizon}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordRecommendation counts the run and, when it produced a schedule,
// updates the profit gauge.
func (s *PromSink) RecordRecommendation(ev coremetrics.RecommendationEvent) error {
	status := ev.Recommendation.Status.String()
	if ev.Err != nil {
		status = "error"
	}
	s.runs.WithLabelValues(status).Inc()
	if ev.SolveDuration > 0 {
		s.duration.Observe(ev.SolveDuration.Seconds())
	}
	s.horizon.Set(float64(ev.Recommendation.Horizon))
	if ev.Err == nil && len(ev.Recommendation.Hours) > 0 {
		s.profit.Set(ev.Recommendation.ExpectedProfit)
	}
	return nil
}
