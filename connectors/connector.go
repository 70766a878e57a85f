// Package connectors fetches market prices from external APIs.
package connectors

import (
	"context"
	"time"

	"github.com/kilianp07/arbitrage/auth"
	coremetrics "github.com/kilianp07/arbitrage/core/metrics"
	"github.com/kilianp07/arbitrage/core/timeseries"
	"github.com/kilianp07/arbitrage/infra/logger"
)

// ErrIncompatibleOption is the format of errors returned when an option is
// applied to a source that does not support it.
const ErrIncompatibleOption = "option %s is not compatible with %s"

// PriceSource returns hourly prices for [start, end).
type PriceSource interface {
	Fetch(ctx context.Context, start, end time.Time) (*timeseries.PriceSeries, error)
}

// Option configures a PriceSource.
type Option func(PriceSource) error

// Config selects and configures the price source.
type Config struct {
	Source  string    `json:"source"`
	BaseURL string    `json:"base_url"`
	Auth    auth.Conf `json:"auth"`
	// ConvertToKWh divides €/MWh quotes by 1000.
	ConvertToKWh   bool `json:"convert_to_kwh"`
	TimeoutSeconds int  `json:"timeout_seconds"`
}

// Timeout returns the HTTP timeout, 10s when unset.
func (c Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// recordingSource reports every fetched batch to a PriceRecorder.
type recordingSource struct {
	src  PriceSource
	rec  coremetrics.PriceRecorder
	name string
	log  logger.Logger
}

// WithRecorder wraps src so that fetched prices are stored by rec. A sink
// that cannot record prices leaves src unchanged.
func WithRecorder(src PriceSource, sink coremetrics.MetricsSink, name string) PriceSource {
	rec, ok := sink.(coremetrics.PriceRecorder)
	if !ok {
		return src
	}
	return &recordingSource{src: src, rec: rec, name: name, log: logger.New("price-source")}
}

func (r *recordingSource) Fetch(ctx context.Context, start, end time.Time) (*timeseries.PriceSeries, error) {
	p, err := r.src.Fetch(ctx, start, end)
	if err != nil {
		return nil, err
	}
	ev := coremetrics.PriceEvent{Source: r.name, Prices: p.All(), Time: time.Now()}
	if err := r.rec.RecordPrices(ev); err != nil {
		r.log.Errorf("record prices: %v", err)
	}
	return p, nil
}
