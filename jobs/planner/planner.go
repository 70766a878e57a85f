// Package planner refreshes the recommendation on a fixed interval from
// fetched day-ahead prices.
package planner

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kilianp07/arbitrage/connectors"
	"github.com/kilianp07/arbitrage/core/model"
	coremon "github.com/kilianp07/arbitrage/core/monitoring"
	corerec "github.com/kilianp07/arbitrage/core/recommendation"
	"github.com/kilianp07/arbitrage/core/scheduler"
	"github.com/kilianp07/arbitrage/core/timeseries"
	"github.com/kilianp07/arbitrage/infra/logger"
)

// Config controls the periodic planning job.
type Config struct {
	// IntervalMinutes between runs; zero disables the job.
	IntervalMinutes int `json:"interval_minutes"`
	// LevelTopic overrides the MQTT topic carrying the measured level.
	LevelTopic string `json:"level_topic"`
	// LevelMaxAgeMinutes discards older level reports; zero keeps any.
	LevelMaxAgeMinutes int `json:"level_max_age_minutes"`
	FetchRetries       int `json:"fetch_retries"`
}

// Enabled reports whether the job should run.
func (c Config) Enabled() bool { return c.IntervalMinutes > 0 }

// Interval returns the time between runs.
func (c Config) Interval() time.Duration { return time.Duration(c.IntervalMinutes) * time.Minute }

// Recommender computes a schedule.
type Recommender interface {
	Recommend(ctx context.Context, req corerec.Request) (model.Recommendation, error)
}

// LevelSource reports the measured storage level.
type LevelSource interface {
	Level(maxAge time.Duration) (float64, bool)
}

// Planner fetches prices and asks for a new recommendation.
type Planner struct {
	svc    Recommender
	prices connectors.PriceSource
	site   scheduler.Config
	levels LevelSource
	cfg    Config
	log    logger.Logger
	now    func() time.Time

	newBackOff func() backoff.BackOff
}

// Option configures a Planner.
type Option func(*Planner)

// WithLevelSource uses measured levels as the initial storage level.
func WithLevelSource(l LevelSource) Option { return func(p *Planner) { p.levels = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(p *Planner) { p.now = now } }

// New creates a Planner for the given site.
func New(svc Recommender, prices connectors.PriceSource, site scheduler.Config, cfg Config, opts ...Option) *Planner {
	if cfg.FetchRetries <= 0 {
		cfg.FetchRetries = 3
	}
	p := &Planner{
		svc:    svc,
		prices: prices,
		site:   site,
		cfg:    cfg,
		log:    logger.New("planner"),
		now:    time.Now,
	}
	p.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.cfg.FetchRetries))
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run plans immediately and then on every interval until ctx is done.
func (p *Planner) Run(ctx context.Context) {
	if _, err := p.RunOnce(ctx); err != nil {
		p.log.Errorf("planning run: %v", err)
	}
	ticker := time.NewTicker(p.cfg.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				p.log.Errorf("planning run: %v", err)
			}
		}
	}
}

// RunOnce plans the hours following now.
func (p *Planner) RunOnce(ctx context.Context) (model.Recommendation, error) {
	now := p.now()
	from := now.Truncate(time.Hour)
	to := from.Add((scheduler.OutputHours + 1) * time.Hour)

	prices, err := backoff.RetryWithData(func() (*timeseries.PriceSeries, error) {
		return p.prices.Fetch(ctx, from, to)
	}, backoff.WithContext(p.newBackOff(), ctx))
	if err != nil {
		coremon.CaptureException(err, map[string]string{"module": "planner"})
		return model.Recommendation{}, fmt.Errorf("fetch prices: %w", err)
	}

	battery := p.site.Battery
	if p.levels != nil {
		maxAge := time.Duration(p.cfg.LevelMaxAgeMinutes) * time.Minute
		if lvl, ok := p.levels.Level(maxAge); ok {
			battery.InitialLevelKWh = math.Min(math.Max(lvl, battery.MinCapacityKWh), battery.MaxCapacityKWh)
		} else {
			p.log.Warnf("no recent level report, using configured initial level %.3f", battery.InitialLevelKWh)
		}
	}
	return p.svc.Recommend(ctx, corerec.Request{
		Prices:     prices,
		Battery:    battery,
		NetworkFee: p.site.NetworkFee,
		Now:        now,
	})
}
