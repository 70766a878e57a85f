package recommendation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/arbitrage/core/events"
	"github.com/kilianp07/arbitrage/core/logger"
	"github.com/kilianp07/arbitrage/core/lp"
	coremetrics "github.com/kilianp07/arbitrage/core/metrics"
	"github.com/kilianp07/arbitrage/core/model"
	coremon "github.com/kilianp07/arbitrage/core/monitoring"
	"github.com/kilianp07/arbitrage/core/scheduler"
	"github.com/kilianp07/arbitrage/core/timeseries"
)

// OutputHours is the maximum number of hours returned in a recommendation.
const OutputHours = scheduler.OutputHours

// DefaultTimeout bounds a single solve when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// ErrNoFutureData is returned when no price lies after the reference time.
var ErrNoFutureData = errors.New("no future price data")

// Request is the input of a scheduling run.
type Request struct {
	Prices      *timeseries.PriceSeries
	Consumption *timeseries.ConsumptionSeries
	Battery     model.Battery
	NetworkFee  float64
	// Now is the reference time; observations at or before it are ignored.
	// The zero value uses the service clock.
	Now time.Time
}

// EventPublisher receives solved recommendations.
type EventPublisher interface {
	Publish(events.RecommendationEvent)
}

// Service computes recommendations.
type Service struct {
	solver   lp.Solver
	timeout  time.Duration
	recorder coremetrics.MetricsSink
	bus      EventPublisher
	log      logger.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures a Service.
type Option func(*Service)

// WithSolver replaces the default simplex solver.
func WithSolver(s lp.Solver) Option {
	return func(svc *Service) {
		if s != nil {
			svc.solver = s
		}
	}
}

// WithTimeout sets the deadline of each solve.
func WithTimeout(d time.Duration) Option {
	return func(svc *Service) {
		if d > 0 {
			svc.timeout = d
		}
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(r coremetrics.MetricsSink) Option {
	return func(svc *Service) {
		if r != nil {
			svc.recorder = r
		}
	}
}

// WithEventBus publishes every optimal recommendation on p.
func WithEventBus(p EventPublisher) Option {
	return func(svc *Service) { svc.bus = p }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(svc *Service) {
		if l != nil {
			svc.log = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) {
		if now != nil {
			svc.now = now
		}
	}
}

// NewService creates a Service.
func NewService(opts ...Option) *Service {
	s := &Service{
		solver:   lp.SimplexSolver{},
		timeout:  DefaultTimeout,
		recorder: coremetrics.NopSink{},
		log:      logger.Nop{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Recommend solves the arbitrage program for req. A run that ends with a
// non-optimal status is not an error: the returned recommendation carries
// the status and no hours.
func (s *Service) Recommend(ctx context.Context, req Request) (model.Recommendation, error) {
	rec, dur, err := s.recommend(ctx, req)
	s.record(rec, dur, err)
	if err != nil {
		return model.Recommendation{}, err
	}
	if rec.Status == lp.StatusOptimal && s.bus != nil {
		s.bus.Publish(events.RecommendationEvent{Recommendation: rec})
	}
	return rec, nil
}

func (s *Service) recommend(ctx context.Context, req Request) (model.Recommendation, time.Duration, error) {
	now := req.Now
	if now.IsZero() {
		now = s.now()
	}
	if req.Prices == nil {
		return model.Recommendation{}, 0, ErrNoFutureData
	}
	prices := timeseries.Values(req.Prices.Future(now))
	starts := timeseries.Timestamps(req.Prices.Future(now))
	horizon := len(prices)
	if horizon == 0 {
		return model.Recommendation{}, 0, fmt.Errorf("%w after %s", ErrNoFutureData, now.Format(time.RFC3339))
	}
	var consumption []float64
	if req.Consumption != nil && req.Consumption.Len() > 0 {
		consumption = timeseries.Values(req.Consumption.Future(now))
		if len(consumption) < horizon {
			return model.Recommendation{}, 0, fmt.Errorf("%w: %d future consumption values for %d prices",
				scheduler.ErrDimensionMismatch, len(consumption), horizon)
		}
	}
	site := scheduler.Config{Battery: req.Battery, NetworkFee: req.NetworkFee}
	if err := site.Validate(); err != nil {
		return model.Recommendation{}, 0, err
	}

	b := req.Battery
	sched, err := scheduler.New(horizon, b.MaxDischargeKW, b.MaxChargeKW,
		scheduler.WithSolver(s.solver), scheduler.WithLogger(s.log))
	if err != nil {
		return model.Recommendation{}, 0, err
	}
	if err := sched.SetObjective(prices, req.NetworkFee); err != nil {
		return model.Recommendation{}, 0, err
	}
	params := scheduler.StorageParams{
		Efficiency:   b.Efficiency,
		MinCapacity:  b.MinCapacityKWh,
		MaxCapacity:  b.MaxCapacityKWh,
		InitialLevel: b.InitialLevelKWh,
		Consumption:  consumption,
	}
	if err := sched.AddStorageConstraints(params); err != nil {
		return model.Recommendation{}, 0, err
	}

	solveCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	started := time.Now()
	status, err := sched.Solve(solveCtx)
	dur := time.Since(started)
	if err != nil {
		return model.Recommendation{}, dur, err
	}

	rec := model.Recommendation{
		ID:        s.newID(),
		CreatedAt: s.now(),
		Horizon:   horizon,
		Status:    status,
		Hours:     []model.HourPlan{},
	}
	if status != lp.StatusOptimal {
		s.log.Warnf("no schedule for %d hours: solver status %s", horizon, status)
		return rec, dur, nil
	}
	charge, discharge, err := sched.CollectOutput()
	if err != nil {
		return model.Recommendation{}, dur, err
	}
	levels, _ := scheduler.StorageLevels(charge, discharge, params)
	rec.Hours = make([]model.HourPlan, len(charge))
	for i := range charge {
		rec.Hours[i] = model.HourPlan{
			Start:       starts[i],
			Price:       prices[i],
			ChargeKW:    charge[i],
			DischargeKW: discharge[i],
			LevelKWh:    levels[i],
		}
	}
	rec.ExpectedProfit = sched.Objective()
	s.log.Infof("recommendation %s: %d hours, expected profit %.3f", rec.ID, horizon, rec.ExpectedProfit)
	return rec, dur, nil
}

func (s *Service) record(rec model.Recommendation, dur time.Duration, runErr error) {
	if runErr != nil && !isInputError(runErr) {
		coremon.CaptureException(runErr, map[string]string{"module": "recommendation"})
	}
	ev := coremetrics.RecommendationEvent{
		Recommendation: rec,
		SolveDuration:  dur,
		Err:            runErr,
		Time:           s.now(),
	}
	if err := s.recorder.RecordRecommendation(ev); err != nil {
		s.log.Errorf("record recommendation: %v", err)
	}
}

// isInputError reports whether err was caused by the request itself.
func isInputError(err error) bool {
	return errors.Is(err, ErrNoFutureData) ||
		errors.Is(err, scheduler.ErrInvalidValue) ||
		errors.Is(err, scheduler.ErrDimensionMismatch) ||
		errors.Is(err, context.Canceled)
}
