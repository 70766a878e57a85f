package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	apirec "github.com/kilianp07/arbitrage/api/recommendation"
	"github.com/kilianp07/arbitrage/config"
	"github.com/kilianp07/arbitrage/connectors"
	connfactory "github.com/kilianp07/arbitrage/connectors/factory"
	"github.com/kilianp07/arbitrage/core/events"
	"github.com/kilianp07/arbitrage/core/factory"
	"github.com/kilianp07/arbitrage/core/lp"
	coremetrics "github.com/kilianp07/arbitrage/core/metrics"
	coremon "github.com/kilianp07/arbitrage/core/monitoring"
	corerec "github.com/kilianp07/arbitrage/core/recommendation"
	"github.com/kilianp07/arbitrage/infra/logger"
	"github.com/kilianp07/arbitrage/infra/metrics"
	"github.com/kilianp07/arbitrage/infra/monitoring"
	"github.com/kilianp07/arbitrage/infra/mqtt"
	"github.com/kilianp07/arbitrage/infra/telemetry"
	"github.com/kilianp07/arbitrage/internal/eventbus"
	"github.com/kilianp07/arbitrage/jobs/planner"
)

// Service wires the recommendation engine to its inputs and outputs.
type Service struct {
	cfg       *config.Config
	log       logger.Logger
	sink      coremetrics.MetricsSink
	bus       *eventbus.Bus[events.RecommendationEvent]
	rec       *corerec.Service
	prices    connectors.PriceSource
	publisher *mqtt.Publisher
	tracker   *telemetry.LevelTracker
	planner   *planner.Planner
	handler   http.Handler
}

// New creates a Service from the configuration. Connections to the broker
// are opened here; listeners start in Run.
func New(cfg *config.Config) (*Service, error) {
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		return nil, err
	}
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	s := &Service{cfg: cfg, log: logger.New("service"), bus: eventbus.New[events.RecommendationEvent]()}
	s.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	if cfg.Prices.Source != "" {
		src, err := connfactory.NewPriceSource(cfg.Prices)
		if err != nil {
			return nil, fmt.Errorf("price source: %w", err)
		}
		s.prices = connectors.WithRecorder(src, s.sink, cfg.Prices.Source)
	}

	s.rec = corerec.NewService(
		corerec.WithSolver(lp.SimplexSolver{Tolerance: cfg.Solver.Tolerance}),
		corerec.WithTimeout(cfg.Site.SolveTimeout()),
		corerec.WithRecorder(s.sink),
		corerec.WithEventBus(s.bus),
		corerec.WithLogger(logger.New("recommendation")),
	)

	if cfg.MQTT.Enabled {
		if s.publisher, err = mqtt.NewPublisher(cfg.MQTT); err != nil {
			return nil, fmt.Errorf("mqtt publisher: %w", err)
		}
		if err := s.publisher.PublishDiscovery(); err != nil {
			s.log.Warnf("discovery: %v", err)
		}
		if s.tracker, err = telemetry.NewLevelTracker(cfg.MQTT, cfg.Planner.LevelTopic, nil); err != nil {
			s.publisher.Disconnect()
			return nil, fmt.Errorf("level tracker: %w", err)
		}
	}

	if cfg.Planner.Enabled() {
		var opts []planner.Option
		if s.tracker != nil {
			opts = append(opts, planner.WithLevelSource(s.tracker))
		}
		s.planner = planner.New(s.rec, s.prices, cfg.Site, cfg.Planner, opts...)
	}

	s.handler = s.routes()
	return s, nil
}

func (s *Service) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/recommendation", apirec.NewHandler(s.rec, apirec.Config{
		Token:  s.cfg.HTTP.Token,
		Site:   s.cfg.Site,
		Prices: s.prices,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.promEnabled() && s.cfg.Metrics.PrometheusAddress == "" {
		mux.Handle("/metrics", metrics.Handler(nil))
	}
	return mux
}

func (s *Service) promEnabled() bool {
	return slices.ContainsFunc(s.cfg.Metrics.Sinks, func(m factory.ModuleConfig) bool { return m.Type == "prometheus" })
}

// Handler returns the HTTP routes of the service.
func (s *Service) Handler() http.Handler { return s.handler }

// Run serves HTTP and runs the background jobs until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{Addr: s.cfg.HTTP.Address, Handler: s.handler, ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		s.log.Infof("serving recommendations on %s", s.cfg.HTTP.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if addr := s.cfg.Metrics.PrometheusAddress; addr != "" && s.promEnabled() {
		g.Go(func() error { return metrics.StartPromServer(ctx, addr) })
	}
	if s.publisher != nil {
		sub := s.bus.Subscribe()
		g.Go(func() error {
			defer coremon.Recover()
			s.publisher.Run(ctx, sub)
			return nil
		})
	}
	if s.tracker != nil {
		g.Go(func() error {
			s.tracker.Run(ctx)
			return nil
		})
	}
	if s.planner != nil {
		g.Go(func() error {
			defer coremon.Recover()
			s.planner.Run(ctx)
			return nil
		})
	}
	return g.Wait()
}

// Close releases broker connections and flushes the sinks.
func (s *Service) Close() error {
	s.bus.Close()
	if s.publisher != nil {
		s.publisher.Disconnect()
	}
	closeSink(s.sink)
	coremon.Flush(2 * time.Second)
	return nil
}

func closeSink(sink coremetrics.MetricsSink) {
	switch v := sink.(type) {
	case *coremetrics.MultiSink:
		for _, inner := range v.Sinks {
			closeSink(inner)
		}
	case interface{ Close() }:
		v.Close()
	}
}
