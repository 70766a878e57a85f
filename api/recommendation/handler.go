package recommendation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/arbitrage/connectors"
	"github.com/kilianp07/arbitrage/core/lp"
	"github.com/kilianp07/arbitrage/core/model"
	corerec "github.com/kilianp07/arbitrage/core/recommendation"
	"github.com/kilianp07/arbitrage/core/scheduler"
	"github.com/kilianp07/arbitrage/core/timeseries"
	"github.com/kilianp07/arbitrage/pkg/export"
)

// Recommender computes a schedule.
type Recommender interface {
	Recommend(ctx context.Context, req corerec.Request) (model.Recommendation, error)
}

// Config holds the handler settings.
type Config struct {
	// Token enables bearer authentication when non-empty.
	Token string
	// Site provides the battery and network fee used when a request omits them.
	Site scheduler.Config
	// Prices is queried when a GET request carries no prices.
	Prices connectors.PriceSource
	// Now is the handler clock, time.Now when nil.
	Now func() time.Time
}

// body is the POST payload.
type body struct {
	Prices      []timeseries.Observation `json:"prices"`
	Consumption []timeseries.Observation `json:"consumption"`
	Battery     *model.Battery           `json:"battery"`
	NetworkFee  *float64                 `json:"network_fee"`
	Now         *time.Time               `json:"now"`
}

var errBadRequest = errors.New("bad request")

// NewHandler serves POST and GET /api/recommendation. Responses use the
// format query parameter (json, csv or table), json by default.
func NewHandler(svc Recommender, cfg Config) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.Token != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+cfg.Token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		var (
			req corerec.Request
			err error
		)
		switch r.Method {
		case http.MethodPost:
			req, err = fromBody(w, r, cfg)
		case http.MethodGet:
			req, err = fromQuery(r, cfg)
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		rec, err := svc.Recommend(r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		format := r.URL.Query().Get("format")
		if format == "" {
			format = export.FormatJSON
		}
		switch format {
		case export.FormatJSON:
			w.Header().Set("Content-Type", "application/json")
		case export.FormatCSV:
			w.Header().Set("Content-Type", "text/csv")
		case export.FormatTable:
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		default:
			http.Error(w, fmt.Sprintf("unknown format %q", format), http.StatusBadRequest)
			return
		}
		if rec.Status != lp.StatusOptimal {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}
		if err := export.Write(w, rec, format); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// statusFor maps errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, corerec.ErrNoFutureData),
		errors.Is(err, scheduler.ErrInvalidValue),
		errors.Is(err, scheduler.ErrDimensionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func fromBody(w http.ResponseWriter, r *http.Request, cfg Config) (corerec.Request, error) {
	return DecodeRequest(http.MaxBytesReader(w, r.Body, 1<<20), cfg.Site, cfg.Now())
}

// DecodeRequest reads a JSON request body. Battery, network_fee and now
// default to site and now when absent.
func DecodeRequest(rd io.Reader, site scheduler.Config, now time.Time) (corerec.Request, error) {
	var b body
	dec := json.NewDecoder(rd)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return corerec.Request{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	req := corerec.Request{
		Prices:     &timeseries.PriceSeries{},
		Battery:    site.Battery,
		NetworkFee: site.NetworkFee,
		Now:        now,
	}
	for _, o := range b.Prices {
		req.Prices.Add(o.Timestamp, o.Value)
	}
	if len(b.Consumption) > 0 {
		req.Consumption = &timeseries.ConsumptionSeries{}
		for _, o := range b.Consumption {
			if err := req.Consumption.Add(o.Timestamp, o.Value); err != nil {
				return corerec.Request{}, err
			}
		}
	}
	if b.Battery != nil {
		req.Battery = *b.Battery
	}
	if b.NetworkFee != nil {
		req.NetworkFee = *b.NetworkFee
	}
	if b.Now != nil {
		req.Now = *b.Now
	}
	return req, nil
}

// fromQuery reads hourly values starting at start (the next full hour by
// default). Every listed hour is treated as future. Battery fields left
// out fall back to the configured site; bandwidth sets both power limits.
func fromQuery(r *http.Request, cfg Config) (corerec.Request, error) {
	q := r.URL.Query()
	now := cfg.Now()
	start := now.Truncate(time.Hour).Add(time.Hour)
	if s := q.Get("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return corerec.Request{}, fmt.Errorf("%w: start: %v", errBadRequest, err)
		}
		start = t
	}
	req := corerec.Request{
		Battery:    cfg.Site.Battery,
		NetworkFee: cfg.Site.NetworkFee,
		Now:        start.Add(-time.Nanosecond),
	}

	prices, err := floatList(q.Get("prices"))
	if err != nil {
		return corerec.Request{}, fmt.Errorf("%w: prices: %v", errBadRequest, err)
	}
	if len(prices) > 0 {
		req.Prices = &timeseries.PriceSeries{}
		for i, v := range prices {
			req.Prices.Add(start.Add(time.Duration(i)*time.Hour), v)
		}
	} else if cfg.Prices != nil {
		req.Prices, err = cfg.Prices.Fetch(r.Context(), start, start.Add(scheduler.OutputHours*time.Hour))
		if err != nil {
			return corerec.Request{}, fmt.Errorf("fetch prices: %w", err)
		}
	}

	cons, err := floatList(q.Get("consumption"))
	if err != nil {
		return corerec.Request{}, fmt.Errorf("%w: consumption: %v", errBadRequest, err)
	}
	if len(cons) > 0 {
		req.Consumption = &timeseries.ConsumptionSeries{}
		for i, v := range cons {
			if err := req.Consumption.Add(start.Add(time.Duration(i)*time.Hour), v); err != nil {
				return corerec.Request{}, err
			}
		}
	}

	fields := []struct {
		name string
		dst  []*float64
	}{
		{"battery_level", []*float64{&req.Battery.InitialLevelKWh}},
		{"min_battery_level", []*float64{&req.Battery.MinCapacityKWh}},
		{"max_battery_level", []*float64{&req.Battery.MaxCapacityKWh}},
		{"bandwidth", []*float64{&req.Battery.MaxChargeKW, &req.Battery.MaxDischargeKW}},
		{"max_charge", []*float64{&req.Battery.MaxChargeKW}},
		{"max_discharge", []*float64{&req.Battery.MaxDischargeKW}},
		{"efficiency", []*float64{&req.Battery.Efficiency}},
		{"network_fee", []*float64{&req.NetworkFee}},
	}
	for _, f := range fields {
		s := q.Get(f.name)
		if s == "" {
			continue
		}
		v, err := parseFinite(s)
		if err != nil {
			return corerec.Request{}, fmt.Errorf("%w: %s: %v", errBadRequest, f.name, err)
		}
		for _, d := range f.dst {
			*d = v
		}
	}
	return req, nil
}

func floatList(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := parseFinite(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// parseFinite rejects NaN and infinities, which ParseFloat accepts.
func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if !timeseries.IsFinite(v) {
		return 0, fmt.Errorf("%q is not a finite number", s)
	}
	return v, nil
}
