package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/arbitrage/core/metrics"
	"github.com/kilianp07/arbitrage/infra/logger"
)

// InfluxSink writes schedules and market prices to InfluxDB.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the instance and returns a NopSink when
// the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordRecommendation writes one arbitrage_schedule point per planned hour
// followed by an arbitrage_run summary point.
func (s *InfluxSink) RecordRecommendation(ev coremetrics.RecommendationEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec := ev.Recommendation
	points := make([]*write.Point, 0, len(rec.Hours)+1)
	for _, h := range rec.Hours {
		points = append(points, write.NewPointWithMeasurement("arbitrage_schedule").
			AddTag("recommendation_id", rec.ID).
			AddField("price", round3(h.Price)).
			AddField("charge_kw", round3(h.ChargeKW)).
			AddField("discharge_kw", round3(h.DischargeKW)).
			AddField("level_kwh", round3(h.LevelKWh)).
			SetTime(h.Start))
	}
	status := rec.Status.String()
	errStr := ""
	if ev.Err != nil {
		status = "error"
		errStr = ev.Err.Error()
	}
	points = append(points, write.NewPointWithMeasurement("arbitrage_run").
		AddTag("recommendation_id", rec.ID).
		AddTag("status", status).
		AddField("horizon", rec.Horizon).
		AddField("expected_profit", round3(rec.ExpectedProfit)).
		AddField("solve_ms", round3(ev.SolveDuration.Seconds()*1000)).
		AddField("errors", errStr).
		SetTime(ev.Time))
	return s.writeAPI.WritePoint(ctx, points...)
}

// RecordPrices stores fetched market prices in the market_price measurement.
func (s *InfluxSink) RecordPrices(ev coremetrics.PriceEvent) error {
	if len(ev.Prices) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	points := make([]*write.Point, len(ev.Prices))
	for i, o := range ev.Prices {
		points[i] = write.NewPointWithMeasurement("market_price").
			AddTag("source", ev.Source).
			AddField("price", o.Value).
			SetTime(o.Timestamp)
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
