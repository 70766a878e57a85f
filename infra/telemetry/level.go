// Package telemetry follows the battery state reported over MQTT.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/arbitrage/core/timeseries"
	"github.com/kilianp07/arbitrage/infra/logger"
	infmqtt "github.com/kilianp07/arbitrage/infra/mqtt"
)

type subscriber interface {
	Connect() paho.Token
	IsConnected() bool
	Disconnect(quiesce uint)
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) subscriber {
	return paho.NewClient(opts)
}

// LevelTracker keeps the last storage level published by the device.
type LevelTracker struct {
	cli   subscriber
	topic string
	qos   byte
	log   logger.Logger
	now   func() time.Time

	mu      sync.RWMutex
	level   float64
	updated time.Time

	gauge    prometheus.Gauge
	received prometheus.Counter
	rejected prometheus.Counter
}

// NewLevelTracker connects a dedicated client to the broker of cfg. The
// level topic defaults to <prefix>/<device>/level. A nil registerer uses
// the default one.
func NewLevelTracker(cfg infmqtt.Config, topic string, reg prometheus.Registerer) (*LevelTracker, error) {
	cfg.SetDefaults()
	if topic == "" {
		topic = cfg.TopicPrefix + "/" + cfg.DeviceID + "/level"
	}
	opts, err := infmqtt.NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	opts.SetClientID(cfg.ClientID + "-telemetry")
	// The publisher owns the availability topic.
	opts.UnsetWill()

	t := newTracker(topic, cfg.QoS)
	if err := t.register(reg); err != nil {
		return nil, err
	}
	opts.OnConnect = func(c paho.Client) {
		if tok := c.Subscribe(t.topic, t.qos, t.onMessage); tok.Wait() && tok.Error() != nil {
			t.log.Errorf("subscribe %s: %v", t.topic, tok.Error())
		}
	}
	cli := newMQTTClient(opts)
	if tok := cli.Connect(); tok.Wait() && tok.Error() != nil {
		return nil, tok.Error()
	}
	t.cli = cli
	return t, nil
}

func newTracker(topic string, qos byte) *LevelTracker {
	return &LevelTracker{
		topic: topic,
		qos:   qos,
		log:   logger.New("telemetry"),
		now:   time.Now,
		gauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arbitrage_battery_level_kwh",
			Help: "Last storage level reported by the device",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbitrage_level_messages_total",
			Help: "Number of accepted level reports",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbitrage_level_rejected_total",
			Help: "Number of level reports that could not be decoded",
		}),
	}
}

func (t *LevelTracker) register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{t.gauge, t.received, t.rejected} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// Topic returns the subscribed topic.
func (t *LevelTracker) Topic() string { return t.topic }

// Run blocks until ctx is done, then disconnects.
func (t *LevelTracker) Run(ctx context.Context) {
	<-ctx.Done()
	if t.cli != nil && t.cli.IsConnected() {
		t.cli.Disconnect(250)
	}
}

// Level returns the last reported level if it is not older than maxAge.
// A zero maxAge accepts any age.
func (t *LevelTracker) Level(maxAge time.Duration) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.updated.IsZero() {
		return 0, false
	}
	if maxAge > 0 && t.now().Sub(t.updated) > maxAge {
		return 0, false
	}
	return t.level, true
}

func (t *LevelTracker) onMessage(_ paho.Client, msg paho.Message) {
	if err := t.process(msg.Payload()); err != nil {
		t.rejected.Inc()
		t.log.Warnf("level on %s: %v", msg.Topic(), err)
	}
}

// process accepts either a bare number or {"level_kwh": x, "ts": unix}.
func (t *LevelTracker) process(payload []byte) error {
	s := strings.TrimSpace(string(payload))
	var (
		level float64
		ts    = t.now()
	)
	if strings.HasPrefix(s, "{") {
		var msg struct {
			LevelKWh *float64 `json:"level_kwh"`
			TS       *int64   `json:"ts"`
		}
		if err := json.Unmarshal([]byte(s), &msg); err != nil {
			return err
		}
		if msg.LevelKWh == nil {
			return fmt.Errorf("missing level_kwh")
		}
		level = *msg.LevelKWh
		if msg.TS != nil {
			ts = time.Unix(*msg.TS, 0)
		}
	} else {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		level = v
	}
	if level < 0 {
		return fmt.Errorf("%w: level %v", timeseries.ErrInvalidValue, level)
	}
	t.received.Inc()
	t.mu.Lock()
	defer t.mu.Unlock()
	if ts.After(t.updated) {
		t.level = level
		t.updated = ts
		t.gauge.Set(level)
	}
	return nil
}
