package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/arbitrage/core/events"
	"github.com/kilianp07/arbitrage/core/model"
	coremon "github.com/kilianp07/arbitrage/core/monitoring"
	coremqtt "github.com/kilianp07/arbitrage/core/mqtt"
	"github.com/kilianp07/arbitrage/infra/logger"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"
)

var _ coremqtt.SchedulePublisher = (*Publisher)(nil)

// Publisher pushes schedules to an MQTT broker.
type Publisher struct {
	cli     pahoClient
	cfg     Config
	log     logger.Logger
	backoff time.Duration
	sleep   func(time.Duration)
}

// schedulePayload is retained on the schedule topic.
type schedulePayload struct {
	ID             string           `json:"id"`
	CreatedAt      time.Time        `json:"created_at"`
	Status         string           `json:"status"`
	ExpectedProfit float64          `json:"expected_profit"`
	Hours          []model.HourPlan `json:"hours"`
}

// statePayload is the set point of the first planned hour.
type statePayload struct {
	Status         string    `json:"status"`
	Start          time.Time `json:"start"`
	Price          float64   `json:"price"`
	ChargeKW       float64   `json:"charge_kw"`
	DischargeKW    float64   `json:"discharge_kw"`
	NetKW          float64   `json:"net_kw"`
	LevelKWh       float64   `json:"level_kwh"`
	ExpectedProfit float64   `json:"expected_profit"`
}

// NewPublisher connects to the broker and marks the device online.
func NewPublisher(cfg Config) (*Publisher, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_publisher")
	p := &Publisher{
		cfg:     cfg,
		log:     log,
		backoff: time.Duration(cfg.BackoffMS) * time.Millisecond,
		sleep:   time.Sleep,
	}
	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected to %s", cfg.Broker)
		if t := c.Publish(cfg.AvailabilityTopic(), cfg.QoS, true, payloadOnline); t.Wait() && t.Error() != nil {
			log.Errorf("availability publish error: %v", t.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	p.cli = c
	return p, nil
}

// PublishRecommendation publishes the retained schedule and the state of
// its first hour. A non-optimal recommendation publishes its status with
// zero set points.
func (p *Publisher) PublishRecommendation(rec model.Recommendation) error {
	sched := schedulePayload{
		ID:             rec.ID,
		CreatedAt:      rec.CreatedAt,
		Status:         rec.Status.String(),
		ExpectedProfit: rec.ExpectedProfit,
		Hours:          rec.Hours,
	}
	if sched.Hours == nil {
		sched.Hours = []model.HourPlan{}
	}
	if err := p.publishJSON(p.cfg.ScheduleTopic(), true, sched); err != nil {
		return err
	}
	state := statePayload{Status: sched.Status, ExpectedProfit: rec.ExpectedProfit}
	if len(rec.Hours) > 0 {
		h := rec.Hours[0]
		state.Start = h.Start
		state.Price = h.Price
		state.ChargeKW = h.ChargeKW
		state.DischargeKW = h.DischargeKW
		state.NetKW = h.NetPowerKW()
		state.LevelKWh = h.LevelKWh
	}
	return p.publishJSON(p.cfg.StateTopic(), p.cfg.Retain, state)
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
}

type discoveryConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	AvailabilityTopic string          `json:"availability_topic"`
	ValueTemplate     string          `json:"value_template"`
	UnitOfMeasurement string          `json:"unit_of_measurement,omitempty"`
	DeviceClass       string          `json:"device_class,omitempty"`
	StateClass        string          `json:"state_class,omitempty"`
	Device            discoveryDevice `json:"device"`
}

type sensor struct {
	key, name, unit, class string
}

var sensors = []sensor{
	{key: "charge_kw", name: "Recommended charge", unit: "kW", class: "power"},
	{key: "discharge_kw", name: "Recommended discharge", unit: "kW", class: "power"},
	{key: "net_kw", name: "Recommended grid exchange", unit: "kW", class: "power"},
	{key: "level_kwh", name: "Planned storage level", unit: "kWh", class: "energy_storage"},
	{key: "price", name: "Current price"},
	{key: "expected_profit", name: "Expected profit"},
	{key: "status", name: "Solver status"},
}

// DiscoveryTopic returns the Home Assistant config topic of a sensor.
func (p *Publisher) DiscoveryTopic(key string) string {
	return fmt.Sprintf("%s/sensor/%s_%s/config", p.cfg.DiscoveryPrefix, p.cfg.DeviceID, key)
}

// PublishDiscovery announces one Home Assistant sensor per state field.
func (p *Publisher) PublishDiscovery() error {
	dev := discoveryDevice{
		Identifiers:  []string{"arbitrage_" + p.cfg.DeviceID},
		Name:         "Energy arbitrage " + p.cfg.DeviceID,
		Manufacturer: "arbitrage",
	}
	for _, s := range sensors {
		cfg := discoveryConfig{
			Name:              s.name,
			UniqueID:          p.cfg.DeviceID + "_" + s.key,
			StateTopic:        p.cfg.StateTopic(),
			AvailabilityTopic: p.cfg.AvailabilityTopic(),
			ValueTemplate:     "{{ value_json." + s.key + " }}",
			UnitOfMeasurement: s.unit,
			DeviceClass:       s.class,
		}
		if s.unit != "" {
			cfg.StateClass = "measurement"
		}
		cfg.Device = dev
		if err := p.publishJSON(p.DiscoveryTopic(s.key), true, cfg); err != nil {
			return err
		}
	}
	return nil
}

// Run publishes every recommendation received on sub until ctx is done or
// sub is closed.
func (p *Publisher) Run(ctx context.Context, sub <-chan events.RecommendationEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := p.PublishRecommendation(ev.Recommendation); err != nil {
				p.log.Errorf("publish recommendation %s: %v", ev.Recommendation.ID, err)
			}
		}
	}
}

func (p *Publisher) publishJSON(topic string, retain bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var publishErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		token := p.cli.Publish(topic, p.cfg.QoS, retain, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			p.log.Debugf("published %d bytes to %s", len(payload), topic)
			return nil
		}
		p.log.Errorf("publish attempt %d to %s failed: %v", attempt+1, topic, publishErr)
		if attempt < p.cfg.MaxRetries {
			p.sleep(p.backoff * time.Duration(1<<attempt))
		}
	}
	coremon.CaptureException(publishErr, map[string]string{"module": "mqtt", "topic": topic})
	return fmt.Errorf("publish %s: %w", topic, publishErr)
}

// Disconnect marks the device offline and closes the connection.
func (p *Publisher) Disconnect() {
	if p.cli == nil || !p.cli.IsConnected() {
		return
	}
	if t := p.cli.Publish(p.cfg.AvailabilityTopic(), p.cfg.QoS, true, payloadOffline); t.WaitTimeout(time.Second) && t.Error() != nil {
		p.log.Warnf("offline publish: %v", t.Error())
	}
	p.cli.Disconnect(250)
}
