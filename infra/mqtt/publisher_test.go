package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/arbitrage/core/events"
	"github.com/kilianp07/arbitrage/core/lp"
	"github.com/kilianp07/arbitrage/core/model"
	coremon "github.com/kilianp07/arbitrage/core/monitoring"
)

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// mockClient implements paho.Client for tests.
type mockClient struct {
	mu          sync.Mutex
	opts        *paho.ClientOptions
	published   []published
	publishErrs []error
	connectErr  error
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	if m.connectErr != nil {
		return &dummyToken{err: m.connectErr}
	}
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(m)
	}
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) {}
func (m *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	var b []byte
	switch v := payload.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	}
	m.published = append(m.published, published{topic: topic, qos: qos, retained: retained, payload: b})
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return &dummyToken{err: err}
	}
	return &dummyToken{}
}
func (m *mockClient) Subscribe(string, byte, paho.MessageHandler) paho.Token { return &dummyToken{} }
func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &dummyToken{}
}
func (m *mockClient) Unsubscribe(...string) paho.Token        { return &dummyToken{} }
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (m *mockClient) IsConnectionOpen() bool                  { return true }

func (m *mockClient) byTopic(topic string) []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []published
	for _, p := range m.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

type recordMonitor struct {
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.err = err
	r.tags = tags
}
func (r *recordMonitor) CapturePanic(any)    {}
func (r *recordMonitor) Flush(time.Duration) {}

func newTestPublisher(t *testing.T, mc *mockClient, cfg Config) *Publisher {
	t.Helper()
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() {
		newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) }
	})
	if cfg.Broker == "" {
		cfg.Broker = "tcp://localhost:1883"
	}
	cfg.Enabled = true
	p, err := NewPublisher(cfg)
	require.NoError(t, err)
	p.sleep = func(time.Duration) {}
	return p
}

func sampleRecommendation() model.Recommendation {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return model.Recommendation{
		ID:             "rec-1",
		CreatedAt:      start.Add(-time.Minute),
		Horizon:        2,
		Status:         lp.StatusOptimal,
		ExpectedProfit: 50,
		Hours: []model.HourPlan{
			{Start: start, Price: 10, DischargeKW: 5, LevelKWh: 5},
			{Start: start.Add(time.Hour), Price: 0, ChargeKW: 15, LevelKWh: 15},
		},
	}
}

func TestConfigDefaultsAndTopics(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()
	assert.Equal(t, "arbitrage/battery/schedule", cfg.ScheduleTopic())
	assert.Equal(t, "arbitrage/battery/state", cfg.StateTopic())
	assert.Equal(t, "arbitrage/battery/availability", cfg.AvailabilityTopic())
	assert.Equal(t, "homeassistant", cfg.DiscoveryPrefix)
	assert.NotEmpty(t, cfg.ClientID)
	assert.Equal(t, 3, cfg.MaxRetries)

	assert.NoError(t, Config{}.Validate(), "disabled config needs no broker")
	assert.Error(t, Config{Enabled: true}.Validate())
	assert.Error(t, Config{Enabled: true, Broker: "tcp://b:1883", QoS: 3}.Validate())
}

func TestNewClientOptionsAuthAndWill(t *testing.T) {
	cfg := Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p"}
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, "u", opts.Username)
	assert.Equal(t, "p", opts.Password)
	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "arbitrage/battery/availability", opts.WillTopic)
	assert.Equal(t, payloadOffline, string(opts.WillPayload))
	assert.True(t, opts.WillRetained)
}

func TestConnectMarksOnline(t *testing.T) {
	mc := &mockClient{}
	newTestPublisher(t, mc, Config{DeviceID: "home"})
	online := mc.byTopic("arbitrage/home/availability")
	require.Len(t, online, 1)
	assert.Equal(t, payloadOnline, string(online[0].payload))
	assert.True(t, online[0].retained)
}

func TestConnectError(t *testing.T) {
	mc := &mockClient{connectErr: fmt.Errorf("refused")}
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	defer func() { newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) } }()
	_, err := NewPublisher(Config{Enabled: true, Broker: "tcp://localhost:1883"})
	assert.EqualError(t, err, "refused")
}

func TestPublishRecommendation(t *testing.T) {
	mc := &mockClient{}
	p := newTestPublisher(t, mc, Config{QoS: 1})
	require.NoError(t, p.PublishRecommendation(sampleRecommendation()))

	sched := mc.byTopic("arbitrage/battery/schedule")
	require.Len(t, sched, 1)
	assert.True(t, sched[0].retained)
	assert.Equal(t, byte(1), sched[0].qos)
	var got schedulePayload
	require.NoError(t, json.Unmarshal(sched[0].payload, &got))
	assert.Equal(t, "rec-1", got.ID)
	assert.Equal(t, "optimal", got.Status)
	assert.Len(t, got.Hours, 2)

	state := mc.byTopic("arbitrage/battery/state")
	require.Len(t, state, 1)
	var st statePayload
	require.NoError(t, json.Unmarshal(state[0].payload, &st))
	assert.Equal(t, 5.0, st.DischargeKW)
	assert.Equal(t, 5.0, st.NetKW)
	assert.Equal(t, 10.0, st.Price)
	assert.Equal(t, 50.0, st.ExpectedProfit)
}

func TestPublishNonOptimalRecommendation(t *testing.T) {
	mc := &mockClient{}
	p := newTestPublisher(t, mc, Config{})
	require.NoError(t, p.PublishRecommendation(model.Recommendation{ID: "x", Status: lp.StatusInfeasible}))

	var got schedulePayload
	require.NoError(t, json.Unmarshal(mc.byTopic(p.cfg.ScheduleTopic())[0].payload, &got))
	assert.Equal(t, "infeasible", got.Status)
	assert.NotNil(t, got.Hours)
	assert.Empty(t, got.Hours)

	var st statePayload
	require.NoError(t, json.Unmarshal(mc.byTopic(p.cfg.StateTopic())[0].payload, &st))
	assert.Equal(t, "infeasible", st.Status)
	assert.Zero(t, st.ChargeKW)
}

func TestPublishDiscovery(t *testing.T) {
	mc := &mockClient{}
	p := newTestPublisher(t, mc, Config{DeviceID: "home"})
	require.NoError(t, p.PublishDiscovery())

	msgs := mc.byTopic("homeassistant/sensor/home_charge_kw/config")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].retained)
	var cfg discoveryConfig
	require.NoError(t, json.Unmarshal(msgs[0].payload, &cfg))
	assert.Equal(t, "home_charge_kw", cfg.UniqueID)
	assert.Equal(t, "arbitrage/home/state", cfg.StateTopic)
	assert.Equal(t, "{{ value_json.charge_kw }}", cfg.ValueTemplate)
	assert.Equal(t, "kW", cfg.UnitOfMeasurement)
	assert.Equal(t, []string{"arbitrage_home"}, cfg.Device.Identifiers)

	for _, s := range sensors {
		assert.Len(t, mc.byTopic(p.DiscoveryTopic(s.key)), 1, s.key)
	}
}

func TestRetryLogic(t *testing.T) {
	mc := &mockClient{}
	p := newTestPublisher(t, mc, Config{MaxRetries: 1, BackoffMS: 1})
	var slept []time.Duration
	p.sleep = func(d time.Duration) { slept = append(slept, d) }
	mc.publishErrs = []error{fmt.Errorf("net fail"), nil}

	require.NoError(t, p.publishJSON("t", false, map[string]int{"a": 1}))
	assert.Len(t, mc.byTopic("t"), 2)
	assert.Equal(t, []time.Duration{time.Millisecond}, slept)
}

func TestPublishErrorCaptured(t *testing.T) {
	mc := &mockClient{}
	p := newTestPublisher(t, mc, Config{MaxRetries: 2, BackoffMS: 1})
	var slept []time.Duration
	p.sleep = func(d time.Duration) { slept = append(slept, d) }
	mc.publishErrs = []error{fmt.Errorf("net fail"), fmt.Errorf("net fail"), fmt.Errorf("net fail")}

	mon := &recordMonitor{}
	coremon.Init(mon)
	defer coremon.Init(coremon.NopMonitor{})

	err := p.PublishRecommendation(sampleRecommendation())
	require.Error(t, err)
	assert.ErrorContains(t, err, "net fail")
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, slept)
	require.NotNil(t, mon.err)
	assert.Equal(t, "mqtt", mon.tags["module"])
	assert.Equal(t, "arbitrage/battery/schedule", mon.tags["topic"])
	assert.Empty(t, mc.byTopic("arbitrage/battery/state"), "state is not sent when the schedule failed")
}

func TestRunPublishesEvents(t *testing.T) {
	mc := &mockClient{}
	p := newTestPublisher(t, mc, Config{})
	ch := make(chan events.RecommendationEvent, 1)
	ch <- events.RecommendationEvent{Recommendation: sampleRecommendation()}
	close(ch)

	done := make(chan struct{})
	go func() {
		p.Run(context.Background(), ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the channel closed")
	}
	assert.Len(t, mc.byTopic(p.cfg.ScheduleTopic()), 1)
}

func TestDisconnectMarksOffline(t *testing.T) {
	mc := &mockClient{}
	p := newTestPublisher(t, mc, Config{})
	p.Disconnect()
	msgs := mc.byTopic(p.cfg.AvailabilityTopic())
	require.Len(t, msgs, 2)
	assert.Equal(t, payloadOffline, string(msgs[1].payload))
}
