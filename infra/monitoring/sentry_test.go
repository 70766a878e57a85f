package monitoring

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremon "github.com/kilianp07/arbitrage/core/monitoring"
)

func TestNewSentryMonitorWithoutDSN(t *testing.T) {
	m, err := NewSentryMonitor(Config{})
	require.NoError(t, err)
	assert.IsType(t, coremon.NopMonitor{}, m)
}

func TestNewSentryMonitorInvalidDSN(t *testing.T) {
	_, err := NewSentryMonitor(Config{DSN: "not a dsn"})
	assert.Error(t, err)
}

func TestSentryMonitorCapturesTags(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []*sentry.Event
	)
	beforeSend = func(ev *sentry.Event, _ *sentry.EventHint) *sentry.Event {
		mu.Lock()
		sent = append(sent, ev)
		mu.Unlock()
		return nil
	}
	defer func() { beforeSend = nil }()

	m, err := NewSentryMonitor(Config{DSN: "https://public@sentry.example.com/1", Environment: "test"})
	require.NoError(t, err)

	m.CaptureException(nil, nil)
	m.CaptureException(errors.New("solve failed"), map[string]string{"module": "scheduler"})
	m.CapturePanic("boom")
	m.Flush(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 2)
	assert.Equal(t, "scheduler", sent[0].Tags["module"])
	assert.Equal(t, "test", sent[0].Environment)
}
