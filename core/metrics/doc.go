// Package metrics defines the sinks recording recommendation outcomes.
// Implementations live in infra/metrics and are created from configuration
// through NewMetricsSink; several sinks are combined with NewMultiSink.
package metrics
