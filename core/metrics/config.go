package metrics

import "github.com/kilianp07/arbitrage/core/factory"

// Config defines the metrics sinks and the Prometheus listener.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// PrometheusAddress is the listen address of /metrics; empty disables it.
	PrometheusAddress string `json:"prometheus_address"`
}
