// Package timeseries holds timestamped price and consumption observations
// and exposes the subset lying after a reference instant.
package timeseries
