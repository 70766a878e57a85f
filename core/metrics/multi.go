package metrics

import "errors"

// MultiSink fans events out to several sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordRecommendation forwards the event to every sink and joins their errors.
func (m *MultiSink) RecordRecommendation(ev RecommendationEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordRecommendation(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordPrices forwards prices to the sinks implementing PriceRecorder.
func (m *MultiSink) RecordPrices(ev PriceEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(PriceRecorder); ok {
			if err := rec.RecordPrices(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
