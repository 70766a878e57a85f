// Package factory instantiates pluggable modules (metrics sinks, price
// sources) from configuration. A module is a type name plus a map of raw
// settings that the registered factory decodes into its own struct:
//
//	reg := factory.NewRegistry[metrics.MetricsSink]()
//	_ = reg.Register("influx", func(conf map[string]any) (metrics.MetricsSink, error) {
//	    var c struct{ URL string `json:"url"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return newInfluxSink(c.URL), nil
//	})
package factory
