package wholesalemarket

import (
	"fmt"
	"slices"
	"time"

	"github.com/kilianp07/arbitrage/core/timeseries"
)

type Response struct {
	FrancePowerExchanges []struct {
		StartDate   string `json:"start_date"`
		EndDate     string `json:"end_date"`
		UpdatedDate string `json:"updated_date"`
		Values      []struct {
			StartDate string  `json:"start_date"`
			EndDate   string  `json:"end_date"`
			Value     float64 `json:"value"`
			Price     float64 `json:"price"`
		} `json:"values"`
	} `json:"france_power_exchanges"`
}

// Series flattens every exchange into one price series ordered by start
// time, dividing each price by divisor. Duplicate start times keep the
// first quote.
func (r *Response) Series(divisor float64) (*timeseries.PriceSeries, error) {
	if divisor == 0 {
		divisor = 1
	}
	var obs []timeseries.Observation
	for _, exchange := range r.FrancePowerExchanges {
		for _, v := range exchange.Values {
			ts, err := time.Parse(time.RFC3339, v.StartDate)
			if err != nil {
				return nil, fmt.Errorf("failed to parse time %q: %w", v.StartDate, err)
			}
			obs = append(obs, timeseries.Observation{Timestamp: ts, Value: v.Price / divisor})
		}
	}
	slices.SortStableFunc(obs, func(a, b timeseries.Observation) int { return a.Timestamp.Compare(b.Timestamp) })
	obs = slices.CompactFunc(obs, func(a, b timeseries.Observation) bool { return a.Timestamp.Equal(b.Timestamp) })

	p := &timeseries.PriceSeries{}
	for _, o := range obs {
		p.Add(o.Timestamp, o.Value)
	}
	return p, nil
}
