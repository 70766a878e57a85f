package events

import "github.com/kilianp07/arbitrage/core/model"

// RecommendationEvent is published once a schedule has been solved to optimality.
type RecommendationEvent struct {
	Recommendation model.Recommendation
}
