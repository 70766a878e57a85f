// Package mqtt defines how recommendations leave the service over MQTT.
package mqtt

import "github.com/kilianp07/arbitrage/core/model"

// SchedulePublisher pushes recommended schedules to the device side.
type SchedulePublisher interface {
	// PublishRecommendation sends the schedule and the current set point.
	PublishRecommendation(rec model.Recommendation) error
	// PublishDiscovery announces the published entities to Home Assistant.
	PublishDiscovery() error
}
