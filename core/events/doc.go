// Package events defines the events emitted on the recommendation bus.
package events
