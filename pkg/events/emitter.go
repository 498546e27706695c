// Package events handles event emission for the match attempt lifecycle
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/scribeworks/quill/pkg/kafka"
	"github.com/scribeworks/quill/pkg/models"
	"github.com/scribeworks/quill/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Event types published to the match history topic
const (
	EventMatchProposed   = "match.proposed"
	EventMatchAccepted   = "match.accepted"
	EventMatchDeclined   = "match.declined"
	EventMatchExpired    = "match.expired"
	EventMatchSuperseded = "match.superseded"
	EventRequestMatched  = "request.matched"
)

// MatchEvent is the payload published for every attempt transition
type MatchEvent struct {
	SchemaVersion string  `json:"schema_version"`
	EventType     string  `json:"event_type"`
	RequestID     string  `json:"request_id"`
	AttemptID     string  `json:"attempt_id,omitempty"`
	VolunteerID   string  `json:"volunteer_id,omitempty"`
	Score         float64 `json:"score,omitempty"`
	DistanceKm    float64 `json:"distance_km,omitempty"`
}

// Emitter appends match lifecycle events to the history topic. Emission is
// fire-and-forget; failures are logged and never surface to the caller.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitAttempt publishes an attempt transition event
func (e *Emitter) EmitAttempt(ctx context.Context, eventType string, attempt *models.MatchAttempt) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitAttempt")
	defer span.End()

	if e.producer == nil {
		return
	}

	event := &MatchEvent{
		SchemaVersion: SchemaVersion,
		EventType:     eventType,
		RequestID:     attempt.RequestID,
		AttemptID:     attempt.ID,
		VolunteerID:   attempt.VolunteerID,
		Score:         attempt.Score,
		DistanceKm:    attempt.DistanceKm,
	}

	if err := e.producer.Publish(ctx, attempt.RequestID, eventType, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type": eventType,
			"attempt_id": attempt.ID,
		}).Error("Failed to emit match event")
	}
}

// EmitRequestMatched publishes the terminal request.matched event
func (e *Emitter) EmitRequestMatched(ctx context.Context, requestID string, volunteerID string) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitRequestMatched")
	defer span.End()

	if e.producer == nil {
		return
	}

	event := &MatchEvent{
		SchemaVersion: SchemaVersion,
		EventType:     EventRequestMatched,
		RequestID:     requestID,
		VolunteerID:   volunteerID,
	}

	if err := e.producer.Publish(ctx, requestID, EventRequestMatched, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"request_id": requestID,
		}).Error("Failed to emit request.matched event")
	}
}
