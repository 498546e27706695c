// Package notify carries proposal notifications out of the matching engine.
// Delivery mechanics (push, SMS, email) live downstream; this package only
// publishes the intent.
package notify

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/scribeworks/quill/pkg/kafka"
	"github.com/scribeworks/quill/pkg/models"
)

// Dispatcher is the notification contract the coordinator calls. All methods
// are fire-and-forget: implementations must never block matching on delivery.
type Dispatcher interface {
	ProposalCreated(ctx context.Context, volunteer *models.Volunteer, request *models.ScribeRequest, attempt *models.MatchAttempt)
	SearchContinues(ctx context.Context, request *models.ScribeRequest)
}

// NotificationEvent is the payload published to the notifications topic
type NotificationEvent struct {
	Type        string     `json:"type"`
	RequestID   string     `json:"request_id"`
	AttemptID   string     `json:"attempt_id,omitempty"`
	VolunteerID string     `json:"volunteer_id,omitempty"`
	Urgency     string     `json:"urgency"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// KafkaDispatcher publishes notification events to Kafka
type KafkaDispatcher struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewKafkaDispatcher creates a new KafkaDispatcher
func NewKafkaDispatcher(producer *kafka.Producer, logger ectologger.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{
		producer: producer,
		logger:   logger,
	}
}

func (d *KafkaDispatcher) ProposalCreated(ctx context.Context, volunteer *models.Volunteer, request *models.ScribeRequest, attempt *models.MatchAttempt) {
	event := &NotificationEvent{
		Type:        "proposal.created",
		RequestID:   request.ID,
		AttemptID:   attempt.ID,
		VolunteerID: volunteer.ID,
		Urgency:     string(request.Urgency),
		ExpiresAt:   &attempt.ExpiresAt,
	}

	if err := d.producer.Publish(ctx, request.ID, event.Type, event); err != nil {
		d.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"attempt_id":   attempt.ID,
			"volunteer_id": volunteer.ID,
		}).Error("Failed to publish proposal notification")
	}
}

func (d *KafkaDispatcher) SearchContinues(ctx context.Context, request *models.ScribeRequest) {
	event := &NotificationEvent{
		Type:      "search.continues",
		RequestID: request.ID,
		Urgency:   string(request.Urgency),
	}

	if err := d.producer.Publish(ctx, request.ID, event.Type, event); err != nil {
		d.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"request_id": request.ID,
		}).Error("Failed to publish search notification")
	}
}

// LogDispatcher logs notifications instead of delivering them. Used when
// Kafka is not configured and in tests.
type LogDispatcher struct {
	logger ectologger.Logger
}

// NewLogDispatcher creates a new LogDispatcher
func NewLogDispatcher(logger ectologger.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) ProposalCreated(ctx context.Context, volunteer *models.Volunteer, request *models.ScribeRequest, attempt *models.MatchAttempt) {
	d.logger.WithContext(ctx).WithFields(map[string]any{
		"request_id":   request.ID,
		"volunteer_id": volunteer.ID,
		"attempt_id":   attempt.ID,
		"expires_at":   attempt.ExpiresAt,
	}).Info("Proposal created")
}

func (d *LogDispatcher) SearchContinues(ctx context.Context, request *models.ScribeRequest) {
	d.logger.WithContext(ctx).WithFields(map[string]any{
		"request_id": request.ID,
	}).Info("Search continues")
}
