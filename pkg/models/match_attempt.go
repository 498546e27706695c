package models

import "time"

// AttemptState is the lifecycle state of a match attempt.
// proposed is the only non-terminal state; accepted, declined, expired and
// superseded are all terminal.
type AttemptState string

const (
	AttemptStateProposed   AttemptState = "proposed"
	AttemptStateAccepted   AttemptState = "accepted"
	AttemptStateDeclined   AttemptState = "declined"
	AttemptStateExpired    AttemptState = "expired"
	AttemptStateSuperseded AttemptState = "superseded"
)

// IsTerminal reports whether no further transitions are allowed from s
func (s AttemptState) IsTerminal() bool {
	return s != AttemptStateProposed
}

// MatchAttempt is one proposal of a request to a volunteer. Attempts are
// append-only; a request accumulates a linear history of them.
type MatchAttempt struct {
	ID          string       `json:"id" db:"id"`
	RequestID   string       `json:"request_id" db:"request_id"`
	VolunteerID string       `json:"volunteer_id" db:"volunteer_id"`
	Score       float64      `json:"score" db:"score"`
	DistanceKm  float64      `json:"distance_km" db:"distance_km"`
	State       AttemptState `json:"state" db:"state"`
	ProposedAt  time.Time    `json:"proposed_at" db:"proposed_at"`
	RespondedAt *time.Time   `json:"responded_at,omitempty" db:"responded_at"`
	ExpiresAt   time.Time    `json:"expires_at" db:"expires_at"`
}

// RespondRequest is the request body for a volunteer's answer to a proposal
type RespondRequest struct {
	Decision string `json:"decision" validate:"required,oneof=accept decline"`
}

// AttemptListResponse is the response for listing a request's attempt history
type AttemptListResponse struct {
	Items      []MatchAttempt `json:"items"`
	TotalCount int            `json:"total_count"`
}
