package models

import (
	"time"

	"github.com/lib/pq"
)

// Urgency controls the proposal expiry window and search radius
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// IsValid reports whether u is a known urgency level
func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyLow, UrgencyNormal, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

// ProposalTTL returns how long a proposal for this urgency stays open.
// Windows shrink monotonically as urgency rises.
func (u Urgency) ProposalTTL() time.Duration {
	switch u {
	case UrgencyCritical:
		return 5 * time.Minute
	case UrgencyHigh:
		return 15 * time.Minute
	case UrgencyLow:
		return 240 * time.Minute
	default:
		return 60 * time.Minute
	}
}

// RequestStatus is the lifecycle status of a scribe request
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusMatched    RequestStatus = "matched"
	RequestStatusInProgress RequestStatus = "in_progress"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusCancelled  RequestStatus = "cancelled"
)

// ScribeRequest represents a service request awaiting a volunteer
type ScribeRequest struct {
	ID                string         `json:"id" db:"id"`
	RequesterID       string         `json:"requester_id" db:"requester_id"`
	Latitude          float64        `json:"latitude" db:"latitude"`
	Longitude         float64        `json:"longitude" db:"longitude"`
	Address           *string        `json:"address,omitempty" db:"address"`
	WindowStart       time.Time      `json:"window_start" db:"window_start"`
	DurationMinutes   int            `json:"duration_minutes" db:"duration_minutes"`
	Urgency           Urgency        `json:"urgency" db:"urgency"`
	RequiredLanguages pq.StringArray `json:"required_languages" db:"required_languages"`
	Status            RequestStatus  `json:"status" db:"status"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
}

// CreateRequestRequest is the request body for creating a scribe request
type CreateRequestRequest struct {
	RequesterID       string    `json:"requester_id" validate:"required"`
	Latitude          float64   `json:"latitude" validate:"min=-90,max=90"`
	Longitude         float64   `json:"longitude" validate:"min=-180,max=180"`
	Address           *string   `json:"address,omitempty"`
	WindowStart       time.Time `json:"window_start" validate:"required"`
	DurationMinutes   int       `json:"duration_minutes" validate:"required,min=1"`
	Urgency           Urgency   `json:"urgency" validate:"required,oneof=low normal high critical"`
	RequiredLanguages []string  `json:"required_languages,omitempty"`
}

// RequestListResponse is the response for listing requests
type RequestListResponse struct {
	Items      []ScribeRequest `json:"items"`
	TotalCount int             `json:"total_count"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
}
