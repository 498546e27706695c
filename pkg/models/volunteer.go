package models

import (
	"time"

	"github.com/lib/pq"
)

// Volunteer represents a registered scribe volunteer
type Volunteer struct {
	ID          string         `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	Latitude    float64        `json:"latitude" db:"latitude"`
	Longitude   float64        `json:"longitude" db:"longitude"`
	Languages   pq.StringArray `json:"languages" db:"languages"`
	Reliability float64        `json:"reliability" db:"reliability"` // 0.0-5.0, neutral default 3.0
	Active      bool           `json:"active" db:"active"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// DefaultReliability is the neutral rating assigned when a profile omits one
const DefaultReliability = 3.0

// UpsertVolunteerRequest is the request body for creating or updating a volunteer profile
type UpsertVolunteerRequest struct {
	Name        string   `json:"name" validate:"required"`
	Latitude    float64  `json:"latitude" validate:"min=-90,max=90"`
	Longitude   float64  `json:"longitude" validate:"min=-180,max=180"`
	Languages   []string `json:"languages,omitempty"`
	Reliability *float64 `json:"reliability,omitempty" validate:"omitempty,min=0,max=5"`
	Active      *bool    `json:"active,omitempty"`
}

// ToVolunteer builds the persistence model, filling profile defaults for
// omitted fields. An explicit reliability of zero is kept as zero.
func (r *UpsertVolunteerRequest) ToVolunteer(id string) *Volunteer {
	v := &Volunteer{
		ID:          id,
		Name:        r.Name,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Languages:   pq.StringArray(r.Languages),
		Reliability: DefaultReliability,
		Active:      true,
	}
	if r.Reliability != nil {
		v.Reliability = *r.Reliability
	}
	if r.Active != nil {
		v.Active = *r.Active
	}
	return v
}

// SetAvailabilityRequest toggles whether a volunteer is considered for matching
type SetAvailabilityRequest struct {
	Active bool `json:"active"`
}
