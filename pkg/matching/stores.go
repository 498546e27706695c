package matching

import (
	"context"
	"time"

	"github.com/scribeworks/quill/pkg/models"
)

// TxRunner runs fn within a single transactional boundary. Store writes made
// inside fn are unwound together when fn returns an error.
type TxRunner interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// VolunteerDirectory is the read surface over the volunteer pool. The pool is
// read fresh at every ranking pass; there is no snapshot isolation.
type VolunteerDirectory interface {
	ListActive(ctx context.Context) ([]models.Volunteer, error)
	Get(ctx context.Context, id string) (*models.Volunteer, error)
}

// RequestStore is the persistence surface for scribe requests
type RequestStore interface {
	Get(ctx context.Context, id string) (*models.ScribeRequest, error)
	// UpdateStatus performs a compare-and-set from one status to another.
	// It returns false when the request was not in the expected status.
	UpdateStatus(ctx context.Context, id string, from, to models.RequestStatus) (bool, error)
}

// AttemptStore is the persistence surface for match attempts
type AttemptStore interface {
	// Create inserts a new proposed attempt. It returns a 409 Conflict error
	// when an active proposed attempt already exists for the request.
	Create(ctx context.Context, attempt *models.MatchAttempt) (*models.MatchAttempt, error)
	Get(ctx context.Context, id string) (*models.MatchAttempt, error)
	ListByRequest(ctx context.Context, requestID string) ([]models.MatchAttempt, error)
	// Transition performs a compare-and-set from proposed to a terminal
	// state. Accept and decline additionally require the deadline to be in
	// the future, expire requires it to have passed, supersede ignores it.
	// It returns false when the row was not in a transitionable state.
	Transition(ctx context.Context, id string, to models.AttemptState, now time.Time) (bool, error)
	// ListOverdue returns proposed attempts whose deadline has passed
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]models.MatchAttempt, error)
}
