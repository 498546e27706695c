// Package matchingtest provides in-memory store implementations for testing
// the matching engine without Postgres. The fakes honor the same
// compare-and-set and uniqueness guarantees as the SQL repositories.
package matchingtest

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"

	"github.com/scribeworks/quill/pkg/models"
)

// RequestStore is an in-memory matching.RequestStore
type RequestStore struct {
	mu       sync.Mutex
	requests map[string]models.ScribeRequest
}

// NewRequestStore creates an empty RequestStore
func NewRequestStore() *RequestStore {
	return &RequestStore{requests: make(map[string]models.ScribeRequest)}
}

// Put stores a request, assigning an id if missing
func (s *RequestStore) Put(req models.ScribeRequest) models.ScribeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Status == "" {
		req.Status = models.RequestStatusPending
	}
	s.requests[req.ID] = req
	return req
}

func (s *RequestStore) Get(ctx context.Context, id string) (*models.ScribeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "request "+id+" not found")
	}
	copied := req
	return &copied, nil
}

func (s *RequestStore) UpdateStatus(ctx context.Context, id string, from, to models.RequestStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.Status != from {
		return false, nil
	}
	req.Status = to
	s.requests[id] = req
	return true, nil
}

// VolunteerStore is an in-memory matching.VolunteerDirectory
type VolunteerStore struct {
	mu         sync.Mutex
	volunteers map[string]models.Volunteer
}

// NewVolunteerStore creates an empty VolunteerStore
func NewVolunteerStore() *VolunteerStore {
	return &VolunteerStore{volunteers: make(map[string]models.Volunteer)}
}

// Put stores a volunteer
func (s *VolunteerStore) Put(v models.Volunteer) models.Volunteer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	s.volunteers[v.ID] = v
	return v
}

// Remove deletes a volunteer from the pool
func (s *VolunteerStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.volunteers, id)
}

func (s *VolunteerStore) ListActive(ctx context.Context) ([]models.Volunteer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := []models.Volunteer{}
	for _, v := range s.volunteers {
		if v.Active {
			active = append(active, v)
		}
	}
	// Stable iteration order for deterministic tests
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active, nil
}

func (s *VolunteerStore) Get(ctx context.Context, id string) (*models.Volunteer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.volunteers[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "volunteer "+id+" not found")
	}
	copied := v
	return &copied, nil
}

// AttemptStore is an in-memory matching.AttemptStore. Create enforces the
// one-active-proposal rule and Transition applies the same deadline guards
// as the SQL repository.
type AttemptStore struct {
	mu       sync.Mutex
	attempts map[string]models.MatchAttempt
}

// NewAttemptStore creates an empty AttemptStore
func NewAttemptStore() *AttemptStore {
	return &AttemptStore{attempts: make(map[string]models.MatchAttempt)}
}

func (s *AttemptStore) Create(ctx context.Context, attempt *models.MatchAttempt) (*models.MatchAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.RequestID == attempt.RequestID && a.State == models.AttemptStateProposed {
			return nil, httperror.NewHTTPError(http.StatusConflict, "request "+attempt.RequestID+" already has an active proposal")
		}
	}
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	attempt.State = models.AttemptStateProposed
	s.attempts[attempt.ID] = *attempt
	copied := *attempt
	return &copied, nil
}

func (s *AttemptStore) Get(ctx context.Context, id string) (*models.MatchAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "match attempt "+id+" not found")
	}
	copied := a
	return &copied, nil
}

func (s *AttemptStore) ListByRequest(ctx context.Context, requestID string) ([]models.MatchAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempts := []models.MatchAttempt{}
	for _, a := range s.attempts {
		if a.RequestID == requestID {
			attempts = append(attempts, a)
		}
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].ProposedAt.Before(attempts[j].ProposedAt) })
	return attempts, nil
}

func (s *AttemptStore) Transition(ctx context.Context, id string, to models.AttemptState, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok || a.State != models.AttemptStateProposed {
		return false, nil
	}

	switch to {
	case models.AttemptStateAccepted, models.AttemptStateDeclined:
		if !now.Before(a.ExpiresAt) {
			return false, nil
		}
		a.RespondedAt = &now
	case models.AttemptStateExpired:
		if now.Before(a.ExpiresAt) {
			return false, nil
		}
	case models.AttemptStateSuperseded:
		// no deadline guard
	default:
		return false, httperror.NewHTTPError(http.StatusBadRequest, "invalid target state "+string(to))
	}

	a.State = to
	s.attempts[id] = a
	return true, nil
}

func (s *AttemptStore) ListOverdue(ctx context.Context, now time.Time, limit int) ([]models.MatchAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	overdue := []models.MatchAttempt{}
	for _, a := range s.attempts {
		if a.State == models.AttemptStateProposed && !now.Before(a.ExpiresAt) {
			overdue = append(overdue, a)
		}
	}
	sort.Slice(overdue, func(i, j int) bool { return overdue[i].ExpiresAt.Before(overdue[j].ExpiresAt) })
	if limit > 0 && len(overdue) > limit {
		overdue = overdue[:limit]
	}
	return overdue, nil
}

// TxRunner is a pass-through matching.TxRunner. The in-memory stores apply
// writes immediately, so there is nothing to unwind on error.
type TxRunner struct{}

// NewTxRunner creates a pass-through TxRunner
func NewTxRunner() *TxRunner {
	return &TxRunner{}
}

func (r *TxRunner) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Clock is a settable test clock
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a Clock frozen at t
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
