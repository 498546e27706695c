package matching

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/scribeworks/quill/pkg/metrics"
	"github.com/scribeworks/quill/pkg/models"
	"github.com/scribeworks/quill/pkg/notify"
	"github.com/scribeworks/quill/pkg/tracing"
)

// Decision values accepted by Respond
const (
	DecisionAccept  = "accept"
	DecisionDecline = "decline"
)

// MatchOutcome is the result of a matching cycle. Exhaustion is a normal
// outcome, never an error.
type MatchOutcome struct {
	RequestID string           `json:"request_id"`
	Matched   bool             `json:"matched"`
	Pending   bool             `json:"pending"`
	Exhausted bool             `json:"exhausted"`
	AttemptID string           `json:"attempt_id,omitempty"`
	Proposed  *CandidateScore  `json:"proposed,omitempty"`
	Backups   []CandidateScore `json:"backups"`
}

// CoordinatorConfig holds matching workflow settings
type CoordinatorConfig struct {
	// BackupCount is how many ranked alternates an outcome reports behind
	// the proposed volunteer
	BackupCount int
}

// Coordinator runs the matching workflow for a request: rank, propose to the
// top candidate, advance past declines and expiries, stop on accept or
// exhaustion. Cycles for one request are serialized through the locker.
type Coordinator struct {
	ranker      *Ranker
	lifecycle   *Lifecycle
	requests    RequestStore
	volunteers  VolunteerDirectory
	attempts    AttemptStore
	dispatcher  notify.Dispatcher
	locker      Locker
	logger      ectologger.Logger
	backupCount int
	now         func() time.Time
}

// NewCoordinator creates a new Coordinator
func NewCoordinator(
	ranker *Ranker,
	lifecycle *Lifecycle,
	requests RequestStore,
	volunteers VolunteerDirectory,
	attempts AttemptStore,
	dispatcher notify.Dispatcher,
	locker Locker,
	logger ectologger.Logger,
	cfg CoordinatorConfig,
) *Coordinator {
	backupCount := cfg.BackupCount
	if backupCount <= 0 {
		backupCount = 3
	}
	return &Coordinator{
		ranker:      ranker,
		lifecycle:   lifecycle,
		requests:    requests,
		volunteers:  volunteers,
		attempts:    attempts,
		dispatcher:  dispatcher,
		locker:      locker,
		logger:      logger,
		backupCount: backupCount,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock. Test hook.
func (c *Coordinator) SetNow(now func() time.Time) {
	c.now = now
}

// StartMatching begins or re-triggers matching for a pending request. An
// expired previous attempt does not block the volunteer from being asked
// again on a fresh trigger.
func (c *Coordinator) StartMatching(ctx context.Context, requestID string) (*MatchOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Coordinator.StartMatching")
	defer span.End()

	var outcome *MatchOutcome
	err := c.locker.WithLock(ctx, requestID, func() error {
		request, err := c.requests.Get(ctx, requestID)
		if err != nil {
			return err
		}
		if request.Status != models.RequestStatusPending {
			return InvalidState("request %s is %s, matching requires pending", requestID, request.Status)
		}

		history, err := c.attempts.ListByRequest(ctx, requestID)
		if err != nil {
			return err
		}

		now := c.now()
		exclude := map[string]bool{}
		for _, a := range history {
			switch a.State {
			case models.AttemptStateProposed:
				if now.Before(a.ExpiresAt) {
					return Conflict("request %s already has an active proposal", requestID)
				}
				// Overdue but unswept. Close it, then allow a fresh cycle;
				// the volunteer gets another chance on an explicit trigger.
				if _, err := c.lifecycle.Expire(ctx, a.ID); err != nil {
					return err
				}
			case models.AttemptStateDeclined:
				exclude[a.VolunteerID] = true
			}
		}

		outcome, err = c.proposeNext(ctx, request, exclude)
		return err
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// Respond applies a volunteer's decision to an outstanding proposal. An
// accept terminates the workflow; a decline advances it to the next
// candidate against a fresh ranking.
func (c *Coordinator) Respond(ctx context.Context, attemptID string, decision string) (*MatchOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Coordinator.Respond")
	defer span.End()

	switch decision {
	case DecisionAccept:
		attempt, err := c.attempts.Get(ctx, attemptID)
		if err != nil {
			return nil, err
		}
		// The accept runs under the request lock so a trigger in flight
		// cannot rank against a stale pending status.
		var accepted *models.MatchAttempt
		err = c.locker.WithLock(ctx, attempt.RequestID, func() error {
			var lockErr error
			accepted, lockErr = c.lifecycle.Accept(ctx, attemptID)
			return lockErr
		})
		if err != nil {
			return nil, err
		}
		return &MatchOutcome{
			RequestID: accepted.RequestID,
			Matched:   true,
			AttemptID: accepted.ID,
			Backups:   []CandidateScore{},
		}, nil
	case DecisionDecline:
		attempt, err := c.lifecycle.Decline(ctx, attemptID)
		if err != nil {
			return nil, err
		}
		return c.advance(ctx, attempt.RequestID)
	default:
		return nil, BadRequest("decision must be %q or %q, got %q", DecisionAccept, DecisionDecline, decision)
	}
}

// HandleExpiry closes an overdue attempt and advances the workflow. Invoked
// by the sweeper; safe to race with a lazy expiry of the same attempt.
func (c *Coordinator) HandleExpiry(ctx context.Context, attempt *models.MatchAttempt) (*MatchOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Coordinator.HandleExpiry")
	defer span.End()

	if _, err := c.lifecycle.Expire(ctx, attempt.ID); err != nil {
		return nil, err
	}

	return c.advance(ctx, attempt.RequestID)
}

// CancelMatching supersedes any outstanding proposal and parks the request in
// cancelled. Future proposals are blocked by the request status itself, not
// just the attempt state.
func (c *Coordinator) CancelMatching(ctx context.Context, requestID string) error {
	ctx, span := tracing.StartSpan(ctx, "matching.Coordinator.CancelMatching")
	defer span.End()

	return c.locker.WithLock(ctx, requestID, func() error {
		request, err := c.requests.Get(ctx, requestID)
		if err != nil {
			return err
		}
		switch request.Status {
		case models.RequestStatusCancelled:
			return nil
		case models.RequestStatusCompleted:
			return InvalidState("request %s is already completed", requestID)
		}

		history, err := c.attempts.ListByRequest(ctx, requestID)
		if err != nil {
			return err
		}
		for _, a := range history {
			if a.State != models.AttemptStateProposed {
				continue
			}
			if _, err := c.lifecycle.Supersede(ctx, a.ID); err != nil {
				return err
			}
		}

		ok, err := c.requests.UpdateStatus(ctx, requestID, request.Status, models.RequestStatusCancelled)
		if err != nil {
			return err
		}
		if !ok {
			return Conflict("request %s changed state during cancellation", requestID)
		}

		c.logger.WithContext(ctx).WithFields(map[string]any{
			"request_id": requestID,
		}).Info("Cancelled matching")
		return nil
	})
}

// advance re-ranks freshly and proposes to the next candidate. Volunteers
// already proposed, declined or expired for this request are out; the rest of
// the pool is re-read because it may have changed since the last pass.
func (c *Coordinator) advance(ctx context.Context, requestID string) (*MatchOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Coordinator.advance")
	defer span.End()

	var outcome *MatchOutcome
	err := c.locker.WithLock(ctx, requestID, func() error {
		request, err := c.requests.Get(ctx, requestID)
		if err != nil {
			return err
		}
		if request.Status != models.RequestStatusPending {
			// Accepted or cancelled while this advance was queued.
			outcome = &MatchOutcome{
				RequestID: requestID,
				Matched:   request.Status == models.RequestStatusMatched,
				Backups:   []CandidateScore{},
			}
			return nil
		}

		history, err := c.attempts.ListByRequest(ctx, requestID)
		if err != nil {
			return err
		}

		now := c.now()
		exclude := map[string]bool{}
		for _, a := range history {
			switch a.State {
			case models.AttemptStateProposed:
				if now.Before(a.ExpiresAt) {
					// A parallel advance already proposed; report it.
					outcome = &MatchOutcome{
						RequestID: requestID,
						Pending:   true,
						AttemptID: a.ID,
						Backups:   []CandidateScore{},
					}
					return nil
				}
				if _, err := c.lifecycle.Expire(ctx, a.ID); err != nil {
					return err
				}
				exclude[a.VolunteerID] = true
			case models.AttemptStateDeclined, models.AttemptStateExpired:
				exclude[a.VolunteerID] = true
			}
		}

		c.dispatcher.SearchContinues(ctx, request)

		outcome, err = c.proposeNext(ctx, request, exclude)
		return err
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// proposeNext ranks the remaining pool and proposes to the best candidate.
// Caller holds the per-request lock.
func (c *Coordinator) proposeNext(ctx context.Context, request *models.ScribeRequest, exclude map[string]bool) (*MatchOutcome, error) {
	candidates, err := c.ranker.Rank(ctx, request, exclude)
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		candidate := candidates[i]

		volunteer, err := c.volunteers.Get(ctx, candidate.VolunteerID)
		if err != nil {
			if IsNotFound(err) {
				// Pool changed between ranking and proposing.
				continue
			}
			return nil, err
		}

		attempt, err := c.lifecycle.Propose(ctx, request, volunteer, candidate.Score, candidate.DistanceKm)
		if err != nil {
			return nil, err
		}

		// Fire-and-forget contract: the dispatcher never blocks matching.
		c.dispatcher.ProposalCreated(ctx, volunteer, request, attempt)

		backups := []CandidateScore{}
		for _, b := range candidates[i+1:] {
			if len(backups) == c.backupCount {
				break
			}
			backups = append(backups, b)
		}

		return &MatchOutcome{
			RequestID: request.ID,
			Pending:   true,
			AttemptID: attempt.ID,
			Proposed:  &candidate,
			Backups:   backups,
		}, nil
	}

	metrics.MatchingExhaustedTotal.Inc()
	c.logger.WithContext(ctx).WithFields(map[string]any{
		"request_id": request.ID,
		"excluded":   len(exclude),
	}).Info("Candidate pool exhausted")

	return &MatchOutcome{
		RequestID: request.ID,
		Exhausted: true,
		Backups:   []CandidateScore{},
	}, nil
}
