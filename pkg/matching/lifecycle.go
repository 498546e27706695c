package matching

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/scribeworks/quill/pkg/events"
	"github.com/scribeworks/quill/pkg/metrics"
	"github.com/scribeworks/quill/pkg/models"
	"github.com/scribeworks/quill/pkg/tracing"
)

// Lifecycle drives match attempts through their state machine. The stored
// state of a proposed attempt is never trusted over its deadline: any read
// past the deadline converts the attempt to expired before acting on it.
type Lifecycle struct {
	attempts AttemptStore
	requests RequestStore
	tx       TxRunner
	emitter  *events.Emitter
	logger   ectologger.Logger
	now      func() time.Time
}

// NewLifecycle creates a new Lifecycle
func NewLifecycle(attempts AttemptStore, requests RequestStore, tx TxRunner, emitter *events.Emitter, logger ectologger.Logger) *Lifecycle {
	return &Lifecycle{
		attempts: attempts,
		requests: requests,
		tx:       tx,
		emitter:  emitter,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock. Test hook.
func (l *Lifecycle) SetNow(now func() time.Time) {
	l.now = now
}

// Propose creates a proposed attempt for the volunteer. The attempt store's
// partial unique index keeps at most one proposed attempt per request, so a
// racing Propose loses with a Conflict error.
func (l *Lifecycle) Propose(ctx context.Context, request *models.ScribeRequest, volunteer *models.Volunteer, score float64, distanceKm float64) (*models.MatchAttempt, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Lifecycle.Propose")
	defer span.End()

	if request.Status != models.RequestStatusPending {
		return nil, InvalidState("request %s is %s, proposals require a pending request", request.ID, request.Status)
	}

	history, err := l.attempts.ListByRequest(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	for _, a := range history {
		if a.VolunteerID != volunteer.ID {
			continue
		}
		// A declined volunteer is never asked again for the same request.
		// An expired attempt does not block a fresh proposal.
		if a.State == models.AttemptStateProposed || a.State == models.AttemptStateDeclined {
			return nil, Conflict("volunteer %s was already asked for request %s", volunteer.ID, request.ID)
		}
	}

	now := l.now()
	attempt := &models.MatchAttempt{
		ID:          uuid.New().String(),
		RequestID:   request.ID,
		VolunteerID: volunteer.ID,
		Score:       score,
		DistanceKm:  distanceKm,
		State:       models.AttemptStateProposed,
		ProposedAt:  now,
		ExpiresAt:   now.Add(request.Urgency.ProposalTTL()),
	}

	created, err := l.attempts.Create(ctx, attempt)
	if err != nil {
		return nil, err
	}

	metrics.RecordAttemptOutcome("proposed")
	l.emitter.EmitAttempt(ctx, events.EventMatchProposed, created)

	l.logger.WithContext(ctx).WithFields(map[string]any{
		"request_id":   request.ID,
		"volunteer_id": volunteer.ID,
		"attempt_id":   created.ID,
		"score":        score,
		"expires_at":   created.ExpiresAt,
	}).Info("Proposed match")

	return created, nil
}

// Accept transitions a proposed attempt to accepted and flips the request to
// matched, both within one transaction. Racing responses produce exactly one
// winner; the loser gets an invalid state error.
func (l *Lifecycle) Accept(ctx context.Context, attemptID string) (*models.MatchAttempt, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Lifecycle.Accept")
	defer span.End()

	// Deadline handling runs before the transaction so a lazy expiry stays
	// recorded even when the accept unwinds.
	if _, err := l.ensureOpen(ctx, attemptID); err != nil {
		return nil, err
	}

	var attempt *models.MatchAttempt
	err := l.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		var err error
		attempt, err = l.respond(txCtx, attemptID, models.AttemptStateAccepted)
		if err != nil {
			return err
		}

		ok, err := l.requests.UpdateStatus(txCtx, attempt.RequestID, models.RequestStatusPending, models.RequestStatusMatched)
		if err != nil {
			return err
		}
		if !ok {
			// The request left pending underneath the proposal; the
			// transaction unwinds the accept.
			return InvalidState("request %s is no longer pending", attempt.RequestID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordAttemptOutcome("accepted")
	l.emitter.EmitAttempt(ctx, events.EventMatchAccepted, attempt)
	l.emitter.EmitRequestMatched(ctx, attempt.RequestID, attempt.VolunteerID)

	return attempt, nil
}

// Decline transitions a proposed attempt to declined
func (l *Lifecycle) Decline(ctx context.Context, attemptID string) (*models.MatchAttempt, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Lifecycle.Decline")
	defer span.End()

	attempt, err := l.respond(ctx, attemptID, models.AttemptStateDeclined)
	if err != nil {
		return nil, err
	}

	metrics.RecordAttemptOutcome("declined")
	l.emitter.EmitAttempt(ctx, events.EventMatchDeclined, attempt)

	return attempt, nil
}

// ensureOpen returns the attempt when it is still proposed and inside its
// deadline. A past-deadline attempt is closed first, then rejected; the
// stored state is never trusted over the deadline.
func (l *Lifecycle) ensureOpen(ctx context.Context, attemptID string) (*models.MatchAttempt, error) {
	attempt, err := l.attempts.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	if attempt.State == models.AttemptStateProposed && !l.now().Before(attempt.ExpiresAt) {
		// Deadline passed but the sweeper has not caught up. Close the
		// attempt first, then reject the response.
		if _, err := l.Expire(ctx, attemptID); err != nil {
			l.logger.WithContext(ctx).WithError(err).Warn("Failed to lazily expire attempt")
		}
		return nil, InvalidState("attempt %s expired at %s", attemptID, attempt.ExpiresAt.Format(time.RFC3339))
	}

	if attempt.State != models.AttemptStateProposed {
		return nil, InvalidState("attempt %s is already %s", attemptID, attempt.State)
	}

	return attempt, nil
}

// respond performs the shared accept/decline compare-and-set
func (l *Lifecycle) respond(ctx context.Context, attemptID string, to models.AttemptState) (*models.MatchAttempt, error) {
	attempt, err := l.ensureOpen(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	ok, err := l.attempts.Transition(ctx, attemptID, to, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a race. Re-read to report what won.
		current, getErr := l.attempts.Get(ctx, attemptID)
		if getErr == nil && current.State != models.AttemptStateProposed {
			return nil, InvalidState("attempt %s is already %s", attemptID, current.State)
		}
		return nil, InvalidState("attempt %s could not be transitioned to %s", attemptID, to)
	}

	attempt.State = to
	attempt.RespondedAt = &now
	return attempt, nil
}

// Expire transitions a proposed attempt past its deadline to expired. It
// returns false without error when another caller got there first.
func (l *Lifecycle) Expire(ctx context.Context, attemptID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Lifecycle.Expire")
	defer span.End()

	ok, err := l.attempts.Transition(ctx, attemptID, models.AttemptStateExpired, l.now())
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	metrics.RecordAttemptOutcome("expired")
	if attempt, getErr := l.attempts.Get(ctx, attemptID); getErr == nil {
		l.emitter.EmitAttempt(ctx, events.EventMatchExpired, attempt)
	}

	return true, nil
}

// Supersede closes a proposed attempt without a reliability penalty. Used
// when the request is cancelled or reassigned out from under the proposal.
func (l *Lifecycle) Supersede(ctx context.Context, attemptID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Lifecycle.Supersede")
	defer span.End()

	ok, err := l.attempts.Transition(ctx, attemptID, models.AttemptStateSuperseded, l.now())
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	metrics.RecordAttemptOutcome("superseded")
	if attempt, getErr := l.attempts.Get(ctx, attemptID); getErr == nil {
		l.emitter.EmitAttempt(ctx, events.EventMatchSuperseded, attempt)
	}

	return true, nil
}
