// Package matchattempt persists the append-only match attempt history
package matchattempt

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/scribeworks/quill/pkg/database"
	"github.com/scribeworks/quill/pkg/models"
	"github.com/scribeworks/quill/pkg/tracing"
)

// pgUniqueViolation is the Postgres error code for unique constraint violations
const pgUniqueViolation = "23505"

// Repository handles match attempt persistence. A partial unique index on
// (request_id) WHERE state = 'proposed' makes the one-active-proposal rule
// atomic across processes.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new match attempt repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new proposed attempt. Returns a 409 when an active
// proposed attempt already exists for the request.
func (r *Repository) Create(ctx context.Context, attempt *models.MatchAttempt) (*models.MatchAttempt, error) {
	ctx, span := tracing.StartSpan(ctx, "matchattempt.Repository.Create")
	defer span.End()

	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	attempt.State = models.AttemptStateProposed

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("match_attempts")
	sb.Cols("id", "request_id", "volunteer_id", "score", "distance_km", "state", "proposed_at", "responded_at", "expires_at")
	sb.Values(attempt.ID, attempt.RequestID, attempt.VolunteerID, attempt.Score, attempt.DistanceKm, attempt.State, attempt.ProposedAt, attempt.RespondedAt, attempt.ExpiresAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return nil, httperror.NewHTTPError(http.StatusConflict, "request "+attempt.RequestID+" already has an active proposal")
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"attempt_id": attempt.ID}).Error("Failed to create match attempt")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create match attempt")
	}

	return attempt, nil
}

// Get returns an attempt by id
func (r *Repository) Get(ctx context.Context, id string) (*models.MatchAttempt, error) {
	ctx, span := tracing.StartSpan(ctx, "matchattempt.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "request_id", "volunteer_id", "score", "distance_km", "state", "proposed_at", "responded_at", "expires_at")
	sb.From("match_attempts")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()

	var attempt models.MatchAttempt
	if err := database.TxOrDB(ctx, r.db).GetContext(ctx, &attempt, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "match attempt "+id+" not found")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get match attempt")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get match attempt")
	}

	return &attempt, nil
}

// ListByRequest returns a request's full attempt history, oldest first
func (r *Repository) ListByRequest(ctx context.Context, requestID string) ([]models.MatchAttempt, error) {
	ctx, span := tracing.StartSpan(ctx, "matchattempt.Repository.ListByRequest")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "request_id", "volunteer_id", "score", "distance_km", "state", "proposed_at", "responded_at", "expires_at")
	sb.From("match_attempts")
	sb.Where(sb.Equal("request_id", requestID))
	sb.OrderBy("proposed_at").Asc()

	query, args := sb.Build()

	attempts := []models.MatchAttempt{}
	if err := r.db.SelectContext(ctx, &attempts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list match attempts")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list match attempts")
	}

	return attempts, nil
}

// Transition performs the compare-and-set out of proposed. The guard depends
// on the target state: accept and decline require a live deadline, expire
// requires a passed one, supersede ignores it. Returns false when no row
// matched, meaning the attempt was not proposed or the deadline guard failed.
func (r *Repository) Transition(ctx context.Context, id string, to models.AttemptState, now time.Time) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "matchattempt.Repository.Transition")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("match_attempts")

	conditions := []string{
		ub.Equal("id", id),
		ub.Equal("state", models.AttemptStateProposed),
	}

	switch to {
	case models.AttemptStateAccepted, models.AttemptStateDeclined:
		ub.Set(
			ub.Assign("state", to),
			ub.Assign("responded_at", now),
		)
		conditions = append(conditions, ub.GreaterThan("expires_at", now))
	case models.AttemptStateExpired:
		ub.Set(ub.Assign("state", to))
		conditions = append(conditions, ub.LessEqualThan("expires_at", now))
	case models.AttemptStateSuperseded:
		ub.Set(ub.Assign("state", to))
	default:
		return false, httperror.NewHTTPError(http.StatusBadRequest, "invalid target state "+string(to))
	}

	ub.Where(conditions...)

	query, args := ub.Build()
	result, err := database.TxOrDB(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"attempt_id": id, "to": to}).Error("Failed to transition match attempt")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to transition match attempt")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to transition match attempt")
	}

	return rows == 1, nil
}

// ListOverdue returns proposed attempts whose deadline has passed, oldest
// deadline first. Used by the expiry sweeper.
func (r *Repository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]models.MatchAttempt, error) {
	ctx, span := tracing.StartSpan(ctx, "matchattempt.Repository.ListOverdue")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "request_id", "volunteer_id", "score", "distance_km", "state", "proposed_at", "responded_at", "expires_at")
	sb.From("match_attempts")
	sb.Where(
		sb.Equal("state", models.AttemptStateProposed),
		sb.LessEqualThan("expires_at", now),
	)
	sb.OrderBy("expires_at").Asc()
	sb.Limit(limit)

	query, args := sb.Build()

	attempts := []models.MatchAttempt{}
	if err := r.db.SelectContext(ctx, &attempts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list overdue match attempts")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list overdue match attempts")
	}

	return attempts, nil
}
