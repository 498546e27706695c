// Package volunteer persists volunteer profiles and serves as the volunteer
// directory for radius searches
package volunteer

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/scribeworks/quill/pkg/database"
	"github.com/scribeworks/quill/pkg/models"
	"github.com/scribeworks/quill/pkg/tracing"
)

// Repository handles volunteer persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new volunteer repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Upsert creates or replaces a volunteer profile by id
func (r *Repository) Upsert(ctx context.Context, v *models.Volunteer) (*models.Volunteer, error) {
	ctx, span := tracing.StartSpan(ctx, "volunteer.Repository.Upsert")
	defer span.End()

	now := time.Now().UTC()
	v.UpdatedAt = now
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	if v.Languages == nil {
		v.Languages = pq.StringArray{}
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto("volunteers")
	ib.Cols("id", "name", "latitude", "longitude", "languages", "reliability", "active", "created_at", "updated_at")
	ib.Values(v.ID, v.Name, v.Latitude, v.Longitude, v.Languages, v.Reliability, v.Active, v.CreatedAt, v.UpdatedAt)
	ub := ib.OnConflict("id")
	ub.Set(
		ub.Assign("name", v.Name),
		ub.Assign("latitude", v.Latitude),
		ub.Assign("longitude", v.Longitude),
		ub.Assign("languages", v.Languages),
		ub.Assign("reliability", v.Reliability),
		ub.Assign("active", v.Active),
		ub.Assign("updated_at", v.UpdatedAt),
	)

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"volunteer_id": v.ID}).Error("Failed to upsert volunteer")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert volunteer")
	}

	return v, nil
}

// Get returns a volunteer by id
func (r *Repository) Get(ctx context.Context, id string) (*models.Volunteer, error) {
	ctx, span := tracing.StartSpan(ctx, "volunteer.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "name", "latitude", "longitude", "languages", "reliability", "active", "created_at", "updated_at")
	sb.From("volunteers")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()

	var v models.Volunteer
	if err := r.db.GetContext(ctx, &v, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "volunteer "+id+" not found")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get volunteer")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get volunteer")
	}

	return &v, nil
}

// ListActive returns every volunteer currently accepting proposals. The
// result reflects current state at call time.
func (r *Repository) ListActive(ctx context.Context) ([]models.Volunteer, error) {
	ctx, span := tracing.StartSpan(ctx, "volunteer.Repository.ListActive")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "name", "latitude", "longitude", "languages", "reliability", "active", "created_at", "updated_at")
	sb.From("volunteers")
	sb.Where(sb.Equal("active", true))

	query, args := sb.Build()

	volunteers := []models.Volunteer{}
	if err := r.db.SelectContext(ctx, &volunteers, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list active volunteers")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list active volunteers")
	}

	return volunteers, nil
}

// SetActive toggles whether the volunteer is considered for matching
func (r *Repository) SetActive(ctx context.Context, id string, active bool) error {
	ctx, span := tracing.StartSpan(ctx, "volunteer.Repository.SetActive")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("volunteers")
	ub.Set(
		ub.Assign("active", active),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"volunteer_id": id}).Error("Failed to set volunteer availability")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set volunteer availability")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set volunteer availability")
	}
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, "volunteer "+id+" not found")
	}

	return nil
}
