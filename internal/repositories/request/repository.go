// Package request persists scribe requests
package request

import (
	"context"
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

// Repository handles scribe request persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new request repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new pending request
func (r *Repository) Create(ctx context.Context, req *models.ScribeRequest) (*models.ScribeRequest, error) {
	ctx, span := tracing.StartSpan(ctx, "request.Repository.Create")
	defer span.End()

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	req.Status = models.RequestStatusPending
	req.CreatedAt = time.Now().UTC()
	req.UpdatedAt = req.CreatedAt
	if req.RequiredLanguages == nil {
		req.RequiredLanguages = pq.StringArray{}
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("requests")
	sb.Cols("id", "requester_id", "latitude", "longitude", "address", "window_start", "duration_minutes", "urgency", "required_languages", "status", "created_at", "updated_at")
	sb.Values(req.ID, req.RequesterID, req.Latitude, req.Longitude, req.Address, req.WindowStart, req.DurationMinutes, req.Urgency, req.RequiredLanguages, req.Status, req.CreatedAt, req.UpdatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"request_id": req.ID}).Error("Failed to create request")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create request")
	}

	return req, nil
}

// Get returns a request by id
func (r *Repository) Get(ctx context.Context, id string) (*models.ScribeRequest, error) {
	ctx, span := tracing.StartSpan(ctx, "request.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "requester_id", "latitude", "longitude", "address", "window_start", "duration_minutes", "urgency", "required_languages", "status", "created_at", "updated_at")
	sb.From("requests")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()

	var req models.ScribeRequest
	if err := r.db.GetContext(ctx, &req, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "request "+id+" not found")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get request")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get request")
	}

	return &req, nil
}

// List returns requests filtered by status, newest first
func (r *Repository) List(ctx context.Context, status *models.RequestStatus, page, pageSize int) ([]models.ScribeRequest, error) {
	ctx, span := tracing.StartSpan(ctx, "request.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "requester_id", "latitude", "longitude", "address", "window_start", "duration_minutes", "urgency", "required_languages", "status", "created_at", "updated_at")
	sb.From("requests")
	if status != nil {
		sb.Where(sb.Equal("status", *status))
	}
	sb.OrderBy("created_at").Desc()
	sb.Limit(pageSize).Offset((page - 1) * pageSize)

	query, args := sb.Build()

	requests := []models.ScribeRequest{}
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list requests")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list requests")
	}

	return requests, nil
}

// UpdateStatus performs a compare-and-set status update. Returns false when
// the request was not in the expected status.
func (r *Repository) UpdateStatus(ctx context.Context, id string, from, to models.RequestStatus) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "request.Repository.UpdateStatus")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("requests")
	ub.Set(
		ub.Assign("status", to),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", from),
	)

	query, args := ub.Build()
	result, err := database.TxOrDB(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"request_id": id}).Error("Failed to update request status")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update request status")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update request status")
	}

	return rows == 1, nil
}
