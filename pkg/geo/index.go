package geo

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/scribeworks/quill/pkg/models"
	"github.com/scribeworks/quill/pkg/tracing"
)

// VolunteerDirectory is the read surface the index searches over. The
// directory reflects current volunteer state at call time; there is no
// snapshot isolation across calls.
type VolunteerDirectory interface {
	ListActive(ctx context.Context) ([]models.Volunteer, error)
}

// Near is a volunteer paired with its distance from a search center
type Near struct {
	Volunteer  models.Volunteer
	DistanceKm float64
}

// Index performs radius searches over the volunteer directory
type Index struct {
	directory VolunteerDirectory
}

// NewIndex creates a new Index over the given directory
func NewIndex(directory VolunteerDirectory) *Index {
	return &Index{directory: directory}
}

// FindWithinRadius returns every active volunteer within radiusKm of center.
// An empty pool or an empty result is a normal empty slice. No ordering is
// guaranteed.
func (idx *Index) FindWithinRadius(ctx context.Context, center Point, radiusKm float64) ([]Near, error) {
	ctx, span := tracing.StartSpan(ctx, "geo.Index.FindWithinRadius")
	defer span.End()

	if radiusKm <= 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("radius must be positive, got %v", radiusKm))
	}
	if err := center.Validate(); err != nil {
		return nil, err
	}

	volunteers, err := idx.directory.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	results := []Near{}
	for _, v := range volunteers {
		dist := Haversine(center, Point{Latitude: v.Latitude, Longitude: v.Longitude})
		if dist <= radiusKm {
			results = append(results, Near{Volunteer: v, DistanceKm: dist})
		}
	}

	return results, nil
}
