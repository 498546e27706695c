package geo

import (
	"context"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeworks/quill/pkg/models"
)

type staticDirectory struct {
	volunteers []models.Volunteer
	err        error
}

func (d *staticDirectory) ListActive(ctx context.Context) ([]models.Volunteer, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.volunteers, nil
}

func TestHaversine_ZeroDistance(t *testing.T) {
	p := Point{Latitude: 48.8566, Longitude: 2.3522}
	assert.Equal(t, 0.0, Haversine(p, p))
}

func TestHaversine_KnownDistances(t *testing.T) {
	tests := []struct {
		name     string
		a        Point
		b        Point
		expected float64
		delta    float64
	}{
		{
			name:     "paris to london",
			a:        Point{Latitude: 48.8566, Longitude: 2.3522},
			b:        Point{Latitude: 51.5074, Longitude: -0.1278},
			expected: 343.5,
			delta:    1.0,
		},
		{
			name:     "one hundredth degree of latitude",
			a:        Point{Latitude: 0, Longitude: 0},
			b:        Point{Latitude: 0.01, Longitude: 0},
			expected: 1.112,
			delta:    0.01,
		},
		{
			name:     "across the antimeridian",
			a:        Point{Latitude: 0, Longitude: 179.9},
			b:        Point{Latitude: 0, Longitude: -179.9},
			expected: 22.24,
			delta:    0.1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Haversine(tt.a, tt.b), tt.delta)
			assert.InDelta(t, tt.expected, Haversine(tt.b, tt.a), tt.delta, "distance should be symmetric")
		})
	}
}

func TestPointValidate(t *testing.T) {
	assert.NoError(t, Point{Latitude: 90, Longitude: -180}.Validate())
	assert.NoError(t, Point{Latitude: -90, Longitude: 180}.Validate())

	err := Point{Latitude: 90.01, Longitude: 0}.Validate()
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	err = Point{Latitude: 0, Longitude: -180.5}.Validate()
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestFindWithinRadius_FiltersByDistance(t *testing.T) {
	// Offsets along the equator: 0.01 degrees of latitude is ~1.11 km
	directory := &staticDirectory{volunteers: []models.Volunteer{
		{ID: "near", Latitude: 0.05, Longitude: 0, Active: true},
		{ID: "edge", Latitude: 0.2, Longitude: 0, Active: true},
		{ID: "far", Latitude: 1.0, Longitude: 0, Active: true},
	}}
	index := NewIndex(directory)

	results, err := index.FindWithinRadius(context.Background(), Point{Latitude: 0, Longitude: 0}, 25)
	require.NoError(t, err)

	require.Len(t, results, 2)
	ids := map[string]float64{}
	for _, r := range results {
		ids[r.Volunteer.ID] = r.DistanceKm
	}
	assert.InDelta(t, 5.56, ids["near"], 0.05)
	assert.InDelta(t, 22.24, ids["edge"], 0.05)
	assert.NotContains(t, ids, "far")
}

func TestFindWithinRadius_EmptyPoolIsNormal(t *testing.T) {
	index := NewIndex(&staticDirectory{})

	results, err := index.FindWithinRadius(context.Background(), Point{Latitude: 10, Longitude: 10}, 50)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestFindWithinRadius_RejectsBadInput(t *testing.T) {
	index := NewIndex(&staticDirectory{})

	_, err := index.FindWithinRadius(context.Background(), Point{Latitude: 0, Longitude: 0}, 0)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	_, err = index.FindWithinRadius(context.Background(), Point{Latitude: 0, Longitude: 0}, -10)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	_, err = index.FindWithinRadius(context.Background(), Point{Latitude: 95, Longitude: 0}, 50)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}
