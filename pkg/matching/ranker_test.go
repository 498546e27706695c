package matching

import (
	"context"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeworks/quill/pkg/geo"
	"github.com/scribeworks/quill/pkg/matching/matchingtest"
	"github.com/scribeworks/quill/pkg/models"
)

func newTestRanker(volunteers *matchingtest.VolunteerStore) *Ranker {
	return NewRanker(geo.NewIndex(volunteers), NewScorer(), RankerConfig{
		DefaultRadiusKm:  50,
		CriticalRadiusKm: 100,
	}, noopLogger())
}

// requestAtOrigin builds a pending request centered at (0, 0). Volunteer
// positions in these tests are latitude offsets along the meridian: 0.01
// degrees is ~1.11 km.
func requestAtOrigin(urgency models.Urgency, languages ...string) *models.ScribeRequest {
	return &models.ScribeRequest{
		ID:                "req-1",
		Urgency:           urgency,
		RequiredLanguages: pq.StringArray(languages),
		Status:            models.RequestStatusPending,
	}
}

func TestRank_OrdersByScoreDescending(t *testing.T) {
	volunteers := matchingtest.NewVolunteerStore()
	// ~5.6 km, reliability 4.0, speaks the language: 50 + 20 + 5 + 16 = 91
	volunteers.Put(models.Volunteer{ID: "best", Latitude: 0.05, Languages: pq.StringArray{"asl"}, Reliability: 4.0, Active: true})
	// ~22 km, reliability 3.0, no language: 50 + 10 + 12 = 72
	volunteers.Put(models.Volunteer{ID: "middle", Latitude: 0.2, Reliability: 3.0, Active: true})
	// ~33 km, reliability 1.0, no language: 50 + 4 = 54
	volunteers.Put(models.Volunteer{ID: "worst", Latitude: 0.3, Reliability: 1.0, Active: true})

	ranker := newTestRanker(volunteers)
	candidates, err := ranker.Rank(context.Background(), requestAtOrigin(models.UrgencyNormal, "asl"), nil)
	require.NoError(t, err)

	require.Len(t, candidates, 3)
	assert.Equal(t, "best", candidates[0].VolunteerID)
	assert.Equal(t, "middle", candidates[1].VolunteerID)
	assert.Equal(t, "worst", candidates[2].VolunteerID)

	assert.Equal(t, 91.0, candidates[0].Score)
	assert.Equal(t, 1, candidates[0].LanguageMatches)
	assert.Equal(t, 16.0, candidates[0].ReliabilityComponent)
	assert.InDelta(t, 5.56, candidates[0].DistanceKm, 0.05)
}

func TestRank_TieBreaksByDistanceThenID(t *testing.T) {
	volunteers := matchingtest.NewVolunteerStore()
	// Same score, b is closer than c
	volunteers.Put(models.Volunteer{ID: "c", Latitude: 0.06, Reliability: 3.0, Active: true})
	volunteers.Put(models.Volunteer{ID: "b", Latitude: 0.05, Reliability: 3.0, Active: true})
	// Same score and distance as b (mirrored south), id breaks the tie
	volunteers.Put(models.Volunteer{ID: "a", Latitude: -0.05, Reliability: 3.0, Active: true})

	ranker := newTestRanker(volunteers)
	candidates, err := ranker.Rank(context.Background(), requestAtOrigin(models.UrgencyNormal), nil)
	require.NoError(t, err)

	require.Len(t, candidates, 3)
	assert.Equal(t, candidates[0].Score, candidates[1].Score)
	assert.Equal(t, candidates[1].Score, candidates[2].Score)
	assert.Equal(t, "a", candidates[0].VolunteerID)
	assert.Equal(t, "b", candidates[1].VolunteerID)
	assert.Equal(t, "c", candidates[2].VolunteerID)
}

func TestRank_IsDeterministic(t *testing.T) {
	volunteers := matchingtest.NewVolunteerStore()
	for _, id := range []string{"v1", "v2", "v3", "v4", "v5"} {
		volunteers.Put(models.Volunteer{ID: id, Latitude: 0.1, Reliability: 3.0, Active: true})
	}

	ranker := newTestRanker(volunteers)
	request := requestAtOrigin(models.UrgencyNormal)

	first, err := ranker.Rank(context.Background(), request, nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := ranker.Rank(context.Background(), request, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRank_RadiusWidensForCriticalOnly(t *testing.T) {
	volunteers := matchingtest.NewVolunteerStore()
	// ~66.7 km: outside the 50 km default, inside the 100 km critical radius
	volunteers.Put(models.Volunteer{ID: "outer", Latitude: 0.6, Reliability: 3.0, Active: true})

	ranker := newTestRanker(volunteers)

	for _, urgency := range []models.Urgency{models.UrgencyLow, models.UrgencyNormal, models.UrgencyHigh} {
		candidates, err := ranker.Rank(context.Background(), requestAtOrigin(urgency), nil)
		require.NoError(t, err)
		assert.Empty(t, candidates, "urgency %s should use the default radius", urgency)
	}

	candidates, err := ranker.Rank(context.Background(), requestAtOrigin(models.UrgencyCritical), nil)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "outer", candidates[0].VolunteerID)
}

func TestRank_ExcludesAndInactive(t *testing.T) {
	volunteers := matchingtest.NewVolunteerStore()
	volunteers.Put(models.Volunteer{ID: "declined", Latitude: 0.01, Reliability: 5.0, Active: true})
	volunteers.Put(models.Volunteer{ID: "offline", Latitude: 0.01, Reliability: 5.0, Active: false})
	volunteers.Put(models.Volunteer{ID: "available", Latitude: 0.1, Reliability: 2.0, Active: true})

	ranker := newTestRanker(volunteers)
	candidates, err := ranker.Rank(context.Background(), requestAtOrigin(models.UrgencyNormal), map[string]bool{"declined": true})
	require.NoError(t, err)

	require.Len(t, candidates, 1)
	assert.Equal(t, "available", candidates[0].VolunteerID)
}

func TestRank_EmptyPoolIsNotAnError(t *testing.T) {
	ranker := newTestRanker(matchingtest.NewVolunteerStore())

	candidates, err := ranker.Rank(context.Background(), requestAtOrigin(models.UrgencyNormal), nil)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
