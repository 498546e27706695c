package matching

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/scribeworks/quill/pkg/models"
)

func TestScore_Components(t *testing.T) {
	scorer := NewScorer()

	tests := []struct {
		name        string
		languages   []string
		required    []string
		distanceKm  float64
		reliability float64
		expected    float64
	}{
		{
			name:        "near with one shared language",
			languages:   []string{"en", "asl"},
			required:    []string{"asl"},
			distanceKm:  5,
			reliability: 4.0,
			expected:    91, // 50 + 20 + 5 + 16
		},
		{
			name:        "thirty kilometers out with one shared language",
			languages:   []string{"en"},
			required:    []string{"en"},
			distanceKm:  30,
			reliability: 4.0,
			expected:    71, // 50 + 0 + 5 + 16
		},
		{
			name:        "mid distance no language overlap",
			languages:   []string{"fr"},
			required:    []string{"asl"},
			distanceKm:  20,
			reliability: 2.5,
			expected:    70, // 50 + 10 + 0 + 10
		},
		{
			name:        "far away unreliable",
			languages:   nil,
			required:    nil,
			distanceKm:  40,
			reliability: 0,
			expected:    50, // base only
		},
		{
			name:        "clamped at one hundred",
			languages:   []string{"en", "asl", "es", "fr", "de", "pt"},
			required:    []string{"en", "asl", "es", "fr", "de", "pt"},
			distanceKm:  1,
			reliability: 5.0,
			expected:    100, // 50 + 20 + 30 + 20 clamps
		},
		{
			name:        "distance band boundary is exclusive",
			languages:   nil,
			required:    nil,
			distanceKm:  10,
			reliability: 0,
			expected:    60, // exactly 10km falls in the mid band
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := &models.ScribeRequest{RequiredLanguages: pq.StringArray(tt.required)}
			volunteer := &models.Volunteer{Languages: pq.StringArray(tt.languages), Reliability: tt.reliability}

			assert.Equal(t, tt.expected, scorer.Score(request, volunteer, tt.distanceKm))
		})
	}
}

func TestScore_Deterministic(t *testing.T) {
	scorer := NewScorer()
	request := &models.ScribeRequest{RequiredLanguages: pq.StringArray{"asl", "en"}}
	volunteer := &models.Volunteer{Languages: pq.StringArray{"asl"}, Reliability: 3.7}

	first := scorer.Score(request, volunteer, 12.34)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, scorer.Score(request, volunteer, 12.34))
	}
}

func TestScore_UrgencyNeverChangesScore(t *testing.T) {
	scorer := NewScorer()
	volunteer := &models.Volunteer{Languages: pq.StringArray{"asl"}, Reliability: 3.0}

	var scores []float64
	for _, urgency := range []models.Urgency{models.UrgencyLow, models.UrgencyNormal, models.UrgencyHigh, models.UrgencyCritical} {
		request := &models.ScribeRequest{Urgency: urgency, RequiredLanguages: pq.StringArray{"asl"}}
		scores = append(scores, scorer.Score(request, volunteer, 8))
	}

	for _, s := range scores[1:] {
		assert.Equal(t, scores[0], s)
	}
}

func TestScore_MonotonicInReliability(t *testing.T) {
	scorer := NewScorer()
	request := &models.ScribeRequest{}

	previous := -1.0
	for _, reliability := range []float64{0, 1, 2.5, 4, 5} {
		volunteer := &models.Volunteer{Reliability: reliability}
		score := scorer.Score(request, volunteer, 30)
		assert.Greater(t, score, previous)
		previous = score
	}
}

func TestLanguageMatches(t *testing.T) {
	scorer := NewScorer()

	request := &models.ScribeRequest{RequiredLanguages: pq.StringArray{"asl", "en", "es"}}

	assert.Equal(t, 0, scorer.LanguageMatches(request, &models.Volunteer{}))
	assert.Equal(t, 1, scorer.LanguageMatches(request, &models.Volunteer{Languages: pq.StringArray{"es", "fr"}}))
	assert.Equal(t, 3, scorer.LanguageMatches(request, &models.Volunteer{Languages: pq.StringArray{"en", "es", "asl", "de"}}))
	assert.Equal(t, 0, scorer.LanguageMatches(&models.ScribeRequest{}, &models.Volunteer{Languages: pq.StringArray{"en"}}))
}
