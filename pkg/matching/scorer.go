package matching

import "github.com/scribeworks/quill/pkg/models"

// Score bounds and components. Scores are deterministic: the same request,
// volunteer and distance always produce the same value.
const (
	baseScore          = 50.0
	nearDistanceKm     = 10.0
	midDistanceKm      = 25.0
	nearDistanceBonus  = 20.0
	midDistanceBonus   = 10.0
	languageBonus      = 5.0
	reliabilityWeight  = 4.0
	minScore           = 0.0
	maxScore           = 100.0
)

// Scorer computes match scores for request/volunteer pairs
type Scorer struct{}

// NewScorer creates a new Scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score returns the match score in [0, 100] for proposing volunteer to
// request at the given distance. Urgency never affects the score; it only
// drives the search radius and proposal deadline.
func (s *Scorer) Score(request *models.ScribeRequest, volunteer *models.Volunteer, distanceKm float64) float64 {
	score := baseScore

	switch {
	case distanceKm < nearDistanceKm:
		score += nearDistanceBonus
	case distanceKm < midDistanceKm:
		score += midDistanceBonus
	}

	score += languageBonus * float64(s.LanguageMatches(request, volunteer))
	score += volunteer.Reliability * reliabilityWeight

	if score < minScore {
		return minScore
	}
	if score > maxScore {
		return maxScore
	}
	return score
}

// LanguageMatches counts the languages required by the request that the
// volunteer speaks
func (s *Scorer) LanguageMatches(request *models.ScribeRequest, volunteer *models.Volunteer) int {
	if len(request.RequiredLanguages) == 0 || len(volunteer.Languages) == 0 {
		return 0
	}

	spoken := make(map[string]bool, len(volunteer.Languages))
	for _, lang := range volunteer.Languages {
		spoken[lang] = true
	}

	matches := 0
	for _, lang := range request.RequiredLanguages {
		if spoken[lang] {
			matches++
		}
	}
	return matches
}
