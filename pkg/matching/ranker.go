package matching

import (
	"context"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/scribeworks/quill/pkg/geo"
	"github.com/scribeworks/quill/pkg/metrics"
	"github.com/scribeworks/quill/pkg/models"
	"github.com/scribeworks/quill/pkg/tracing"
)

// CandidateScore is an ephemeral ranking row. It is computed per pass and
// never persisted; the pool may change between passes.
type CandidateScore struct {
	RequestID            string  `json:"request_id"`
	VolunteerID          string  `json:"volunteer_id"`
	DistanceKm           float64 `json:"distance_km"`
	LanguageMatches      int     `json:"language_matches"`
	ReliabilityComponent float64 `json:"reliability_component"`
	Score                float64 `json:"score"`
}

// RankerConfig holds radius policy for candidate searches
type RankerConfig struct {
	DefaultRadiusKm  float64
	CriticalRadiusKm float64
}

// Ranker produces a deterministic ordering of candidate volunteers for a
// request
type Ranker struct {
	index  *geo.Index
	scorer *Scorer
	config RankerConfig
	logger ectologger.Logger
}

// NewRanker creates a new Ranker
func NewRanker(index *geo.Index, scorer *Scorer, config RankerConfig, logger ectologger.Logger) *Ranker {
	if config.DefaultRadiusKm <= 0 {
		config.DefaultRadiusKm = 50
	}
	if config.CriticalRadiusKm <= 0 {
		config.CriticalRadiusKm = 100
	}
	return &Ranker{
		index:  index,
		scorer: scorer,
		config: config,
		logger: logger,
	}
}

// Radius returns the search radius for the given urgency. The radius widens
// for critical requests only; there is no automatic widening on an empty
// result.
func (r *Ranker) Radius(urgency models.Urgency) float64 {
	if urgency == models.UrgencyCritical {
		return r.config.CriticalRadiusKm
	}
	return r.config.DefaultRadiusKm
}

// Rank returns scored candidates for the request ordered by score descending,
// ties broken by distance ascending then volunteer id ascending. Volunteers
// in exclude are never considered. An empty result is normal.
func (r *Ranker) Rank(ctx context.Context, request *models.ScribeRequest, exclude map[string]bool) ([]CandidateScore, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Ranker.Rank")
	defer span.End()

	start := time.Now()

	center := geo.Point{Latitude: request.Latitude, Longitude: request.Longitude}
	near, err := r.index.FindWithinRadius(ctx, center, r.Radius(request.Urgency))
	if err != nil {
		return nil, err
	}

	candidates := []CandidateScore{}
	for _, n := range near {
		if exclude[n.Volunteer.ID] {
			continue
		}
		v := n.Volunteer
		candidates = append(candidates, CandidateScore{
			RequestID:            request.ID,
			VolunteerID:          v.ID,
			DistanceKm:           n.DistanceKm,
			LanguageMatches:      r.scorer.LanguageMatches(request, &v),
			ReliabilityComponent: v.Reliability * reliabilityWeight,
			Score:                r.scorer.Score(request, &v, n.DistanceKm),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].DistanceKm != candidates[j].DistanceKm {
			return candidates[i].DistanceKm < candidates[j].DistanceKm
		}
		return candidates[i].VolunteerID < candidates[j].VolunteerID
	})

	metrics.RecordRanking(string(request.Urgency), len(candidates), time.Since(start).Seconds())

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"request_id": request.ID,
		"candidates": len(candidates),
		"excluded":   len(exclude),
	}).Debug("Ranked candidates")

	return candidates, nil
}
