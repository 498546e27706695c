package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeworks/quill/pkg/events"
	"github.com/scribeworks/quill/pkg/geo"
	"github.com/scribeworks/quill/pkg/matching"
	"github.com/scribeworks/quill/pkg/matching/matchingtest"
	"github.com/scribeworks/quill/pkg/models"
	"github.com/scribeworks/quill/pkg/notify"
)

type sweeperFixture struct {
	sweeper     *Sweeper
	coordinator *matching.Coordinator
	requests    *matchingtest.RequestStore
	volunteers  *matchingtest.VolunteerStore
	attempts    *matchingtest.AttemptStore
	clock       *matchingtest.Clock
}

func newSweeperFixture(t *testing.T, config Config) *sweeperFixture {
	t.Helper()

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	requests := matchingtest.NewRequestStore()
	volunteers := matchingtest.NewVolunteerStore()
	attempts := matchingtest.NewAttemptStore()
	clock := matchingtest.NewClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))

	ranker := matching.NewRanker(geo.NewIndex(volunteers), matching.NewScorer(), matching.RankerConfig{}, logger)
	lifecycle := matching.NewLifecycle(attempts, requests, matchingtest.NewTxRunner(), events.NewEmitter(nil, logger), logger)
	lifecycle.SetNow(clock.Now)

	coordinator := matching.NewCoordinator(
		ranker,
		lifecycle,
		requests,
		volunteers,
		attempts,
		notify.NewLogDispatcher(logger),
		matching.NewKeyedMutex(),
		logger,
		matching.CoordinatorConfig{},
	)
	coordinator.SetNow(clock.Now)

	sweeper := NewSweeper(attempts, coordinator, config, logger)
	sweeper.SetNow(clock.Now)

	return &sweeperFixture{
		sweeper:     sweeper,
		coordinator: coordinator,
		requests:    requests,
		volunteers:  volunteers,
		attempts:    attempts,
		clock:       clock,
	}
}

func TestRunCycle_ExpiresOverdueAndAdvances(t *testing.T) {
	f := newSweeperFixture(t, Config{})
	ctx := context.Background()

	f.volunteers.Put(models.Volunteer{ID: "near", Latitude: 0.05, Reliability: 4.0, Active: true})
	f.volunteers.Put(models.Volunteer{ID: "backup", Latitude: 0.1, Reliability: 3.0, Active: true})

	request := f.requests.Put(models.ScribeRequest{Urgency: models.UrgencyCritical, Status: models.RequestStatusPending})

	started, err := f.coordinator.StartMatching(ctx, request.ID)
	require.NoError(t, err)

	f.clock.Advance(6 * time.Minute)
	f.sweeper.RunCycle(ctx)

	stale, err := f.attempts.Get(ctx, started.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStateExpired, stale.State)

	// The sweep advanced the search to the next candidate
	history, err := f.attempts.ListByRequest(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "backup", history[1].VolunteerID)
	assert.Equal(t, models.AttemptStateProposed, history[1].State)
}

func TestRunCycle_LeavesLiveProposalsAlone(t *testing.T) {
	f := newSweeperFixture(t, Config{})
	ctx := context.Background()

	f.volunteers.Put(models.Volunteer{ID: "near", Latitude: 0.05, Reliability: 4.0, Active: true})
	request := f.requests.Put(models.ScribeRequest{Urgency: models.UrgencyNormal, Status: models.RequestStatusPending})

	started, err := f.coordinator.StartMatching(ctx, request.ID)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	f.sweeper.RunCycle(ctx)

	attempt, err := f.attempts.Get(ctx, started.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStateProposed, attempt.State)
}

func TestRunCycle_HonorsBatchSize(t *testing.T) {
	f := newSweeperFixture(t, Config{BatchSize: 2})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		f.volunteers.Put(models.Volunteer{
			ID:          string(rune('a' + i)),
			Latitude:    0.05,
			Reliability: 3.0,
			Active:      true,
		})
	}

	var requestIDs []string
	for i := 0; i < 4; i++ {
		request := f.requests.Put(models.ScribeRequest{Urgency: models.UrgencyCritical, Status: models.RequestStatusPending})
		_, err := f.coordinator.StartMatching(ctx, request.ID)
		require.NoError(t, err)
		requestIDs = append(requestIDs, request.ID)
	}

	f.clock.Advance(6 * time.Minute)
	f.sweeper.RunCycle(ctx)

	expired := 0
	for _, id := range requestIDs {
		history, err := f.attempts.ListByRequest(ctx, id)
		require.NoError(t, err)
		if history[0].State == models.AttemptStateExpired {
			expired++
		}
	}
	assert.Equal(t, 2, expired, "one cycle expires at most the batch size")
}

func TestSweeper_StartStop(t *testing.T) {
	f := newSweeperFixture(t, Config{PollInterval: time.Hour})
	ctx := context.Background()

	assert.False(t, f.sweeper.IsRunning())

	require.NoError(t, f.sweeper.Start(ctx))
	assert.True(t, f.sweeper.IsRunning())

	assert.ErrorIs(t, f.sweeper.Start(ctx), ErrSweeperAlreadyRunning)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.sweeper.Stop(stopCtx))
	assert.False(t, f.sweeper.IsRunning())

	// Stopping an already stopped sweeper is a noop
	require.NoError(t, f.sweeper.Stop(stopCtx))
}
