package matching

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeworks/quill/pkg/events"
	"github.com/scribeworks/quill/pkg/geo"
	"github.com/scribeworks/quill/pkg/matching/matchingtest"
	"github.com/scribeworks/quill/pkg/models"
	"github.com/scribeworks/quill/pkg/notify"
)

type coordinatorFixture struct {
	coordinator *Coordinator
	requests    *matchingtest.RequestStore
	volunteers  *matchingtest.VolunteerStore
	attempts    AttemptStore
	clock       *matchingtest.Clock
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	return newCoordinatorFixtureWith(t, matchingtest.NewAttemptStore(), nil)
}

func newCoordinatorFixtureWith(t *testing.T, attempts AttemptStore, dispatcher notify.Dispatcher) *coordinatorFixture {
	t.Helper()

	logger := noopLogger()
	requests := matchingtest.NewRequestStore()
	volunteers := matchingtest.NewVolunteerStore()
	clock := matchingtest.NewClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))

	if dispatcher == nil {
		dispatcher = notify.NewLogDispatcher(logger)
	}

	ranker := NewRanker(geo.NewIndex(volunteers), NewScorer(), RankerConfig{
		DefaultRadiusKm:  50,
		CriticalRadiusKm: 100,
	}, logger)

	lifecycle := NewLifecycle(attempts, requests, matchingtest.NewTxRunner(), events.NewEmitter(nil, logger), logger)
	lifecycle.SetNow(clock.Now)

	coordinator := NewCoordinator(
		ranker,
		lifecycle,
		requests,
		volunteers,
		attempts,
		dispatcher,
		NewKeyedMutex(),
		logger,
		CoordinatorConfig{BackupCount: 3},
	)
	coordinator.SetNow(clock.Now)

	return &coordinatorFixture{
		coordinator: coordinator,
		requests:    requests,
		volunteers:  volunteers,
		attempts:    attempts,
		clock:       clock,
	}
}

func (f *coordinatorFixture) pendingRequest(urgency models.Urgency, languages ...string) *models.ScribeRequest {
	req := f.requests.Put(models.ScribeRequest{
		Urgency:           urgency,
		RequiredLanguages: pq.StringArray(languages),
		Status:            models.RequestStatusPending,
	})
	return &req
}

// seedPool loads three volunteers near the origin with strictly decreasing
// scores: first ~5.6 km reliability 4, second ~11 km reliability 3, third
// ~22 km reliability 2.
func (f *coordinatorFixture) seedPool() {
	f.volunteers.Put(models.Volunteer{ID: "first", Latitude: 0.05, Reliability: 4.0, Active: true})
	f.volunteers.Put(models.Volunteer{ID: "second", Latitude: 0.1, Reliability: 3.0, Active: true})
	f.volunteers.Put(models.Volunteer{ID: "third", Latitude: 0.2, Reliability: 2.0, Active: true})
}

func TestStartMatching_ProposesToTopCandidate(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.seedPool()
	ctx := context.Background()
	request := f.pendingRequest(models.UrgencyNormal)

	outcome, err := f.coordinator.StartMatching(ctx, request.ID)
	require.NoError(t, err)

	assert.True(t, outcome.Pending)
	assert.False(t, outcome.Matched)
	assert.False(t, outcome.Exhausted)
	require.NotNil(t, outcome.Proposed)
	assert.Equal(t, "first", outcome.Proposed.VolunteerID)
	require.Len(t, outcome.Backups, 2)
	assert.Equal(t, "second", outcome.Backups[0].VolunteerID)
	assert.Equal(t, "third", outcome.Backups[1].VolunteerID)

	attempt, err := f.attempts.Get(ctx, outcome.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStateProposed, attempt.State)
	assert.Equal(t, "first", attempt.VolunteerID)
}

func TestStartMatching_ActiveProposalConflicts(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.seedPool()
	ctx := context.Background()
	request := f.pendingRequest(models.UrgencyNormal)

	_, err := f.coordinator.StartMatching(ctx, request.ID)
	require.NoError(t, err)

	_, err = f.coordinator.StartMatching(ctx, request.ID)
	assertConflict(t, err)
}

func TestStartMatching_UnknownRequest(t *testing.T) {
	f := newCoordinatorFixture(t)

	_, err := f.coordinator.StartMatching(context.Background(), "no-such-request")
	assertHTTPStatus(t, err, http.StatusNotFound)
}

func TestStartMatching_RequiresPendingRequest(t *testing.T) {
	f := newCoordinatorFixture(t)
	req := f.requests.Put(models.ScribeRequest{Status: models.RequestStatusMatched, Urgency: models.UrgencyNormal})

	_, err := f.coordinator.StartMatching(context.Background(), req.ID)
	assertConflict(t, err)
}

func TestStartMatching_EmptyPoolExhausts(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()
	request := f.pendingRequest(models.UrgencyNormal)

	outcome, err := f.coordinator.StartMatching(ctx, request.ID)
	require.NoError(t, err)

	assert.True(t, outcome.Exhausted)
	assert.False(t, outcome.Pending)
	assert.Empty(t, outcome.Backups)

	history, err := f.attempts.ListByRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Empty(t, history, "no attempt is created when the pool is empty")
}

func TestStartMatching_ExpiresOverdueProposalAndReProposes(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.seedPool()
	ctx := context.Background()
	request := f.pendingRequest(models.UrgencyCritical)

	first, err := f.coordinator.StartMatching(ctx, request.ID)
	require.NoError(t, err)

	// Past the 5 minute critical window with no sweep in between. A fresh
	// trigger closes the stale proposal and may ask the same volunteer again.
	f.clock.Advance(10 * time.Minute)

	second, err := f.coordinator.StartMatching(ctx, request.ID)
	require.NoError(t, err)

	stale, err := f.attempts.Get(ctx, first.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStateExpired, stale.State)

	assert.True(t, second.Pending)
	require.NotNil(t, second.Proposed)
	assert.Equal(t, "first", second.Proposed.VolunteerID)
	assert.NotEqual(t, first.AttemptID, second.AttemptID)
}

func TestRespond_AcceptMatchesRequest(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.seedPool()
	ctx := context.Background()
	request := f.pendingRequest(models.UrgencyNormal)

	started, err := f.coordinator.StartMatching(ctx, request.ID)
	require.NoError(t, err)

	outcome, err := f.coordinator.Respond(ctx, started.AttemptID, DecisionAccept)
	require.NoError(t, err)

	assert.True(t, outcome.Matched)
	assert.Equal(t, request.ID, outcome.RequestID)

	current, err := f.requests.Get(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusMatched, current.Status)
}

func TestRespond_DeclineAdvancesToNextCandidate(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.seedPool()
	ctx := context.Background()
	request := f.pendingRequest(models.UrgencyNormal)

	started, err := f.coordinator.StartMatching(ctx, request.ID)
	require.NoError(t, err)
	require.Equal(t, "first", started.Proposed.VolunteerID)

	outcome, err := f.coordinator.Respond(ctx, started.AttemptID, DecisionDecline)
	require.NoError(t, err)

	assert.True(t, outcome.Pending)
	require.NotNil(t, outcome.Proposed)
	assert.Equal(t, "second", outcome.Proposed.VolunteerID)

	// The declined volunteer is out for good on this request
	outcome, err = f.coordinator.Respond(ctx, outcome.AttemptID, DecisionDecline)
	require.NoError(t, err)
	require.NotNil(t, outcome.Proposed)
	assert.Equal(t, "third", outcome.Proposed.VolunteerID)
}

func TestRespond_AllDeclinedExhausts(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.seedPool()
	ctx := context.Background()
	request := f.pendingRequest(models.UrgencyNormal)

	outcome, err := f.coordinator.StartMatching(ctx, request.ID)
	require.NoError(t, err)

	for outcome.Pending {
		outcome, err = f.coordinator.Respond(ctx, outcome.AttemptID, DecisionDecline)
		require.NoError(t, err)
	}

	assert.True(t, outcome.Exhausted)

	current, err := f.requests.Get(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, current.Status, "exhaustion leaves the request open for new volunteers")
}

func TestRespond_InvalidDecision(t *testing.T) {
	f := newCoordinatorFixture(t)

	_, err := f.coordinator.Respond(context.Background(), "some-attempt", "maybe")
	assertHTTPStatus(t, err, http.StatusBadRequest)
}

func TestHandleExpiry_AdvancesPastExpiredVolunteer(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.seedPool()
	ctx := context.Background()
	request := f.pendingRequest(models.UrgencyNormal)

	started, err := f.coordinator.StartMatching(ctx, request.ID)
	require.NoError(t, err)

	f.clock.Advance(61 * time.Minute)

	attempt, err := f.attempts.Get(ctx, started.AttemptID)
	require.NoError(t, err)

	outcome, err := f.coordinator.HandleExpiry(ctx, attempt)
	require.NoError(t, err)

	expired, err := f.attempts.Get(ctx, started.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStateExpired, expired.State)

	// The expired volunteer is excluded from this automatic advance
	assert.True(t, outcome.Pending)
	require.NotNil(t, outcome.Proposed)
	assert.Equal(t, "second", outcome.Proposed.VolunteerID)
}

func TestAdvance_PoolChangesBetweenPasses(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.seedPool()
	ctx := context.Background()
	request := f.pendingRequest(models.UrgencyNormal)

	started, err := f.coordinator.StartMatching(ctx, request.ID)
	require.NoError(t, err)

	// A stronger volunteer comes online before the decline lands. The advance
	// re-ranks against the live pool and finds them first.
	f.volunteers.Put(models.Volunteer{ID: "newcomer", Latitude: 0.01, Reliability: 5.0, Active: true})

	outcome, err := f.coordinator.Respond(ctx, started.AttemptID, DecisionDecline)
	require.NoError(t, err)

	require.NotNil(t, outcome.Proposed)
	assert.Equal(t, "newcomer", outcome.Proposed.VolunteerID)
}

func TestCancelMatching_SupersedesOpenProposal(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.seedPool()
	ctx := context.Background()
	request := f.pendingRequest(models.UrgencyNormal)

	started, err := f.coordinator.StartMatching(ctx, request.ID)
	require.NoError(t, err)

	require.NoError(t, f.coordinator.CancelMatching(ctx, request.ID))

	attempt, err := f.attempts.Get(ctx, started.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStateSuperseded, attempt.State)

	current, err := f.requests.Get(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCancelled, current.Status)

	// Cancelled requests never match again
	_, err = f.coordinator.StartMatching(ctx, request.ID)
	assertConflict(t, err)

	// The superseded volunteer answering late gets a conflict, not a match
	_, err = f.coordinator.Respond(ctx, started.AttemptID, DecisionAccept)
	assertConflict(t, err)
}

func TestCancelMatching_Idempotent(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()
	request := f.pendingRequest(models.UrgencyNormal)

	require.NoError(t, f.coordinator.CancelMatching(ctx, request.ID))
	require.NoError(t, f.coordinator.CancelMatching(ctx, request.ID))
}

func TestCancelMatching_CompletedRequestIsRejected(t *testing.T) {
	f := newCoordinatorFixture(t)
	req := f.requests.Put(models.ScribeRequest{Status: models.RequestStatusCompleted, Urgency: models.UrgencyNormal})

	err := f.coordinator.CancelMatching(context.Background(), req.ID)
	assertConflict(t, err)
}

// gatedAttemptStore pauses one armed ListByRequest call so a test can overlap
// another operation with an in-flight matching cycle.
type gatedAttemptStore struct {
	*matchingtest.AttemptStore
	armed   atomic.Bool
	reached chan struct{}
	release chan struct{}
}

func newGatedAttemptStore() *gatedAttemptStore {
	return &gatedAttemptStore{
		AttemptStore: matchingtest.NewAttemptStore(),
		reached:      make(chan struct{}),
		release:      make(chan struct{}),
	}
}

func (s *gatedAttemptStore) ListByRequest(ctx context.Context, requestID string) ([]models.MatchAttempt, error) {
	if s.armed.CompareAndSwap(true, false) {
		close(s.reached)
		<-s.release
	}
	return s.AttemptStore.ListByRequest(ctx, requestID)
}

func TestRespond_AcceptDuringConcurrentTriggerAddsNoProposal(t *testing.T) {
	attempts := newGatedAttemptStore()
	f := newCoordinatorFixtureWith(t, attempts, nil)
	ctx := context.Background()

	f.volunteers.Put(models.Volunteer{ID: "near", Latitude: 0.05, Reliability: 4.0, Active: true})
	f.volunteers.Put(models.Volunteer{ID: "spare", Latitude: 0.1, Reliability: 3.0, Active: true})
	request := f.pendingRequest(models.UrgencyNormal)

	started, err := f.coordinator.StartMatching(ctx, request.ID)
	require.NoError(t, err)

	// A duplicate trigger pauses after reading the request but before reading
	// the attempt history, while the volunteer's accept arrives. The request
	// lock must keep the accept from landing inside that window.
	attempts.armed.Store(true)
	triggerErr := make(chan error, 1)
	go func() {
		_, err := f.coordinator.StartMatching(ctx, request.ID)
		triggerErr <- err
	}()
	<-attempts.reached

	acceptDone := make(chan struct{})
	var acceptOutcome *MatchOutcome
	var acceptErr error
	go func() {
		defer close(acceptDone)
		acceptOutcome, acceptErr = f.coordinator.Respond(ctx, started.AttemptID, DecisionAccept)
	}()

	close(attempts.release)
	assertConflict(t, <-triggerErr)
	<-acceptDone

	require.NoError(t, acceptErr)
	assert.True(t, acceptOutcome.Matched)

	current, err := f.requests.Get(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusMatched, current.Status)

	history, err := f.attempts.ListByRequest(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, history, 1, "a matched request must hold no new proposal")
	assert.Equal(t, models.AttemptStateAccepted, history[0].State)
}

// recordingDispatcher captures dispatched proposals
type recordingDispatcher struct {
	mu        sync.Mutex
	proposals []*models.MatchAttempt
}

func (d *recordingDispatcher) ProposalCreated(ctx context.Context, volunteer *models.Volunteer, request *models.ScribeRequest, attempt *models.MatchAttempt) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.proposals = append(d.proposals, attempt)
}

func (d *recordingDispatcher) SearchContinues(ctx context.Context, request *models.ScribeRequest) {}

func TestStartMatching_NotificationCarriesProposalDeadline(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	f := newCoordinatorFixtureWith(t, matchingtest.NewAttemptStore(), dispatcher)
	ctx := context.Background()

	f.volunteers.Put(models.Volunteer{ID: "near", Latitude: 0.05, Reliability: 4.0, Active: true})
	request := f.pendingRequest(models.UrgencyHigh)

	outcome, err := f.coordinator.StartMatching(ctx, request.ID)
	require.NoError(t, err)

	require.Len(t, dispatcher.proposals, 1)
	assert.Equal(t, outcome.AttemptID, dispatcher.proposals[0].ID)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), dispatcher.proposals[0].ExpiresAt)
}

func TestBackupCount_LimitsReportedAlternates(t *testing.T) {
	f := newCoordinatorFixture(t)
	for i := 0; i < 6; i++ {
		f.volunteers.Put(models.Volunteer{
			ID:          string(rune('a' + i)),
			Latitude:    0.05 + float64(i)*0.01,
			Reliability: 3.0,
			Active:      true,
		})
	}
	ctx := context.Background()
	request := f.pendingRequest(models.UrgencyNormal)

	outcome, err := f.coordinator.StartMatching(ctx, request.ID)
	require.NoError(t, err)

	require.NotNil(t, outcome.Proposed)
	assert.Len(t, outcome.Backups, 3)
}
