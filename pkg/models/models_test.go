package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUrgencyProposalTTL(t *testing.T) {
	assert.Equal(t, 5*time.Minute, UrgencyCritical.ProposalTTL())
	assert.Equal(t, 15*time.Minute, UrgencyHigh.ProposalTTL())
	assert.Equal(t, 60*time.Minute, UrgencyNormal.ProposalTTL())
	assert.Equal(t, 240*time.Minute, UrgencyLow.ProposalTTL())

	// Unknown urgencies fall back to the normal window
	assert.Equal(t, 60*time.Minute, Urgency("").ProposalTTL())
}

func TestUrgencyTTLShrinksAsUrgencyRises(t *testing.T) {
	ordered := []Urgency{UrgencyLow, UrgencyNormal, UrgencyHigh, UrgencyCritical}
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, ordered[i].ProposalTTL(), ordered[i-1].ProposalTTL())
	}
}

func TestUrgencyIsValid(t *testing.T) {
	for _, u := range []Urgency{UrgencyLow, UrgencyNormal, UrgencyHigh, UrgencyCritical} {
		assert.True(t, u.IsValid())
	}
	assert.False(t, Urgency("urgent").IsValid())
	assert.False(t, Urgency("").IsValid())
}

func TestUpsertVolunteerRequestToVolunteer(t *testing.T) {
	base := UpsertVolunteerRequest{
		Name:      "Sam",
		Latitude:  12.5,
		Longitude: -70.25,
		Languages: []string{"en", "asl"},
	}

	v := base.ToVolunteer("vol-1")
	assert.Equal(t, "vol-1", v.ID)
	assert.Equal(t, DefaultReliability, v.Reliability, "omitted reliability gets the neutral default")
	assert.True(t, v.Active)
	assert.Equal(t, []string{"en", "asl"}, []string(v.Languages))

	zero := 0.0
	withZero := base
	withZero.Reliability = &zero
	assert.Equal(t, 0.0, withZero.ToVolunteer("vol-1").Reliability, "an explicit zero rating is preserved")

	rated := base
	rating := 4.5
	inactive := false
	rated.Reliability = &rating
	rated.Active = &inactive
	v = rated.ToVolunteer("vol-2")
	assert.Equal(t, 4.5, v.Reliability)
	assert.False(t, v.Active)
}

func TestAttemptStateIsTerminal(t *testing.T) {
	assert.False(t, AttemptStateProposed.IsTerminal())

	for _, s := range []AttemptState{AttemptStateAccepted, AttemptStateDeclined, AttemptStateExpired, AttemptStateSuperseded} {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
}
