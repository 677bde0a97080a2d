package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarketStatusCanAdvanceTo_Subjective(t *testing.T) {
	cases := []struct {
		from, to MarketStatus
		ok       bool
	}{
		{MarketStatusActive, MarketStatusCommitPhase, true},
		{MarketStatusCommitPhase, MarketStatusRevealPhase, true},
		{MarketStatusRevealPhase, MarketStatusResolved, true},
		{MarketStatusActive, MarketStatusRevealPhase, false},
		{MarketStatusActive, MarketStatusResolved, false},
		{MarketStatusCommitPhase, MarketStatusActive, false},
		{MarketStatusResolved, MarketStatusActive, false},
		{MarketStatusResolved, MarketStatusResolved, false},
		{MarketStatus("bogus"), MarketStatusCommitPhase, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanAdvanceTo(tc.to, MarketTypeSubjective), "%s -> %s", tc.from, tc.to)
	}
}

func TestMarketStatusCanAdvanceTo_Public(t *testing.T) {
	assert.True(t, MarketStatusActive.CanAdvanceTo(MarketStatusResolved, MarketTypePublic))
	assert.False(t, MarketStatusActive.CanAdvanceTo(MarketStatusCommitPhase, MarketTypePublic))
	assert.False(t, MarketStatusResolved.CanAdvanceTo(MarketStatusActive, MarketTypePublic))
}

func TestDisputeStatusIsMonotone(t *testing.T) {
	assert.True(t, DisputeStatusActive.CanTransitionTo(DisputeStatusResolved))
	assert.True(t, DisputeStatusActive.CanTransitionTo(DisputeStatusRejected))
	assert.True(t, DisputeStatusResolved.CanTransitionTo(DisputeStatusClaimed))

	assert.False(t, DisputeStatusActive.CanTransitionTo(DisputeStatusClaimed))
	assert.False(t, DisputeStatusResolved.CanTransitionTo(DisputeStatusActive))
	assert.False(t, DisputeStatusRejected.CanTransitionTo(DisputeStatusClaimed))
	assert.False(t, DisputeStatusClaimed.CanTransitionTo(DisputeStatusResolved))
	assert.False(t, DisputeStatusClaimed.CanTransitionTo(DisputeStatusClaimed))
}

func TestSupportRatio(t *testing.T) {
	assert.Zero(t, SupportRatio(nil))
	votes := []Vote{
		{Voter: "a", Support: true, Weight: 3},
		{Voter: "b", Support: false, Weight: 1},
		{Voter: "c", Support: true, Weight: 0},
	}
	assert.InDelta(t, 0.75, SupportRatio(votes), 1e-9)
}
