package disputebot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/oraclebot/internal/domain"
	"github.com/alanyoungcy/oraclebot/internal/store/memory"
)

const (
	botAddr         = "0x00000000000000000000000000000000000000aa"
	contract        = "0xD15C000000000000000000000000000000000001"
	marketsContract = "0xmarkets"
	testChain       = int64(97)
)

type fakeContract struct {
	mu sync.Mutex

	head      uint64
	nextID    uint64
	omitEvent bool
	submitErr error
	submits   []domain.SubmitRequest
	claims    []uint64
	claimErr  error
	live      map[uint64]domain.OnchainDisputeStatus
	events    domain.DisputeEvents
	eventsErr error
	scans     [][2]uint64
}

func newFakeContract() *fakeContract {
	return &fakeContract{head: 100, nextID: 7, live: map[uint64]domain.OnchainDisputeStatus{}}
}

func (f *fakeContract) Address() string { return contract }

func (f *fakeContract) LatestBlock(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeContract) SubmitDispute(_ context.Context, req domain.SubmitRequest) (domain.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return domain.SubmitResult{}, f.submitErr
	}
	f.submits = append(f.submits, req)
	res := domain.SubmitResult{TxHash: "0xtx", BlockNumber: f.head}
	if !f.omitEvent {
		res.DisputeID = f.nextID
	}
	f.nextID++
	return res, nil
}

func (f *fakeContract) ClaimReward(_ context.Context, id uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims = append(f.claims, id)
	if f.claimErr != nil {
		return "", f.claimErr
	}
	return "0xclaim", nil
}

func (f *fakeContract) GetDispute(_ context.Context, id uint64) (domain.OnchainDispute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.OnchainDispute{DisputeID: id, Status: f.live[id]}, nil
}

func (f *fakeContract) DisputeEvents(_ context.Context, from, to uint64) (domain.DisputeEvents, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, [2]uint64{from, to})
	if f.eventsErr != nil {
		return domain.DisputeEvents{}, f.eventsErr
	}
	evs := f.events
	f.events = domain.DisputeEvents{}
	return evs, nil
}

type fakeLocks struct{ held bool }

func (l *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

type harness struct {
	bot         *Bot
	contract    *fakeContract
	markets     *memory.MarketStore
	disputes    *memory.DisputeStore
	checkpoints *memory.CheckpointStore
	audit       *memory.AuditStore
}

func newHarness(t *testing.T, locks domain.LockManager, startBlock int64) *harness {
	t.Helper()
	h := &harness{
		contract:    newFakeContract(),
		markets:     memory.NewMarketStore(),
		disputes:    memory.NewDisputeStore(),
		checkpoints: memory.NewCheckpointStore(),
		audit:       memory.NewAuditStore(),
	}
	h.bot = New(Deps{
		Contract:    h.contract,
		Markets:     h.markets,
		Disputes:    h.disputes,
		Checkpoints: h.checkpoints,
		Audit:       h.audit,
		Locks:       locks,
	}, botAddr, Options{
		ChainID:             testChain,
		Stake:               big.NewInt(100_000_000_000_000_000),
		ConfidenceThreshold: 50,
		StartBlock:          startBlock,
		MarketsContract:     marketsContract,
		Owner:               "test-owner",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func (h *harness) market(t *testing.T, onchainID uint64) domain.Market {
	t.Helper()
	m, err := h.markets.Upsert(context.Background(), domain.Market{
		ChainID:         testChain,
		ContractAddress: marketsContract,
		OnchainID:       onchainID,
		Question:        "Will it rain?",
		Status:          domain.MarketStatusResolved,
	})
	require.NoError(t, err)
	return m
}

func (h *harness) candidate(t *testing.T, marketID string, at time.Time) domain.Dispute {
	t.Helper()
	d, err := h.disputes.Create(context.Background(), domain.Dispute{
		MarketID:        marketID,
		Submitter:       botAddr,
		EvidenceHash:    "0x" + "ab" + "00000000000000000000000000000000000000000000000000000000000000",
		ProposedOutcome: 1,
		AIConfidence:    30,
		SubmittedAt:     at,
	})
	require.NoError(t, err)
	return d
}

func TestCheckpointName(t *testing.T) {
	h := newHarness(t, nil, -1)
	assert.Equal(t, "dispute_bot:97:0xd15c000000000000000000000000000000000001", h.bot.CheckpointName())
}

func TestSyncEventsStartsAtHeadThenAdvances(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, -1)

	require.NoError(t, h.bot.SyncEvents(ctx))
	wm, err := h.bot.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), wm)
	assert.Empty(t, h.contract.scans)

	h.contract.head = 150
	require.NoError(t, h.bot.SyncEvents(ctx))
	assert.Equal(t, [][2]uint64{{101, 150}}, h.contract.scans)

	require.NoError(t, h.bot.SyncEvents(ctx))
	assert.Len(t, h.contract.scans, 1, "no scan when nothing new was mined")
}

func TestSyncEventsRetriesThenSkipsUnreadableRange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, 10)
	h.contract.eventsErr = errors.New("query returned more than 10000 results")

	require.Error(t, h.bot.SyncEvents(ctx))
	require.Error(t, h.bot.SyncEvents(ctx))
	_, err := h.bot.Watermark(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, h.bot.SyncEvents(ctx))
	wm, err := h.bot.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), wm)
	assert.Equal(t, [][2]uint64{{10, 100}, {10, 100}, {10, 100}}, h.contract.scans)
	assert.Contains(t, h.audit.Events(), "dispute_events_skipped")

	h.contract.eventsErr = nil
	h.contract.head = 120
	require.NoError(t, h.bot.SyncEvents(ctx))
	assert.Equal(t, [2]uint64{101, 120}, h.contract.scans[3])
}

func TestSyncFailureDoesNotBlockSubmission(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, 10)
	h.contract.eventsErr = errors.New("rpc down")
	m := h.market(t, 42)
	d := h.candidate(t, m.ID, time.Now().Add(-time.Minute))

	require.Error(t, h.bot.RunCycle(ctx))

	require.Len(t, h.contract.submits, 1)
	got, err := h.disputes.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.DisputeID)
}

func TestRunCycleSubmitsCandidate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, -1)
	m := h.market(t, 42)
	d := h.candidate(t, m.ID, time.Now().Add(-time.Minute))

	require.NoError(t, h.bot.RunCycle(ctx))

	require.Len(t, h.contract.submits, 1)
	assert.Equal(t, uint64(42), h.contract.submits[0].MarketID)
	assert.Equal(t, uint64(1), h.contract.submits[0].ProposedOutcome)

	got, err := h.disputes.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.DisputeID)
	assert.Equal(t, "0.1", got.Stake)
	assert.Empty(t, got.LeaseOwner)
	assert.Contains(t, h.audit.Events(), "dispute_submitted")
}

func TestSubmitDropsDuplicateCandidate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, -1)
	m := h.market(t, 42)
	first := h.candidate(t, m.ID, time.Now().Add(-2*time.Minute))
	h.candidate(t, m.ID, time.Now().Add(-time.Minute))

	require.NoError(t, h.bot.RunCycle(ctx))

	assert.Len(t, h.contract.submits, 1)
	rows := h.disputes.All()
	require.Len(t, rows, 1)
	assert.Equal(t, first.ID, rows[0].ID)
	assert.Equal(t, uint64(7), rows[0].DisputeID)
	assert.Contains(t, h.audit.Events(), "dispute_duplicate_deleted")
}

func TestMissingEventIsBackfilledInsteadOfResubmitted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, -1)
	m := h.market(t, 42)
	d := h.candidate(t, m.ID, time.Now().Add(-time.Minute))
	h.contract.omitEvent = true

	require.NoError(t, h.bot.RunCycle(ctx))
	require.Len(t, h.contract.submits, 1)
	got, err := h.disputes.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, got.Submitted())
	assert.Empty(t, got.LeaseOwner)

	h.contract.head = 101
	h.contract.events.Submitted = []domain.DisputeSubmittedEvent{{
		DisputeID:   7,
		MarketID:    42,
		Submitter:   botAddr,
		BlockNumber: 101,
	}}
	require.NoError(t, h.bot.RunCycle(ctx))

	assert.Len(t, h.contract.submits, 1, "back-filled candidate is not resubmitted")
	got, err = h.disputes.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.DisputeID)
}

func TestSubmitErrorLeavesCandidate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, -1)
	m := h.market(t, 42)
	d := h.candidate(t, m.ID, time.Now().Add(-time.Minute))
	h.contract.submitErr = errors.New("insufficient funds")

	require.NoError(t, h.bot.RunCycle(ctx))

	got, err := h.disputes.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, got.Submitted())
	assert.Equal(t, "test-owner", got.LeaseOwner)
}

func TestSubmitSkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeLocks{held: true}, -1)
	m := h.market(t, 42)
	d := h.candidate(t, m.ID, time.Now().Add(-time.Minute))

	require.NoError(t, h.bot.RunCycle(ctx))

	assert.Empty(t, h.contract.submits)
	got, err := h.disputes.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, got.Submitted())
	assert.Empty(t, got.LeaseOwner)
}

func TestSubmitIgnoresOtherSubmitters(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, -1)
	m := h.market(t, 42)
	_, err := h.disputes.Create(ctx, domain.Dispute{
		MarketID:     m.ID,
		Submitter:    "0x00000000000000000000000000000000000000bb",
		AIConfidence: 10,
	})
	require.NoError(t, err)

	require.NoError(t, h.bot.RunCycle(ctx))
	assert.Empty(t, h.contract.submits)
}

func TestOwnCandidateNotStarvedByOtherSubmitters(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, -1)
	old := time.Now().Add(-time.Hour)
	for i := uint64(0); i < 6; i++ {
		_, err := h.disputes.Create(ctx, domain.Dispute{
			MarketID:     h.market(t, 200+i).ID,
			Submitter:    "0x0000000000000000000000000000000000000000",
			AIConfidence: 10,
			SubmittedAt:  old,
		})
		require.NoError(t, err)
	}
	m := h.market(t, 42)
	own := h.candidate(t, m.ID, time.Now().Add(-time.Minute))

	require.NoError(t, h.bot.RunCycle(ctx))

	require.Len(t, h.contract.submits, 1)
	assert.Equal(t, uint64(42), h.contract.submits[0].MarketID)
	got, err := h.disputes.GetByID(ctx, own.ID)
	require.NoError(t, err)
	assert.True(t, got.Submitted())
}

func TestBackfillMatchesMarketsContractOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, -1)
	subjective, err := h.markets.Upsert(ctx, domain.Market{
		ChainID:         testChain,
		ContractAddress: "0xfactory",
		OnchainID:       42,
		Type:            domain.MarketTypeSubjective,
	})
	require.NoError(t, err)
	decoy := h.candidate(t, subjective.ID, time.Now().Add(-2*time.Minute))
	target := h.candidate(t, h.market(t, 42).ID, time.Now().Add(-time.Minute))

	require.NoError(t, h.bot.SyncEvents(ctx))
	h.contract.head = 101
	h.contract.events.Submitted = []domain.DisputeSubmittedEvent{{
		DisputeID: 9, MarketID: 42, Submitter: botAddr, BlockNumber: 101,
	}}
	require.NoError(t, h.bot.SyncEvents(ctx))

	got, err := h.disputes.GetByID(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), got.DisputeID)
	got, err = h.disputes.GetByID(ctx, decoy.ID)
	require.NoError(t, err)
	assert.False(t, got.Submitted())
}

func TestSyncRunsResolvedAndClaimedEvents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, -1)
	m := h.market(t, 42)
	won := h.candidate(t, m.ID, time.Now().Add(-2*time.Minute))
	lost := h.candidate(t, h.market(t, 43).ID, time.Now().Add(-time.Minute))
	_, err := h.disputes.AssignDisputeID(ctx, won.ID, testChain, 1, "0.1")
	require.NoError(t, err)
	_, err = h.disputes.AssignDisputeID(ctx, lost.ID, testChain, 2, "0.1")
	require.NoError(t, err)

	require.NoError(t, h.bot.SyncEvents(ctx))
	h.contract.head = 120
	h.contract.events = domain.DisputeEvents{
		Resolved: []domain.DisputeResolvedEvent{
			{DisputeID: 1, Accepted: true, BlockNumber: 110},
			{DisputeID: 2, Accepted: false, BlockNumber: 110},
		},
		Claimed: []domain.RewardClaimedEvent{
			{DisputeID: 1, Claimer: "0x00000000000000000000000000000000000000AA", BlockNumber: 115},
		},
	}
	require.NoError(t, h.bot.SyncEvents(ctx))

	got, err := h.disputes.GetByID(ctx, won.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusClaimed, got.Status)
	got, err = h.disputes.GetByID(ctx, lost.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusRejected, got.Status)
}

func resolvedDispute(t *testing.T, h *harness, disputeID uint64) domain.Dispute {
	t.Helper()
	ctx := context.Background()
	d := h.candidate(t, h.market(t, disputeID+100).ID, time.Now().Add(-time.Minute))
	_, err := h.disputes.AssignDisputeID(ctx, d.ID, testChain, disputeID, "0.1")
	require.NoError(t, err)
	require.NoError(t, h.disputes.TransitionStatus(ctx, d.ID, domain.DisputeStatusActive, domain.DisputeStatusResolved))
	return d
}

func TestClaimRewards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, -1)
	d := resolvedDispute(t, h, 3)
	h.contract.live[3] = domain.OnchainDisputeResolved

	require.NoError(t, h.bot.ClaimRewards(ctx))
	require.NoError(t, h.bot.ClaimRewards(ctx))

	assert.Equal(t, []uint64{3}, h.contract.claims)
	got, err := h.disputes.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusClaimed, got.Status)
	assert.Contains(t, h.audit.Events(), "reward_claimed")
}

func TestClaimAlreadyClaimedMarksRow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, -1)
	d := resolvedDispute(t, h, 4)
	h.contract.live[4] = domain.OnchainDisputeResolved
	h.contract.claimErr = errors.New("execution reverted: Already claimed")

	require.NoError(t, h.bot.ClaimRewards(ctx))

	got, err := h.disputes.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusClaimed, got.Status)
}

func TestClaimSkipsWhenLiveStatusNotResolved(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, -1)
	d := resolvedDispute(t, h, 5)
	h.contract.live[5] = domain.OnchainDisputeRejected

	require.NoError(t, h.bot.ClaimRewards(ctx))

	assert.Empty(t, h.contract.claims)
	got, err := h.disputes.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusResolved, got.Status)
}

func TestClaimFailureKeepsRowResolved(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, -1)
	d := resolvedDispute(t, h, 6)
	h.contract.live[6] = domain.OnchainDisputeResolved
	h.contract.claimErr = errors.New("nonce too low")

	require.NoError(t, h.bot.ClaimRewards(ctx))

	got, err := h.disputes.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusResolved, got.Status)
}
