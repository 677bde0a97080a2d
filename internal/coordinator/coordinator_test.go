package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/oraclebot/internal/domain"
	"github.com/alanyoungcy/oraclebot/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFactory struct {
	mu        sync.Mutex
	phase     domain.SubjectivePhase
	outcome   uint64
	verifiers []string
	commits   []domain.CommitmentEvent
	callErr   error
	calls     []string
}

func (f *fakeFactory) Address() string { return "0xfactory" }

func (f *fakeFactory) GetMarket(_ context.Context, id uint64) (domain.SubjectiveMarketState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.SubjectiveMarketState{MarketID: id, Verifiers: f.verifiers, Phase: f.phase, Outcome: f.outcome}, nil
}

func (f *fakeFactory) write(name string, next domain.SubjectivePhase) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.callErr != nil {
		return "", f.callErr
	}
	f.phase = next
	return "0x" + name, nil
}

func (f *fakeFactory) StartCommitPhase(context.Context, uint64) (string, error) {
	return f.write("startCommitPhase", domain.SubjectivePhaseCommit)
}

func (f *fakeFactory) StartRevealPhase(context.Context, uint64) (string, error) {
	return f.write("startRevealPhase", domain.SubjectivePhaseReveal)
}

func (f *fakeFactory) ForceResolveMarket(context.Context, uint64) (string, error) {
	return f.write("forceResolveMarket", domain.SubjectivePhaseResolved)
}

func (f *fakeFactory) Commitments(context.Context, uint64, uint64) ([]domain.CommitmentEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits, nil
}

func (f *fakeFactory) Reveals(context.Context, uint64, uint64) ([]domain.RevealEvent, error) {
	return []domain.RevealEvent{{Verifier: "0xv1", Outcome: 1}}, nil
}

func (f *fakeFactory) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recordingSink struct {
	mu   sync.Mutex
	got  []VerifierNotification
	fail bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, n VerifierNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func (s *recordingSink) messages() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.got))
	for _, n := range s.got {
		out[n.Verifier] = n.Message
	}
	return out
}

type harness struct {
	coord   *Coordinator
	factory *fakeFactory
	markets *memory.MarketStore
	sink    *recordingSink
	disp    *Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		factory: &fakeFactory{verifiers: []string{"0xv1", "0xv2"}, outcome: 1},
		markets: memory.NewMarketStore(),
		sink:    &recordingSink{},
	}
	h.disp = NewDispatcher([]Sink{h.sink}, time.Second, nil, discardLogger())
	h.coord = New(Deps{
		Factory:    h.factory,
		Markets:    h.markets,
		Audit:      memory.NewAuditStore(),
		Dispatcher: h.disp,
	}, Options{CommitWindow: time.Hour, RevealWindow: time.Hour}, discardLogger())
	return h
}

func (h *harness) subjective(t *testing.T, resolution time.Time) domain.Market {
	t.Helper()
	m, err := h.markets.Upsert(context.Background(), domain.Market{
		ChainID:         97,
		ContractAddress: "0xfactory",
		OnchainID:       9,
		Question:        "Was the talk good?",
		Type:            domain.MarketTypeSubjective,
		ResolutionTime:  resolution,
	})
	require.NoError(t, err)
	return m
}

func (h *harness) status(t *testing.T, id string) domain.Market {
	t.Helper()
	m, err := h.markets.GetByID(context.Background(), id)
	require.NoError(t, err)
	return m
}

func TestFullLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := h.subjective(t, time.Now().Add(-time.Minute))

	require.NoError(t, h.coord.RunCycle(ctx))
	assert.Equal(t, domain.MarketStatusCommitPhase, h.status(t, m.ID).Status)
	h.disp.Wait()
	assert.Equal(t, map[string]string{"0xv1": commitMessage, "0xv2": commitMessage}, h.sink.messages())

	// Commit window not yet elapsed.
	require.NoError(t, h.coord.RunCycle(ctx))
	assert.Equal(t, domain.MarketStatusCommitPhase, h.status(t, m.ID).Status)

	h.factory.commits = []domain.CommitmentEvent{{MarketID: 9, Verifier: "0xv2"}}
	h.markets.SetStatusChangedAt(m.ID, time.Now().Add(-2*time.Hour))
	require.NoError(t, h.coord.RunCycle(ctx))
	assert.Equal(t, domain.MarketStatusRevealPhase, h.status(t, m.ID).Status)
	h.disp.Wait()
	assert.Equal(t, revealMessage, h.sink.messages()["0xv2"])

	h.markets.SetStatusChangedAt(m.ID, time.Now().Add(-2*time.Hour))
	require.NoError(t, h.coord.RunCycle(ctx))
	got := h.status(t, m.ID)
	assert.Equal(t, domain.MarketStatusResolved, got.Status)
	require.NotNil(t, got.Outcome)
	assert.Equal(t, uint64(1), *got.Outcome)

	assert.Equal(t, []string{"startCommitPhase", "startRevealPhase", "forceResolveMarket"}, h.factory.Calls())
}

func TestActiveMarketWaitsForResolutionTime(t *testing.T) {
	h := newHarness(t)
	m := h.subjective(t, time.Now().Add(time.Hour))

	require.NoError(t, h.coord.RunCycle(context.Background()))

	assert.Equal(t, domain.MarketStatusActive, h.status(t, m.ID).Status)
	assert.Empty(t, h.factory.Calls())
}

func TestRevealRefusedWithoutCommitments(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := h.subjective(t, time.Now().Add(-time.Minute))
	require.NoError(t, h.coord.RunCycle(ctx))

	h.markets.SetStatusChangedAt(m.ID, time.Now().Add(-2*time.Hour))
	require.NoError(t, h.coord.RunCycle(ctx))

	assert.Equal(t, domain.MarketStatusCommitPhase, h.status(t, m.ID).Status)
	assert.Equal(t, []string{"startCommitPhase"}, h.factory.Calls())
}

func TestFailedCallLeavesStatusUnchanged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := h.subjective(t, time.Now().Add(-time.Minute))
	h.factory.callErr = errors.New("execution reverted")

	require.NoError(t, h.coord.RunCycle(ctx))
	assert.Equal(t, domain.MarketStatusActive, h.status(t, m.ID).Status)
	h.disp.Wait()
	assert.Empty(t, h.sink.messages())

	h.factory.callErr = nil
	require.NoError(t, h.coord.RunCycle(ctx))
	assert.Equal(t, domain.MarketStatusCommitPhase, h.status(t, m.ID).Status)
}

func TestPhaseAlreadyAdvancedOnChainIsPersisted(t *testing.T) {
	h := newHarness(t)
	m := h.subjective(t, time.Now().Add(-time.Minute))
	h.factory.phase = domain.SubjectivePhaseCommit

	require.NoError(t, h.coord.RunCycle(context.Background()))

	assert.Equal(t, domain.MarketStatusCommitPhase, h.status(t, m.ID).Status)
	assert.Empty(t, h.factory.Calls())
}

func TestSinkFailureDoesNotBlockTransition(t *testing.T) {
	h := newHarness(t)
	h.sink.fail = true
	m := h.subjective(t, time.Now().Add(-time.Minute))

	require.NoError(t, h.coord.RunCycle(context.Background()))
	h.disp.Wait()

	assert.Equal(t, domain.MarketStatusCommitPhase, h.status(t, m.ID).Status)
}

type fakeBus struct {
	mu        sync.Mutex
	streams   map[string][][]byte
	published map[string][][]byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestBusSinkWritesStreamAndChannel(t *testing.T) {
	bus := &fakeBus{streams: map[string][][]byte{}, published: map[string][][]byte{}}
	n := VerifierNotification{OnchainMarketID: 9, Verifier: "0xABC", Phase: "commit", Message: commitMessage}

	require.NoError(t, NewBusSink(bus).Deliver(context.Background(), n))

	require.Len(t, bus.streams[NotificationStream], 1)
	require.Len(t, bus.published["verifier:0xabc"], 1)
	var decoded VerifierNotification
	require.NoError(t, json.Unmarshal(bus.published["verifier:0xabc"][0], &decoded))
	assert.Equal(t, commitMessage, decoded.Message)
	assert.Equal(t, uint64(9), decoded.OnchainMarketID)
}
