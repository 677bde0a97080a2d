package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/oraclebot/internal/crypto"
	"github.com/alanyoungcy/oraclebot/internal/domain"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var disputeAddr = common.HexToAddress("0x52EbCBf8c967Fcb4b83644626822881ADaA9bffF")

type fakeBackend struct {
	mu          sync.Mutex
	head        uint64
	callOut     []byte
	estimateErr error
	sent        []*types.Transaction
	receiptLogs func(tx *types.Transaction) []*types.Log
	status      uint64
	filterCalls [][2]uint64
	logs        []types.Log
	headErr     error
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return f.head, f.headErr }

func (f *fakeBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return f.callOut, nil
}

func (f *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	f.filterCalls = append(f.filterCalls, [2]uint64{from, to})
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(10_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.sent {
		if tx.Hash() != h {
			continue
		}
		r := &types.Receipt{Status: f.status, TxHash: h, BlockNumber: big.NewInt(100)}
		if f.receiptLogs != nil {
			r.Logs = f.receiptLogs(tx)
		}
		return r, nil
	}
	return nil, ethereum.NotFound
}

func newTestClient(t *testing.T, b *fakeBackend) *Client {
	t.Helper()
	signer, err := crypto.NewSigner(testKey, 97)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(b, signer, Options{PollInterval: time.Millisecond, MaxBlockRange: 10}, logger)
}

func submittedLog(t *testing.T, disputeID, marketID uint64, submitter common.Address, block uint64) types.Log {
	t.Helper()
	ev := disputeABI.Events["DisputeSubmitted"]
	data, err := ev.Inputs.NonIndexed().Pack([32]byte{1}, big.NewInt(1))
	require.NoError(t, err)
	return types.Log{
		Address: disputeAddr,
		Topics: []common.Hash{
			ev.ID,
			common.BigToHash(new(big.Int).SetUint64(disputeID)),
			common.BigToHash(new(big.Int).SetUint64(marketID)),
			common.BytesToHash(submitter.Bytes()),
		},
		Data:        data,
		BlockNumber: block,
	}
}

func TestSubmitDisputeReadsIDFromReceipt(t *testing.T) {
	b := &fakeBackend{status: types.ReceiptStatusSuccessful}
	c := newTestClient(t, b)
	b.receiptLogs = func(*types.Transaction) []*types.Log {
		other := submittedLog(t, 11, 42, common.HexToAddress("0x01"), 100)
		mine := submittedLog(t, 12, 42, c.From(), 100)
		return []*types.Log{&other, &mine}
	}
	dc := NewDisputeContract(c, disputeAddr.Hex())

	stake, err := ParseEther("0.1")
	require.NoError(t, err)

	res, err := dc.SubmitDispute(context.Background(), domain.SubmitRequest{
		MarketID:        42,
		EvidenceHash:    common.Hash{1}.Hex(),
		ProposedOutcome: 1,
		Stake:           stake,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(12), res.DisputeID)
	assert.Equal(t, uint64(100), res.BlockNumber)

	require.Len(t, b.sent, 1)
	assert.Equal(t, stake, b.sent[0].Value())
	assert.Equal(t, uint64(120_000), b.sent[0].Gas())
}

func TestSubmitDisputeWithoutEventLeavesIDZero(t *testing.T) {
	b := &fakeBackend{status: types.ReceiptStatusSuccessful}
	dc := NewDisputeContract(newTestClient(t, b), disputeAddr.Hex())

	res, err := dc.SubmitDispute(context.Background(), domain.SubmitRequest{
		MarketID: 42, EvidenceHash: common.Hash{1}.Hex(), Stake: big.NewInt(1),
	})
	require.NoError(t, err)
	assert.Zero(t, res.DisputeID)
}

func TestRevertedTransaction(t *testing.T) {
	b := &fakeBackend{status: types.ReceiptStatusFailed}
	dc := NewDisputeContract(newTestClient(t, b), disputeAddr.Hex())

	_, err := dc.ClaimReward(context.Background(), 3)
	assert.ErrorIs(t, err, ErrReverted)
}

func TestClaimRevertDuringEstimateIsNotSent(t *testing.T) {
	b := &fakeBackend{estimateErr: errors.New("execution reverted: Already claimed")}
	dc := NewDisputeContract(newTestClient(t, b), disputeAddr.Hex())

	_, err := dc.ClaimReward(context.Background(), 3)
	require.Error(t, err)
	assert.True(t, IsAlreadyClaimed(err))
	assert.Empty(t, b.sent)
}

func TestEstimateFailureFallsBackToConfiguredGas(t *testing.T) {
	b := &fakeBackend{estimateErr: errors.New("rpc timeout"), status: types.ReceiptStatusSuccessful}
	dc := NewDisputeContract(newTestClient(t, b), disputeAddr.Hex())

	_, err := dc.ClaimReward(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, b.sent, 1)
	assert.Equal(t, uint64(600_000), b.sent[0].Gas())
}

func TestGetDispute(t *testing.T) {
	out, err := disputeABI.Methods["getDispute"].Outputs.Pack(disputeTuple{
		Id:              big.NewInt(7),
		MarketId:        big.NewInt(42),
		Submitter:       common.HexToAddress("0xAbC0000000000000000000000000000000000001"),
		EvidenceHash:    [32]byte{9},
		Stake:           big.NewInt(100),
		SubmittedAt:     big.NewInt(1_700_000_000),
		Status:          uint8(domain.OnchainDisputeResolved),
		VotesFor:        big.NewInt(3),
		VotesAgainst:    big.NewInt(1),
		ProposedOutcome: big.NewInt(1),
		AiConfidence:    big.NewInt(15),
	})
	require.NoError(t, err)

	dc := NewDisputeContract(newTestClient(t, &fakeBackend{callOut: out}), disputeAddr.Hex())
	got, err := dc.GetDispute(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.DisputeID)
	assert.Equal(t, domain.OnchainDisputeResolved, got.Status)
	assert.Equal(t, "0xabc0000000000000000000000000000000000001", got.Submitter)
	assert.Equal(t, uint64(15), got.AIConfidence)
}

func TestDisputeEventsDecoding(t *testing.T) {
	resolvedEv := disputeABI.Events["DisputeResolved"]
	resolvedData, err := resolvedEv.Inputs.NonIndexed().Pack(true, big.NewInt(1))
	require.NoError(t, err)
	claimedEv := disputeABI.Events["RewardClaimed"]
	claimedData, err := claimedEv.Inputs.NonIndexed().Pack(big.NewInt(5))
	require.NoError(t, err)
	claimer := common.HexToAddress("0x02")

	b := &fakeBackend{logs: []types.Log{
		submittedLog(t, 1, 42, common.HexToAddress("0x01"), 3),
		{Address: disputeAddr, Topics: []common.Hash{resolvedEv.ID, common.BigToHash(big.NewInt(1))}, Data: resolvedData, BlockNumber: 15},
		{Address: disputeAddr, Topics: []common.Hash{claimedEv.ID, common.BigToHash(big.NewInt(1)), common.BytesToHash(claimer.Bytes())}, Data: claimedData, BlockNumber: 25},
	}}
	dc := NewDisputeContract(newTestClient(t, b), disputeAddr.Hex())

	evs, err := dc.DisputeEvents(context.Background(), 0, 25)
	require.NoError(t, err)

	require.Len(t, evs.Submitted, 1)
	assert.Equal(t, uint64(1), evs.Submitted[0].DisputeID)
	assert.Equal(t, uint64(42), evs.Submitted[0].MarketID)
	assert.Equal(t, "0x0000000000000000000000000000000000000001", evs.Submitted[0].Submitter)

	require.Len(t, evs.Resolved, 1)
	assert.True(t, evs.Resolved[0].Accepted)

	require.Len(t, evs.Claimed, 1)
	assert.Equal(t, int64(5), evs.Claimed[0].Amount.Int64())
	assert.Equal(t, "0x0000000000000000000000000000000000000002", evs.Claimed[0].Claimer)

	assert.Equal(t, [][2]uint64{{0, 9}, {10, 19}, {20, 25}}, b.filterCalls)
}

func TestDisputeEventsSkipsUndecodableLog(t *testing.T) {
	truncated := submittedLog(t, 2, 43, common.HexToAddress("0x01"), 4)
	truncated.Topics = truncated.Topics[:2]

	b := &fakeBackend{logs: []types.Log{
		submittedLog(t, 1, 42, common.HexToAddress("0x01"), 3),
		truncated,
		submittedLog(t, 3, 44, common.HexToAddress("0x01"), 5),
	}}
	dc := NewDisputeContract(newTestClient(t, b), disputeAddr.Hex())

	evs, err := dc.DisputeEvents(context.Background(), 0, 9)
	require.NoError(t, err)
	require.Len(t, evs.Submitted, 2)
	assert.Equal(t, uint64(1), evs.Submitted[0].DisputeID)
	assert.Equal(t, uint64(3), evs.Submitted[1].DisputeID)
}

func TestGetMarketAndCommitments(t *testing.T) {
	v1 := common.HexToAddress("0x11")
	v2 := common.HexToAddress("0x22")
	out, err := factoryABI.Methods["getMarket"].Outputs.Pack(
		big.NewInt(5), "Best pizza?", common.HexToAddress("0x33"), []common.Address{v1, v2},
		big.NewInt(2), big.NewInt(1_700_000_000), uint8(domain.SubjectivePhaseCommit),
		big.NewInt(0), big.NewInt(0), big.NewInt(1_600_000_000),
	)
	require.NoError(t, err)

	ev := factoryABI.Events["CommitmentSubmitted"]
	b := &fakeBackend{callOut: out, head: 50, logs: []types.Log{{
		Address:     common.HexToAddress("0x6E83054913aA6C616257Dae2e87BC44F9260EDc6"),
		Topics:      []common.Hash{ev.ID, common.BigToHash(big.NewInt(5)), common.BytesToHash(v1.Bytes())},
		BlockNumber: 40,
	}}}
	f := NewSubjectiveFactory(newTestClient(t, b), "0x6E83054913aA6C616257Dae2e87BC44F9260EDc6")

	st, err := f.GetMarket(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"0x0000000000000000000000000000000000000011", "0x0000000000000000000000000000000000000022"}, st.Verifiers)
	assert.Equal(t, domain.SubjectivePhaseCommit, st.Phase)

	commits, err := f.Commitments(context.Background(), 5, 0)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "0x0000000000000000000000000000000000000011", commits[0].Verifier)
}

func TestClientPing(t *testing.T) {
	b := &fakeBackend{head: 10}
	c := newTestClient(t, b)
	require.NoError(t, c.Ping(context.Background()))

	b.headErr = errors.New("connection refused")
	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain: block number")
}

func TestParseEther(t *testing.T) {
	wei, err := ParseEther("0.1")
	require.NoError(t, err)
	assert.Equal(t, "100000000000000000", wei.String())
	assert.Equal(t, "0.1", FormatEther(wei))

	_, err = ParseEther("abc")
	assert.Error(t, err)
	_, err = ParseEther("0.0000000000000000001")
	assert.Error(t, err)
	_, err = ParseEther("-1")
	assert.Error(t, err)
}

func TestIsAlreadyClaimed(t *testing.T) {
	assert.True(t, IsAlreadyClaimed(errors.New("execution reverted: AlreadyClaimed()")))
	assert.True(t, IsAlreadyClaimed(errors.New("Reward already claimed")))
	assert.False(t, IsAlreadyClaimed(errors.New("nonce too low")))
	assert.False(t, IsAlreadyClaimed(nil))
}
