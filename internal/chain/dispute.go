package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// DisputeContract implements domain.DisputeContract.
type DisputeContract struct {
	client  *Client
	address common.Address
}

// NewDisputeContract binds the dispute contract at address.
func NewDisputeContract(client *Client, address string) *DisputeContract {
	return &DisputeContract{client: client, address: common.HexToAddress(address)}
}

// Address returns the contract address in lower-case hex.
func (d *DisputeContract) Address() string {
	return strings.ToLower(d.address.Hex())
}

// LatestBlock returns the current chain height.
func (d *DisputeContract) LatestBlock(ctx context.Context) (uint64, error) {
	return d.client.LatestBlock(ctx)
}

// SubmitDispute calls submitDispute with req.Stake attached and waits for the
// receipt. The dispute id is read from the receipt's DisputeSubmitted log
// emitted for this signer; it is 0 when no such log is present.
func (d *DisputeContract) SubmitDispute(ctx context.Context, req domain.SubmitRequest) (domain.SubmitResult, error) {
	hash, err := parseBytes32(req.EvidenceHash)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("chain: submit dispute: %w", err)
	}
	data, err := disputeABI.Pack("submitDispute",
		new(big.Int).SetUint64(req.MarketID),
		hash,
		new(big.Int).SetUint64(req.ProposedOutcome),
	)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("chain: pack submitDispute: %w", err)
	}

	receipt, err := d.client.Transact(ctx, d.address, req.Stake, data)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("chain: submitDispute market %d: %w", req.MarketID, err)
	}

	res := domain.SubmitResult{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
	}
	submitter := d.client.From()
	for _, l := range receipt.Logs {
		if l == nil || l.Address != d.address {
			continue
		}
		ev, ok, err := decodeDisputeSubmitted(*l)
		if err != nil || !ok {
			continue
		}
		if ev.MarketID == req.MarketID && strings.EqualFold(ev.Submitter, submitter.Hex()) {
			res.DisputeID = ev.DisputeID
			break
		}
	}
	return res, nil
}

// ClaimReward calls claimReward and returns the mined transaction hash.
func (d *DisputeContract) ClaimReward(ctx context.Context, disputeID uint64) (string, error) {
	data, err := disputeABI.Pack("claimReward", new(big.Int).SetUint64(disputeID))
	if err != nil {
		return "", fmt.Errorf("chain: pack claimReward: %w", err)
	}
	receipt, err := d.client.Transact(ctx, d.address, nil, data)
	if err != nil {
		return "", fmt.Errorf("chain: claimReward #%d: %w", disputeID, err)
	}
	return receipt.TxHash.Hex(), nil
}

// disputeTuple mirrors the getDispute return struct field by field.
type disputeTuple struct {
	Id              *big.Int
	MarketId        *big.Int
	Submitter       common.Address
	EvidenceHash    [32]byte
	Stake           *big.Int
	SubmittedAt     *big.Int
	Status          uint8
	VotesFor        *big.Int
	VotesAgainst    *big.Int
	ProposedOutcome *big.Int
	AiConfidence    *big.Int
}

// GetDispute reads the live dispute state.
func (d *DisputeContract) GetDispute(ctx context.Context, disputeID uint64) (domain.OnchainDispute, error) {
	data, err := disputeABI.Pack("getDispute", new(big.Int).SetUint64(disputeID))
	if err != nil {
		return domain.OnchainDispute{}, fmt.Errorf("chain: pack getDispute: %w", err)
	}
	raw, err := d.client.Call(ctx, d.address, data)
	if err != nil {
		return domain.OnchainDispute{}, fmt.Errorf("chain: getDispute #%d: %w", disputeID, err)
	}
	out, err := disputeABI.Unpack("getDispute", raw)
	if err != nil {
		return domain.OnchainDispute{}, fmt.Errorf("chain: unpack getDispute: %w", err)
	}
	if len(out) != 1 {
		return domain.OnchainDispute{}, fmt.Errorf("chain: getDispute returned %d values", len(out))
	}
	t, ok := abi.ConvertType(out[0], new(disputeTuple)).(*disputeTuple)
	if !ok {
		return domain.OnchainDispute{}, fmt.Errorf("chain: getDispute: unexpected tuple %T", out[0])
	}

	return domain.OnchainDispute{
		DisputeID:       t.Id.Uint64(),
		MarketID:        t.MarketId.Uint64(),
		Submitter:       strings.ToLower(t.Submitter.Hex()),
		EvidenceHash:    common.Hash(t.EvidenceHash).Hex(),
		Stake:           t.Stake,
		SubmittedAt:     time.Unix(t.SubmittedAt.Int64(), 0).UTC(),
		Status:          domain.OnchainDisputeStatus(t.Status),
		VotesFor:        t.VotesFor,
		VotesAgainst:    t.VotesAgainst,
		ProposedOutcome: t.ProposedOutcome.Uint64(),
		AIConfidence:    t.AiConfidence.Uint64(),
	}, nil
}

// DisputeEvents returns the contract's DisputeSubmitted, DisputeResolved and
// RewardClaimed logs in [fromBlock, toBlock].
func (d *DisputeContract) DisputeEvents(ctx context.Context, fromBlock, toBlock uint64) (domain.DisputeEvents, error) {
	q := ethereum.FilterQuery{
		Addresses: []common.Address{d.address},
		Topics: [][]common.Hash{{
			disputeABI.Events["DisputeSubmitted"].ID,
			disputeABI.Events["DisputeResolved"].ID,
			disputeABI.Events["RewardClaimed"].ID,
		}},
	}
	logs, err := d.client.FilterLogs(ctx, q, fromBlock, toBlock)
	if err != nil {
		return domain.DisputeEvents{}, err
	}
	return d.decodeDisputeLogs(logs), nil
}

// decodeDisputeLogs sorts logs into event kinds. A log that fails to decode
// is logged and skipped.
func (d *DisputeContract) decodeDisputeLogs(logs []types.Log) domain.DisputeEvents {
	var evs domain.DisputeEvents
	for _, l := range logs {
		if len(l.Topics) == 0 || l.Removed {
			continue
		}
		var err error
		switch l.Topics[0] {
		case disputeABI.Events["DisputeSubmitted"].ID:
			var ev domain.DisputeSubmittedEvent
			if ev, _, err = decodeDisputeSubmitted(l); err == nil {
				evs.Submitted = append(evs.Submitted, ev)
			}
		case disputeABI.Events["DisputeResolved"].ID:
			var ev domain.DisputeResolvedEvent
			if ev, err = decodeDisputeResolved(l); err == nil {
				evs.Resolved = append(evs.Resolved, ev)
			}
		case disputeABI.Events["RewardClaimed"].ID:
			var ev domain.RewardClaimedEvent
			if ev, err = decodeRewardClaimed(l); err == nil {
				evs.Claimed = append(evs.Claimed, ev)
			}
		}
		if err != nil {
			d.client.logger.Warn("skipping undecodable dispute log",
				slog.Uint64("block", l.BlockNumber),
				slog.String("tx", l.TxHash.Hex()),
				slog.Uint64("index", uint64(l.Index)),
				slog.String("error", err.Error()),
			)
		}
	}
	return evs
}

func decodeDisputeSubmitted(l types.Log) (domain.DisputeSubmittedEvent, bool, error) {
	ev := disputeABI.Events["DisputeSubmitted"]
	if len(l.Topics) == 0 || l.Topics[0] != ev.ID {
		return domain.DisputeSubmittedEvent{}, false, nil
	}
	fields, err := decodeEvent(disputeABI, ev, l)
	if err != nil {
		return domain.DisputeSubmittedEvent{}, false, err
	}
	hash, _ := fields["evidenceHash"].([32]byte)
	return domain.DisputeSubmittedEvent{
		DisputeID:       bigField(fields, "disputeId").Uint64(),
		MarketID:        bigField(fields, "marketId").Uint64(),
		Submitter:       addressField(fields, "submitter"),
		EvidenceHash:    common.Hash(hash).Hex(),
		ProposedOutcome: bigField(fields, "proposedOutcome").Uint64(),
		BlockNumber:     l.BlockNumber,
		TxHash:          l.TxHash.Hex(),
	}, true, nil
}

func decodeDisputeResolved(l types.Log) (domain.DisputeResolvedEvent, error) {
	fields, err := decodeEvent(disputeABI, disputeABI.Events["DisputeResolved"], l)
	if err != nil {
		return domain.DisputeResolvedEvent{}, err
	}
	accepted, _ := fields["accepted"].(bool)
	return domain.DisputeResolvedEvent{
		DisputeID:   bigField(fields, "disputeId").Uint64(),
		Accepted:    accepted,
		Outcome:     bigField(fields, "outcome").Uint64(),
		BlockNumber: l.BlockNumber,
	}, nil
}

func decodeRewardClaimed(l types.Log) (domain.RewardClaimedEvent, error) {
	fields, err := decodeEvent(disputeABI, disputeABI.Events["RewardClaimed"], l)
	if err != nil {
		return domain.RewardClaimedEvent{}, err
	}
	return domain.RewardClaimedEvent{
		DisputeID:   bigField(fields, "disputeId").Uint64(),
		Claimer:     addressField(fields, "claimer"),
		Amount:      bigField(fields, "amount"),
		BlockNumber: l.BlockNumber,
	}, nil
}

// decodeEvent unpacks both the indexed topics and the data of l into a map
// keyed by argument name.
func decodeEvent(contract abi.ABI, ev abi.Event, l types.Log) (map[string]any, error) {
	fields := make(map[string]any)
	if len(l.Data) > 0 {
		if err := contract.UnpackIntoMap(fields, ev.Name, l.Data); err != nil {
			return nil, fmt.Errorf("chain: unpack %s data: %w", ev.Name, err)
		}
	}
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(l.Topics) != len(indexed)+1 {
		return nil, fmt.Errorf("chain: %s: expected %d topics, got %d", ev.Name, len(indexed)+1, len(l.Topics))
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, l.Topics[1:]); err != nil {
		return nil, fmt.Errorf("chain: parse %s topics: %w", ev.Name, err)
	}
	return fields, nil
}

func bigField(fields map[string]any, name string) *big.Int {
	if v, ok := fields[name].(*big.Int); ok && v != nil {
		return v
	}
	return new(big.Int)
}

func addressField(fields map[string]any, name string) string {
	if v, ok := fields[name].(common.Address); ok {
		return strings.ToLower(v.Hex())
	}
	return ""
}

func parseBytes32(s string) ([32]byte, error) {
	var out [32]byte
	b := common.FromHex(s)
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32-byte hex, got %d bytes", len(b))
	}
	copy(out[:], b)
	return out, nil
}

var _ domain.DisputeContract = (*DisputeContract)(nil)
