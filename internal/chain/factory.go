package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// SubjectiveFactory implements domain.SubjectiveFactory.
type SubjectiveFactory struct {
	client  *Client
	address common.Address
}

// NewSubjectiveFactory binds the subjective market factory at address.
func NewSubjectiveFactory(client *Client, address string) *SubjectiveFactory {
	return &SubjectiveFactory{client: client, address: common.HexToAddress(address)}
}

// Address returns the contract address in lower-case hex.
func (f *SubjectiveFactory) Address() string {
	return strings.ToLower(f.address.Hex())
}

// marketOutputs mirrors the getMarket return values.
type marketOutputs struct {
	Id             *big.Int
	Question       string
	Creator        common.Address
	Verifiers      []common.Address
	Threshold      *big.Int
	ResolutionTime *big.Int
	Phase          uint8
	Outcome        *big.Int
	RevealCount    *big.Int
	CreatedAt      *big.Int
}

// GetMarket reads the live market state.
func (f *SubjectiveFactory) GetMarket(ctx context.Context, marketID uint64) (domain.SubjectiveMarketState, error) {
	data, err := factoryABI.Pack("getMarket", new(big.Int).SetUint64(marketID))
	if err != nil {
		return domain.SubjectiveMarketState{}, fmt.Errorf("chain: pack getMarket: %w", err)
	}
	raw, err := f.client.Call(ctx, f.address, data)
	if err != nil {
		return domain.SubjectiveMarketState{}, fmt.Errorf("chain: getMarket %d: %w", marketID, err)
	}
	var out marketOutputs
	if err := factoryABI.UnpackIntoInterface(&out, "getMarket", raw); err != nil {
		return domain.SubjectiveMarketState{}, fmt.Errorf("chain: unpack getMarket: %w", err)
	}

	verifiers := make([]string, len(out.Verifiers))
	for i, v := range out.Verifiers {
		verifiers[i] = strings.ToLower(v.Hex())
	}
	return domain.SubjectiveMarketState{
		MarketID:       out.Id.Uint64(),
		Question:       out.Question,
		Creator:        strings.ToLower(out.Creator.Hex()),
		Verifiers:      verifiers,
		Threshold:      out.Threshold.Uint64(),
		ResolutionTime: time.Unix(out.ResolutionTime.Int64(), 0).UTC(),
		Phase:          domain.SubjectivePhase(out.Phase),
		Outcome:        out.Outcome.Uint64(),
		RevealCount:    out.RevealCount.Uint64(),
	}, nil
}

// StartCommitPhase moves the market into its commit phase.
func (f *SubjectiveFactory) StartCommitPhase(ctx context.Context, marketID uint64) (string, error) {
	return f.transact(ctx, "startCommitPhase", marketID)
}

// StartRevealPhase moves the market into its reveal phase.
func (f *SubjectiveFactory) StartRevealPhase(ctx context.Context, marketID uint64) (string, error) {
	return f.transact(ctx, "startRevealPhase", marketID)
}

// ForceResolveMarket resolves the market from the revealed outcomes.
func (f *SubjectiveFactory) ForceResolveMarket(ctx context.Context, marketID uint64) (string, error) {
	return f.transact(ctx, "forceResolveMarket", marketID)
}

func (f *SubjectiveFactory) transact(ctx context.Context, method string, marketID uint64) (string, error) {
	data, err := factoryABI.Pack(method, new(big.Int).SetUint64(marketID))
	if err != nil {
		return "", fmt.Errorf("chain: pack %s: %w", method, err)
	}
	receipt, err := f.client.Transact(ctx, f.address, nil, data)
	if err != nil {
		return "", fmt.Errorf("chain: %s %d: %w", method, marketID, err)
	}
	return receipt.TxHash.Hex(), nil
}

// Commitments returns the CommitmentSubmitted logs of marketID from
// fromBlock to the chain head.
func (f *SubjectiveFactory) Commitments(ctx context.Context, marketID uint64, fromBlock uint64) ([]domain.CommitmentEvent, error) {
	ev := factoryABI.Events["CommitmentSubmitted"]
	logs, err := f.marketLogs(ctx, ev.ID, marketID, fromBlock)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CommitmentEvent, 0, len(logs))
	for _, l := range logs {
		fields, err := decodeEvent(factoryABI, ev, l)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.CommitmentEvent{
			MarketID:    bigField(fields, "marketId").Uint64(),
			Verifier:    addressField(fields, "verifier"),
			BlockNumber: l.BlockNumber,
		})
	}
	return out, nil
}

// Reveals returns the OutcomeRevealed logs of marketID from fromBlock to the
// chain head.
func (f *SubjectiveFactory) Reveals(ctx context.Context, marketID uint64, fromBlock uint64) ([]domain.RevealEvent, error) {
	ev := factoryABI.Events["OutcomeRevealed"]
	logs, err := f.marketLogs(ctx, ev.ID, marketID, fromBlock)
	if err != nil {
		return nil, err
	}
	out := make([]domain.RevealEvent, 0, len(logs))
	for _, l := range logs {
		fields, err := decodeEvent(factoryABI, ev, l)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.RevealEvent{
			MarketID:    bigField(fields, "marketId").Uint64(),
			Verifier:    addressField(fields, "verifier"),
			Outcome:     bigField(fields, "outcome").Uint64(),
			BlockNumber: l.BlockNumber,
		})
	}
	return out, nil
}

func (f *SubjectiveFactory) marketLogs(ctx context.Context, topic common.Hash, marketID, fromBlock uint64) ([]types.Log, error) {
	head, err := f.client.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	q := ethereum.FilterQuery{
		Addresses: []common.Address{f.address},
		Topics: [][]common.Hash{
			{topic},
			{common.BigToHash(new(big.Int).SetUint64(marketID))},
		},
	}
	return f.client.FilterLogs(ctx, q, fromBlock, head)
}

var _ domain.SubjectiveFactory = (*SubjectiveFactory)(nil)
