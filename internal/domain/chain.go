package domain

import (
	"context"
	"math/big"
	"time"
)

// OnchainDisputeStatus mirrors the dispute contract's status enum.
type OnchainDisputeStatus uint8

const (
	OnchainDisputeActive OnchainDisputeStatus = iota
	OnchainDisputeResolved
	OnchainDisputeRejected
	OnchainDisputeExpired
)

func (s OnchainDisputeStatus) String() string {
	switch s {
	case OnchainDisputeActive:
		return "Active"
	case OnchainDisputeResolved:
		return "Resolved"
	case OnchainDisputeRejected:
		return "Rejected"
	case OnchainDisputeExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// OnchainDispute is the live state returned by getDispute.
type OnchainDispute struct {
	DisputeID       uint64
	MarketID        uint64
	Submitter       string
	EvidenceHash    string
	Stake           *big.Int
	SubmittedAt     time.Time
	Status          OnchainDisputeStatus
	VotesFor        *big.Int
	VotesAgainst    *big.Int
	ProposedOutcome uint64
	AIConfidence    uint64
}

// DisputeSubmittedEvent is a decoded DisputeSubmitted log.
type DisputeSubmittedEvent struct {
	DisputeID       uint64
	MarketID        uint64
	Submitter       string
	EvidenceHash    string
	ProposedOutcome uint64
	BlockNumber     uint64
	TxHash          string
}

// DisputeResolvedEvent is a decoded DisputeResolved log.
type DisputeResolvedEvent struct {
	DisputeID   uint64
	Accepted    bool
	Outcome     uint64
	BlockNumber uint64
}

// RewardClaimedEvent is a decoded RewardClaimed log.
type RewardClaimedEvent struct {
	DisputeID   uint64
	Claimer     string
	Amount      *big.Int
	BlockNumber uint64
}

// DisputeEvents groups the dispute contract logs of one block range, each
// slice in log order.
type DisputeEvents struct {
	Submitted []DisputeSubmittedEvent
	Resolved  []DisputeResolvedEvent
	Claimed   []RewardClaimedEvent
}

// SubmitRequest carries the arguments of submitDispute.
type SubmitRequest struct {
	MarketID        uint64
	EvidenceHash    string
	ProposedOutcome uint64
	Stake           *big.Int
}

// SubmitResult describes a mined submitDispute transaction. DisputeID is 0
// when the receipt carried no DisputeSubmitted log.
type SubmitResult struct {
	TxHash      string
	BlockNumber uint64
	DisputeID   uint64
}

// DisputeContract is the consumed interface of the on-chain dispute contract.
// Writes block until the transaction is mined.
type DisputeContract interface {
	Address() string
	LatestBlock(ctx context.Context) (uint64, error)
	SubmitDispute(ctx context.Context, req SubmitRequest) (SubmitResult, error)
	ClaimReward(ctx context.Context, disputeID uint64) (string, error)
	GetDispute(ctx context.Context, disputeID uint64) (OnchainDispute, error)
	DisputeEvents(ctx context.Context, fromBlock, toBlock uint64) (DisputeEvents, error)
}

// SubjectivePhase mirrors the subjective factory's phase enum.
type SubjectivePhase uint8

const (
	SubjectivePhaseActive SubjectivePhase = iota
	SubjectivePhaseCommit
	SubjectivePhaseReveal
	SubjectivePhaseResolved
)

// SubjectiveMarketState is the live state returned by getMarket.
type SubjectiveMarketState struct {
	MarketID       uint64
	Question       string
	Creator        string
	Verifiers      []string
	Threshold      uint64
	ResolutionTime time.Time
	Phase          SubjectivePhase
	Outcome        uint64
	RevealCount    uint64
}

// CommitmentEvent is a decoded CommitmentSubmitted log.
type CommitmentEvent struct {
	MarketID    uint64
	Verifier    string
	BlockNumber uint64
}

// RevealEvent is a decoded OutcomeRevealed log.
type RevealEvent struct {
	MarketID    uint64
	Verifier    string
	Outcome     uint64
	BlockNumber uint64
}

// SubjectiveFactory is the consumed interface of the subjective market
// factory contract.
type SubjectiveFactory interface {
	Address() string
	GetMarket(ctx context.Context, marketID uint64) (SubjectiveMarketState, error)
	StartCommitPhase(ctx context.Context, marketID uint64) (string, error)
	StartRevealPhase(ctx context.Context, marketID uint64) (string, error)
	ForceResolveMarket(ctx context.Context, marketID uint64) (string, error)
	Commitments(ctx context.Context, marketID uint64, fromBlock uint64) ([]CommitmentEvent, error)
	Reveals(ctx context.Context, marketID uint64, fromBlock uint64) ([]RevealEvent, error)
}
