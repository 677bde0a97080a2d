package domain

import "time"

// DisputeStatus is the local lifecycle state of a dispute.
type DisputeStatus string

const (
	DisputeStatusActive   DisputeStatus = "active"
	DisputeStatusResolved DisputeStatus = "resolved"
	DisputeStatusRejected DisputeStatus = "rejected"
	DisputeStatusClaimed  DisputeStatus = "claimed"
)

// CanTransitionTo reports whether s may move to next. Status is monotone:
// active -> resolved|rejected, resolved -> claimed. Nothing leaves rejected
// or claimed.
func (s DisputeStatus) CanTransitionTo(next DisputeStatus) bool {
	switch s {
	case DisputeStatusActive:
		return next == DisputeStatusResolved || next == DisputeStatusRejected
	case DisputeStatusResolved:
		return next == DisputeStatusClaimed
	default:
		return false
	}
}

// Dispute is a challenge against a resolved market's recorded outcome.
// DisputeID is the on-chain id and stays 0 until the submission is observed.
type Dispute struct {
	ID              string
	ChainID         int64
	DisputeID       uint64
	MarketID        string
	Submitter       string
	EvidenceHash    string
	Stake           string
	Status          DisputeStatus
	ProposedOutcome uint64
	AIConfidence    int
	SubmittedAt     time.Time
	UpdatedAt       time.Time
	LeaseOwner      string
	LeaseUntil      *time.Time
}

// Submitted reports whether the dispute has an on-chain id.
func (d Dispute) Submitted() bool {
	return d.DisputeID != 0
}
