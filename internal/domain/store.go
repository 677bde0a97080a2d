package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SubjectiveFilter selects subjective markets due for a phase transition.
// Nil time bounds are not applied.
type SubjectiveFilter struct {
	Status        MarketStatus
	ResolvedBy    *time.Time // resolution_time <= ResolvedBy
	ChangedBefore *time.Time // status_changed_at <= ChangedBefore
	Limit         int
}

// MarketStore persists market metadata.
type MarketStore interface {
	// Upsert inserts or updates a market keyed by (chain, contract, onchain id)
	// and returns the stored row. Status is never moved by Upsert.
	Upsert(ctx context.Context, market Market) (Market, error)
	// GetOrCreate returns the market with the same identity, inserting it when
	// absent. An existing row is left untouched.
	GetOrCreate(ctx context.Context, market Market) (Market, error)
	GetByID(ctx context.Context, id string) (Market, error)
	// GetByOnchainID returns the market deployed at contract with the given
	// on-chain id, or ErrNotFound.
	GetByOnchainID(ctx context.Context, chainID int64, contract string, onchainID uint64) (Market, error)
	ListRecentlyResolved(ctx context.Context, since time.Time, limit int) ([]Market, error)
	ListSubjective(ctx context.Context, filter SubjectiveFilter) ([]Market, error)
	// AdvanceStatus moves a market from one status to the next when the row is
	// still at from. It returns ErrInvalidTransition for out-of-order moves and
	// ErrConflict when the row is no longer at from.
	AdvanceStatus(ctx context.Context, id string, from, to MarketStatus, outcome *uint64) error
}

// ExternalMarketStore persists third-party listings.
type ExternalMarketStore interface {
	Upsert(ctx context.Context, m ExternalMarket) error
	Get(ctx context.Context, marketplace, externalID string) (ExternalMarket, error)
	ListByMarketplace(ctx context.Context, marketplace string, opts ListOpts) ([]ExternalMarket, error)
}

// DisputeStore persists disputes and implements the conditional transitions
// the submission bot relies on.
type DisputeStore interface {
	Create(ctx context.Context, d Dispute) (Dispute, error)
	GetByID(ctx context.Context, id string) (Dispute, error)
	GetByDisputeID(ctx context.Context, chainID int64, disputeID uint64) (Dispute, error)
	// ExistsForMarket reports whether any dispute exists for (marketID, submitter).
	ExistsForMarket(ctx context.Context, marketID, submitter string) (bool, error)
	// HasSubmittedDuplicate reports whether another dispute for (marketID,
	// submitter) is already on-chain with status active or resolved.
	HasSubmittedDuplicate(ctx context.Context, marketID, submitter, excludeID string) (bool, error)
	// ListCandidates returns submitter's active, unsubmitted disputes with ai
	// confidence below maxConfidence whose lease is free at now, oldest first.
	ListCandidates(ctx context.Context, submitter string, maxConfidence int, now time.Time, limit int) ([]Dispute, error)
	// AcquireLease claims a candidate row for owner until the given time. It
	// returns false when the row is leased elsewhere or no longer a candidate.
	AcquireLease(ctx context.Context, id, owner string, now, until time.Time) (bool, error)
	ReleaseLease(ctx context.Context, id, owner string) error
	// AssignDisputeID sets the on-chain id on a row still at 0. It returns
	// false when the row already has an id.
	AssignDisputeID(ctx context.Context, id string, chainID int64, disputeID uint64, stake string) (bool, error)
	// BackfillDisputeID assigns the on-chain id to the oldest unsubmitted
	// candidate for (marketID, submitter). It returns false when none matched.
	BackfillDisputeID(ctx context.Context, marketID, submitter string, chainID int64, disputeID uint64) (bool, error)
	// TransitionStatus moves a dispute from one status to another. It returns
	// ErrInvalidTransition for non-monotone moves and ErrConflict when the row
	// is no longer at from.
	TransitionStatus(ctx context.Context, id string, from, to DisputeStatus) error
	ListClaimable(ctx context.Context, submitter string, limit int) ([]Dispute, error)
	Delete(ctx context.Context, id string) error
}

// CheckpointStore persists named block watermarks.
type CheckpointStore interface {
	// Get returns ErrNotFound when the checkpoint has never been written.
	Get(ctx context.Context, name string) (uint64, error)
	// Set stores block for name. A lower block never replaces a higher one.
	Set(ctx context.Context, name string, block uint64) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	// DeleteBefore removes entries created strictly before the cutoff and
	// returns how many were removed.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver moves aged records out of the primary store.
type Archiver interface {
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
}

// Pinger is a backend with a reachability check.
type Pinger interface {
	Ping(ctx context.Context) error
}
