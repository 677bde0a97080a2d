package domain

import "time"

// MarketType distinguishes markets resolved by the public oracle from markets
// resolved by a verifier commit-reveal round.
type MarketType string

const (
	MarketTypePublic     MarketType = "public"
	MarketTypeSubjective MarketType = "subjective"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive      MarketStatus = "active"
	MarketStatusCommitPhase MarketStatus = "commit_phase"
	MarketStatusRevealPhase MarketStatus = "reveal_phase"
	MarketStatusResolved    MarketStatus = "resolved"
)

// marketStatusOrder is the forward order every market moves through.
var marketStatusOrder = map[MarketStatus]int{
	MarketStatusActive:      0,
	MarketStatusCommitPhase: 1,
	MarketStatusRevealPhase: 2,
	MarketStatusResolved:    3,
}

// Valid reports whether s is a known status.
func (s MarketStatus) Valid() bool {
	_, ok := marketStatusOrder[s]
	return ok
}

// CanAdvanceTo reports whether a market of type t may move from s to next.
// Subjective markets move exactly one step at a time. Public markets only use
// active and resolved.
func (s MarketStatus) CanAdvanceTo(next MarketStatus, t MarketType) bool {
	from, ok := marketStatusOrder[s]
	if !ok {
		return false
	}
	to, ok := marketStatusOrder[next]
	if !ok {
		return false
	}
	switch t {
	case MarketTypeSubjective:
		return to == from+1
	case MarketTypePublic:
		return s == MarketStatusActive && next == MarketStatusResolved
	default:
		return false
	}
}

// Market is a prediction market as tracked by the local store. The identity
// is (ChainID, ContractAddress, OnchainID); ID is the local row key.
type Market struct {
	ID              string
	ChainID         int64
	ContractAddress string
	OnchainID       uint64
	Question        string
	Category        string
	Type            MarketType
	Status          MarketStatus
	ResolutionTime  time.Time
	Outcome         *uint64
	TotalVolume     float64
	Creator         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StatusChangedAt time.Time
}
