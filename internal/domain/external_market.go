package domain

import "time"

// ExternalMarket is a third-party listing attached to a local parent market.
// (Marketplace, ExternalID) is unique.
type ExternalMarket struct {
	ID             string
	Marketplace    string
	ExternalID     string
	Question       string
	Category       string
	PriceBps       int // 0..10000
	Liquidity      float64
	ResolutionTime time.Time
	LastUpdate     time.Time
	ParentMarketID string
}

// MaxPriceBps is the basis-point value of a certain outcome.
const MaxPriceBps = 10000
