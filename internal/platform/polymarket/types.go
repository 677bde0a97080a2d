package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// Marketplace is the ExternalMarket.Marketplace value of Gamma listings.
const Marketplace = "polymarket"

// defaultResolution is used when a listing carries no usable end date.
const defaultResolution = 24 * time.Hour

// flexFloat unmarshals from a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// flexPrices unmarshals outcomePrices, which Gamma sends either as a
// JSON-encoded string ("[\"0.5\",\"0.5\"]") or as an array of strings or
// numbers.
type flexPrices []string

func (p *flexPrices) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			*p = nil
			return nil
		}
		data = []byte(s)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var v string
		if err := json.Unmarshal(r, &v); err != nil {
			v = string(r)
		}
		out = append(out, v)
	}
	*p = out
	return nil
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID            string     `json:"id"`
	Question      string     `json:"question"`
	Category      string     `json:"category"`
	Slug          string     `json:"slug"`
	Closed        bool       `json:"closed"`
	OutcomePrices flexPrices `json:"outcomePrices"`
	Liquidity     flexFloat  `json:"liquidity"`
	EndDate       string     `json:"endDate"`
}

// PriceBps converts the first outcome price to basis points, rounding half
// away from zero. A missing or unparseable price counts as 0.5.
func (m *APIMarket) PriceBps() int {
	p := decimal.NewFromFloat(0.5)
	if len(m.OutcomePrices) > 0 {
		if v, err := decimal.NewFromString(strings.TrimSpace(m.OutcomePrices[0])); err == nil {
			p = v
		}
	}
	bps := p.Mul(decimal.NewFromInt(domain.MaxPriceBps)).Round(0).IntPart()
	switch {
	case bps < 0:
		return 0
	case bps > domain.MaxPriceBps:
		return domain.MaxPriceBps
	}
	return int(bps)
}

// ToExternalMarket normalizes a listing. now stamps LastUpdate and anchors the
// default resolution time.
func (m *APIMarket) ToExternalMarket(now time.Time) domain.ExternalMarket {
	category := strings.TrimSpace(m.Category)
	if category == "" {
		category = "general"
	}
	resolution := now.Add(defaultResolution)
	if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
		resolution = t.UTC()
	}
	return domain.ExternalMarket{
		Marketplace:    Marketplace,
		ExternalID:     m.ID,
		Question:       m.Question,
		Category:       category,
		PriceBps:       m.PriceBps(),
		Liquidity:      float64(m.Liquidity),
		ResolutionTime: resolution,
		LastUpdate:     now,
	}
}
