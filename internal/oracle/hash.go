package oracle

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// Bundle is the evidence record a dispute's evidence hash commits to. Field
// order is fixed, so equal bundles marshal to equal bytes.
type Bundle struct {
	MarketID        string            `json:"marketId"`
	Question        string            `json:"question"`
	ProposedOutcome uint64            `json:"proposedOutcome"`
	Evidence        []domain.Evidence `json:"evidence"`
	Timestamp       string            `json:"timestamp"`
}

// Encode returns the canonical JSON of b and its keccak256 hash as 0x hex.
func (b Bundle) Encode() (string, []byte, error) {
	if b.Evidence == nil {
		b.Evidence = []domain.Evidence{}
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return "", nil, fmt.Errorf("oracle: marshal evidence bundle: %w", err)
	}
	return crypto.Keccak256Hash(raw).Hex(), raw, nil
}
