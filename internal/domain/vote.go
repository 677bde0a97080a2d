package domain

import "time"

// Vote is a community tally entry on a dispute. The core never writes votes.
type Vote struct {
	DisputeID string
	Voter     string
	Support   bool
	Weight    float64
	CreatedAt time.Time
}

// SupportRatio returns the weighted share of votes supporting the dispute,
// in [0,1]. It returns 0 when there is no weight at all.
func SupportRatio(votes []Vote) float64 {
	var total, support float64
	for _, v := range votes {
		if v.Weight <= 0 {
			continue
		}
		total += v.Weight
		if v.Support {
			support += v.Weight
		}
	}
	if total == 0 {
		return 0
	}
	return support / total
}
