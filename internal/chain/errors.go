package chain

import "strings"

// alreadyClaimedMarkers are the revert reasons the dispute contract uses for
// a second claim.
var alreadyClaimedMarkers = []string{"already claimed", "alreadyclaimed"}

// IsAlreadyClaimed reports whether err is the dispute contract rejecting a
// reward claim that was already paid out.
func IsAlreadyClaimed(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range alreadyClaimedMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
