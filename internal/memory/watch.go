package memory

import "strings"

var watchWords = []string{"monitor", "track", "watch", "follow up", "updates"}

// ActionImpliesWatch is the coarse deterministic fallback applied to a
// closed session's derived action strings. Per-turn detection goes through
// the watchlist tracker's model-backed detector instead.
func ActionImpliesWatch(action string) bool {
	a := strings.ToLower(action)
	for _, w := range watchWords {
		if strings.Contains(a, w) {
			return true
		}
	}
	return false
}
