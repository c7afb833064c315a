package reduce

import (
	"maps"
	"slices"

	"github.com/tallyworks/tally/internal/types"
)

// History reduces the applied-action feed. The feed keeps its own id set
// so a re-delivered action never produces a duplicate entry, independent
// of the session layer's dedup.
func History(s types.HistoryState, a types.Action) types.HistoryState {
	if a.ID == "" || s.Seen[a.ID] {
		return s
	}
	seen := maps.Clone(s.Seen)
	if seen == nil {
		seen = make(map[string]bool)
	}
	seen[a.ID] = true

	entries := slices.Clone(s.Entries)
	entries = append(entries, types.HistoryEntry{
		ID:      a.ID,
		Type:    a.Type,
		Creator: a.Creator,
		At:      a.Timestamp,
	})

	s.Seen = seen
	s.Entries = entries
	return s
}
