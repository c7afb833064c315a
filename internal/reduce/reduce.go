// Package reduce holds the pure domain reducers. Every reducer is total:
// an action type a domain does not recognize leaves that domain's state
// unchanged, and no reducer ever returns an error or panics during replay.
// Quantity-affecting actions apply deltas, so at-most-once delivery is the
// caller's responsibility (the session layer dedups by action id).
package reduce

import (
	"github.com/tallyworks/tally/internal/types"
)

// Apply runs one action through every domain reducer in fixed order and
// returns the new composed tree. The input tree is never mutated: each
// domain reducer copies the containers it changes.
func Apply(t types.Tree, a types.Action) types.Tree {
	t.Names = Names(t.Names, a)
	t.Inventory = Inventory(t.Inventory, a)
	t.Listings = Listings(t.Listings, a)
	t.Photos = Photos(t.Photos, a)
	t.Imports = Imports(t.Imports, a)
	t.History = History(t.History, a)
	return t
}

// Replay folds a sequence of actions over an initial tree.
func Replay(t types.Tree, actions []types.Action) types.Tree {
	for _, a := range actions {
		t = Apply(t, a)
	}
	return t
}
