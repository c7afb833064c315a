// Package state provides the root state machine composing all domain
// reducers. There is deliberately no package-level instance: callers
// construct a Machine and pass the handle down.
package state

import (
	"sync"

	"github.com/tallyworks/tally/internal/reduce"
	"github.com/tallyworks/tally/internal/types"
)

// Listener observes every state transition. Listeners are invoked
// synchronously inside Dispatch, once per action, with the full new tree;
// they must not call back into the Machine.
type Listener func(types.Tree)

// Machine owns the state tree. All mutation flows through Dispatch, which
// serializes callers; nothing outside Dispatch may mutate the tree.
type Machine struct {
	mu      sync.Mutex
	tree    types.Tree
	subs    map[int]Listener
	nextSub int
}

// New returns a machine holding the empty initial tree.
func New() *Machine {
	return &Machine{subs: make(map[int]Listener)}
}

// Dispatch runs the action through every domain reducer in fixed order,
// stores the new tree, notifies listeners and returns the tree.
func (m *Machine) Dispatch(a types.Action) types.Tree {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tree = reduce.Apply(m.tree, a)
	for _, fn := range m.subs {
		fn(m.tree)
	}
	return m.tree
}

// State returns the current tree.
func (m *Machine) State() types.Tree {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tree
}

// Hydrate seeds the tree from a persisted snapshot. It replaces the whole
// tree rather than routing through domain reducers, and is meant for the
// cold-start path only, before live replay begins. Listeners observe the
// hydrated state.
func (m *Machine) Hydrate(t types.Tree) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tree = t
	for _, fn := range m.subs {
		fn(m.tree)
	}
}

// Subscribe registers a listener and returns its remove function.
func (m *Machine) Subscribe(fn Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}
