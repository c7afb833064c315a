// Package session is the cache and reconciliation layer. It orchestrates
// cold start from the durable snapshot, replay of locally cached actions,
// the live log subscription, classification of pending versus confirmed
// changes, id-based dedup, batch persistence of new confirmed actions and
// the debounced snapshot save.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tallyworks/tally/internal/broadcast"
	"github.com/tallyworks/tally/internal/cache"
	"github.com/tallyworks/tally/internal/state"
	"github.com/tallyworks/tally/internal/types"
)

// DefaultSnapshotDebounce is how long the session waits after the last
// applied action before persisting a snapshot.
const DefaultSnapshotDebounce = 2 * time.Second

// Options configures Open. Machine, Cache and Log are required.
type Options struct {
	Machine *state.Machine
	Cache   cache.Store
	Log     broadcast.Log

	// SnapshotDebounce overrides DefaultSnapshotDebounce when positive.
	SnapshotDebounce time.Duration

	// OnError receives live subscription failures. The session does not
	// retry; reconnecting is the caller's concern.
	OnError func(error)
}

// Stats counts what the session has processed, for diagnostics.
type Stats struct {
	Hydrated      bool
	CacheReplayed int
	LiveApplied   int
	PendingSeen   int
	Duplicates    int
}

// Session is one client's live view of the log. All change handling is
// serialized: a notification batch is processed to completion before the
// next begins.
type Session struct {
	machine *state.Machine
	cache   cache.Store
	log     broadcast.Log
	onError func(error)

	mu sync.Mutex
	// applied holds ids already dispatched (pending or confirmed);
	// cached holds ids already persisted. Both are extended synchronously
	// before any asynchronous write is queued, so a re-delivery can never
	// double-apply a delta.
	applied map[string]bool
	cached  map[string]bool
	cursor  *types.Cursor
	stats   Stats

	saver       *Debouncer
	unsubscribe func()
	closeOnce   sync.Once
}

// Open runs the cold-start protocol and returns a live session:
//
//  1. load the snapshot and hydrate the machine,
//  2. replay cached actions newer than the snapshot cursor so state is
//     renderable before any network round trip,
//  3. subscribe to the live log from the latest known confirmed point.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Machine == nil || opts.Cache == nil || opts.Log == nil {
		return nil, errors.New("session: Machine, Cache and Log are required")
	}
	debounce := opts.SnapshotDebounce
	if debounce <= 0 {
		debounce = DefaultSnapshotDebounce
	}

	s := &Session{
		machine: opts.Machine,
		cache:   opts.Cache,
		log:     opts.Log,
		onError: opts.OnError,
		applied: make(map[string]bool),
		cached:  make(map[string]bool),
	}
	s.saver = NewDebouncer(debounce, s.saveSnapshot)

	s.coldStart(ctx)

	var after *types.Timestamp
	if s.cursor != nil {
		ts := s.cursor.Timestamp
		after = &ts
	}
	unsubscribe, err := opts.Log.SubscribeFrom(ctx, after, s.handleChanges, s.handleError)
	if err != nil {
		s.saver.Stop()
		return nil, err
	}
	s.unsubscribe = unsubscribe
	return s, nil
}

// coldStart hydrates from the snapshot and replays the cached actions.
// Storage errors degrade to a cold, full-replay start with a warning.
func (s *Session) coldStart(ctx context.Context) {
	snap, err := s.cache.Snapshot(ctx)
	if err != nil {
		slog.Warn("snapshot load failed, starting cold",
			"component", "session", "error", err)
		snap = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	afterMillis := int64(-1)
	if snap != nil {
		s.machine.Hydrate(snap.State)
		s.stats.Hydrated = true
		if snap.LastAction != nil {
			s.cursor = snap.LastAction
			s.applied[snap.LastAction.ID] = true
			s.cached[snap.LastAction.ID] = true
			// Fetch from one millisecond early: the millisecond index is
			// coarser than the (seconds, nanos) cursor, and overlap is
			// cheaper than a gap.
			afterMillis = snap.LastAction.Timestamp.Millis() - 1
		}
	}

	cached, err := s.cache.CachedActionsAfter(ctx, afterMillis)
	if err != nil {
		slog.Warn("cache replay load failed, relying on live log",
			"component", "session", "error", err)
		return
	}

	actions := make([]types.Action, 0, len(cached))
	for _, c := range cached {
		actions = append(actions, c.Action)
	}
	types.SortActions(actions)

	for _, a := range actions {
		// Everything returned is already persisted; remember the ids even
		// for actions at or before the cursor so live overlap dedups.
		s.cached[a.ID] = true
		if s.applied[a.ID] {
			continue
		}
		if !afterCursor(s.cursor, a) {
			// Inside the snapshot already. Marking it applied keeps a live
			// redelivery from replaying its delta onto the hydrated state.
			s.applied[a.ID] = true
			continue
		}
		s.applied[a.ID] = true
		s.machine.Dispatch(a)
		s.stats.CacheReplayed++
		s.advanceCursor(a)
	}
}

// afterCursor reports whether a orders strictly after the cursor.
func afterCursor(cursor *types.Cursor, a types.Action) bool {
	if cursor == nil {
		return true
	}
	if a.Timestamp == nil {
		return false
	}
	if !a.Timestamp.Equal(cursor.Timestamp) {
		return cursor.Timestamp.Before(*a.Timestamp)
	}
	return a.ID > cursor.ID
}

// handleChanges processes one live notification batch to completion.
func (s *Session) handleChanges(changes []broadcast.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toPersist []types.CachedAction
	for _, ch := range changes {
		a := ch.Action
		if a.ID == "" {
			continue
		}

		if ch.Pending || a.Timestamp == nil {
			// Optimistic local write: dispatch once, never persist, never
			// advance the cursor.
			if s.applied[a.ID] {
				s.stats.Duplicates++
				continue
			}
			s.applied[a.ID] = true
			s.machine.Dispatch(a)
			s.stats.PendingSeen++
			continue
		}

		// Confirmed.
		if !s.applied[a.ID] {
			s.applied[a.ID] = true
			s.machine.Dispatch(a)
			s.stats.LiveApplied++
		} else if s.cached[a.ID] {
			s.stats.Duplicates++
			continue
		}
		if !s.cached[a.ID] {
			s.cached[a.ID] = true
			toPersist = append(toPersist, types.NewCachedAction(a))
		}
		s.advanceCursor(a)
		s.saver.Trigger()
	}

	if len(toPersist) > 0 {
		// The id sets were already extended above, so even if this write
		// fails the actions will not be dispatched twice; they are simply
		// re-fetched from the log next session.
		if err := s.cache.PutCachedActions(context.Background(), toPersist); err != nil {
			slog.Warn("cache persistence failed",
				"component", "session", "count", len(toPersist), "error", err)
		}
	}
}

// advanceCursor must be called with mu held and only for confirmed
// actions.
func (s *Session) advanceCursor(a types.Action) {
	if a.Timestamp == nil {
		return
	}
	if s.cursor == nil || afterCursor(s.cursor, a) {
		s.cursor = &types.Cursor{ID: a.ID, Timestamp: *a.Timestamp}
	}
}

func (s *Session) handleError(err error) {
	slog.Error("live subscription failed",
		"component", "session", "error", err)
	if s.onError != nil {
		s.onError(err)
	}
}

// saveSnapshot persists {state, cursor}. Invoked from the debouncer, so
// bursts of actions collapse into one write using the freshest state.
func (s *Session) saveSnapshot() {
	// State and cursor must be captured under one lock hold: dispatches
	// serialize on mu, so the pair stays consistent. A state read outside
	// the lock could include actions past the recorded cursor, and the
	// next cold start would replay those deltas a second time.
	s.mu.Lock()
	snap := types.Snapshot{State: s.machine.State(), LastAction: s.cursor}
	s.mu.Unlock()

	if err := s.cache.PutSnapshot(context.Background(), snap); err != nil {
		slog.Warn("snapshot save failed",
			"component", "session", "error", err)
		return
	}
	slog.Debug("snapshot saved", "component", "session",
		"cursor", cursorID(snap.LastAction))
}

func cursorID(c *types.Cursor) string {
	if c == nil {
		return ""
	}
	return c.ID
}

// Cursor returns the latest confirmed cursor, or nil before any
// confirmed action has been applied.
func (s *Session) Cursor() *types.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Stats returns processing counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Flush forces a pending debounced snapshot save to run now.
func (s *Session) Flush() {
	s.saver.Flush()
}

// Close tears down the live subscription and stops the snapshot timer.
// A pending snapshot save is flushed first. In-flight persistence writes
// are allowed to finish on their own; the next session re-derives
// anything missed from the log.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.saver.Flush()
		s.saver.Stop()
	})
}
