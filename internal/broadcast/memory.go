package broadcast

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/tallyworks/tally/internal/types"
)

// ErrClosed is returned by Append after the log has been closed.
var ErrClosed = errors.New("broadcast log closed")

// MemoryLog is an in-memory Log. A single internal writer order assigns
// strictly increasing timestamps, and each append is delivered to
// subscribers first as a pending change and then as its confirmation,
// mirroring how a document database surfaces optimistic local writes.
type MemoryLog struct {
	mu      sync.Mutex
	entries []types.Action
	subs    map[int]*memorySub
	nextSub int
	lastTS  types.Timestamp
	closed  bool

	// deliver serializes notification batches across all appends so a
	// handler call always completes before the next batch starts.
	deliver sync.Mutex
}

type memorySub struct {
	onChanges ChangeHandler
	onError   ErrorHandler
}

// NewMemoryLog returns an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{subs: make(map[int]*memorySub)}
}

// Append confirms the action with a server-assigned ulid (unless the
// caller provided an optimistic id) and a strictly increasing timestamp,
// then notifies subscribers: one pending batch, one confirmed batch.
func (l *MemoryLog) Append(ctx context.Context, a types.Action) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return "", ErrClosed
	}
	if a.ID == "" {
		a.ID = ulid.Make().String()
	}

	pending := a
	pending.Timestamp = nil

	a.Timestamp = l.nextTimestamp()
	l.entries = append(l.entries, a)
	subs := l.snapshotSubs()
	l.mu.Unlock()

	l.deliver.Lock()
	defer l.deliver.Unlock()
	for _, sub := range subs {
		sub.onChanges([]Change{{Kind: ChangeAdded, Action: pending, Pending: true}})
		sub.onChanges([]Change{{Kind: ChangeModified, Action: a, Pending: false}})
	}
	return a.ID, nil
}

// nextTimestamp must be called with mu held.
func (l *MemoryLog) nextTimestamp() *types.Timestamp {
	ts := types.TimestampFromTime(time.Now())
	if !l.lastTS.Before(ts) {
		ts = l.lastTS
		ts.Nanos++
		if ts.Nanos >= 1_000_000_000 {
			ts.Seconds++
			ts.Nanos = 0
		}
	}
	l.lastTS = ts
	return &ts
}

// snapshotSubs must be called with mu held. Subscribers are ordered by
// registration so delivery order is deterministic.
func (l *MemoryLog) snapshotSubs() []*memorySub {
	ids := make([]int, 0, len(l.subs))
	for id := range l.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	subs := make([]*memorySub, 0, len(l.subs))
	for _, id := range ids {
		subs = append(subs, l.subs[id])
	}
	return subs
}

// SubscribeFrom delivers the backlog at or after the cursor as one added
// batch (inclusive, so the cursor action itself may be redelivered), then
// registers for live changes.
func (l *MemoryLog) SubscribeFrom(ctx context.Context, after *types.Timestamp, onChanges ChangeHandler, onError ErrorHandler) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}

	var backlog []Change
	for _, a := range l.entries {
		if after != nil && a.Timestamp.Before(*after) {
			continue
		}
		backlog = append(backlog, Change{Kind: ChangeAdded, Action: a, Pending: false})
	}

	id := l.nextSub
	l.nextSub++
	sub := &memorySub{onChanges: onChanges, onError: onError}
	l.subs[id] = sub

	// Take the delivery lock before releasing mu: an append racing this
	// registration must not hand the subscriber its newer action ahead of
	// the older backlog.
	l.deliver.Lock()
	l.mu.Unlock()
	if len(backlog) > 0 {
		sub.onChanges(backlog)
	}
	l.deliver.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}, nil
}

// Entries returns a copy of the confirmed log, oldest first.
func (l *MemoryLog) Entries() []types.Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries)
}

// EntriesAfter returns confirmed actions with a millisecond timestamp
// strictly greater than afterMillis, oldest first, at most limit (no
// limit when limit <= 0).
func (l *MemoryLog) EntriesAfter(afterMillis int64, limit int) []types.Action {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]types.Action, 0)
	for _, a := range l.entries {
		if a.Timestamp.Millis() <= afterMillis {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Fail pushes an error to every subscriber, emulating a broken live
// subscription.
func (l *MemoryLog) Fail(err error) {
	l.mu.Lock()
	subs := l.snapshotSubs()
	l.mu.Unlock()
	for _, sub := range subs {
		if sub.onError != nil {
			sub.onError(err)
		}
	}
}

// Close stops the log; subsequent appends and subscriptions fail.
func (l *MemoryLog) Close() {
	l.mu.Lock()
	l.closed = true
	l.subs = make(map[int]*memorySub)
	l.mu.Unlock()
}
