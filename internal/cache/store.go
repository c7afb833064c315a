// Package cache is the local durable store: a key-indexed mirror of
// confirmed broadcast actions plus the singleton snapshot record. It
// exists so a client can resume from {snapshot, cached actions} instead
// of replaying the full log history over the network.
package cache

import (
	"context"
	"log/slog"

	"github.com/tallyworks/tally/internal/types"
)

// Store defines the interface contract for the local durable cache.
//
// Implementations must tolerate absence of persistent storage: the nop
// store satisfies every method without error, degrading the client to
// full replay from the live log.
type Store interface {
	// CachedActions returns every cached confirmed action. Callers sort
	// into replay order themselves.
	CachedActions(ctx context.Context) ([]types.CachedAction, error)

	// CachedActionsAfter returns cached actions with a derived millisecond
	// timestamp strictly greater than afterMillis, in replay order.
	CachedActionsAfter(ctx context.Context, afterMillis int64) ([]types.CachedAction, error)

	// PutCachedActions writes the records as full-record replaces keyed by
	// action id. Re-writing the same action is idempotent.
	PutCachedActions(ctx context.Context, actions []types.CachedAction) error

	// Snapshot returns the persisted snapshot, or nil when none exists.
	Snapshot(ctx context.Context) (*types.Snapshot, error)

	// PutSnapshot replaces the singleton snapshot record.
	PutSnapshot(ctx context.Context, snap types.Snapshot) error

	// CompactBefore deletes cached actions with a derived millisecond
	// timestamp strictly below cutoffMillis, returning the number removed.
	CompactBefore(ctx context.Context, cutoffMillis int64) (int64, error)

	Close() error
}

// Nop is the degraded store used when durable storage is unavailable.
// Every read misses and every write is dropped, so the live log remains
// the sole source of truth.
type Nop struct{}

// NewNop returns the degraded store and logs the degradation once.
func NewNop(reason error) Nop {
	slog.Warn("durable cache unavailable, falling back to full replay",
		"component", "cache", "error", reason)
	return Nop{}
}

func (Nop) CachedActions(context.Context) ([]types.CachedAction, error) { return nil, nil }

func (Nop) CachedActionsAfter(context.Context, int64) ([]types.CachedAction, error) {
	return nil, nil
}

func (Nop) PutCachedActions(context.Context, []types.CachedAction) error { return nil }

func (Nop) Snapshot(context.Context) (*types.Snapshot, error) { return nil, nil }

func (Nop) PutSnapshot(context.Context, types.Snapshot) error { return nil }

func (Nop) CompactBefore(context.Context, int64) (int64, error) { return 0, nil }

func (Nop) Close() error { return nil }
