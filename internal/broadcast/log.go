// Package broadcast defines the append-only action log contract. The
// production transport is an external collaborator; only its ordering,
// append and listen semantics matter here. The in-memory implementation
// backs tests and the dev log service.
package broadcast

import (
	"context"

	"github.com/tallyworks/tally/internal/types"
)

// ChangeKind distinguishes first delivery from a later re-delivery of the
// same record (typically the pending-to-confirmed transition).
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
)

// Change is one entry of a notification batch. Pending marks an
// optimistic local write the log has not confirmed yet; such actions
// carry no server timestamp.
type Change struct {
	Kind    ChangeKind
	Action  types.Action
	Pending bool
}

// ChangeHandler receives one notification batch. Batches are delivered
// one at a time: a handler call completes before the next batch starts.
type ChangeHandler func(changes []Change)

// ErrorHandler receives subscription failures. The log does not retry;
// recovery is the subscriber's collaborator's responsibility.
type ErrorHandler func(err error)

// Log is the append-only, server-ordered action log.
type Log interface {
	// Append adds an action to the log and returns its assigned id. When
	// the action already carries an id (an optimistic local write), the
	// log keeps it so confirmation dedups against the pending delivery.
	Append(ctx context.Context, a types.Action) (string, error)

	// SubscribeFrom opens a live subscription delivering ordered change
	// batches, starting at the given cursor timestamp, or from the
	// beginning when nil. The cursor query is inclusive-safe: the action
	// at the cursor itself may be redelivered, which subscribers tolerate
	// by deduplicating on id. The returned function tears the
	// subscription down.
	SubscribeFrom(ctx context.Context, after *types.Timestamp, onChanges ChangeHandler, onError ErrorHandler) (func(), error)
}
