package logstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tallyworks/tally/internal/broadcast"
	"github.com/tallyworks/tally/internal/types"
)

// subscriber is one live subscription: a poll goroutine for confirmed
// actions plus direct delivery of local pending appends. The delivery
// mutex keeps batches serialized, matching the log contract.
type subscriber struct {
	onChanges broadcast.ChangeHandler
	onError   broadcast.ErrorHandler
	cancel    context.CancelFunc

	deliver sync.Mutex
	seen    map[string]bool // pending ids delivered, for added-vs-modified
}

func (s *subscriber) deliverPending(a types.Action) {
	s.deliver.Lock()
	defer s.deliver.Unlock()
	s.seen[a.ID] = true
	s.onChanges([]broadcast.Change{{Kind: broadcast.ChangeAdded, Action: a, Pending: true}})
}

func (s *subscriber) deliverConfirmed(batch []types.Action) {
	if len(batch) == 0 {
		return
	}
	s.deliver.Lock()
	defer s.deliver.Unlock()

	changes := make([]broadcast.Change, 0, len(batch))
	for _, a := range batch {
		kind := broadcast.ChangeAdded
		if s.seen[a.ID] {
			kind = broadcast.ChangeModified
		}
		s.seen[a.ID] = true
		changes = append(changes, broadcast.Change{Kind: kind, Action: a})
	}
	s.onChanges(changes)
}

// SubscribeFrom polls the service for confirmed actions from the cursor
// on, long-polling so quiet periods cost one held request rather than a
// busy loop. The cursor is widened by one millisecond so an action
// sharing the cursor's millisecond is redelivered rather than skipped.
func (c *Client) SubscribeFrom(ctx context.Context, after *types.Timestamp, onChanges broadcast.ChangeHandler, onError broadcast.ErrorHandler) (func(), error) {
	if onChanges == nil {
		return nil, fmt.Errorf("logstream: onChanges handler is required")
	}

	pollCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	sub := &subscriber{
		onChanges: onChanges,
		onError:   onError,
		cancel:    cancel,
		seen:      make(map[string]bool),
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = sub
	c.mu.Unlock()

	cursor := int64(-1)
	if after != nil {
		cursor = after.Millis() - 1
	}

	go c.pollLoop(pollCtx, sub, cursor)

	return func() {
		cancel()
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}, nil
}

func (c *Client) pollLoop(ctx context.Context, sub *subscriber, cursor int64) {
	waitMS := c.config.WaitInterval.Milliseconds()
	for {
		if ctx.Err() != nil {
			return
		}

		path := fmt.Sprintf("/api/v1/actions?after_millis=%d&limit=%d&wait_ms=%d", cursor, c.config.PageLimit, waitMS)
		var resp actionsResponse
		if err := c.get(ctx, path, &resp); err != nil {
			if ctx.Err() != nil {
				return
			}
			if sub.onError != nil {
				sub.onError(err)
			}
			// Back off once rather than hammering a down service; the
			// next iteration retries from the same cursor.
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		batch := make([]types.Action, 0, len(resp.Actions))
		for _, ca := range resp.Actions {
			batch = append(batch, ca.Action)
			if ca.Millis > cursor {
				cursor = ca.Millis
			}
		}
		sub.deliverConfirmed(batch)
	}
}
