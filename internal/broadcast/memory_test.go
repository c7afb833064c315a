package broadcast

import (
	"context"
	"errors"
	"testing"

	"github.com/tallyworks/tally/internal/types"
)

func appendN(t *testing.T, l *MemoryLog, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := l.Append(context.Background(), types.Action{Type: types.ActionCreateName})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestMemoryLog_AppendAssignsMonotonicTimestamps(t *testing.T) {
	l := NewMemoryLog()
	appendN(t, l, 50)

	entries := l.Entries()
	if len(entries) != 50 {
		t.Fatalf("entries = %d, want 50", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if !prev.Timestamp.Before(*cur.Timestamp) {
			t.Fatalf("timestamps not strictly increasing at %d: %+v !< %+v", i, prev.Timestamp, cur.Timestamp)
		}
	}
}

func TestMemoryLog_AppendKeepsOptimisticID(t *testing.T) {
	l := NewMemoryLog()

	id, err := l.Append(context.Background(), types.Action{ID: "client-id", Type: types.ActionCreateName})
	if err != nil {
		t.Fatal(err)
	}
	if id != "client-id" {
		t.Errorf("id = %q, want the caller-provided one", id)
	}

	id, err = l.Append(context.Background(), types.Action{Type: types.ActionCreateName})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Error("no server id assigned")
	}
}

func TestMemoryLog_AppendDeliversPendingThenConfirmed(t *testing.T) {
	l := NewMemoryLog()

	var seen []Change
	_, err := l.SubscribeFrom(context.Background(), nil, func(changes []Change) {
		seen = append(seen, changes...)
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	id := appendN(t, l, 1)[0]

	if len(seen) != 2 {
		t.Fatalf("changes = %d, want pending then confirmed", len(seen))
	}
	if !seen[0].Pending || seen[0].Kind != ChangeAdded || seen[0].Action.Timestamp != nil {
		t.Errorf("first change not pending-added: %+v", seen[0])
	}
	if seen[1].Pending || seen[1].Kind != ChangeModified || seen[1].Action.Timestamp == nil {
		t.Errorf("second change not confirmed-modified: %+v", seen[1])
	}
	if seen[0].Action.ID != id || seen[1].Action.ID != id {
		t.Errorf("pending/confirmed ids differ: %q %q want %q", seen[0].Action.ID, seen[1].Action.ID, id)
	}
}

func TestMemoryLog_SubscribeFromDeliversBacklogInclusive(t *testing.T) {
	l := NewMemoryLog()
	appendN(t, l, 3)
	cursor := *l.Entries()[1].Timestamp

	var seen []Change
	_, err := l.SubscribeFrom(context.Background(), &cursor, func(changes []Change) {
		seen = append(seen, changes...)
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Inclusive cursor: entries 1 and 2 delivered, the cursor row itself
	// redelivered for the subscriber to dedup.
	if len(seen) != 2 {
		t.Fatalf("backlog = %d, want 2", len(seen))
	}
	if seen[0].Action.ID != l.Entries()[1].ID {
		t.Errorf("backlog starts at %q, want cursor entry", seen[0].Action.ID)
	}
}

func TestMemoryLog_SubscribeDuringAppendsKeepsOrder(t *testing.T) {
	// A subscriber registering mid-stream must see its backlog before any
	// action appended while the registration was in flight.
	l := NewMemoryLog()
	appendN(t, l, 5)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			if _, err := l.Append(context.Background(), types.Action{Type: types.ActionCreateName}); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	var confirmed []types.Action
	_, err := l.SubscribeFrom(context.Background(), nil, func(changes []Change) {
		for _, ch := range changes {
			if !ch.Pending {
				confirmed = append(confirmed, ch.Action)
			}
		}
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	<-done

	seen := make(map[string]bool)
	for i, a := range confirmed {
		if seen[a.ID] {
			t.Fatalf("confirmed action %s delivered twice", a.ID)
		}
		seen[a.ID] = true
		if i > 0 && !types.Less(confirmed[i-1], a) {
			t.Fatalf("delivery order regressed at %d: %+v then %+v",
				i, confirmed[i-1].Timestamp, a.Timestamp)
		}
	}
}

func TestMemoryLog_EntriesAfterLimit(t *testing.T) {
	l := NewMemoryLog()
	appendN(t, l, 5)
	all := l.Entries()

	after := l.EntriesAfter(all[1].Timestamp.Millis(), 2)
	for _, a := range after {
		if a.Timestamp.Millis() <= all[1].Timestamp.Millis() {
			t.Errorf("entry at %d not strictly after cursor", a.Timestamp.Millis())
		}
	}
	if len(after) > 2 {
		t.Errorf("limit ignored, got %d entries", len(after))
	}

	if got := l.EntriesAfter(-1, 0); len(got) != 5 {
		t.Errorf("limit<=0 should return everything, got %d", len(got))
	}
}

func TestMemoryLog_Unsubscribe(t *testing.T) {
	l := NewMemoryLog()

	var calls int
	cancel, err := l.SubscribeFrom(context.Background(), nil, func([]Change) { calls++ }, nil)
	if err != nil {
		t.Fatal(err)
	}
	appendN(t, l, 1)
	cancel()
	appendN(t, l, 1)

	if calls != 2 {
		t.Errorf("calls = %d, want 2 (pending+confirmed before cancel only)", calls)
	}
}

func TestMemoryLog_FailReachesSubscribers(t *testing.T) {
	l := NewMemoryLog()

	var got error
	if _, err := l.SubscribeFrom(context.Background(), nil, func([]Change) {}, func(err error) { got = err }); err != nil {
		t.Fatal(err)
	}

	want := errors.New("connection reset")
	l.Fail(want)
	if !errors.Is(got, want) {
		t.Errorf("onError received %v, want %v", got, want)
	}
}

func TestMemoryLog_ClosedRejectsAppendAndSubscribe(t *testing.T) {
	l := NewMemoryLog()
	l.Close()

	if _, err := l.Append(context.Background(), types.Action{Type: types.ActionCreateName}); !errors.Is(err, ErrClosed) {
		t.Errorf("Append after Close = %v, want ErrClosed", err)
	}
	if _, err := l.SubscribeFrom(context.Background(), nil, func([]Change) {}, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("SubscribeFrom after Close = %v, want ErrClosed", err)
	}
}
