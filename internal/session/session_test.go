package session

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/tallyworks/tally/internal/broadcast"
	"github.com/tallyworks/tally/internal/cache"
	"github.com/tallyworks/tally/internal/reduce"
	"github.com/tallyworks/tally/internal/state"
	"github.com/tallyworks/tally/internal/types"
)

// fakeStore is an in-memory cache.Store with injectable failures.
type fakeStore struct {
	mu       sync.Mutex
	actions  map[string]types.CachedAction
	snap     *types.Snapshot
	snaps    []types.Snapshot
	readErr  error
	writeErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{actions: make(map[string]types.CachedAction)}
}

func (f *fakeStore) CachedActions(ctx context.Context) ([]types.CachedAction, error) {
	return f.CachedActionsAfter(ctx, -1)
}

func (f *fakeStore) CachedActionsAfter(_ context.Context, afterMillis int64) ([]types.CachedAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make([]types.CachedAction, 0)
	for _, c := range f.actions {
		if c.Millis > afterMillis {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return types.Less(out[i].Action, out[j].Action) })
	return out, nil
}

func (f *fakeStore) PutCachedActions(_ context.Context, actions []types.CachedAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	for _, c := range actions {
		f.actions[c.ID] = c
	}
	return nil
}

func (f *fakeStore) Snapshot(context.Context) (*types.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.snap, nil
}

func (f *fakeStore) PutSnapshot(_ context.Context, snap types.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.snap = &snap
	f.snaps = append(f.snaps, snap)
	return nil
}

func (f *fakeStore) snapshots() []types.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.snaps)
}

func (f *fakeStore) CompactBefore(context.Context, int64) (int64, error) { return 0, nil }

func (f *fakeStore) Close() error { return nil }

var _ cache.Store = (*fakeStore)(nil)

func openSession(t *testing.T, store cache.Store, log broadcast.Log) (*Session, *state.Machine) {
	t.Helper()
	m := state.New()
	s, err := Open(context.Background(), Options{
		Machine:          m,
		Cache:            store,
		Log:              log,
		SnapshotDebounce: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(s.Close)
	return s, m
}

func TestSession_LiveAppendFlowsIntoState(t *testing.T) {
	log := broadcast.NewMemoryLog()
	sess, m := openSession(t, newFakeStore(), log)
	ctx := context.Background()

	if _, err := log.Append(ctx, types.Action{
		Type:    types.ActionUpdateItem,
		Payload: &types.UpdateItem{Item: types.Item{JanCode: "123", Qty: 10}},
	}); err != nil {
		t.Fatal(err)
	}
	// A delta action: a double apply would ship 10 instead of 5.
	if _, err := log.Append(ctx, types.Action{
		Type:    types.ActionPackageItem,
		Payload: &types.PackageItem{OrderID: "o1", ItemKey: "123", Qty: 5},
	}); err != nil {
		t.Fatal(err)
	}

	item := m.State().Inventory.Items["123"]
	if item.Shipped != 5 {
		t.Errorf("shipped = %d, want 5 (delta applied exactly once)", item.Shipped)
	}
	order := m.State().Inventory.Orders["o1"]
	if len(order.Items) != 1 || order.Items[0].Qty != 5 {
		t.Errorf("order lines = %+v", order.Items)
	}

	stats := sess.Stats()
	if stats.PendingSeen != 2 {
		t.Errorf("pending seen = %d, want 2", stats.PendingSeen)
	}
	if stats.LiveApplied != 0 {
		t.Errorf("confirmations should dedup against pending, live applied = %d", stats.LiveApplied)
	}
	if sess.Cursor() == nil {
		t.Error("cursor not advanced by confirmations")
	}
}

func TestSession_ConfirmedActionsPersisted(t *testing.T) {
	log := broadcast.NewMemoryLog()
	store := newFakeStore()
	openSession(t, store, log)

	if _, err := log.Append(context.Background(), types.Action{
		Type:    types.ActionCreateName,
		Payload: &types.CreateName{Name: "alice"},
	}); err != nil {
		t.Fatal(err)
	}

	cached, err := store.CachedActions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 1 {
		t.Fatalf("cached = %d, want the confirmed action persisted", len(cached))
	}
	if cached[0].Timestamp == nil {
		t.Error("pending version cached instead of the confirmed one")
	}
}

func TestSession_RedeliveryNeverDoubleApplies(t *testing.T) {
	// Seed a log and a cache that overlap: both carry the same two
	// confirmed actions, and the snapshot cursor sits at the first. The
	// live backlog redelivers inclusively, so everything arrives twice.
	log := broadcast.NewMemoryLog()
	ctx := context.Background()
	if _, err := log.Append(ctx, types.Action{
		Type:    types.ActionUpdateItem,
		Payload: &types.UpdateItem{Item: types.Item{JanCode: "123", Qty: 10}},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := log.Append(ctx, types.Action{
		Type:    types.ActionPackageItem,
		Payload: &types.PackageItem{OrderID: "o1", ItemKey: "123", Qty: 5},
	}); err != nil {
		t.Fatal(err)
	}
	entries := log.Entries()

	store := newFakeStore()
	for _, a := range entries {
		if err := store.PutCachedActions(ctx, []types.CachedAction{types.NewCachedAction(a)}); err != nil {
			t.Fatal(err)
		}
	}
	first := entries[0]
	store.snap = &types.Snapshot{
		State:      types.Tree{Inventory: types.InventoryState{Items: map[string]types.Item{"123": {JanCode: "123", Qty: 10}}}},
		LastAction: &types.Cursor{ID: first.ID, Timestamp: *first.Timestamp},
	}

	sess, m := openSession(t, store, log)

	item := m.State().Inventory.Items["123"]
	if item.Qty != 10 || item.Shipped != 5 {
		t.Errorf("item = %+v, want qty 10 shipped 5 despite redelivery", item)
	}

	stats := sess.Stats()
	if !stats.Hydrated {
		t.Error("snapshot not hydrated")
	}
	if stats.CacheReplayed != 1 {
		t.Errorf("cache replayed = %d, want only the action past the cursor", stats.CacheReplayed)
	}
	if stats.Duplicates == 0 {
		t.Error("inclusive backlog overlap should have been counted as duplicates")
	}
}

// replayLog delivers a fixed confirmed backlog on subscribe, emulating a
// transport whose inclusive cursor query redelivers same-millisecond
// siblings of the cursor action.
type replayLog struct {
	backlog []broadcast.Change
}

func (l *replayLog) Append(_ context.Context, a types.Action) (string, error) {
	return a.ID, nil
}

func (l *replayLog) SubscribeFrom(_ context.Context, _ *types.Timestamp, onChanges broadcast.ChangeHandler, _ broadcast.ErrorHandler) (func(), error) {
	if len(l.backlog) > 0 {
		onChanges(l.backlog)
	}
	return func() {}, nil
}

func TestSession_SameMillisecondOverlapNotReapplied(t *testing.T) {
	// Two confirmed actions share one millisecond and both sit at or
	// before the snapshot cursor, so the cache range scan and the live
	// backlog both return them. Neither may be applied on top of the
	// hydrated state.
	ts1 := types.Timestamp{Seconds: 100, Nanos: 100_000}
	ts2 := types.Timestamp{Seconds: 100, Nanos: 200_000}
	a1 := types.Action{
		ID:        "01A",
		Type:      types.ActionUpdateItem,
		Payload:   &types.UpdateItem{Item: types.Item{JanCode: "123", Qty: 10}},
		Timestamp: &ts1,
	}
	a2 := types.Action{
		ID:        "01B",
		Type:      types.ActionPackageItem,
		Payload:   &types.PackageItem{OrderID: "o1", ItemKey: "123", Qty: 5},
		Timestamp: &ts2,
	}

	store := newFakeStore()
	ctx := context.Background()
	if err := store.PutCachedActions(ctx, []types.CachedAction{
		types.NewCachedAction(a1), types.NewCachedAction(a2),
	}); err != nil {
		t.Fatal(err)
	}
	store.snap = &types.Snapshot{
		State: types.Tree{Inventory: types.InventoryState{
			Items: map[string]types.Item{"123": {JanCode: "123", Qty: 10, Shipped: 5}},
		}},
		LastAction: &types.Cursor{ID: a2.ID, Timestamp: ts2},
	}

	log := &replayLog{backlog: []broadcast.Change{
		{Kind: broadcast.ChangeAdded, Action: a1},
		{Kind: broadcast.ChangeAdded, Action: a2},
	}}
	sess, m := openSession(t, store, log)

	item := m.State().Inventory.Items["123"]
	if item.Qty != 10 || item.Shipped != 5 {
		t.Errorf("item = %+v, want qty 10 shipped 5 (overlap must not touch hydrated state)", item)
	}
	stats := sess.Stats()
	if stats.CacheReplayed != 0 || stats.LiveApplied != 0 {
		t.Errorf("overlap was replayed: %+v", stats)
	}
	if stats.Duplicates != 2 {
		t.Errorf("duplicates = %d, want both redeliveries counted", stats.Duplicates)
	}
}

func TestSession_SnapshotResumability(t *testing.T) {
	log := broadcast.NewMemoryLog()
	store := newFakeStore()
	ctx := context.Background()

	sess1, m1 := openSession(t, store, log)
	for _, a := range []types.Action{
		{Type: types.ActionUpdateItem, Payload: &types.UpdateItem{Item: types.Item{JanCode: "123", Qty: 10}}},
		{Type: types.ActionPackageItem, Payload: &types.PackageItem{OrderID: "o1", ItemKey: "123", Qty: 3}},
		{Type: types.ActionCreateName, Payload: &types.CreateName{Name: "alice"}},
	} {
		if _, err := log.Append(ctx, a); err != nil {
			t.Fatal(err)
		}
	}
	sess1.Flush()
	want := m1.State()
	sess1.Close()

	if store.snap == nil {
		t.Fatal("flush did not persist a snapshot")
	}

	// A fresh session over the same store but an empty log must reproduce
	// the exact tree without any live replay.
	sess2, m2 := openSession(t, store, broadcast.NewMemoryLog())

	if !reflect.DeepEqual(m2.State().Inventory, want.Inventory) {
		t.Errorf("resumed inventory differs:\n got %+v\nwant %+v", m2.State().Inventory, want.Inventory)
	}
	if !reflect.DeepEqual(m2.State().Names, want.Names) {
		t.Errorf("resumed names differ: %+v", m2.State().Names)
	}
	stats := sess2.Stats()
	if !stats.Hydrated {
		t.Error("resume did not hydrate from snapshot")
	}
	if stats.LiveApplied != 0 || stats.CacheReplayed != 0 {
		t.Errorf("resume replayed work already in the snapshot: %+v", stats)
	}
}

func TestSession_SnapshotStateNeverOutrunsItsCursor(t *testing.T) {
	// Snapshots taken mid-burst must pair state and cursor consistently:
	// hydrating any persisted snapshot and replaying the log strictly
	// after its cursor has to land on the same inventory as the live
	// session, or the next cold start double-applies deltas.
	log := broadcast.NewMemoryLog()
	store := newFakeStore()
	sess, m := openSession(t, store, log)
	ctx := context.Background()

	if _, err := log.Append(ctx, types.Action{
		Type:    types.ActionUpdateItem,
		Payload: &types.UpdateItem{Item: types.Item{JanCode: "123", Qty: 1000}},
	}); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			if _, err := log.Append(ctx, types.Action{
				Type:    types.ActionPackageItem,
				Payload: &types.PackageItem{OrderID: "o1", ItemKey: "123", Qty: 1},
			}); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	for appending := true; appending; {
		select {
		case <-done:
			appending = false
		default:
			sess.Flush()
		}
	}
	sess.Flush()

	final := m.State().Inventory
	entries := log.Entries()
	for i, snap := range store.snapshots() {
		tree := snap.State
		for _, a := range entries {
			if afterCursor(snap.LastAction, a) {
				tree = reduce.Apply(tree, a)
			}
		}
		if !reflect.DeepEqual(tree.Inventory, final) {
			t.Fatalf("snapshot %d replays to shipped %d, want %d",
				i, tree.Inventory.Items["123"].Shipped, final.Items["123"].Shipped)
		}
	}
}

func TestSession_DegradesOnCacheReadErrors(t *testing.T) {
	store := newFakeStore()
	store.readErr = errors.New("disk gone")
	log := broadcast.NewMemoryLog()

	_, m := openSession(t, store, log)

	if _, err := log.Append(context.Background(), types.Action{
		Type:    types.ActionCreateName,
		Payload: &types.CreateName{Name: "alice"},
	}); err != nil {
		t.Fatal(err)
	}
	if !m.State().Names.Names["alice"] {
		t.Error("live log should remain the source of truth when the cache is broken")
	}
}

func TestSession_CacheWriteFailureDoesNotDoubleApply(t *testing.T) {
	store := newFakeStore()
	store.writeErr = errors.New("disk full")
	log := broadcast.NewMemoryLog()

	sess, m := openSession(t, store, log)
	ctx := context.Background()

	if _, err := log.Append(ctx, types.Action{
		Type:    types.ActionUpdateItem,
		Payload: &types.UpdateItem{Item: types.Item{JanCode: "123", Qty: 10}},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := log.Append(ctx, types.Action{
		Type:    types.ActionPackageItem,
		Payload: &types.PackageItem{OrderID: "o1", ItemKey: "123", Qty: 5},
	}); err != nil {
		t.Fatal(err)
	}

	// The delta must land exactly once even though persistence failed.
	if got := m.State().Inventory.Items["123"].Shipped; got != 5 {
		t.Errorf("shipped = %d, want 5", got)
	}
	order := m.State().Inventory.Orders["o1"]
	if len(order.Items) != 1 || order.Items[0].Qty != 5 {
		t.Errorf("order lines = %+v, want one line of 5", order.Items)
	}
	if sess.Cursor() == nil {
		t.Error("cursor should advance even when the cache write fails")
	}
}

func TestSession_SubscriptionErrorsSurface(t *testing.T) {
	log := broadcast.NewMemoryLog()
	m := state.New()

	var got error
	s, err := Open(context.Background(), Options{
		Machine: m,
		Cache:   newFakeStore(),
		Log:     log,
		OnError: func(err error) { got = err },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	want := errors.New("stream broken")
	log.Fail(want)
	if !errors.Is(got, want) {
		t.Errorf("OnError got %v, want %v", got, want)
	}
}

func TestSession_OpenRequiresCollaborators(t *testing.T) {
	if _, err := Open(context.Background(), Options{}); err == nil {
		t.Error("Open without collaborators should fail")
	}
}
