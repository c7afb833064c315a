package main

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/tallyworks/tally/internal/cache"
	"github.com/tallyworks/tally/internal/config"
	"github.com/tallyworks/tally/internal/reduce"
	"github.com/tallyworks/tally/internal/types"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the reduced state from the local cache",
	Long:  "Rebuild the state tree from the durable snapshot and cached actions without touching the live log.",
	Args:  cobra.NoArgs,
	RunE:  runState,
}

func runState(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tree, cursor, err := loadLocalState(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"state":  tree,
			"cursor": cursor,
		})
	}

	out := cmd.OutOrStdout()
	if cursor != nil {
		fmt.Fprintf(out, "Cursor: %s (%d)\n\n", cursor.ID, cursor.Timestamp.Millis())
	} else {
		fmt.Fprintf(out, "Cursor: none (empty cache)\n\n")
	}

	w := newTabWriter(out)
	fmt.Fprintln(w, "ITEM\tDESCRIPTION\tQTY\tSHIPPED\tREMAINING")
	for _, key := range keysOf(tree.Inventory.Items) {
		it := tree.Inventory.Items[key]
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
			key, it.Description, it.Qty, it.Shipped, it.Remaining())
	}
	w.Flush()

	fmt.Fprintf(out, "\n%d items, %d orders, %d listings, %d history entries\n",
		len(tree.Inventory.Items),
		len(tree.Inventory.Orders),
		len(tree.Listings.Listings),
		len(tree.History.Entries),
	)
	return nil
}

func keysOf[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// loadLocalState rebuilds the state tree offline: hydrate from the
// snapshot, then replay cached actions past the cursor in timestamp
// order. Actions at or before the cursor are overlap from the
// millisecond-truncated range scan and are skipped.
func loadLocalState(ctx context.Context, cfg *config.Config) (types.Tree, *types.Cursor, error) {
	var tree types.Tree
	if cfg.Cache.Path == "" {
		return tree, nil, fmt.Errorf("no cache path configured")
	}

	store := cache.Open(cfg.Cache.Path)
	defer store.Close()

	snap, err := store.Snapshot(ctx)
	if err != nil {
		return tree, nil, fmt.Errorf("load snapshot: %w", err)
	}

	var cursor *types.Cursor
	after := int64(-1)
	if snap != nil {
		tree = snap.State
		cursor = snap.LastAction
		if cursor != nil {
			after = cursor.Timestamp.Millis() - 1
		}
	}

	cached, err := store.CachedActionsAfter(ctx, after)
	if err != nil {
		return tree, nil, fmt.Errorf("load cached actions: %w", err)
	}

	actions := make([]types.Action, 0, len(cached))
	for _, ca := range cached {
		actions = append(actions, ca.Action)
	}
	types.SortActions(actions)

	for _, a := range actions {
		if cursor != nil && !types.Less(types.Action{ID: cursor.ID, Timestamp: &cursor.Timestamp}, a) {
			continue
		}
		tree = reduce.Apply(tree, a)
		if a.Timestamp != nil {
			cursor = &types.Cursor{ID: a.ID, Timestamp: *a.Timestamp}
		}
	}
	return tree, cursor, nil
}
