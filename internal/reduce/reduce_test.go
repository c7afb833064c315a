package reduce

import (
	"testing"

	"github.com/tallyworks/tally/internal/types"
)

func TestApply_UnknownActionLeavesTreeUnchanged(t *testing.T) {
	tree := Apply(types.Tree{}, types.Action{
		ID:        "x1",
		Type:      types.ActionType("teleport_item"),
		Payload:   &types.RawPayload{},
		Timestamp: &types.Timestamp{Seconds: 1},
	})

	if len(tree.Inventory.Items) != 0 || len(tree.Listings.Listings) != 0 {
		t.Error("unknown action must not touch domain state")
	}
	// It still lands in history: the feed records every applied id.
	if len(tree.History.Entries) != 1 {
		t.Error("unknown action should still appear in history")
	}
}

// Replaying the same confirmed sequence must give the same tree however
// the sequence is chunked into batches.
func TestReplay_DeterministicAcrossChunking(t *testing.T) {
	actions := []types.Action{
		confirmed(&types.UpdateItem{Item: types.Item{JanCode: "123", Subtype: "A", Qty: 10}}, types.ActionUpdateItem),
		confirmed(&types.PackageItem{OrderID: "o1", ItemKey: "123A", Qty: 2}, types.ActionPackageItem),
		confirmed(&types.PackageItem{OrderID: "o1", ItemKey: "123A", Qty: 3}, types.ActionPackageItem),
		confirmed(&types.CreateListing{Listing: types.Listing{Handle: "widget-123", JanCode: "123"}, ItemKey: "123A"}, types.ActionCreateListing),
		confirmed(&types.AddListingImage{Handle: "widget-123", URL: "https://img/1.jpg"}, types.ActionAddListingImage),
		confirmed(&types.CreateName{Name: "alice"}, types.ActionCreateName),
	}

	oneShot := Replay(types.Tree{}, actions)

	chunked := types.Tree{}
	chunked = Replay(chunked, actions[:1])
	chunked = Replay(chunked, actions[1:4])
	chunked = Replay(chunked, actions[4:])

	if oneShot.Inventory.Items["123A"] != chunked.Inventory.Items["123A"] {
		t.Error("item state differs across chunking")
	}
	if len(oneShot.Inventory.Orders["o1"].Items) != len(chunked.Inventory.Orders["o1"].Items) {
		t.Error("order state differs across chunking")
	}
	if oneShot.Inventory.Orders["o1"].Items[0] != chunked.Inventory.Orders["o1"].Items[0] {
		t.Error("order line differs across chunking")
	}
	if len(oneShot.Listings.Listings["widget-123"].Images) != len(chunked.Listings.Listings["widget-123"].Images) {
		t.Error("listing state differs across chunking")
	}
	if len(oneShot.History.Entries) != len(chunked.History.Entries) {
		t.Error("history differs across chunking")
	}
}

func TestApply_DoesNotMutateInputTree(t *testing.T) {
	base := Replay(types.Tree{}, []types.Action{
		confirmed(&types.UpdateItem{Item: types.Item{JanCode: "123", Subtype: "A", Qty: 10}}, types.ActionUpdateItem),
	})

	_ = Apply(base, confirmed(&types.UpdateField{ID: "123A", Field: "qty", To: 99}, types.ActionUpdateField))

	if base.Inventory.Items["123A"].Qty != 10 {
		t.Error("Apply mutated the input tree")
	}
}

func TestNames_CreateAndRemove(t *testing.T) {
	s := types.NamesState{}

	s = Names(s, confirmed(&types.CreateName{Name: "alice"}, types.ActionCreateName))
	if !s.Names["alice"] {
		t.Fatal("name not registered")
	}

	// Duplicate create is a no-op.
	again := Names(s, confirmed(&types.CreateName{Name: "alice"}, types.ActionCreateName))
	if len(again.Names) != 1 {
		t.Error("duplicate create should not change the registry")
	}

	s = Names(s, confirmed(&types.RemoveName{Name: "alice"}, types.ActionRemoveName))
	if s.Names["alice"] {
		t.Error("name not removed")
	}
}

func TestHistory_DedupsById(t *testing.T) {
	a := confirmed(&types.CreateName{Name: "alice"}, types.ActionCreateName)

	s := History(types.HistoryState{}, a)
	s = History(s, a)

	if len(s.Entries) != 1 {
		t.Errorf("entries = %d, want 1 after re-delivery", len(s.Entries))
	}
}

func TestPhotos_IndexesAllImageSources(t *testing.T) {
	s := types.PhotosState{}

	s = Photos(s, confirmed(&types.AddListingImage{Handle: "h", URL: "https://img/a.jpg"}, types.ActionAddListingImage))
	s = Photos(s, confirmed(&types.UpdateItem{Item: types.Item{JanCode: "1", Qty: 1, Image: "https://img/b.jpg"}}, types.ActionUpdateItem))
	s = Photos(s, confirmed(&types.UpdateField{ID: "1", Field: "image", To: "https://img/c.jpg"}, types.ActionUpdateField))

	for _, url := range []string{"https://img/a.jpg", "https://img/b.jpg", "https://img/c.jpg"} {
		if _, ok := s.Attached[url]; !ok {
			t.Errorf("url %s not indexed", url)
		}
	}
}

func TestImports_StageAppendsWithNewline(t *testing.T) {
	s := types.ImportsState{}

	s = Imports(s, confirmed(&types.StageImportText{Buffer: types.BufferShopify, Text: "Handle,Title\n"}, types.ActionStageImportText))
	s = Imports(s, confirmed(&types.StageImportText{Buffer: types.BufferShopify, Text: "w,Widget"}, types.ActionStageImportText))

	if s.Shopify.Text != "Handle,Title\nw,Widget" {
		t.Errorf("staged text = %q", s.Shopify.Text)
	}
	if s.Orders.Text != "" {
		t.Error("orders buffer should be untouched")
	}
}

func TestImports_ResolutionAndProcessedBookkeeping(t *testing.T) {
	s := types.ImportsState{}

	s = Imports(s, confirmed(&types.SetImportResolution{
		Buffer:  types.BufferShopify,
		Row:     3,
		Choices: map[string]string{"description": types.ResolveIncoming},
	}, types.ActionSetImportResolution))

	if s.Shopify.Resolutions[3]["description"] != types.ResolveIncoming {
		t.Error("resolution not stored")
	}

	s = Imports(s, confirmed(&types.BulkImportItems{
		Source:  types.BufferShopify,
		Handled: []int{0, 3},
	}, types.ActionBulkImportItems))

	if !s.Shopify.Processed[0] || !s.Shopify.Processed[3] {
		t.Error("handled rows not marked processed")
	}

	s = Imports(s, confirmed(&types.ClearImport{Buffer: types.BufferShopify}, types.ActionClearImport))
	if s.Shopify.Text != "" || len(s.Shopify.Processed) != 0 || len(s.Shopify.Resolutions) != 0 {
		t.Error("clear_import should reset the whole buffer")
	}
}
