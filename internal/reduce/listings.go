package reduce

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/tallyworks/tally/internal/types"
)

// Listings reduces the handle-keyed listings and the idToHandle map that
// lets items keep their listing across renames and merges.
func Listings(s types.ListingsState, a types.Action) types.ListingsState {
	switch p := a.Payload.(type) {
	case *types.CreateListing:
		return createListing(s, p)
	case *types.UpdateListing:
		return updateListing(s, p)
	case *types.AddListingImage:
		return addListingImage(s, p)
	case *types.RenameSubtype:
		return relinkHandle(s, p)
	case *types.BulkImportItems:
		return bulkImportHandles(s, p)
	}
	return s
}

func cloneListings(s types.ListingsState) map[string]types.Listing {
	listings := maps.Clone(s.Listings)
	if listings == nil {
		listings = make(map[string]types.Listing)
	}
	return listings
}

func cloneIDToHandle(s types.ListingsState) map[string]string {
	m := maps.Clone(s.IDToHandle)
	if m == nil {
		m = make(map[string]string)
	}
	return m
}

func createListing(s types.ListingsState, p *types.CreateListing) types.ListingsState {
	handle := p.Listing.Handle
	if handle == "" {
		return s
	}
	if _, exists := s.Listings[handle]; !exists {
		listings := cloneListings(s)
		listings[handle] = p.Listing
		s.Listings = listings
	}
	if p.ItemKey != "" && s.IDToHandle[p.ItemKey] != handle {
		idToHandle := cloneIDToHandle(s)
		idToHandle[p.ItemKey] = handle
		s.IDToHandle = idToHandle
	}
	return s
}

func updateListing(s types.ListingsState, p *types.UpdateListing) types.ListingsState {
	listing, ok := s.Listings[p.Handle]
	if !ok {
		slog.Warn("update_listing on unknown handle",
			"component", "reduce", "handle", p.Handle)
		return s
	}
	if p.Title != nil {
		listing.Title = *p.Title
	}
	if p.Status != nil {
		listing.Status = *p.Status
	}
	if p.Tags != nil {
		listing.Tags = slices.Clone(*p.Tags)
	}
	if p.BodyHTML != nil {
		listing.BodyHTML = *p.BodyHTML
	}
	if p.ProductCategory != nil {
		listing.ProductCategory = *p.ProductCategory
	}
	listings := cloneListings(s)
	listings[p.Handle] = listing
	s.Listings = listings
	return s
}

// addListingImage appends to the gallery. Duplicates are allowed here:
// the bulk importer is the call site responsible for idempotence-by-url.
func addListingImage(s types.ListingsState, p *types.AddListingImage) types.ListingsState {
	if p.Handle == "" || p.URL == "" {
		return s
	}
	listing, ok := s.Listings[p.Handle]
	if !ok {
		// Hydration from an older snapshot may lack the listing; start a
		// skeleton rather than dropping the image.
		listing = types.Listing{Handle: p.Handle}
	}
	listing.Images = append(slices.Clone(listing.Images), p.URL)
	listings := cloneListings(s)
	listings[p.Handle] = listing
	s.Listings = listings
	return s
}

// relinkHandle keeps the item-to-listing link across a subtype rename or
// merge. The destination keeps its own handle when it already has one.
func relinkHandle(s types.ListingsState, p *types.RenameSubtype) types.ListingsState {
	oldHandle, hasOld := s.IDToHandle[p.ItemKey]
	if !hasOld {
		return s
	}
	idToHandle := cloneIDToHandle(s)
	delete(idToHandle, p.ItemKey)

	// The key math mirrors the inventory reducer: same JAN code, new
	// subtype suffix. The JAN code comes from the linked listing; a link
	// without a JAN-coded listing cannot be re-derived and is dropped.
	if listing, ok := s.Listings[oldHandle]; ok && listing.JanCode != "" {
		destKey := listing.JanCode + p.NewSubtype
		if _, exists := idToHandle[destKey]; !exists {
			idToHandle[destKey] = oldHandle
		}
	}
	s.IDToHandle = idToHandle
	return s
}

func bulkImportHandles(s types.ListingsState, p *types.BulkImportItems) types.ListingsState {
	var idToHandle map[string]string
	for _, u := range p.Updates {
		handle := ""
		switch {
		case u.Handle != nil:
			handle = *u.Handle
		case u.New != nil && u.New.Handle != "":
			handle = u.New.Handle
		}
		if handle == "" || s.IDToHandle[u.Key] == handle {
			continue
		}
		if idToHandle == nil {
			idToHandle = cloneIDToHandle(s)
		}
		idToHandle[u.Key] = handle
	}
	if idToHandle != nil {
		s.IDToHandle = idToHandle
	}
	return s
}
