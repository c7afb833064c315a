package importer

import (
	"fmt"
	"strings"

	"github.com/tallyworks/tally/internal/types"
)

// Filter selects which staging rows a batch run considers.
type Filter int

const (
	// FilterAll processes every unprocessed row; rows that hit a hard
	// conflict are reported, not mutated.
	FilterAll Filter = iota
	// FilterResolved processes only rows that carry an operator
	// resolution, replaying them through the same classification path.
	FilterResolved
)

// Class is the outcome of classifying one staging row.
type Class string

const (
	ClassNew       Class = "new"
	ClassMatch     Class = "match"
	ClassIdentical Class = "identical"
	ClassConflict  Class = "conflict"
)

// Options are the operator-configurable adoption toggles.
type Options struct {
	// PreferIncomingDescription adopts a non-blank incoming description
	// even when the canonical one is non-blank and different.
	PreferIncomingDescription bool
	// PreferIncomingImages adopts incoming image URLs and emits listing
	// gallery additions for them.
	PreferIncomingImages bool
	// IgnoreQty skips quantity reconciliation entirely.
	IgnoreQty bool
	// HardFields are the fields whose both-sides-non-blank disagreement
	// requires a per-row human choice. Nil means the default set.
	HardFields []string
}

func (o Options) hardFields() []string {
	if o.HardFields == nil {
		return []string{"description", "hsCode"}
	}
	return o.HardFields
}

func (o Options) isHard(field string) bool {
	for _, f := range o.hardFields() {
		if f == field {
			return true
		}
	}
	return false
}

// Conflict is one row whose hard fields disagree with canonical state
// beyond what the adoption toggles resolve.
type Conflict struct {
	Row    int      `json:"row"`
	Key    string   `json:"key"`
	Fields []string `json:"fields"`
}

// Result is one computed batch. Updates and the listing payloads are
// ready to be wrapped into actions; Handled lists the staging row
// indices the batch completed, so a re-run skips them. Classes records
// the per-row item-side classification; listing-only rows carry none.
type Result struct {
	Updates   []types.BulkItemUpdate
	Listings  []types.Payload
	Handled   []int
	Identical []int
	Conflicts []Conflict
	Errors    []RowError
	Classes   map[int]Class
}

// Actions assembles the batch into ordered actions: listing creations
// and updates first so gallery additions and item handle links land on
// existing listings, then the single bulk item action, then the
// idempotent-by-url image additions.
func (r Result) Actions(source, creator string) []types.Action {
	var creates, updates, images []types.Action
	wrap := func(t types.ActionType, p types.Payload) types.Action {
		return types.Action{Type: t, Payload: p, Creator: creator}
	}
	for _, p := range r.Listings {
		switch p.(type) {
		case *types.CreateListing:
			creates = append(creates, wrap(types.ActionCreateListing, p))
		case *types.UpdateListing:
			updates = append(updates, wrap(types.ActionUpdateListing, p))
		case *types.AddListingImage:
			images = append(images, wrap(types.ActionAddListingImage, p))
		}
	}

	actions := append(creates, updates...)
	if len(r.Updates) > 0 || len(r.Handled) > 0 {
		actions = append(actions, wrap(types.ActionBulkImportItems, &types.BulkImportItems{
			Source:  source,
			Updates: r.Updates,
			Handled: r.Handled,
		}))
	}
	return append(actions, images...)
}

// ComputeBatch classifies every eligible staging row against canonical
// inventory and listings and emits the resulting mutation batch. It is a
// pure function of its inputs and safe to invoke repeatedly: processed
// rows are skipped and image additions are emitted only for URLs not
// already in the target gallery.
func ComputeBatch(buf types.ImportBuffer, inv types.InventoryState, listings types.ListingsState, filter Filter, opts Options) Result {
	records, errs := ParseRecords(buf.Text)

	var res Result
	res.Errors = errs
	res.Classes = make(map[int]Class)

	byJan := make(map[string][]types.Item)
	for _, it := range inv.Items {
		byJan[it.JanCode] = append(byJan[it.JanCode], it)
	}

	// Listings created or images queued earlier in this same batch, so
	// many rows sharing one handle do not double-create or double-add.
	batchListings := make(map[string]*types.Listing)
	queuedImages := make(map[string]bool) // handle + "\n" + url

	for _, rec := range records {
		if buf.Processed[rec.Row] {
			continue
		}
		resolution := buf.Resolutions[rec.Row]
		if filter == FilterResolved && resolution == nil {
			continue
		}

		item, err := matchCanonical(rec, inv, byJan)
		if err != nil {
			res.Errors = append(res.Errors, RowError{Row: rec.Row, Err: err.Error()})
			continue
		}

		var itemKey, itemHandle string
		switch {
		case item == nil && rec.JanCode == "":
			// Listing-only row; the item side has nothing to reconcile.
			// Still handled: its listing work below completes the row, and
			// a re-run must not reclassify it.
			res.Handled = append(res.Handled, rec.Row)
		case item == nil:
			created := newItem(rec, opts)
			itemKey = created.Key()
			itemHandle = created.Handle
			res.Updates = append(res.Updates, types.BulkItemUpdate{Key: itemKey, New: &created})
			res.Handled = append(res.Handled, rec.Row)
			res.Classes[rec.Row] = ClassNew
		default:
			itemKey = item.Key()
			itemHandle = item.Handle
			upd, conflicts := diffItem(rec, *item, opts, resolution)
			if len(conflicts) > 0 {
				res.Conflicts = append(res.Conflicts, Conflict{Row: rec.Row, Key: itemKey, Fields: conflicts})
				res.Classes[rec.Row] = ClassConflict
				continue
			}
			if upd == nil {
				res.Identical = append(res.Identical, rec.Row)
				res.Handled = append(res.Handled, rec.Row)
				res.Classes[rec.Row] = ClassIdentical
			} else {
				res.Updates = append(res.Updates, *upd)
				res.Handled = append(res.Handled, rec.Row)
				res.Classes[rec.Row] = ClassMatch
			}
		}

		reconcileListing(&res, rec, itemKey, itemHandle, listings, batchListings, queuedImages, opts)
	}
	return res
}

// matchCanonical finds the canonical item for a record's natural key.
// An explicit subtype matches exactly; a bare JAN code matches only when
// it is unambiguous.
func matchCanonical(rec Record, inv types.InventoryState, byJan map[string][]types.Item) (*types.Item, error) {
	if rec.JanCode == "" {
		return nil, nil
	}
	if rec.Subtype != "" {
		if it, ok := inv.Items[rec.JanCode+rec.Subtype]; ok {
			return &it, nil
		}
		return nil, nil
	}
	matches := byJan[rec.JanCode]
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		it := matches[0]
		return &it, nil
	default:
		return nil, fmt.Errorf("JAN code %s matches %d canonical items; specify a subtype", rec.JanCode, len(matches))
	}
}

// newItem builds the full item for a NEW row. Incoming quantity is
// remaining stock, which for a fresh item equals the lifetime total.
func newItem(rec Record, opts Options) types.Item {
	it := types.Item{
		JanCode:         rec.JanCode,
		Subtype:         rec.Subtype,
		Description:     rec.Description,
		HSCode:          rec.HSCode,
		Handle:          rec.Handle,
		BodyHTML:        rec.BodyHTML,
		ProductCategory: rec.ProductCategory,
		CountryOfOrigin: rec.CountryOfOrigin,
	}
	if opts.PreferIncomingImages {
		it.Image = rec.Image
	}
	if rec.Qty != nil && !opts.IgnoreQty {
		it.Qty = *rec.Qty
	}
	if rec.Price != nil {
		it.Price = *rec.Price
	}
	if rec.Weight != nil {
		it.Weight = *rec.Weight
	}
	return it
}

// diffItem compares a record against its canonical item and returns the
// adopted-field update, or nil when nothing effectively differs. The
// returned conflict list names hard fields that disagree beyond toggle
// and resolution reach; a non-empty list voids the update.
func diffItem(rec Record, item types.Item, opts Options, resolution types.ImportResolution) (*types.BulkItemUpdate, []string) {
	upd := types.BulkItemUpdate{Key: item.Key()}
	var (
		changed   bool
		conflicts []string
	)

	// adopt decides a presence-aware string field. Blank incoming never
	// overwrites; a blank canonical side is always filled; a both-sides
	// disagreement needs the toggle, a resolution, or lands in conflicts
	// when the field is hard.
	adopt := func(field, incoming, existing string, prefer bool) *string {
		if incoming == "" || incoming == existing {
			return nil
		}
		if existing == "" || prefer {
			return &incoming
		}
		if choice, ok := resolution[field]; ok {
			if choice == types.ResolveIncoming {
				return &incoming
			}
			return nil
		}
		if opts.isHard(field) {
			conflicts = append(conflicts, field)
		}
		return nil
	}

	if v := adopt("description", rec.Description, item.Description, opts.PreferIncomingDescription); v != nil {
		upd.Description, changed = v, true
	}
	if v := adopt("hsCode", rec.HSCode, item.HSCode, false); v != nil {
		upd.HSCode, changed = v, true
	}
	if v := adopt("image", rec.Image, item.Image, opts.PreferIncomingImages); v != nil {
		upd.Image, changed = v, true
	}
	if v := adopt("handle", rec.Handle, item.Handle, false); v != nil {
		upd.Handle, changed = v, true
	}
	if v := adopt("bodyHtml", rec.BodyHTML, item.BodyHTML, false); v != nil {
		upd.BodyHTML, changed = v, true
	}
	if v := adopt("productCategory", rec.ProductCategory, item.ProductCategory, false); v != nil {
		upd.ProductCategory, changed = v, true
	}
	if rec.Price != nil && *rec.Price != item.Price {
		upd.Price, changed = rec.Price, true
	}
	if rec.Weight != nil && *rec.Weight != item.Weight {
		upd.Weight, changed = rec.Weight, true
	}

	// Incoming quantity is remaining stock; canonical qty is the
	// lifetime total. The delta keeps shipped history intact while
	// making remaining match the import.
	if rec.Qty != nil && !opts.IgnoreQty {
		if delta := (*rec.Qty + item.Shipped) - item.Qty; delta != 0 {
			upd.QtyDelta, changed = delta, true
		}
	}

	if len(conflicts) > 0 {
		return nil, conflicts
	}
	if !changed {
		return nil, nil
	}
	return &upd, nil
}

// reconcileListing emits the listing-side payloads for one row. Handle
// resolution precedence: the row's own handle, then the matched item's
// existing handle, then a fresh slug. The resolved handle is looked up
// against persisted listings first, then ones created earlier in this
// batch, and only then is a new listing created and linked to the row's
// inventory item.
func reconcileListing(res *Result, rec Record, itemKey, itemHandle string, listings types.ListingsState, batchListings map[string]*types.Listing, queuedImages map[string]bool, opts Options) {
	handle := rec.Handle
	if handle == "" {
		handle = itemHandle
	}
	if handle == "" && rec.Title != "" && rec.JanCode != "" {
		handle = Slugify(rec.Title + " " + rec.JanCode)
	}
	if handle == "" {
		return
	}

	addImage := func(has func(string) bool) {
		if !opts.PreferIncomingImages || rec.Image == "" {
			return
		}
		key := handle + "\n" + rec.Image
		if queuedImages[key] || has(rec.Image) {
			return
		}
		queuedImages[key] = true
		res.Listings = append(res.Listings, &types.AddListingImage{Handle: handle, URL: rec.Image})
	}

	if existing, ok := listings.Listings[handle]; ok {
		if upd := diffListing(rec, existing); upd != nil {
			res.Listings = append(res.Listings, upd)
		}
		addImage(existing.HasImage)
		return
	}
	if created, ok := batchListings[handle]; ok {
		addImage(created.HasImage)
		return
	}

	listing := types.Listing{
		Handle:          handle,
		Title:           rec.Title,
		JanCode:         rec.JanCode,
		Status:          rec.Status,
		Tags:            rec.Tags,
		BodyHTML:        rec.BodyHTML,
		ProductCategory: rec.ProductCategory,
	}
	batchListings[handle] = &listing
	res.Listings = append(res.Listings, &types.CreateListing{Listing: listing, ItemKey: itemKey})
	addImage(listing.HasImage)
}

// diffListing builds a partial listing update for a persisted listing.
// Blank canonical fields are filled; status and tags follow the import
// since the export is authoritative for publication state.
func diffListing(rec Record, existing types.Listing) *types.UpdateListing {
	upd := types.UpdateListing{Handle: existing.Handle}
	changed := false

	if rec.Title != "" && existing.Title == "" {
		upd.Title, changed = &rec.Title, true
	}
	if rec.BodyHTML != "" && existing.BodyHTML == "" {
		upd.BodyHTML, changed = &rec.BodyHTML, true
	}
	if rec.ProductCategory != "" && existing.ProductCategory == "" {
		upd.ProductCategory, changed = &rec.ProductCategory, true
	}
	if rec.Status != "" && rec.Status != existing.Status {
		upd.Status, changed = &rec.Status, true
	}
	if len(rec.Tags) > 0 && strings.Join(rec.Tags, ",") != strings.Join(existing.Tags, ",") {
		tags := rec.Tags
		upd.Tags, changed = &tags, true
	}

	if !changed {
		return nil
	}
	return &upd
}

// Slugify lowercases, collapses runs of non-alphanumerics to single
// hyphens and trims the ends, matching how listing handles are minted.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		default:
			dash = true
		}
	}
	return b.String()
}
