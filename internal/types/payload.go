package types

import "encoding/json"

// Payload is the closed sum of action payloads. Each action type carries
// exactly one variant; reducers switch on the concrete type.
type Payload interface {
	isPayload()
}

// RawPayload preserves the payload of an action type this build does not
// know about. Every reducer ignores it.
type RawPayload struct {
	Raw json.RawMessage
}

// MarshalJSON round-trips the original bytes.
func (p RawPayload) MarshalJSON() ([]byte, error) {
	if len(p.Raw) == 0 {
		return []byte("null"), nil
	}
	return p.Raw, nil
}

// UpdateItem creates an item or replaces its descriptive fields and
// quantities wholesale. The item key is derived from JanCode+Subtype.
type UpdateItem struct {
	Item Item `json:"item"`
}

// UpdateField sets a single item field to an absolute value. Setting qty
// to zero deletes the item.
type UpdateField struct {
	ID    string `json:"id"`
	Field string `json:"field"`
	To    any    `json:"to"`
}

// NewOrder creates an empty order.
type NewOrder struct {
	ID      string `json:"id"`
	Date    string `json:"date,omitempty"`
	Email   string `json:"email,omitempty"`
	Product string `json:"product,omitempty"`
}

// PackageItem dispatches Qty pieces of an item into an order. Both the
// order line and the item's shipped counter move by the delta, so the log
// must apply this at most once.
type PackageItem struct {
	OrderID string `json:"orderID"`
	ItemKey string `json:"itemKey"`
	Qty     int    `json:"qty"`
	Date    string `json:"date,omitempty"`
	Email   string `json:"email,omitempty"`
	Product string `json:"product,omitempty"`
}

// QuantifyItem corrects an existing order line by a signed delta. Shipped
// moves by the same delta; a line reaching zero is removed.
type QuantifyItem struct {
	OrderID string `json:"orderID"`
	ItemKey string `json:"itemKey"`
	Qty     int    `json:"qty"`
}

// RetypeItem moves Qty units from one subtype of a JAN code to another,
// creating the destination item if needed. The source is deleted when its
// quantity reaches zero.
type RetypeItem struct {
	ItemKey    string `json:"itemKey"`
	NewSubtype string `json:"newSubtype"`
	Qty        int    `json:"qty"`
}

// RenameSubtype renames an item's subtype. If the destination key already
// exists the two items merge, but only when description, HS code and image
// are identical; a mismatch leaves state unchanged.
type RenameSubtype struct {
	ItemKey    string `json:"itemKey"`
	NewSubtype string `json:"newSubtype"`
}

// DeleteEmptyOrder removes an order, but only when it has no lines.
type DeleteEmptyOrder struct {
	OrderID string `json:"orderID"`
}

// ArchiveInventory snapshots the live inventory into the archive under the
// given name and resets the live quantities. This is the one bulk,
// non-delta operation in the log.
type ArchiveInventory struct {
	Name string `json:"name"`
}

// CreateName registers a creator name.
type CreateName struct {
	Name string `json:"name"`
}

// RemoveName unregisters a creator name.
type RemoveName struct {
	Name string `json:"name"`
}

// CreateListing creates a listing keyed by its handle. ItemKey, when set,
// links an inventory item to the handle in the idToHandle map.
type CreateListing struct {
	Listing Listing `json:"listing"`
	ItemKey string  `json:"itemKey,omitempty"`
}

// UpdateListing partially updates a listing. Nil fields are untouched.
type UpdateListing struct {
	Handle          string    `json:"handle"`
	Title           *string   `json:"title,omitempty"`
	Status          *string   `json:"status,omitempty"`
	Tags            *[]string `json:"tags,omitempty"`
	BodyHTML        *string   `json:"bodyHtml,omitempty"`
	ProductCategory *string   `json:"productCategory,omitempty"`
}

// AddListingImage appends an image URL to a listing's gallery. The reducer
// itself allows duplicates; call sites that need idempotence (the bulk
// importer) check for the URL before emitting the action.
type AddListingImage struct {
	Handle string `json:"handle"`
	URL    string `json:"url"`
}

// BulkItemUpdate is one item mutation inside a bulk_import_items action.
// For NEW rows the full item is carried in New; for matches only the
// adopted fields are set and QtyDelta carries the reconciled quantity
// delta, never an absolute value.
type BulkItemUpdate struct {
	Key             string   `json:"key"`
	New             *Item    `json:"new,omitempty"`
	Description     *string  `json:"description,omitempty"`
	HSCode          *string  `json:"hsCode,omitempty"`
	Image           *string  `json:"image,omitempty"`
	Handle          *string  `json:"handle,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	Weight          *float64 `json:"weight,omitempty"`
	BodyHTML        *string  `json:"bodyHtml,omitempty"`
	ProductCategory *string  `json:"productCategory,omitempty"`
	QtyDelta        int      `json:"qtyDelta,omitempty"`
}

// BulkImportItems applies one computed import batch: item creations and
// field/quantity updates, plus the staging row indices the batch handled.
type BulkImportItems struct {
	Source  string           `json:"source"`
	Updates []BulkItemUpdate `json:"updates"`
	Handled []int            `json:"handled,omitempty"`
}

// StageImportText appends raw delimited text to a staging buffer.
type StageImportText struct {
	Buffer string `json:"buffer"`
	Text   string `json:"text"`
}

// SetImportResolution records the operator's per-field choices for one
// conflicted staging row.
type SetImportResolution struct {
	Buffer  string            `json:"buffer"`
	Row     int               `json:"row"`
	Choices map[string]string `json:"choices"`
}

// ClearImport drops a staging buffer entirely.
type ClearImport struct {
	Buffer string `json:"buffer"`
}

func (*RawPayload) isPayload()         {}
func (*UpdateItem) isPayload()         {}
func (*UpdateField) isPayload()        {}
func (*NewOrder) isPayload()           {}
func (*PackageItem) isPayload()        {}
func (*QuantifyItem) isPayload()       {}
func (*RetypeItem) isPayload()         {}
func (*RenameSubtype) isPayload()      {}
func (*DeleteEmptyOrder) isPayload()   {}
func (*ArchiveInventory) isPayload()   {}
func (*CreateName) isPayload()         {}
func (*RemoveName) isPayload()         {}
func (*CreateListing) isPayload()      {}
func (*UpdateListing) isPayload()      {}
func (*AddListingImage) isPayload()    {}
func (*BulkImportItems) isPayload()    {}
func (*StageImportText) isPayload()    {}
func (*SetImportResolution) isPayload() {}
func (*ClearImport) isPayload()        {}
