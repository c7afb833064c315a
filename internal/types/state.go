package types

// Tree is the full reduced application state: one field per reducer
// domain. A Tree at cursor C is always the deterministic reduction of the
// confirmed, timestamp-ordered action prefix up to C.
type Tree struct {
	Names     NamesState     `json:"names"`
	Inventory InventoryState `json:"inventory"`
	History   HistoryState   `json:"history"`
	Photos    PhotosState    `json:"photos"`
	Listings  ListingsState  `json:"listings"`
	Imports   ImportsState   `json:"imports"`
}

// NamesState tracks the registered creator names.
type NamesState struct {
	Names map[string]bool `json:"names"`
}

// Item is one inventory entry, keyed by JanCode+Subtype. Qty is the
// lifetime total ever stocked; Shipped the cumulative dispatched count;
// remaining stock is Qty-Shipped.
type Item struct {
	JanCode         string  `json:"janCode"`
	Subtype         string  `json:"subtype"`
	Description     string  `json:"description,omitempty"`
	HSCode          string  `json:"hsCode,omitempty"`
	Image           string  `json:"image,omitempty"`
	Qty             int     `json:"qty"`
	Pieces          int     `json:"pieces,omitempty"`
	Shipped         int     `json:"shipped"`
	Handle          string  `json:"handle,omitempty"`
	Price           float64 `json:"price,omitempty"`
	Weight          float64 `json:"weight,omitempty"`
	CountryOfOrigin string  `json:"countryOfOrigin,omitempty"`
	BodyHTML        string  `json:"bodyHtml,omitempty"`
	ProductCategory string  `json:"productCategory,omitempty"`
}

// Key returns the composite item id.
func (i Item) Key() string {
	return i.JanCode + i.Subtype
}

// Remaining returns the currently available stock.
func (i Item) Remaining() int {
	return i.Qty - i.Shipped
}

// OrderLine is one aggregated line of an order.
type OrderLine struct {
	ItemKey string `json:"itemKey"`
	Qty     int    `json:"qty"`
}

// Order is keyed by its ID. Lines aggregate per item key; zero-qty lines
// are removed.
type Order struct {
	ID      string      `json:"id"`
	Date    string      `json:"date,omitempty"`
	Email   string      `json:"email,omitempty"`
	Product string      `json:"product,omitempty"`
	Items   []OrderLine `json:"items"`
}

// ArchiveEntry is a frozen copy of the inventory taken by
// archive_inventory.
type ArchiveEntry struct {
	ArchivedAt *Timestamp      `json:"archivedAt,omitempty"`
	Items      map[string]Item `json:"idToItem"`
}

// InventoryState holds live items, open orders and archived inventories.
type InventoryState struct {
	Items   map[string]Item         `json:"idToItem"`
	Orders  map[string]Order        `json:"idToOrder"`
	Archive map[string]ArchiveEntry `json:"archive,omitempty"`
}

// HistoryEntry records one applied action for the activity feed.
type HistoryEntry struct {
	ID      string     `json:"id"`
	Type    ActionType `json:"type"`
	Creator string     `json:"creator,omitempty"`
	At      *Timestamp `json:"at,omitempty"`
}

// HistoryState is the applied-action feed with its own id dedup, so a
// re-delivered action never produces a second feed entry.
type HistoryState struct {
	Entries []HistoryEntry  `json:"entries"`
	Seen    map[string]bool `json:"seen"`
}

// PhotoRecord marks an image URL as attached to a listing or item.
type PhotoRecord struct {
	URL     string `json:"url"`
	Handle  string `json:"handle,omitempty"`
	ItemKey string `json:"itemKey,omitempty"`
}

// PhotosState indexes attached image URLs so the upload queue can skip
// work already done.
type PhotosState struct {
	Attached map[string]PhotoRecord `json:"attached"`
}

// Listing is keyed by its handle (slug of title + JAN code). Images are
// order-significant and duplicates are allowed at this level.
type Listing struct {
	Handle          string   `json:"handle"`
	Title           string   `json:"title,omitempty"`
	JanCode         string   `json:"janCode,omitempty"`
	Images          []string `json:"images,omitempty"`
	Status          string   `json:"status,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	BodyHTML        string   `json:"bodyHtml,omitempty"`
	ProductCategory string   `json:"productCategory,omitempty"`
}

// HasImage reports whether a URL is already in the gallery.
func (l Listing) HasImage(url string) bool {
	for _, u := range l.Images {
		if u == url {
			return true
		}
	}
	return false
}

// ListingsState maps handles to listings and inventory item ids to their
// handle, so renames and merges keep listing history.
type ListingsState struct {
	Listings   map[string]Listing `json:"handleToListing"`
	IDToHandle map[string]string  `json:"idToHandle"`
}

// Staging buffer names.
const (
	BufferShopify = "shopify"
	BufferOrders  = "orders"
)

// ImportResolution maps a conflicted field name to "incoming" or
// "existing".
type ImportResolution map[string]string

const (
	ResolveIncoming = "incoming"
	ResolveExisting = "existing"
)

// ImportBuffer is one staging buffer: the accumulated raw text plus
// per-row bookkeeping. Parsed rows are always re-derived from Text rather
// than stored, so header and quoting edge cases cannot desynchronize.
type ImportBuffer struct {
	Text        string                   `json:"text"`
	Processed   map[int]bool             `json:"processed,omitempty"`
	Resolutions map[int]ImportResolution `json:"resolutions,omitempty"`
}

// ImportsState holds the staging buffers for the two import sources.
type ImportsState struct {
	Shopify ImportBuffer `json:"shopify"`
	Orders  ImportBuffer `json:"orders"`
}

// Buffer returns the named staging buffer; unknown names return the
// zero buffer.
func (s ImportsState) Buffer(name string) ImportBuffer {
	switch name {
	case BufferOrders:
		return s.Orders
	default:
		return s.Shopify
	}
}
