package reduce

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/tallyworks/tally/internal/types"
)

// Inventory reduces items, orders and the archive. All quantity movement
// here is delta-based except update_item (creation/replace), update_field
// (absolute single-field set) and archive_inventory (bulk reset).
func Inventory(s types.InventoryState, a types.Action) types.InventoryState {
	switch p := a.Payload.(type) {
	case *types.UpdateItem:
		return updateItem(s, p.Item)
	case *types.UpdateField:
		return updateField(s, p)
	case *types.NewOrder:
		return newOrder(s, p)
	case *types.PackageItem:
		return packageItem(s, p)
	case *types.QuantifyItem:
		return quantifyItem(s, p)
	case *types.RetypeItem:
		return retypeItem(s, p)
	case *types.RenameSubtype:
		return renameSubtype(s, p)
	case *types.DeleteEmptyOrder:
		return deleteEmptyOrder(s, p)
	case *types.ArchiveInventory:
		return archiveInventory(s, p, a.Timestamp)
	case *types.BulkImportItems:
		return bulkImportItems(s, p)
	}
	return s
}

func cloneItems(s types.InventoryState) map[string]types.Item {
	items := maps.Clone(s.Items)
	if items == nil {
		items = make(map[string]types.Item)
	}
	return items
}

func cloneOrders(s types.InventoryState) map[string]types.Order {
	orders := maps.Clone(s.Orders)
	if orders == nil {
		orders = make(map[string]types.Order)
	}
	return orders
}

func updateItem(s types.InventoryState, item types.Item) types.InventoryState {
	key := item.Key()
	if key == "" {
		return s
	}
	items := cloneItems(s)
	if item.Qty == 0 {
		delete(items, key)
	} else {
		items[key] = item
	}
	s.Items = items
	return s
}

func updateField(s types.InventoryState, p *types.UpdateField) types.InventoryState {
	item, ok := s.Items[p.ID]
	if !ok {
		slog.Warn("update_field on unknown item",
			"component", "reduce", "item", p.ID, "field", p.Field)
		return s
	}

	switch p.Field {
	case "description":
		item.Description = asString(p.To)
	case "hsCode":
		item.HSCode = asString(p.To)
	case "image":
		item.Image = asString(p.To)
	case "qty":
		item.Qty = asInt(p.To)
	case "pieces":
		item.Pieces = asInt(p.To)
	case "shipped":
		item.Shipped = asInt(p.To)
	case "handle":
		item.Handle = asString(p.To)
	case "price":
		item.Price = asFloat(p.To)
	case "weight":
		item.Weight = asFloat(p.To)
	case "countryOfOrigin":
		item.CountryOfOrigin = asString(p.To)
	case "bodyHtml":
		item.BodyHTML = asString(p.To)
	case "productCategory":
		item.ProductCategory = asString(p.To)
	default:
		slog.Warn("update_field on unknown field",
			"component", "reduce", "item", p.ID, "field", p.Field)
		return s
	}

	items := cloneItems(s)
	if p.Field == "qty" && item.Qty == 0 {
		delete(items, p.ID)
	} else {
		items[p.ID] = item
	}
	s.Items = items
	return s
}

func newOrder(s types.InventoryState, p *types.NewOrder) types.InventoryState {
	if p.ID == "" {
		return s
	}
	if _, exists := s.Orders[p.ID]; exists {
		return s
	}
	orders := cloneOrders(s)
	orders[p.ID] = types.Order{
		ID:      p.ID,
		Date:    p.Date,
		Email:   p.Email,
		Product: p.Product,
		Items:   nil,
	}
	s.Orders = orders
	return s
}

// adjustLine returns lines with the item key's quantity moved by delta,
// aggregating per key and dropping lines that reach zero or below.
func adjustLine(lines []types.OrderLine, itemKey string, delta int) []types.OrderLine {
	out := make([]types.OrderLine, 0, len(lines)+1)
	found := false
	for _, line := range lines {
		if line.ItemKey == itemKey {
			found = true
			line.Qty += delta
		}
		if line.Qty > 0 {
			out = append(out, line)
		}
	}
	if !found && delta > 0 {
		out = append(out, types.OrderLine{ItemKey: itemKey, Qty: delta})
	}
	return out
}

func packageItem(s types.InventoryState, p *types.PackageItem) types.InventoryState {
	item, ok := s.Items[p.ItemKey]
	if !ok {
		slog.Warn("package_item on unknown item",
			"component", "reduce", "item", p.ItemKey, "order", p.OrderID)
		return s
	}

	orders := cloneOrders(s)
	order, exists := orders[p.OrderID]
	if !exists {
		order = types.Order{ID: p.OrderID, Date: p.Date, Email: p.Email, Product: p.Product}
	}
	order.Items = adjustLine(slices.Clone(order.Items), p.ItemKey, p.Qty)
	orders[p.OrderID] = order

	item.Shipped += p.Qty
	items := cloneItems(s)
	items[p.ItemKey] = item

	s.Items = items
	s.Orders = orders
	return s
}

func quantifyItem(s types.InventoryState, p *types.QuantifyItem) types.InventoryState {
	item, ok := s.Items[p.ItemKey]
	if !ok {
		slog.Warn("quantify_item on unknown item",
			"component", "reduce", "item", p.ItemKey, "order", p.OrderID)
		return s
	}

	orders := cloneOrders(s)
	order, exists := orders[p.OrderID]
	if !exists {
		order = types.Order{ID: p.OrderID}
	}
	order.Items = adjustLine(slices.Clone(order.Items), p.ItemKey, p.Qty)
	orders[p.OrderID] = order

	item.Shipped += p.Qty
	items := cloneItems(s)
	items[p.ItemKey] = item

	s.Items = items
	s.Orders = orders
	return s
}

func retypeItem(s types.InventoryState, p *types.RetypeItem) types.InventoryState {
	src, ok := s.Items[p.ItemKey]
	if !ok || p.Qty <= 0 {
		slog.Warn("retype_item skipped",
			"component", "reduce", "item", p.ItemKey, "qty", p.Qty)
		return s
	}

	destKey := src.JanCode + p.NewSubtype
	items := cloneItems(s)

	dest, exists := items[destKey]
	if !exists {
		dest = src
		dest.Subtype = p.NewSubtype
		dest.Qty = 0
		dest.Shipped = 0
	}
	dest.Qty += p.Qty
	items[destKey] = dest

	src.Qty -= p.Qty
	if src.Qty == 0 {
		delete(items, p.ItemKey)
	} else {
		items[p.ItemKey] = src
	}

	s.Items = items
	return s
}

func renameSubtype(s types.InventoryState, p *types.RenameSubtype) types.InventoryState {
	src, ok := s.Items[p.ItemKey]
	if !ok {
		slog.Warn("rename_subtype on unknown item",
			"component", "reduce", "item", p.ItemKey)
		return s
	}

	destKey := src.JanCode + p.NewSubtype
	if destKey == p.ItemKey {
		return s
	}
	items := cloneItems(s)

	if dest, exists := items[destKey]; exists {
		// Merge guard: descriptive identity must match or the merge is
		// rejected with state unchanged.
		if dest.Description != src.Description || dest.HSCode != src.HSCode || dest.Image != src.Image {
			slog.Warn("rename_subtype merge rejected: field mismatch",
				"component", "reduce", "item", p.ItemKey, "into", destKey)
			return s
		}
		dest.Qty += src.Qty
		dest.Shipped += src.Shipped
		dest.Pieces += src.Pieces
		items[destKey] = dest
	} else {
		moved := src
		moved.Subtype = p.NewSubtype
		items[destKey] = moved
	}

	delete(items, p.ItemKey)
	s.Items = items
	return s
}

func deleteEmptyOrder(s types.InventoryState, p *types.DeleteEmptyOrder) types.InventoryState {
	order, ok := s.Orders[p.OrderID]
	if !ok {
		return s
	}
	if len(order.Items) != 0 {
		slog.Warn("delete_empty_order on non-empty order",
			"component", "reduce", "order", p.OrderID, "lines", len(order.Items))
		return s
	}
	orders := cloneOrders(s)
	delete(orders, p.OrderID)
	s.Orders = orders
	return s
}

func archiveInventory(s types.InventoryState, p *types.ArchiveInventory, at *types.Timestamp) types.InventoryState {
	if p.Name == "" {
		return s
	}
	archive := maps.Clone(s.Archive)
	if archive == nil {
		archive = make(map[string]types.ArchiveEntry)
	}
	archive[p.Name] = types.ArchiveEntry{
		ArchivedAt: at,
		Items:      maps.Clone(s.Items),
	}
	s.Archive = archive
	s.Items = make(map[string]types.Item)
	return s
}

func bulkImportItems(s types.InventoryState, p *types.BulkImportItems) types.InventoryState {
	if len(p.Updates) == 0 {
		return s
	}
	items := cloneItems(s)
	for _, u := range p.Updates {
		item, exists := items[u.Key]
		if !exists {
			if u.New == nil {
				slog.Warn("bulk import update for unknown item",
					"component", "reduce", "item", u.Key, "source", p.Source)
				continue
			}
			items[u.Key] = *u.New
			continue
		}

		if u.Description != nil {
			item.Description = *u.Description
		}
		if u.HSCode != nil {
			item.HSCode = *u.HSCode
		}
		if u.Image != nil {
			item.Image = *u.Image
		}
		if u.Handle != nil {
			item.Handle = *u.Handle
		}
		if u.Price != nil {
			item.Price = *u.Price
		}
		if u.Weight != nil {
			item.Weight = *u.Weight
		}
		if u.BodyHTML != nil {
			item.BodyHTML = *u.BodyHTML
		}
		if u.ProductCategory != nil {
			item.ProductCategory = *u.ProductCategory
		}
		item.Qty += u.QtyDelta
		if item.Qty == 0 {
			delete(items, u.Key)
		} else {
			items[u.Key] = item
		}
	}
	s.Items = items
	return s
}
