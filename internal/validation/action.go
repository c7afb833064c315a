package validation

import (
	"github.com/tallyworks/tally/internal/types"
)

// MaxCreatorLength bounds the creator name on appended actions.
const MaxCreatorLength = 256

var knownTypes = []string{
	string(types.ActionUpdateItem),
	string(types.ActionUpdateField),
	string(types.ActionNewOrder),
	string(types.ActionPackageItem),
	string(types.ActionQuantifyItem),
	string(types.ActionRetypeItem),
	string(types.ActionRenameSubtype),
	string(types.ActionDeleteEmptyOrder),
	string(types.ActionArchiveInventory),
	string(types.ActionCreateName),
	string(types.ActionRemoveName),
	string(types.ActionCreateListing),
	string(types.ActionUpdateListing),
	string(types.ActionAddListingImage),
	string(types.ActionBulkImportItems),
	string(types.ActionStageImportText),
	string(types.ActionSetImportResolution),
	string(types.ActionClearImport),
}

var bufferNames = []string{types.BufferShopify, types.BufferOrders}

var resolutionChoices = []string{types.ResolveIncoming, types.ResolveExisting}

// ValidateAction checks an incoming action record before it is appended
// to the log. Confirmed-only constraints (id shape) apply only when an
// id is present, since optimistic appends arrive without one.
func ValidateAction(a types.Action) []ValidationError {
	var c Collector

	c.Add(ValidateRequired("type", string(a.Type)))
	c.Add(ValidateEnum("type", string(a.Type), knownTypes))
	if a.ID != "" {
		c.Add(ValidateULID("id", a.ID))
	}
	c.Add(ValidateUTF8("creator", a.Creator))
	c.Add(ValidateNoNullBytes("creator", a.Creator))
	c.Add(ValidateMaxLength("creator", a.Creator, MaxCreatorLength))

	switch p := a.Payload.(type) {
	case *types.StageImportText:
		c.Add(ValidateEnum("payload.buffer", p.Buffer, bufferNames))
		c.Add(ValidateRequired("payload.text", p.Text))
		c.Add(ValidateUTF8("payload.text", p.Text))
	case *types.SetImportResolution:
		c.Add(ValidateEnum("payload.buffer", p.Buffer, bufferNames))
		for field, choice := range p.Choices {
			c.Add(ValidateRequired("payload.choices", field))
			c.Add(ValidateEnum("payload.choices."+field, choice, resolutionChoices))
		}
	case *types.ClearImport:
		c.Add(ValidateEnum("payload.buffer", p.Buffer, bufferNames))
	case *types.UpdateItem:
		c.Add(ValidateRequired("payload.item.janCode", p.Item.JanCode))
	case *types.UpdateField:
		c.Add(ValidateRequired("payload.id", p.ID))
		c.Add(ValidateRequired("payload.field", p.Field))
	case *types.NewOrder:
		c.Add(ValidateRequired("payload.id", p.ID))
	case *types.PackageItem:
		c.Add(ValidateRequired("payload.orderID", p.OrderID))
		c.Add(ValidateRequired("payload.itemKey", p.ItemKey))
	case *types.QuantifyItem:
		c.Add(ValidateRequired("payload.orderID", p.OrderID))
		c.Add(ValidateRequired("payload.itemKey", p.ItemKey))
	case *types.CreateListing:
		c.Add(ValidateRequired("payload.listing.handle", p.Listing.Handle))
	case *types.UpdateListing:
		c.Add(ValidateRequired("payload.handle", p.Handle))
	case *types.AddListingImage:
		c.Add(ValidateRequired("payload.handle", p.Handle))
		c.Add(ValidateRequired("payload.url", p.URL))
	case *types.BulkImportItems:
		c.Add(ValidateEnum("payload.source", p.Source, bufferNames))
		for _, u := range p.Updates {
			c.Add(ValidateRequired("payload.updates.key", u.Key))
		}
	}

	return c.Errors()
}
