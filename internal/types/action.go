package types

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ActionType identifies one kind of broadcast action. The string values are
// wire-stable: they are persisted in the log and the durable cache.
type ActionType string

const (
	ActionUpdateItem          ActionType = "update_item"
	ActionUpdateField         ActionType = "update_field"
	ActionNewOrder            ActionType = "new_order"
	ActionPackageItem         ActionType = "package_item"
	ActionQuantifyItem        ActionType = "quantify_item"
	ActionRetypeItem          ActionType = "retype_item"
	ActionRenameSubtype       ActionType = "rename_subtype"
	ActionDeleteEmptyOrder    ActionType = "delete_empty_order"
	ActionArchiveInventory    ActionType = "archive_inventory"
	ActionCreateName          ActionType = "create_name"
	ActionRemoveName          ActionType = "remove_name"
	ActionCreateListing       ActionType = "create_listing"
	ActionUpdateListing       ActionType = "update_listing"
	ActionAddListingImage     ActionType = "add_listing_image"
	ActionBulkImportItems     ActionType = "bulk_import_items"
	ActionStageImportText     ActionType = "stage_import_text"
	ActionSetImportResolution ActionType = "set_import_resolution"
	ActionClearImport         ActionType = "clear_import"
)

// Action is one immutable record in the broadcast log. A pending
// (optimistic, locally written) action has a nil Timestamp; once the log
// confirms it the server-assigned timestamp totally orders it.
type Action struct {
	ID        string
	Type      ActionType
	Payload   Payload
	Timestamp *Timestamp
	Creator   string
}

// Confirmed reports whether the action carries a server timestamp.
// Only confirmed actions may be written to the durable cache or advance
// the snapshot cursor.
func (a Action) Confirmed() bool {
	return a.ID != "" && a.Timestamp != nil
}

// Less orders confirmed actions by (seconds, nanoseconds, id). The ID
// tie-break keeps replay deterministic when two actions share an instant.
func Less(a, b Action) bool {
	switch {
	case a.Timestamp == nil && b.Timestamp == nil:
		return a.ID < b.ID
	case a.Timestamp == nil:
		return false
	case b.Timestamp == nil:
		return true
	case !a.Timestamp.Equal(*b.Timestamp):
		return a.Timestamp.Before(*b.Timestamp)
	default:
		return a.ID < b.ID
	}
}

// SortActions sorts actions into replay order in place.
func SortActions(actions []Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		return Less(actions[i], actions[j])
	})
}

// actionEnvelope is the wire/cache JSON shape of an Action.
type actionEnvelope struct {
	ID        string          `json:"id"`
	Type      ActionType      `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp *Timestamp      `json:"timestamp"`
	Creator   string          `json:"creator,omitempty"`
}

// MarshalJSON encodes the action with its typed payload inlined under
// "payload".
func (a Action) MarshalJSON() ([]byte, error) {
	env, err := a.envelope()
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func (a Action) envelope() (actionEnvelope, error) {
	env := actionEnvelope{
		ID:        a.ID,
		Type:      a.Type,
		Timestamp: a.Timestamp,
		Creator:   a.Creator,
	}
	if a.Payload != nil {
		raw, err := json.Marshal(a.Payload)
		if err != nil {
			return env, fmt.Errorf("marshal %s payload: %w", a.Type, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// UnmarshalJSON decodes the action, selecting the payload variant by the
// action type. Unknown types decode to RawPayload so replay stays total.
func (a *Action) UnmarshalJSON(data []byte) error {
	var env actionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	return a.fromEnvelope(env)
}

func (a *Action) fromEnvelope(env actionEnvelope) error {
	payload, err := DecodePayload(env.Type, env.Payload)
	if err != nil {
		return err
	}
	a.ID = env.ID
	a.Type = env.Type
	a.Payload = payload
	a.Timestamp = env.Timestamp
	a.Creator = env.Creator
	return nil
}

// DecodePayload decodes a raw payload into the variant matching the action
// type. Unrecognized types are preserved as RawPayload rather than rejected
// so that older clients can replay logs written by newer ones.
func DecodePayload(t ActionType, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch t {
	case ActionUpdateItem:
		p = &UpdateItem{}
	case ActionUpdateField:
		p = &UpdateField{}
	case ActionNewOrder:
		p = &NewOrder{}
	case ActionPackageItem:
		p = &PackageItem{}
	case ActionQuantifyItem:
		p = &QuantifyItem{}
	case ActionRetypeItem:
		p = &RetypeItem{}
	case ActionRenameSubtype:
		p = &RenameSubtype{}
	case ActionDeleteEmptyOrder:
		p = &DeleteEmptyOrder{}
	case ActionArchiveInventory:
		p = &ArchiveInventory{}
	case ActionCreateName:
		p = &CreateName{}
	case ActionRemoveName:
		p = &RemoveName{}
	case ActionCreateListing:
		p = &CreateListing{}
	case ActionUpdateListing:
		p = &UpdateListing{}
	case ActionAddListingImage:
		p = &AddListingImage{}
	case ActionBulkImportItems:
		p = &BulkImportItems{}
	case ActionStageImportText:
		p = &StageImportText{}
	case ActionSetImportResolution:
		p = &SetImportResolution{}
	case ActionClearImport:
		p = &ClearImport{}
	default:
		return &RawPayload{Raw: raw}, nil
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
	}
	return p, nil
}
