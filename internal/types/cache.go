package types

import "encoding/json"

// Cursor marks how far replay has progressed: the id and timestamp of the
// most recently applied confirmed action.
type Cursor struct {
	ID        string    `json:"id"`
	Timestamp Timestamp `json:"timestamp"`
}

// CachedAction is a confirmed action as stored in the durable cache,
// indexed by its derived millisecond timestamp for range scans. Pending
// actions are never cached.
type CachedAction struct {
	Action
	Millis int64 `json:"_timestamp_millis"`
}

// NewCachedAction derives the cache record for a confirmed action.
// The caller must not pass a pending action.
func NewCachedAction(a Action) CachedAction {
	c := CachedAction{Action: a}
	if a.Timestamp != nil {
		c.Millis = a.Timestamp.Millis()
	}
	return c
}

// cachedActionEnvelope is the action wire shape plus the derived
// millisecond index key.
type cachedActionEnvelope struct {
	actionEnvelope
	Millis int64 `json:"_timestamp_millis"`
}

// MarshalJSON flattens the record into one object. The embedded Action's
// own codec would be promoted otherwise and silently drop Millis.
func (c CachedAction) MarshalJSON() ([]byte, error) {
	env, err := c.Action.envelope()
	if err != nil {
		return nil, err
	}
	return json.Marshal(cachedActionEnvelope{actionEnvelope: env, Millis: c.Millis})
}

// UnmarshalJSON decodes the flat record. A missing or zero millis key is
// re-derived from the timestamp, so plain Action JSON also decodes.
func (c *CachedAction) UnmarshalJSON(data []byte) error {
	var env cachedActionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if err := c.Action.fromEnvelope(env.actionEnvelope); err != nil {
		return err
	}
	c.Millis = env.Millis
	if c.Millis == 0 && c.Timestamp != nil {
		c.Millis = c.Timestamp.Millis()
	}
	return nil
}

// Snapshot is the singleton persisted {state, cursor} pair. LastAction is
// nil only when the snapshot was taken before any confirmed action was
// applied. Reload resumes at or before this cursor; overlap is tolerated,
// gaps are not.
type Snapshot struct {
	State      Tree    `json:"state"`
	LastAction *Cursor `json:"lastAction"`
}
