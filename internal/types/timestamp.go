package types

import "time"

// Timestamp is a server-assigned instant with nanosecond precision.
// Confirmed actions are totally ordered by (Seconds, Nanos), ties broken
// by action ID.
type Timestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int32 `json:"nanoseconds"`
}

// TimestampFromTime converts a time.Time to a Timestamp.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp{
		Seconds: t.Unix(),
		Nanos:   int32(t.Nanosecond()),
	}
}

// Time converts the Timestamp back to a time.Time in UTC.
func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, int64(t.Nanos)).UTC()
}

// Millis returns the timestamp as milliseconds since the Unix epoch.
// This is the derived key the durable cache indexes actions by.
func (t Timestamp) Millis() int64 {
	return t.Seconds*1000 + int64(t.Nanos)/1_000_000
}

// Before reports whether t orders strictly before o.
func (t Timestamp) Before(o Timestamp) bool {
	if t.Seconds != o.Seconds {
		return t.Seconds < o.Seconds
	}
	return t.Nanos < o.Nanos
}

// Equal reports whether t and o are the same instant.
func (t Timestamp) Equal(o Timestamp) bool {
	return t.Seconds == o.Seconds && t.Nanos == o.Nanos
}
