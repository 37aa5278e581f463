package types

import "time"

// Timestamp is an MDS timestamp: integer milliseconds since the Unix epoch.
// All provider-facing timestamps (events, telemetry, policy windows,
// compliance snapshots) use this representation on the wire and in storage.
type Timestamp int64

// TimestampFromTime converts a time.Time to an epoch-millisecond Timestamp.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixMilli())
}

// Time converts the Timestamp back to a UTC time.Time.
func (ts Timestamp) Time() time.Time {
	return time.UnixMilli(int64(ts)).UTC()
}

// Before reports whether ts is strictly earlier than other.
func (ts Timestamp) Before(other Timestamp) bool { return ts < other }

// After reports whether ts is strictly later than other.
func (ts Timestamp) After(other Timestamp) bool { return ts > other }
