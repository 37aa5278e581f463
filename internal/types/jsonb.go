package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions.
// These ensure all JSONB types implement both sql.Scanner and driver.Valuer,
// catching any method signature drift at compile time rather than at runtime.
// Scan is on pointer receivers; Value is on value receivers.
var (
	_ sql.Scanner   = (*Rules)(nil)
	_ driver.Valuer = Rules(nil)
	_ sql.Scanner   = (*VehicleRecords)(nil)
	_ driver.Valuer = VehicleRecords(nil)
	_ sql.Scanner   = (*StringList)(nil)
	_ driver.Valuer = StringList(nil)
	_ sql.Scanner   = (*Telemetry)(nil)
	_ driver.Valuer = Telemetry{}
	_ sql.Scanner   = (*GPS)(nil)
	_ driver.Valuer = GPS{}
)

// scanJSONB is a generic helper that scans a JSONB database value into a Go
// pointer. It handles nil values, []byte, and string representations from
// different database drivers.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// valueJSONB is a generic helper that converts a Go value to a
// JSONB-compatible driver.Value. Returns nil for nil interface values;
// otherwise marshals to JSON bytes.
func valueJSONB(v interface{}) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (r *Rules) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}
	return scanJSONB(r, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (r Rules) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (vr *VehicleRecords) Scan(value interface{}) error {
	if value == nil {
		*vr = nil
		return nil
	}
	return scanJSONB(vr, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (vr VehicleRecords) Value() (driver.Value, error) {
	if vr == nil {
		// Stored snapshots always carry a vehicles_found array, even when empty.
		return json.Marshal(VehicleRecords{})
	}
	return json.Marshal(vr)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (sl *StringList) Scan(value interface{}) error {
	if value == nil {
		*sl = nil
		return nil
	}
	return scanJSONB(sl, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (sl StringList) Value() (driver.Value, error) {
	if sl == nil {
		return nil, nil
	}
	return json.Marshal(sl)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (t *Telemetry) Scan(value interface{}) error {
	return scanJSONB(t, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (t Telemetry) Value() (driver.Value, error) {
	return valueJSONB(t)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (g *GPS) Scan(value interface{}) error {
	return scanJSONB(g, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (g GPS) Value() (driver.Value, error) {
	return valueJSONB(g)
}
