package types

import (
	"encoding/json"
	"time"
)

// GPS is a telemetry position fix. Speed is meters per second and is only
// present when the device reports it; speed rules skip fixes without it.
type GPS struct {
	Lat   float64  `json:"lat"`
	Lng   float64  `json:"lng"`
	Speed *float64 `json:"speed,omitempty"`
}

// Telemetry is a single device observation submitted by a provider.
type Telemetry struct {
	DeviceID  string    `json:"device_id" db:"device_id"`
	Timestamp Timestamp `json:"timestamp" db:"timestamp"`
	GPS       *GPS      `json:"gps,omitempty" db:"gps"`
	Charge    *float64  `json:"charge,omitempty" db:"charge"`
}

// Device is a registered vehicle. Immutable during evaluation; the engine
// receives a read-only map keyed by DeviceID.
type Device struct {
	DeviceID   string           `json:"device_id" db:"device_id"`
	ProviderID string           `json:"provider_id" db:"provider_id"`
	VehicleID  string           `json:"vehicle_id" db:"vehicle_id"`
	Type       VehicleType      `json:"vehicle_type" db:"vehicle_type"`
	Propulsion []PropulsionType `json:"propulsion_types" db:"propulsion_types"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// VehicleEvent is a state transition reported by a provider. Only events
// carrying telemetry with a GPS fix participate in geospatial matching.
type VehicleEvent struct {
	DeviceID     string           `json:"device_id" db:"device_id"`
	ProviderID   string           `json:"provider_id" db:"provider_id"`
	EventType    VehicleEventType `json:"event_type" db:"event_type"`
	VehicleState VehicleState     `json:"vehicle_state" db:"vehicle_state"`
	Timestamp    Timestamp        `json:"timestamp" db:"timestamp"`
	Telemetry    *Telemetry       `json:"telemetry,omitempty" db:"telemetry"`
	TripID       string           `json:"trip_id,omitempty" db:"trip_id"`
	RecordedAt   Timestamp        `json:"recorded" db:"recorded"`
}

// Rule is one constraint within a policy, tagged by Type. Count rules use
// Maximum/Minimum as vehicle counts, time rules interpret Maximum in
// RuleUnits, speed rules interpret Maximum in meters per second. Rules are
// evaluated in array order; order determines which rule claims a vehicle
// first.
type Rule struct {
	RuleID       string             `json:"rule_id"`
	Name         string             `json:"name,omitempty"`
	Type         RuleType           `json:"rule_type"`
	GeographyIDs []string           `json:"geographies"`
	States       []VehicleState     `json:"states,omitempty"`
	Events       []VehicleEventType `json:"events,omitempty"`
	VehicleTypes []VehicleType      `json:"vehicle_types,omitempty"`

	// Temporal scoping: all empty means always active. Days is a
	// day-of-week allow-list; StartTime/EndTime are "HH:MM" local
	// wall-clock bounds in the agency's configured timezone.
	Days      []Weekday `json:"days,omitempty"`
	StartTime string    `json:"start_time,omitempty"`
	EndTime   string    `json:"end_time,omitempty"`

	Maximum   *float64  `json:"maximum,omitempty"`
	Minimum   *float64  `json:"minimum,omitempty"`
	RuleUnits RuleUnits `json:"rule_units,omitempty"`
}

// AppliesToVehicleType reports whether the rule constrains the given
// vehicle type. A rule with no vehicle_types applies to every type.
func (r *Rule) AppliesToVehicleType(vt VehicleType) bool {
	if len(r.VehicleTypes) == 0 {
		return true
	}
	for _, t := range r.VehicleTypes {
		if t == vt {
			return true
		}
	}
	return false
}

// MatchesStateOrEvent reports whether an event passes the rule's
// state/event filter. An unconstrained rule matches everything.
func (r *Rule) MatchesStateOrEvent(ev *VehicleEvent) bool {
	if len(r.States) == 0 && len(r.Events) == 0 {
		return true
	}
	for _, s := range r.States {
		if s == ev.VehicleState {
			return true
		}
	}
	for _, e := range r.Events {
		if e == ev.EventType {
			return true
		}
	}
	return false
}

// Rules is a JSONB-stored ordered rule list.
type Rules []Rule

// Policy is a named, time-bounded set of rules a provider's fleet must
// satisfy. Policies are created and edited through the policy service; the
// engine only reads them.
type Policy struct {
	PolicyID    string `json:"policy_id" db:"policy_id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description,omitempty" db:"description"`

	StartDate   Timestamp  `json:"start_date" db:"start_date"`
	EndDate     *Timestamp `json:"end_date,omitempty" db:"end_date"`
	PublishDate *Timestamp `json:"publish_date,omitempty" db:"publish_date"`

	Rules Rules `json:"rules" db:"rules"`

	// ProviderIDs scopes the policy; empty means all providers.
	ProviderIDs StringList `json:"provider_ids,omitempty" db:"provider_ids"`

	// PrevPolicies lists policy ids this policy supersedes. Superseded
	// policies are excluded from evaluation by a one-level set difference.
	PrevPolicies StringList `json:"prev_policies,omitempty" db:"prev_policies"`

	Status    PolicyStatus `json:"status" db:"status"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// ActiveAt reports whether the policy is in force at the given time:
// start_date <= ts and (no end_date or ts <= end_date).
func (p *Policy) ActiveAt(ts Timestamp) bool {
	if ts < p.StartDate {
		return false
	}
	if p.EndDate != nil && ts > *p.EndDate {
		return false
	}
	return true
}

// Geography is a named geofence. Geometry holds the GeoJSON geometry
// (Polygon or MultiPolygon) exactly as published; the geo package parses it
// into a spatial index for point-in-polygon tests.
type Geography struct {
	GeographyID string          `json:"geography_id" db:"geography_id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description,omitempty" db:"description"`
	Geometry    json.RawMessage `json:"geography_json" db:"geography_json"`
	PublishDate *Timestamp      `json:"publish_date,omitempty" db:"publish_date"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Jurisdiction is an operating area an agency regulates, grouping
// geographies under a single authority.
type Jurisdiction struct {
	JurisdictionID string     `json:"jurisdiction_id" db:"jurisdiction_id"`
	AgencyKey      string     `json:"agency_key" db:"agency_key"`
	AgencyName     string     `json:"agency_name" db:"agency_name"`
	GeographyID    string     `json:"geography_id" db:"geography_id"`
	Timestamp      Timestamp  `json:"timestamp" db:"timestamp"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	DeletedAt      *time.Time `json:"-" db:"deleted_at"`
}

// Provider is a registered mobility operator.
type Provider struct {
	ProviderID   string         `json:"provider_id" db:"provider_id"`
	Name         string         `json:"provider_name" db:"provider_name"`
	MDSAPIURL    string         `json:"mds_api_url,omitempty" db:"mds_api_url"`
	ColorHex     string         `json:"color_hex,omitempty" db:"color_hex"`
	Status       ProviderStatus `json:"status" db:"status"`
	BillingEmail string         `json:"billing_email,omitempty" db:"billing_email"`
	StripeID     string         `json:"-" db:"stripe_customer_id"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// MatchedVehicle is a (device, event) pair that satisfied a rule's
// state/vehicle-type/geography predicate.
type MatchedVehicle struct {
	Device *Device       `json:"device"`
	Event  *VehicleEvent `json:"event"`
}

// RuleMatch is one match entry within a Compliance result. Shape depends on
// the rule type: count rules report a per-geography measured count with the
// full matched list; time and speed rules report one matched vehicle per
// entry with the measured dwell (ms) or speed (m/s).
type RuleMatch struct {
	GeographyID     string           `json:"geography_id"`
	Measured        float64          `json:"measured"`
	MatchedVehicles []MatchedVehicle `json:"matched_vehicles,omitempty"`
	MatchedVehicle  *MatchedVehicle  `json:"matched_vehicle,omitempty"`
}

// Compliance is the evaluation result for a single rule.
type Compliance struct {
	Rule    Rule        `json:"rule"`
	Matches []RuleMatch `json:"matches"`
}

// ViolatingVehicle tags a matched vehicle with the rule that claimed it.
// A vehicle violating multiple rules is attributed only to the first
// (lowest-index) rule it matched.
type ViolatingVehicle struct {
	MatchedVehicle
	RuleID string `json:"rule_id"`
}

// ComplianceResponse is one evaluation snapshot of a policy against a
// provider's fleet.
type ComplianceResponse struct {
	Policy              Policy             `json:"policy"`
	Compliance          []Compliance       `json:"compliance"`
	TotalViolations     int                `json:"total_violations"`
	VehiclesInViolation []ViolatingVehicle `json:"vehicles_in_violation"`
}

// VehicleRecord is the persisted per-vehicle detail inside a compliance
// snapshot. Field names are part of the stored contract.
type VehicleRecord struct {
	DeviceID     string             `json:"device_id"`
	State        VehicleState       `json:"state"`
	EventTypes   []VehicleEventType `json:"event_types"`
	Timestamp    Timestamp          `json:"timestamp"`
	RulesMatched []string           `json:"rules_matched"`
	RuleApplied  string             `json:"rule_applied,omitempty"`
	Speed        *float64           `json:"speed,omitempty"`
	GPS          GPS                `json:"gps"`
}

// VehicleRecords is the JSONB-stored list of vehicle records.
type VehicleRecords []VehicleRecord

// ComplianceSnapshot is the persisted result of evaluating one policy for
// one provider at one point in time. Immutable once written; superseded
// only by later snapshots with a newer ComplianceAsOf.
type ComplianceSnapshot struct {
	ID                  string         `json:"compliance_snapshot_id" db:"compliance_snapshot_id"`
	ComplianceAsOf      Timestamp      `json:"compliance_as_of" db:"compliance_as_of"`
	ProviderID          string         `json:"provider_id" db:"provider_id"`
	PolicyID            string         `json:"policy_id" db:"policy_id"`
	PolicyName          string         `json:"policy_name" db:"policy_name"`
	VehiclesFound       VehicleRecords `json:"vehicles_found" db:"vehicles_found"`
	ExcessVehiclesCount int            `json:"excess_vehicles_count" db:"excess_vehicles_count"`
	TotalViolations     int            `json:"total_violations" db:"total_violations"`
}

// ViolationPeriod is a maximal run of consecutive violating snapshots for
// one (provider, policy). EndTime is the compliance_as_of of the first
// snapshot after the run; nil while the run is still open.
type ViolationPeriod struct {
	ProviderID  string     `json:"provider_id"`
	PolicyID    string     `json:"policy_id"`
	StartTime   Timestamp  `json:"start_time"`
	EndTime     *Timestamp `json:"end_time"`
	SnapshotIDs []string   `json:"compliance_snapshot_ids"`
}

// ComplianceAggregate groups a provider/policy pair's violation periods for
// presentation.
type ComplianceAggregate struct {
	ProviderID       string            `json:"provider_id"`
	ProviderName     string            `json:"provider_name"`
	PolicyID         string            `json:"policy_id"`
	ViolationPeriods []ViolationPeriod `json:"violation_periods"`
}

// DailyStat is a per-provider per-day rollup computed by the engine worker.
type DailyStat struct {
	ProviderID        string    `json:"provider_id" db:"provider_id"`
	Date              time.Time `json:"date" db:"stat_date"`
	EventsReceived    int       `json:"events_received" db:"events_received"`
	TelemetryReceived int       `json:"telemetry_received" db:"telemetry_received"`
	SnapshotsWritten  int       `json:"snapshots_written" db:"snapshots_written"`
	TotalViolations   int       `json:"total_violations" db:"total_violations"`
}

// FeeTransaction is a provider fee record managed by the transaction
// service. Amounts are integer cents.
type FeeTransaction struct {
	TransactionID string            `json:"transaction_id" db:"transaction_id"`
	ProviderID    string            `json:"provider_id" db:"provider_id"`
	FeeType       FeeType           `json:"fee_type" db:"fee_type"`
	AmountCents   int64             `json:"amount_cents" db:"amount_cents"`
	Description   string            `json:"description,omitempty" db:"description"`
	PolicyID      string            `json:"policy_id,omitempty" db:"policy_id"`
	Status        TransactionStatus `json:"status" db:"status"`
	InvoiceID     string            `json:"invoice_id,omitempty" db:"invoice_id"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at" db:"updated_at"`
}

// APIToken is a provider-scoped API credential. Only the bcrypt hash is
// stored; the plaintext token is shown once at creation.
type APIToken struct {
	ID          string     `json:"id" db:"id"`
	ProviderID  string     `json:"provider_id" db:"provider_id"`
	TokenPrefix string     `json:"token_prefix" db:"token_prefix"`
	TokenHash   string     `json:"-" db:"token_hash"`
	Name        string     `json:"name" db:"name"`
	Scopes      StringList `json:"scopes" db:"scopes"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	RevokedAt   *time.Time `json:"-" db:"revoked_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// StringList is a JSONB-stored list of strings.
type StringList []string
