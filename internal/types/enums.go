package types

// RuleType discriminates the policy rule union. Evaluators dispatch on this
// value; anything outside the known set is treated as a no-op rule.
type RuleType string

const (
	RuleTypeCount RuleType = "count"
	RuleTypeTime  RuleType = "time"
	RuleTypeSpeed RuleType = "speed"
)

// IsKnown reports whether the rule type is one the engine can evaluate.
func (rt RuleType) IsKnown() bool {
	switch rt {
	case RuleTypeCount, RuleTypeTime, RuleTypeSpeed:
		return true
	}
	return false
}

// RuleUnits is the measurement unit for time-rule thresholds.
type RuleUnits string

const (
	RuleUnitsSeconds RuleUnits = "seconds"
	RuleUnitsMinutes RuleUnits = "minutes"
	RuleUnitsHours   RuleUnits = "hours"
	RuleUnitsDays    RuleUnits = "days"
)

// Millis returns the unit length in epoch milliseconds. Unknown units fall
// back to seconds so a malformed rule degrades to the strictest reading
// rather than silently matching nothing.
func (u RuleUnits) Millis() int64 {
	switch u {
	case RuleUnitsMinutes:
		return 60 * 1000
	case RuleUnitsHours:
		return 60 * 60 * 1000
	case RuleUnitsDays:
		return 24 * 60 * 60 * 1000
	default:
		return 1000
	}
}

// VehicleType categorizes a registered device.
type VehicleType string

const (
	VehicleTypeBicycle VehicleType = "bicycle"
	VehicleTypeScooter VehicleType = "scooter"
	VehicleTypeMoped   VehicleType = "moped"
	VehicleTypeCar     VehicleType = "car"
)

// PropulsionType describes how a vehicle is powered.
type PropulsionType string

const (
	PropulsionHuman          PropulsionType = "human"
	PropulsionElectric       PropulsionType = "electric"
	PropulsionElectricAssist PropulsionType = "electric_assist"
	PropulsionCombustion     PropulsionType = "combustion"
)

// VehicleState is the MDS vehicle state machine value reported with events.
type VehicleState string

const (
	StateAvailable      VehicleState = "available"
	StateReserved       VehicleState = "reserved"
	StateOnTrip         VehicleState = "on_trip"
	StateNonOperational VehicleState = "non_operational"
	StateRemoved        VehicleState = "removed"
	StateElsewhere      VehicleState = "elsewhere"
	StateUnknown        VehicleState = "unknown"
)

// VehicleEventType identifies the transition that produced a vehicle event.
type VehicleEventType string

const (
	EventTripStart        VehicleEventType = "trip_start"
	EventTripEnd          VehicleEventType = "trip_end"
	EventTripEnter        VehicleEventType = "trip_enter_jurisdiction"
	EventTripLeave        VehicleEventType = "trip_leave_jurisdiction"
	EventReservationStart VehicleEventType = "reservation_start"
	EventReservationStop  VehicleEventType = "reservation_stop"
	EventServiceStart     VehicleEventType = "service_start"
	EventServiceEnd       VehicleEventType = "service_end"
	EventDeploy           VehicleEventType = "provider_drop_off"
	EventPickUp           VehicleEventType = "provider_pick_up"
	EventBatteryLow       VehicleEventType = "battery_low"
	EventMaintenance      VehicleEventType = "maintenance"
	EventDecommissioned   VehicleEventType = "decommissioned"
)

// PolicyStatus is the publication lifecycle state of a policy. Only
// published policies participate in compliance evaluation.
type PolicyStatus string

const (
	PolicyStatusDraft       PolicyStatus = "draft"
	PolicyStatusPublished   PolicyStatus = "published"
	PolicyStatusDeactivated PolicyStatus = "deactivated"
)

// ProviderStatus is the registration state of a mobility provider.
type ProviderStatus string

const (
	ProviderStatusRegistered ProviderStatus = "registered"
	ProviderStatusActive     ProviderStatus = "active"
	ProviderStatusSuspended  ProviderStatus = "suspended"
)

// TransactionStatus tracks the lifecycle of a provider fee transaction.
type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "pending"
	TransactionStatusInvoiced TransactionStatus = "invoiced"
	TransactionStatusPaid     TransactionStatus = "paid"
	TransactionStatusVoid     TransactionStatus = "void"
)

// FeeType categorizes a provider fee transaction.
type FeeType string

const (
	FeeTypeRightOfWay FeeType = "right_of_way"
	FeeTypeViolation  FeeType = "violation_penalty"
	FeeTypePermit     FeeType = "permit"
)

// Weekday is a lowercase three-letter day name used in rule day filters,
// matching the wire format providers submit ("sun" through "sat").
type Weekday string

const (
	Sunday    Weekday = "sun"
	Monday    Weekday = "mon"
	Tuesday   Weekday = "tue"
	Wednesday Weekday = "wed"
	Thursday  Weekday = "thu"
	Friday    Weekday = "fri"
	Saturday  Weekday = "sat"
)

// weekdayNames maps time.Weekday ordinals (Sunday=0) to wire day names.
var weekdayNames = [7]Weekday{Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

// WeekdayOf converts a Go weekday ordinal to its wire name.
func WeekdayOf(d int) Weekday {
	if d < 0 || d > 6 {
		return ""
	}
	return weekdayNames[d]
}

// AllScopes defines the complete set of valid API token scopes.
// Used by validators to check requested scopes during token creation.
var AllScopes = []string{
	"policies:read",
	"policies:write",
	"compliance:read",
	"events:write",
	"geographies:read",
	"geographies:write",
	"providers:read",
	"transactions:read",
	"transactions:write",
}
