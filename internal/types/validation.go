package types

import (
	"fmt"
	"regexp"
	"time"
)

// Validation constraint constants.
const (
	MinLat           = -90.0
	MaxLat           = 90.0
	MinLng           = -180.0
	MaxLng           = 180.0
	MaxRulesPerPolicy = 50
	MaxNameLength    = 200
	MaxEventBatch    = 500
)

// wallClockPattern matches the "HH:MM" local-time bounds used in rules.
var wallClockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ValidateTimezone checks that tz names a loadable IANA timezone. The
// compliance engine refuses to start without one.
func ValidateTimezone(tz string) error {
	if tz == "" {
		return fmt.Errorf("%s: timezone is required", ErrCodeValidationInvalidTimezone)
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("%s: unknown timezone %q", ErrCodeValidationInvalidTimezone, tz)
	}
	return nil
}

// ValidateRule applies the structural checks the schema layer cannot
// express: wall-clock bounds, known units for time rules, non-negative
// thresholds.
func ValidateRule(r *Rule) error {
	if r.RuleID == "" {
		return fmt.Errorf("%s: rule_id is required", ErrCodeValidationInvalidRule)
	}
	if len(r.GeographyIDs) == 0 {
		return fmt.Errorf("%s: rule %s has no geographies", ErrCodeValidationInvalidRule, r.RuleID)
	}
	if r.StartTime != "" && !wallClockPattern.MatchString(r.StartTime) {
		return fmt.Errorf("%s: rule %s start_time %q is not HH:MM", ErrCodeValidationInvalidRule, r.RuleID, r.StartTime)
	}
	if r.EndTime != "" && !wallClockPattern.MatchString(r.EndTime) {
		return fmt.Errorf("%s: rule %s end_time %q is not HH:MM", ErrCodeValidationInvalidRule, r.RuleID, r.EndTime)
	}
	if r.Type == RuleTypeTime && r.Maximum != nil && r.RuleUnits == "" {
		return fmt.Errorf("%s: time rule %s requires rule_units", ErrCodeValidationInvalidRule, r.RuleID)
	}
	if r.Maximum != nil && *r.Maximum < 0 {
		return fmt.Errorf("%s: rule %s maximum must be >= 0", ErrCodeValidationInvalidRule, r.RuleID)
	}
	if r.Minimum != nil && *r.Minimum < 0 {
		return fmt.Errorf("%s: rule %s minimum must be >= 0", ErrCodeValidationInvalidRule, r.RuleID)
	}
	return nil
}

// ValidatePolicyDates ensures end_date, when present, does not precede
// start_date.
func ValidatePolicyDates(p *Policy) error {
	if p.EndDate != nil && *p.EndDate < p.StartDate {
		return fmt.Errorf("%s: end_date precedes start_date", ErrCodeValidationPolicyDates)
	}
	return nil
}

// DetectPrevPolicyCycle reports whether the prev_policies references among
// the given policies contain a cycle. Supersession is evaluated as a
// one-level set difference and never traverses chains, so a cycle does not
// break evaluation -- but it is a data-integrity fault the policy service
// must reject at publish time rather than resolve silently.
func DetectPrevPolicyCycle(policies []*Policy) bool {
	prev := make(map[string][]string, len(policies))
	for _, p := range policies {
		prev[p.PolicyID] = p.PrevPolicies
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(prev))

	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case inStack:
			return true
		case done:
			return false
		}
		state[id] = inStack
		for _, next := range prev[id] {
			if _, known := prev[next]; !known {
				continue // superseding an id outside the set is not a cycle
			}
			if visit(next) {
				return true
			}
		}
		state[id] = done
		return false
	}

	for id := range prev {
		if visit(id) {
			return true
		}
	}
	return false
}
