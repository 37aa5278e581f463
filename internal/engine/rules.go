package engine

import (
	"time"

	"curbsight/internal/types"
)

// ruleActive reports whether the rule's day/time window covers the given
// instant, interpreted in the agency's configured timezone. A rule with no
// temporal scoping is always active. A start_time later than end_time is a
// window that wraps midnight.
func (e *Engine) ruleActive(rule *types.Rule, now time.Time) bool {
	local := now.In(e.loc)

	if len(rule.Days) > 0 {
		day := types.WeekdayOf(int(local.Weekday()))
		allowed := false
		for _, d := range rule.Days {
			if d == day {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if rule.StartTime == "" && rule.EndTime == "" {
		return true
	}

	// "HH:MM" compares correctly as strings.
	clock := local.Format("15:04")
	start, end := rule.StartTime, rule.EndTime
	switch {
	case start != "" && end != "" && start > end:
		return clock >= start || clock < end
	case start != "" && end != "":
		return clock >= start && clock < end
	case start != "":
		return clock >= start
	default:
		return clock < end
	}
}

// eventCandidate applies the non-geographic parts of a rule's predicate to
// one event: registered device, matching vehicle type, matching state or
// event type, and a usable GPS fix.
func eventCandidate(rule *types.Rule, ev *types.VehicleEvent, devices map[string]*types.Device) (*types.Device, bool) {
	device, ok := devices[ev.DeviceID]
	if !ok {
		return nil, false
	}
	if !rule.AppliesToVehicleType(device.Type) {
		return nil, false
	}
	if !rule.MatchesStateOrEvent(ev) {
		return nil, false
	}
	if ev.Telemetry == nil || ev.Telemetry.GPS == nil {
		return nil, false
	}
	return device, true
}

// evaluateCountRule counts matched vehicles per geography against the
// rule's maximum and minimum.
//
// Per geography, the measured count is capped at the maximum, matched
// vehicles beyond the cap are overflow, and every overflow vehicle is a
// violation. The overflow list itself is not capped, so the violation total
// reflects the full excess even though the reported measure saturates. A
// vehicle inside several of the rule's geographies is measured in each, but
// claimed and counted as a violation at most once.
func (e *Engine) evaluateCountRule(
	rule *types.Rule,
	events []types.VehicleEvent,
	geographies GeographyResolver,
	devices map[string]*types.Device,
	claimed map[string]struct{},
) ruleResult {
	result := ruleResult{claimedDevices: make(map[string]struct{})}
	if !e.ruleActive(rule, e.clock.Now()) {
		return result
	}

	matchedDevices := make(map[string]struct{})
	violatingSeen := make(map[string]struct{})

	for _, geographyID := range rule.GeographyIDs {
		if !geographies.HasGeography(geographyID) {
			continue
		}

		// Latest matching event wins per device; earlier arrivals keep
		// their position in the overflow ordering.
		var order []string
		inGeo := make(map[string]types.MatchedVehicle)
		for i := range events {
			ev := &events[i]
			if _, taken := claimed[ev.DeviceID]; taken {
				continue
			}
			device, ok := eventCandidate(rule, ev, devices)
			if !ok {
				continue
			}
			gps := ev.Telemetry.GPS
			if !geographies.PointInGeography(geographyID, gps.Lat, gps.Lng) {
				continue
			}
			if _, seen := inGeo[ev.DeviceID]; !seen {
				order = append(order, ev.DeviceID)
			}
			inGeo[ev.DeviceID] = types.MatchedVehicle{Device: device, Event: ev}
		}

		matched := make([]types.MatchedVehicle, 0, len(order))
		for _, id := range order {
			matched = append(matched, inGeo[id])
			matchedDevices[id] = struct{}{}
			result.claimedDevices[id] = struct{}{}
		}

		measured := float64(len(matched))
		if rule.Maximum != nil && measured > *rule.Maximum {
			measured = *rule.Maximum
			// Vehicles past the cap, in arrival order, are the excess.
			for _, mv := range matched[int(*rule.Maximum):] {
				if _, dup := violatingSeen[mv.Device.DeviceID]; dup {
					continue
				}
				violatingSeen[mv.Device.DeviceID] = struct{}{}
				result.violating = append(result.violating, types.ViolatingVehicle{
					MatchedVehicle: mv,
					RuleID:         rule.RuleID,
				})
			}
		}

		result.matches = append(result.matches, types.RuleMatch{
			GeographyID:     geographyID,
			Measured:        measured,
			MatchedVehicles: matched,
		})
	}

	result.violations = len(result.violating)
	result.excessVehicles = len(result.violating)

	// Minimum shortfall: too few vehicles deployed is itself a violation,
	// but only when nothing is over the cap.
	if result.violations == 0 && rule.Minimum != nil {
		if shortfall := int(*rule.Minimum) - len(matchedDevices); shortfall > 0 {
			result.violations = shortfall
		}
	}

	return result
}

// evaluateTimeRule finds vehicles that have dwelt in a rule geography longer
// than the allowed duration. Each match is measured as the elapsed time
// since the vehicle's most recent matching event, in milliseconds; a rule
// with no maximum treats any presence as a violation.
func (e *Engine) evaluateTimeRule(
	rule *types.Rule,
	events []types.VehicleEvent,
	geographies GeographyResolver,
	devices map[string]*types.Device,
	claimed map[string]struct{},
	now time.Time,
) ruleResult {
	result := ruleResult{claimedDevices: make(map[string]struct{})}
	if !e.ruleActive(rule, now) {
		return result
	}

	limitMs := int64(-1)
	if rule.Maximum != nil {
		limitMs = int64(*rule.Maximum * float64(rule.RuleUnits.Millis()))
	}
	nowMs := types.TimestampFromTime(now)

	type dwell struct {
		mv          types.MatchedVehicle
		geographyID string
	}
	var order []string
	latest := make(map[string]dwell)

	for i := range events {
		ev := &events[i]
		if _, taken := claimed[ev.DeviceID]; taken {
			continue
		}
		device, ok := eventCandidate(rule, ev, devices)
		if !ok {
			continue
		}
		gps := ev.Telemetry.GPS
		var inside string
		for _, geographyID := range rule.GeographyIDs {
			if geographies.PointInGeography(geographyID, gps.Lat, gps.Lng) {
				inside = geographyID
				break
			}
		}
		if inside == "" {
			continue
		}
		if _, seen := latest[ev.DeviceID]; !seen {
			order = append(order, ev.DeviceID)
		}
		// Events are sorted ascending, so the last write is the device's
		// current dwell start.
		latest[ev.DeviceID] = dwell{
			mv:          types.MatchedVehicle{Device: device, Event: ev},
			geographyID: inside,
		}
	}

	for _, id := range order {
		d := latest[id]
		elapsed := int64(nowMs - d.mv.Event.Timestamp)
		if limitMs >= 0 && elapsed < limitMs {
			continue
		}
		mv := d.mv
		result.matches = append(result.matches, types.RuleMatch{
			GeographyID:    d.geographyID,
			Measured:       float64(elapsed),
			MatchedVehicle: &mv,
		})
		result.violating = append(result.violating, types.ViolatingVehicle{
			MatchedVehicle: mv,
			RuleID:         rule.RuleID,
		})
		result.claimedDevices[id] = struct{}{}
	}

	result.violations = len(result.violating)
	return result
}

// evaluateSpeedRule finds vehicles whose latest matching fix inside a rule
// geography reports a speed at or above the rule maximum (meters/second).
// Fixes without a speed reading never match.
func (e *Engine) evaluateSpeedRule(
	rule *types.Rule,
	events []types.VehicleEvent,
	geographies GeographyResolver,
	devices map[string]*types.Device,
	claimed map[string]struct{},
) ruleResult {
	result := ruleResult{claimedDevices: make(map[string]struct{})}
	if !e.ruleActive(rule, e.clock.Now()) {
		return result
	}

	type speeding struct {
		mv          types.MatchedVehicle
		geographyID string
		speed       float64
	}
	var order []string
	latest := make(map[string]speeding)

	for i := range events {
		ev := &events[i]
		if _, taken := claimed[ev.DeviceID]; taken {
			continue
		}
		device, ok := eventCandidate(rule, ev, devices)
		if !ok {
			continue
		}
		gps := ev.Telemetry.GPS
		if gps.Speed == nil {
			continue
		}
		if rule.Maximum != nil && *gps.Speed < *rule.Maximum {
			continue
		}
		var inside string
		for _, geographyID := range rule.GeographyIDs {
			if geographies.PointInGeography(geographyID, gps.Lat, gps.Lng) {
				inside = geographyID
				break
			}
		}
		if inside == "" {
			continue
		}
		if _, seen := latest[ev.DeviceID]; !seen {
			order = append(order, ev.DeviceID)
		}
		latest[ev.DeviceID] = speeding{
			mv:          types.MatchedVehicle{Device: device, Event: ev},
			geographyID: inside,
			speed:       *gps.Speed,
		}
	}

	for _, id := range order {
		s := latest[id]
		mv := s.mv
		result.matches = append(result.matches, types.RuleMatch{
			GeographyID:    s.geographyID,
			Measured:       s.speed,
			MatchedVehicle: &mv,
		})
		result.violating = append(result.violating, types.ViolatingVehicle{
			MatchedVehicle: mv,
			RuleID:         rule.RuleID,
		})
		result.claimedDevices[id] = struct{}{}
	}

	result.violations = len(result.violating)
	return result
}
