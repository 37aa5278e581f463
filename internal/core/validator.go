package core

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"curbsight/internal/types"
)

// Validator wraps go-playground/validator with the domain tags used on
// request DTOs.
//
// Custom tags registered here:
//
//	vehicle_type  - known MDS vehicle types
//	vehicle_state - known MDS vehicle states
//	rule_type     - count/time/speed (drafts may carry unknown types, so
//	                handlers apply this tag only where strictness is wanted)
//	wall_clock    - "HH:MM" 24-hour local-time bound
//	weekday_name  - lowercase three-letter day ("sun".."sat")
//	token_scope   - member of types.AllScopes
type Validator struct {
	logger   *slog.Logger
	validate *validator.Validate
}

var wallClockRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// NewValidator builds the validator and registers the domain tags.
func NewValidator(logger *slog.Logger) (*Validator, error) {
	v := validator.New(validator.WithRequiredStructEnabled())

	registrations := map[string]validator.Func{
		"vehicle_type": func(fl validator.FieldLevel) bool {
			switch types.VehicleType(fl.Field().String()) {
			case types.VehicleTypeBicycle, types.VehicleTypeScooter, types.VehicleTypeMoped, types.VehicleTypeCar:
				return true
			}
			return false
		},
		"vehicle_state": func(fl validator.FieldLevel) bool {
			switch types.VehicleState(fl.Field().String()) {
			case types.StateAvailable, types.StateReserved, types.StateOnTrip,
				types.StateNonOperational, types.StateRemoved, types.StateElsewhere, types.StateUnknown:
				return true
			}
			return false
		},
		"rule_type": func(fl validator.FieldLevel) bool {
			return types.RuleType(fl.Field().String()).IsKnown()
		},
		"wall_clock": func(fl validator.FieldLevel) bool {
			return wallClockRe.MatchString(fl.Field().String())
		},
		"weekday_name": func(fl validator.FieldLevel) bool {
			switch types.Weekday(fl.Field().String()) {
			case types.Sunday, types.Monday, types.Tuesday, types.Wednesday,
				types.Thursday, types.Friday, types.Saturday:
				return true
			}
			return false
		},
		"token_scope": func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			for _, known := range types.AllScopes {
				if s == known {
					return true
				}
			}
			return false
		},
	}

	for tag, fn := range registrations {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return nil, fmt.Errorf("registering %q validation: %w", tag, err)
		}
	}

	return &Validator{logger: logger, validate: v}, nil
}

// ValidateStruct checks dst against its validate tags and returns an
// AppError with a per-field detail map on failure.
func (v *Validator) ValidateStruct(dst any) error {
	err := v.validate.Struct(dst)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		// InvalidValidationError means the caller passed a non-struct;
		// that is a programming error, not client input.
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	details := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fieldPath(fe)] = ruleDescription(fe)
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		"request validation failed",
		err,
		details,
	)
}

// fieldPath strips the root struct name from the error namespace so clients
// see "Rules[0].Name" rather than "CreatePolicyRequest.Rules[0].Name".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return ns
}

// ruleDescription renders a failed validation rule for the detail map.
func ruleDescription(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fmt.Sprintf("failed %q rule (param %s)", fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("failed %q rule", fe.Tag())
}
