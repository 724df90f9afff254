// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

// Package validation provides struct validation using go-playground/validator v10.
// It provides a thread-safe singleton validator instance with custom validators
// for device-protocol validation rules.
//
// Features:
//   - Singleton validator instance (thread-safe, caches struct info)
//   - Custom validators for device identifiers, image stable names, and
//     wake-schedule expressions
//   - Error translation to structured, loggable messages
//   - Uses WithRequiredStructEnabled option (v11+ compatibility)
//
// Example usage:
//
//	type Metadata struct {
//	    DeviceID  string `validate:"required,device_id"`
//	    ImageName string `validate:"required,stable_name"`
//	    Chunks    int    `validate:"min=1,max=100000"`
//	}
//
//	if err := validation.ValidateStruct(&md); err != nil {
//	    logging.Warn().Str("detail", err.Error()).Msg("rejected metadata")
//	    return
//	}
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/tomtom215/arborlink/internal/schedule"
)

// singleton validator instance
var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// ValidationError represents a single field validation error with structured information.
type ValidationError struct {
	field   string
	tag     string
	param   string
	value   interface{}
	message string
}

// Field returns the struct field name that failed validation.
func (e *ValidationError) Field() string {
	return e.field
}

// Tag returns the validation tag that failed.
func (e *ValidationError) Tag() string {
	return e.tag
}

// Param returns the parameter for the validation tag (e.g., "100" for "max=100").
func (e *ValidationError) Param() string {
	return e.param
}

// Value returns the actual value that failed validation.
func (e *ValidationError) Value() interface{} {
	return e.value
}

// Error returns a human-readable error message.
func (e *ValidationError) Error() string {
	return e.message
}

// MessageValidationError represents a collection of validation errors for one
// decoded message or configuration struct.
type MessageValidationError struct {
	errors []ValidationError
}

// Errors returns the slice of validation errors.
func (ve *MessageValidationError) Errors() []ValidationError {
	return ve.errors
}

// Fields returns the names of all fields that failed, for structured logging.
func (ve *MessageValidationError) Fields() []string {
	fields := make([]string, len(ve.errors))
	for i, err := range ve.errors {
		fields[i] = err.field
	}
	return fields
}

// Error implements the error interface, returning a combined error message.
func (ve *MessageValidationError) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}

	var messages []string
	for _, err := range ve.errors {
		messages = append(messages, err.Error())
	}

	return strings.Join(messages, "; ")
}

// GetValidator returns the singleton validator instance.
// The validator is initialized once with custom validators and options.
// This function is thread-safe.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Custom validators for the device protocol. Registration errors can
		// only occur for empty tag names, so they are safe to ignore here.
		_ = validate.RegisterValidation("device_id", validateDeviceID)
		_ = validate.RegisterValidation("stable_name", validateStableName)
		_ = validate.RegisterValidation("wake_schedule", validateWakeSchedule)
	})

	return validate
}

// validateDeviceID accepts MAC-derived device identifiers: 12 hex digits,
// optionally separated by colons or hyphens (B8F862F9CFB8, b8:f8:62:f9:cf:b8).
func validateDeviceID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	stripped := strings.NewReplacer(":", "", "-", "").Replace(id)
	if len(stripped) != 12 {
		return false
	}
	for _, r := range stripped {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// validateStableName accepts device-assigned image names. The firmware
// generates flat filenames; anything resembling a path is rejected because
// stable names become blob object path segments.
func validateStableName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name == "" || len(name) > 128 {
		return false
	}
	return !strings.ContainsAny(name, "/\\ \t\n")
}

// validateWakeSchedule accepts expressions the schedule package can parse.
func validateWakeSchedule(fl validator.FieldLevel) bool {
	_, err := schedule.Parse(fl.Field().String())
	return err == nil
}

// ValidateStruct validates a struct using the singleton validator.
// Returns nil if validation passes, or *MessageValidationError if validation fails.
func ValidateStruct(s interface{}) *MessageValidationError {
	v := GetValidator()

	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		// Unexpected error type - wrap it
		return &MessageValidationError{
			errors: []ValidationError{
				{
					field:   "unknown",
					tag:     "unknown",
					message: err.Error(),
				},
			},
		}
	}

	fieldErrors := make([]ValidationError, len(validationErrs))
	for i, fieldErr := range validationErrs {
		fieldErrors[i] = ValidationError{
			field:   fieldErr.Field(),
			tag:     fieldErr.Tag(),
			param:   fieldErr.Param(),
			value:   fieldErr.Value(),
			message: translateError(fieldErr),
		}
	}

	return &MessageValidationError{errors: fieldErrors}
}

// errorMessageTemplates maps validation tags to message templates.
var errorMessageTemplates = map[string]string{
	"required":      "%s is required",
	"datetime":      "%s must be a valid date/time in RFC3339 format",
	"device_id":     "%s must be a 12-digit hexadecimal device identifier",
	"stable_name":   "%s must be a flat device-assigned image name",
	"wake_schedule": "%s must be enumerated hours (\"8,16\") or an interval (\"every 4 hours\")",
	"url":           "%s must be a valid URL",
	"hostname_port": "%s must be a host:port address",
}

// errorMessageWithParam maps validation tags to templates that include param.
var errorMessageWithParam = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"gt":    "%s must be greater than %s",
	"lt":    "%s must be less than %s",
}

// translateError converts a validator.FieldError to a human-readable message.
func translateError(fe validator.FieldError) string {
	field := fe.Field()
	tag := fe.Tag()
	param := fe.Param()

	if template, ok := errorMessageTemplates[tag]; ok {
		return fmt.Sprintf(template, field)
	}

	if template, ok := errorMessageWithParam[tag]; ok {
		return fmt.Sprintf(template, field, param)
	}

	return translateMinMax(fe, field, tag, param)
}

// translateMinMax handles min/max validation with type-specific messages.
func translateMinMax(fe validator.FieldError, field, tag, param string) string {
	isString := fe.Kind().String() == "string"

	switch tag {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at most %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, tag)
	}
}
