package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a job id is unknown
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a status change would move a job
	// backwards or out of a terminal state
	ErrInvalidTransition = errors.New("invalid status transition")
)

// FieldError describes one rejected request field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is a malformed job creation request. It never reaches the store.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a field failure
func (e *ValidationError) Add(field, format string, args ...interface{}) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// OrNil returns e when it holds at least one failure
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// UnsupportedMarketplaceError is returned when no strategy is registered for a
// marketplace that passed enum validation
type UnsupportedMarketplaceError struct {
	Marketplace Marketplace
}

func (e *UnsupportedMarketplaceError) Error() string {
	return fmt.Sprintf("marketplace %s is not supported", e.Marketplace)
}
