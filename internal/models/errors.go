package models

import (
	"errors"
	"fmt"
)

// ErrValidation reports a field that failed validation.
type ErrValidation struct {
	Field   string
	Message string
}

func (e ErrValidation) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Sentinel validation errors, matched with errors.Is.
var (
	ErrNameRequired      = errors.New("display name is required")
	ErrInputIDRequired   = errors.New("input id is required")
	ErrChannelIDRequired = errors.New("program has no channel")
	ErrStartTimeRequired = errors.New("program start time is required")
	ErrEndTimeRequired   = errors.New("program end time is required")
	ErrInvalidTimeRange  = errors.New("end time before start time")
	ErrInvalidChannelURI = errors.New("invalid channel URI")
)
