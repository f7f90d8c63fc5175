package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRule marks a malformed rule base. Nothing may be evaluated
	// against it.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrInvalidObservation marks an observation set that names a present
	// symptom no condition knows about.
	ErrInvalidObservation = errors.New("invalid observation")

	// ErrUnknownCondition is returned when a named condition is not in the rule base.
	ErrUnknownCondition = errors.New("unknown condition")

	// ErrCatalogueNotFound is returned when a catalogue does not exist.
	ErrCatalogueNotFound = errors.New("catalogue not found")
)

// InvalidRuleError describes why a rule base was rejected.
type InvalidRuleError struct {
	Condition string `json:"condition,omitempty"`
	Symptom   string `json:"symptom,omitempty"`
	Reason    string `json:"reason"`
}

func (e *InvalidRuleError) Error() string {
	var sb strings.Builder
	sb.WriteString(ErrInvalidRule.Error())
	if e.Condition != "" {
		fmt.Fprintf(&sb, " %q", e.Condition)
	}
	if e.Symptom != "" {
		fmt.Fprintf(&sb, " symptom %q", e.Symptom)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Reason)
	return sb.String()
}

func (e *InvalidRuleError) Unwrap() error {
	return ErrInvalidRule
}

// InvalidObservationError lists the present symptoms unknown to the rule base.
type InvalidObservationError struct {
	Symptoms []string `json:"symptoms"`
}

func (e *InvalidObservationError) Error() string {
	return fmt.Sprintf("%s: unknown symptoms %s", ErrInvalidObservation, strings.Join(e.Symptoms, ", "))
}

func (e *InvalidObservationError) Unwrap() error {
	return ErrInvalidObservation
}
