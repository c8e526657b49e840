// Package apperr defines the error taxonomy shared by the workflow engine:
// not-found lookups and validation failures. Anything else is a storage or
// infrastructure error and is propagated unchanged.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
)

// Reason identifies which validation rule rejected an operation.
type Reason string

const (
	ReasonInvalidPhase        Reason = "invalid_phase"
	ReasonPhaseSkip           Reason = "phase_skip"
	ReasonDocumentMissing     Reason = "document_missing"
	ReasonGateNotPassed       Reason = "gate_not_passed"
	ReasonChecklistIncomplete Reason = "checklist_incomplete"
	ReasonChecklistFailed     Reason = "checklist_failed"
	ReasonGateFinalized       Reason = "gate_finalized"
	ReasonDefectState         Reason = "defect_state"
	ReasonInvalidInput        Reason = "invalid_input"
	ReasonConcurrentUpdate    Reason = "concurrent_update"
)

// NotFoundError reports a missing entity by kind and id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ValidationError carries enough context for a caller to render an actionable message.
type ValidationError struct {
	Reason       Reason `json:"reason"`
	Message      string `json:"message"`
	ProjectID    string `json:"project_id,omitempty"`
	FromPhase    int    `json:"from_phase,omitempty"`
	ToPhase      int    `json:"to_phase,omitempty"`
	DocumentType string `json:"document_type,omitempty"`
	GateType     string `json:"gate_type,omitempty"`
	GateID       string `json:"gate_id,omitempty"`
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func Validation(reason Reason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// AsValidation extracts the ValidationError from err's chain.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
