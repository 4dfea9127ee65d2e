// Package pipelineerr defines the stage error taxonomy: DataQuality,
// Invariant, Configuration, MissingOptionalInput, and
// PartialMatch. Ported from the platform's IAROSError pattern, trimmed
// to what a batch stage needs (no HTTP status mapping, no alerting
// hooks — those belong to the inference surface's own error path).
package pipelineerr

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrorType categorizes a stage failure.
type ErrorType string

const (
	// DataQuality covers missing required columns, empty inputs, or an
	// all-filtered result. Always fatal.
	DataQuality ErrorType = "DATA_QUALITY"
	// Invariant covers arithmetic invariant violations (confidence > 1,
	// pair_freq > product_freq, ...). Always fatal; indicates a bug.
	Invariant ErrorType = "INVARIANT"
	// Configuration covers misconfigured weights or thresholds.
	Configuration ErrorType = "CONFIGURATION"
	// MissingOptionalInput covers an absent or empty optional input
	// (feedback file). Never fatal.
	MissingOptionalInput ErrorType = "MISSING_OPTIONAL_INPUT"
	// PartialMatch covers unmatched rows in a left join. Never fatal.
	PartialMatch ErrorType = "PARTIAL_MATCH"
)

// StageError is the structured error every stage returns on fatal
// failure, and the structured event every stage logs on a non-fatal
// one. AffectedRows and Remediation name the offending rule, the row
// count it affected, and a suggested remediation.
type StageError struct {
	ID           string
	Type         ErrorType
	Stage        string
	Message      string
	AffectedRows int
	Remediation  string
	Timestamp    time.Time
	Cause        error
}

func (e *StageError) Error() string {
	if e.AffectedRows > 0 {
		return fmt.Sprintf("[%s/%s] %s (%d rows affected) — %s", e.Stage, e.Type, e.Message, e.AffectedRows, e.Remediation)
	}
	return fmt.Sprintf("[%s/%s] %s — %s", e.Stage, e.Type, e.Message, e.Remediation)
}

func (e *StageError) Unwrap() error { return e.Cause }

// Fatal reports whether this error type always aborts the stage.
func (e *StageError) Fatal() bool {
	return e.Type == DataQuality || e.Type == Invariant
}

func newError(t ErrorType, stage, message, remediation string, affectedRows int, cause error) *StageError {
	return &StageError{
		ID:           uuid.New().String(),
		Type:         t,
		Stage:        stage,
		Message:      message,
		AffectedRows: affectedRows,
		Remediation:  remediation,
		Timestamp:    time.Now(),
		Cause:        cause,
	}
}

// NewDataQualityError reports a fatal data-quality failure: a missing
// required column, an empty input table, or an all-filtered result.
func NewDataQualityError(stage, message, remediation string, affectedRows int) *StageError {
	return newError(DataQuality, stage, message, remediation, affectedRows, nil)
}

// NewInvariantError reports a fatal arithmetic invariant violation.
func NewInvariantError(stage, message string, affectedRows int) *StageError {
	return newError(Invariant, stage, message, "this indicates a sessionization or join bug; do not rerun without investigating", affectedRows, nil)
}

// NewConfigurationError reports a misconfiguration with no safe default.
func NewConfigurationError(stage, message, remediation string) *StageError {
	return newError(Configuration, stage, message, remediation, 0, nil)
}

// NewMissingOptionalInputError reports an absent optional input. The
// caller logs this and proceeds — it is never returned as a stage
// failure, only used for structured logging of the bypass.
func NewMissingOptionalInputError(stage, message string) *StageError {
	return newError(MissingOptionalInput, stage, message, "proceeding without this input", 0, nil)
}

// NewPartialMatchError reports unmatched rows in a left join. Like
// MissingOptionalInput, this is logged, not returned as a failure.
func NewPartialMatchError(stage, message string, affectedRows int) *StageError {
	return newError(PartialMatch, stage, message, "unmatched rows were kept with defaulted fields", affectedRows, nil)
}

// WrapInternal wraps an unexpected error as a DataQuality-class fatal
// failure so every stage returns the same error shape to its caller.
func WrapInternal(stage string, cause error) *StageError {
	return newError(DataQuality, stage, cause.Error(), "unexpected internal error; check logs for the underlying cause", 0, cause)
}
