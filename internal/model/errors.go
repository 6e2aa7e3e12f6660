package model

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ValidationError reports malformed input. It is always returned to the
// caller and never leaves partial state behind.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation returns true if err (or any error in its chain) is a
// ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Warning is a non-fatal degenerate condition. Operations that hit one
// return a well-defined empty or default result instead of an error.
type Warning string

const (
	WarnEmptyCandidates     Warning = "empty_candidates"
	WarnZeroWeightRow       Warning = "zero_weight_row"
	WarnInsufficientHistory Warning = "insufficient_history"
)

// WarnFunc receives degenerate-state warnings.
type WarnFunc func(w Warning, fields ...zap.Field)

// LogWarning is the default WarnFunc. The "degenerate" field keeps these
// apart from real errors in log queries.
func LogWarning(w Warning, fields ...zap.Field) {
	fields = append([]zap.Field{zap.String("degenerate", string(w))}, fields...)
	zap.L().Warn("degenerate state", fields...)
}
