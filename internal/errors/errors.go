// Package errors defines the error taxonomy shared by every pipeline stage.
// Each concrete error type matches a sentinel through Is so callers can branch
// with errors.Is without depending on the concrete type, while errors.As still
// exposes the structured fields (symbol, window, failed check).
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels matched by the structured error types below.
var (
	ErrArgument         = errors.New("invalid argument")
	ErrSchema           = errors.New("schema violation")
	ErrNoFillPolicy     = errors.New("no fill policy")
	ErrDataNotAvailable = errors.New("data not available")
	ErrNotSupported     = errors.New("operation not supported")
	ErrNotImplemented   = errors.New("not implemented")
	ErrInvariant        = errors.New("invariant violated")
)

// ArgumentError reports a malformed request, raised before any I/O happens.
type ArgumentError struct {
	Field   string
	Message string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Message)
}

// Is reports whether target is ErrArgument.
func (e *ArgumentError) Is(target error) bool { return target == ErrArgument }

// NewArgumentError builds an ArgumentError with a formatted message.
func NewArgumentError(field, format string, args ...interface{}) error {
	return &ArgumentError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Schema checks, in the order the validator runs them.
const (
	CheckColumns   = "columns"
	CheckIndexType = "index_type"
	CheckMonotonic = "monotonic"
	CheckUnique    = "unique"
	CheckIndexName = "index_name"
)

// SchemaError reports a frame that violates the canonical layout.
type SchemaError struct {
	Check   string
	Message string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema check %q failed: %s", e.Check, e.Message)
}

// Is reports whether target is ErrSchema.
func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// NoFillPolicyError is returned when irregular spacing is detected and the
// configured policy refuses to repair it.
type NoFillPolicyError struct {
	Policy string
	Gaps   int
}

func (e *NoFillPolicyError) Error() string {
	if e.Policy == "" {
		return fmt.Sprintf("irregular index with %d gap(s) and no fill policy configured", e.Gaps)
	}
	return fmt.Sprintf("irregular index with %d gap(s) rejected by %s fill policy", e.Gaps, e.Policy)
}

// Is reports whether target is ErrNoFillPolicy.
func (e *NoFillPolicyError) Is(target error) bool { return target == ErrNoFillPolicy }

// DataNotAvailableError is the uniform failure surfaced by the aggregator for
// a symbol that could not be produced. The cause is kept for diagnostics.
type DataNotAvailableError struct {
	Symbol string
	Start  time.Time
	End    time.Time
	Err    error
}

func (e *DataNotAvailableError) Error() string {
	msg := fmt.Sprintf("data not available for %s between %s and %s",
		e.Symbol, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *DataNotAvailableError) Unwrap() error { return e.Err }

// Is reports whether target is ErrDataNotAvailable.
func (e *DataNotAvailableError) Is(target error) bool { return target == ErrDataNotAvailable }

// NewDataNotAvailable wraps cause for symbol over [start, end].
func NewDataNotAvailable(symbol string, start, end time.Time, cause error) error {
	return &DataNotAvailableError{Symbol: symbol, Start: start, End: end, Err: cause}
}

// NotSupportedError is returned by optional capabilities a source lacks.
type NotSupportedError struct {
	Source     string
	Capability string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("%s source does not support %s", e.Source, e.Capability)
}

// Is reports whether target is ErrNotSupported.
func (e *NotSupportedError) Is(target error) bool { return target == ErrNotSupported }

// InvariantError marks a broken internal guarantee. It is never converted into
// DataNotAvailable.
type InvariantError struct {
	Operation string
	Message   string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated in %s: %s", e.Operation, e.Message)
}

// Is reports whether target is ErrInvariant.
func (e *InvariantError) Is(target error) bool { return target == ErrInvariant }

// IsProgrammingError reports whether err signals a bug rather than a data or
// transport problem. Such errors bypass DataNotAvailable normalization.
func IsProgrammingError(err error) bool {
	return errors.Is(err, ErrNotImplemented) || errors.Is(err, ErrInvariant)
}
