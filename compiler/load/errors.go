package load

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for loader failures.
var (
	// ErrSourceUnavailable indicates that a bundle or one of its sources could not be retrieved.
	ErrSourceUnavailable = errors.New("fhirgen: source unavailable")
	// ErrMalformedSource indicates that a source could not be parsed into records.
	ErrMalformedSource = errors.New("fhirgen: malformed source")
)

// SourceUnavailableError is returned when a named source (or the bundle
// holding it) cannot be retrieved.
type SourceUnavailableError struct {
	Location string // Bundle location.
	Source   string // Source name within the bundle, empty for the bundle itself.
	// Retriable reports a transient failure (network, 5xx, timeout).
	Retriable bool
	Cause     error
}

// Error implements the error interface.
func (e *SourceUnavailableError) Error() string {
	var b strings.Builder
	b.WriteString("fhirgen: source unavailable")
	if e.Source != "" {
		fmt.Fprintf(&b, " %q", e.Source)
	}
	if e.Location != "" {
		fmt.Fprintf(&b, " (bundle %s)", e.Location)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *SourceUnavailableError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches ErrSourceUnavailable.
func (e *SourceUnavailableError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

// Temporary reports whether retrying the load may succeed.
func (e *SourceUnavailableError) Temporary() bool {
	return e.Retriable
}

// NewSourceUnavailableError creates a new SourceUnavailableError.
func NewSourceUnavailableError(location, source string, retriable bool, cause error) *SourceUnavailableError {
	return &SourceUnavailableError{
		Location:  location,
		Source:    source,
		Retriable: retriable,
		Cause:     cause,
	}
}

// MalformedSourceError is returned when a source cannot be decoded.
// It is never retriable.
type MalformedSourceError struct {
	Source string
	// Position is a human readable hint such as "line 12, offset 3031"
	// or "entry[4]".
	Position string
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *MalformedSourceError) Error() string {
	var b strings.Builder
	b.WriteString("fhirgen: malformed source")
	if e.Source != "" {
		fmt.Fprintf(&b, " %q", e.Source)
	}
	if e.Position != "" {
		b.WriteString(" at ")
		b.WriteString(e.Position)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *MalformedSourceError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches ErrMalformedSource.
func (e *MalformedSourceError) Is(target error) bool {
	return target == ErrMalformedSource
}

// NewMalformedSourceError creates a new MalformedSourceError.
func NewMalformedSourceError(source, position, message string, cause error) *MalformedSourceError {
	return &MalformedSourceError{
		Source:   source,
		Position: position,
		Message:  message,
		Cause:    cause,
	}
}

// DuplicateDefinition is a recoverable warning: a record declared a canonical
// URL that an earlier record (by source order) already declared. The later
// record is ignored.
type DuplicateDefinition struct {
	URL     string
	Kept    Origin
	Dropped Origin
}

// Origin locates a record within the bundle.
type Origin struct {
	Source string
	Index  int
}

func (o Origin) String() string {
	return fmt.Sprintf("%s#%d", o.Source, o.Index)
}

func (w DuplicateDefinition) String() string {
	return fmt.Sprintf("duplicate definition of %s: kept %s, ignored %s", w.URL, w.Kept, w.Dropped)
}

// IsSourceUnavailable reports whether the error is a SourceUnavailableError.
func IsSourceUnavailable(err error) bool {
	var e *SourceUnavailableError
	return errors.As(err, &e)
}

// IsMalformedSource reports whether the error is a MalformedSourceError.
func IsMalformedSource(err error) bool {
	var e *MalformedSourceError
	return errors.As(err, &e)
}

// IsRetriable reports whether err describes a transient failure that a
// caller may retry. Malformed content is always permanent.
func IsRetriable(err error) bool {
	if err == nil || IsMalformedSource(err) {
		return false
	}
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
