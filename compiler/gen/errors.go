package gen

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure cases.
var (
	// ErrUnresolvableReference indicates a URL that maps to no type.
	ErrUnresolvableReference = errors.New("fhirgen: unresolvable reference")
	// ErrDuplicateTypeID indicates two records resolving to the same type identifier.
	ErrDuplicateTypeID = errors.New("fhirgen: duplicate type id")
	// ErrCyclicInheritance indicates a cycle in base edges.
	ErrCyclicInheritance = errors.New("fhirgen: cyclic inheritance")
	// ErrTemplate indicates a template failed to render a module.
	ErrTemplate = errors.New("fhirgen: template error")
	// ErrOutputConflict indicates incompatible output for one path.
	ErrOutputConflict = errors.New("fhirgen: output conflict")
	// ErrMissingConfig indicates a configuration error.
	ErrMissingConfig = errors.New("fhirgen: missing configuration")
)

// UnresolvableReferenceError is returned when a URL is neither mapped nor
// inside the base namespace, or when it resolves to an identifier that no
// record declares.
type UnresolvableReferenceError struct {
	URL      string
	Type     string // Referring type, if known.
	Property string // Referring property, empty for base references.
	Message  string
}

// Error implements the error interface.
func (e *UnresolvableReferenceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fhirgen: unresolvable reference %q", e.URL)
	if e.Type != "" {
		b.WriteString(" in type ")
		b.WriteString(e.Type)
	}
	if e.Property != "" {
		b.WriteString(" property ")
		b.WriteString(e.Property)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Is reports whether the target matches ErrUnresolvableReference.
func (e *UnresolvableReferenceError) Is(target error) bool {
	return target == ErrUnresolvableReference
}

// NewUnresolvableReferenceError creates a new UnresolvableReferenceError.
func NewUnresolvableReferenceError(url string) *UnresolvableReferenceError {
	return &UnresolvableReferenceError{URL: url}
}

// at returns a copy of the error annotated with the referring location.
func (e *UnresolvableReferenceError) at(typ, prop, message string) *UnresolvableReferenceError {
	c := *e
	c.Type, c.Property = typ, prop
	if message != "" {
		c.Message = message
	}
	return &c
}

// DuplicateTypeIDError is returned when two records resolve to the same identifier.
type DuplicateTypeIDError struct {
	ID            TypeID
	First, Second string // Record URLs.
	Source        string // Provenance of the second record.
}

// Error implements the error interface.
func (e *DuplicateTypeIDError) Error() string {
	msg := fmt.Sprintf("fhirgen: duplicate type id %q: declared by %s and %s", e.ID, e.First, e.Second)
	if e.Source != "" {
		msg += " (" + e.Source + ")"
	}
	return msg
}

// Is reports whether the target matches ErrDuplicateTypeID.
func (e *DuplicateTypeIDError) Is(target error) bool {
	return target == ErrDuplicateTypeID
}

// NewDuplicateTypeIDError creates a new DuplicateTypeIDError.
func NewDuplicateTypeIDError(id TypeID, first, second, source string) *DuplicateTypeIDError {
	return &DuplicateTypeIDError{ID: id, First: first, Second: second, Source: source}
}

// CyclicInheritanceError names the identifiers forming a base cycle. The
// first identifier is repeated at the end.
type CyclicInheritanceError struct {
	Cycle []TypeID
}

// Error implements the error interface.
func (e *CyclicInheritanceError) Error() string {
	ids := make([]string, len(e.Cycle))
	for i, id := range e.Cycle {
		ids[i] = string(id)
	}
	return "fhirgen: cyclic inheritance: " + strings.Join(ids, " -> ")
}

// Is reports whether the target matches ErrCyclicInheritance.
func (e *CyclicInheritanceError) Is(target error) bool {
	return target == ErrCyclicInheritance
}

// NewCyclicInheritanceError creates a new CyclicInheritanceError.
func NewCyclicInheritanceError(cycle ...TypeID) *CyclicInheritanceError {
	return &CyclicInheritanceError{Cycle: cycle}
}

// TemplateError represents a failure while rendering one module.
type TemplateError struct {
	Template string
	Module   string
	Type     string // Type being rendered when the failure happened, if known.
	Property string
	Cause    error
}

// Error implements the error interface.
func (e *TemplateError) Error() string {
	var b strings.Builder
	b.WriteString("fhirgen: template error")
	if e.Template != "" {
		fmt.Fprintf(&b, " in %q", e.Template)
	}
	if e.Module != "" {
		b.WriteString(" for module ")
		b.WriteString(e.Module)
	}
	if e.Type != "" {
		b.WriteString(" type ")
		b.WriteString(e.Type)
	}
	if e.Property != "" {
		b.WriteString(" property ")
		b.WriteString(e.Property)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *TemplateError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches ErrTemplate.
func (e *TemplateError) Is(target error) bool {
	return target == ErrTemplate
}

// NewTemplateError creates a new TemplateError.
func NewTemplateError(template, module, typ, prop string, cause error) *TemplateError {
	return &TemplateError{
		Template: template,
		Module:   module,
		Type:     typ,
		Property: prop,
		Cause:    cause,
	}
}

// OutputConflictError is returned when a module path escapes the output
// directory, or when two modules produce different content for one path.
type OutputConflictError struct {
	Path    string
	Modules []string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *OutputConflictError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fhirgen: output conflict on %q", e.Path)
	if len(e.Modules) > 0 {
		fmt.Fprintf(&b, " (modules %s)", strings.Join(e.Modules, ", "))
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
func (e *OutputConflictError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches ErrOutputConflict.
func (e *OutputConflictError) Is(target error) bool {
	return target == ErrOutputConflict
}

// NewOutputConflictError creates a new OutputConflictError.
func NewOutputConflictError(path, message string, cause error, modules ...string) *OutputConflictError {
	return &OutputConflictError{
		Path:    path,
		Modules: modules,
		Message: message,
		Cause:   cause,
	}
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Option  string
	Value   any
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("fhirgen: config error for %q (value: %v): %s", e.Option, e.Value, e.Message)
	}
	return fmt.Sprintf("fhirgen: config error for %q: %s", e.Option, e.Message)
}

// Is reports whether the target matches ErrMissingConfig.
func (e *ConfigError) Is(target error) bool {
	return target == ErrMissingConfig
}

// NewConfigError creates a new ConfigError.
func NewConfigError(option string, value any, message string) *ConfigError {
	return &ConfigError{
		Option:  option,
		Value:   value,
		Message: message,
	}
}

// IsUnresolvableReference reports whether the error is an UnresolvableReferenceError.
func IsUnresolvableReference(err error) bool {
	var e *UnresolvableReferenceError
	return errors.As(err, &e)
}

// IsDuplicateTypeID reports whether the error is a DuplicateTypeIDError.
func IsDuplicateTypeID(err error) bool {
	var e *DuplicateTypeIDError
	return errors.As(err, &e)
}

// IsCyclicInheritance reports whether the error is a CyclicInheritanceError.
func IsCyclicInheritance(err error) bool {
	var e *CyclicInheritanceError
	return errors.As(err, &e)
}

// IsTemplateError reports whether the error is a TemplateError.
func IsTemplateError(err error) bool {
	var e *TemplateError
	return errors.As(err, &e)
}

// IsOutputConflict reports whether the error is an OutputConflictError.
func IsOutputConflict(err error) bool {
	var e *OutputConflictError
	return errors.As(err, &e)
}

// IsConfigError reports whether the error is a ConfigError.
func IsConfigError(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}
