package gen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/fhirgen/compiler/load"
)

// TypeID identifies a Type within one graph.
type TypeID string

// RefKind tells the variants of a TypeRef apart.
type RefKind uint8

// Reference kinds.
const (
	// RefResolved points at a node of the graph.
	RefResolved RefKind = iota
	// RefUnresolved is a diagnostic placeholder for a URL that could not
	// be resolved in permissive mode.
	RefUnresolved
	// RefUnion groups the alternatives of a choice property.
	RefUnion
)

// TypeRef is a reference to a type by identifier, never by pointer.
type TypeRef struct {
	Kind RefKind
	// ID is set for resolved references.
	ID TypeID
	// URL is the canonical URL the reference was resolved from, if any.
	URL string
	// Union holds the members of a union reference. Members are never unions.
	Union []TypeRef
}

// Ref returns a resolved reference.
func Ref(id TypeID) TypeRef {
	return TypeRef{Kind: RefResolved, ID: id}
}

// Unresolved returns a placeholder reference for url.
func Unresolved(url string) TypeRef {
	return TypeRef{Kind: RefUnresolved, URL: url}
}

// Union returns the union of the given references, or the only reference
// when a single one is given.
func Union(refs ...TypeRef) TypeRef {
	if len(refs) == 1 {
		return refs[0]
	}
	return TypeRef{Kind: RefUnion, Union: refs}
}

// Resolved reports whether the reference points at a graph node.
func (r TypeRef) Resolved() bool { return r.Kind == RefResolved }

// Members returns the alternatives of the reference: the union members, or
// the reference itself.
func (r TypeRef) Members() []TypeRef {
	if r.Kind == RefUnion {
		return r.Union
	}
	return []TypeRef{r}
}

func (r TypeRef) String() string {
	switch r.Kind {
	case RefResolved:
		return string(r.ID)
	case RefUnresolved:
		return "unresolved(" + r.URL + ")"
	default:
		parts := make([]string, len(r.Union))
		for i, m := range r.Union {
			parts[i] = m.String()
		}
		return "union(" + strings.Join(parts, ", ") + ")"
	}
}

// Unbounded is the maximum of a property without an upper bound.
const Unbounded = load.Unbounded

// Cardinality holds the occurrence bounds of a property.
type Cardinality struct {
	Min int
	// Max is a non-negative bound, or Unbounded.
	Max int
}

// Unbounded reports whether the maximum is unbounded.
func (c Cardinality) Unbounded() bool { return c.Max == Unbounded }

func (c Cardinality) String() string {
	if c.Unbounded() {
		return strconv.Itoa(c.Min) + "..*"
	}
	return fmt.Sprintf("%d..%d", c.Min, c.Max)
}

// Property is a field declared directly on a Type.
type Property struct {
	// Name is the element name with any "[x]" suffix removed.
	Name string
	// Path is the element path the property was built from.
	Path string
	Card Cardinality
	// Refs holds one reference per allowed type, in declared order.
	Refs []TypeRef
	Doc  string
	// Index is the declared position of the property within its type.
	Index int
}

// Choice reports whether the property admits several types.
func (p *Property) Choice() bool { return len(p.Refs) > 1 }

// Ref returns the type reference of the property, a union for choices.
func (p *Property) Ref() TypeRef { return Union(p.Refs...) }

// Type is a node of the graph.
type Type struct {
	ID  TypeID
	URL string
	// Kind is the record kind. Resource profiles are reported as resources
	// with Profile set.
	Kind     load.Kind
	Profile  bool
	Abstract bool
	// Base is the single parent type. It is never a union.
	Base *TypeRef
	// Properties are the declared properties in source order. Inherited
	// properties are not repeated; see Graph.AllProperties.
	Properties []*Property
	// Inline types are built from backbone elements of their Owner and
	// share its URL.
	Inline bool
	Owner  TypeID
	// Path is the element path the properties of the type are rooted at.
	Path   string
	Doc    string
	Source load.Origin
}

// Name returns the identifier as a string.
func (t *Type) Name() string { return string(t.ID) }

// Primitive reports whether the type is a primitive type.
func (t *Type) Primitive() bool { return t.Kind == load.KindPrimitiveType }

// Resource reports whether the type is a resource or a resource profile.
func (t *Type) Resource() bool { return t.Kind == load.KindResource }

// HasBase reports whether the type has a parent.
func (t *Type) HasBase() bool { return t.Base != nil }

// Property returns the declared property with the given name.
func (t *Type) Property(name string) (*Property, bool) {
	for _, p := range t.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// References returns the resolved identifiers the type depends on: its
// base and the member types of its properties, in declaration order and
// without duplicates.
func (t *Type) References() []TypeID {
	var (
		ids  []TypeID
		seen = make(map[TypeID]bool)
	)
	add := func(r TypeRef) {
		for _, m := range r.Members() {
			if m.Resolved() && !seen[m.ID] {
				seen[m.ID] = true
				ids = append(ids, m.ID)
			}
		}
	}
	if t.Base != nil {
		add(*t.Base)
	}
	for _, p := range t.Properties {
		add(p.Ref())
	}
	return ids
}

func (t *Type) String() string { return string(t.ID) }
