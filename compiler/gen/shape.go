package gen

// Multiplicity is the occurrence class of a field.
type Multiplicity uint8

// Multiplicities.
const (
	// One is a required single value (1..1).
	One Multiplicity = iota
	// Optional is an absent or single value (0..1).
	Optional
	// Many is a non-empty collection (n..*, n >= 1).
	Many
	// ManyOptional is a possibly empty collection (0..*).
	ManyOptional
)

var multiplicityNames = [...]string{
	One:          "one",
	Optional:     "optional",
	Many:         "many",
	ManyOptional: "many_optional",
}

func (m Multiplicity) String() string {
	if int(m) < len(multiplicityNames) {
		return multiplicityNames[m]
	}
	return "invalid"
}

// Collection reports whether the field holds a sequence of values.
func (m Multiplicity) Collection() bool { return m == Many || m == ManyOptional }

// Required reports whether at least one value must be present.
func (m Multiplicity) Required() bool { return m == One || m == Many }

// FieldShape is the target-independent shape of a field.
type FieldShape struct {
	Multiplicity Multiplicity
	// Ref is a union reference for choice properties.
	Ref TypeRef
	// Choice is orthogonal to Multiplicity.
	Choice bool
}

// Shape maps the cardinality and references of a property to a field shape.
// Any maximum other than 1 (including unbounded) yields a collection; any
// minimum above 0 makes the field required.
func Shape(p *Property) FieldShape {
	return FieldShape{
		Multiplicity: multiplicity(p.Card),
		Ref:          p.Ref(),
		Choice:       p.Choice(),
	}
}

func multiplicity(c Cardinality) Multiplicity {
	single := c.Max != Unbounded && c.Max <= 1
	switch {
	case single && c.Min == 0:
		return Optional
	case single:
		return One
	case c.Min == 0:
		return ManyOptional
	default:
		return Many
	}
}
