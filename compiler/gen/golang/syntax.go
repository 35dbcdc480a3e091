package golang

import (
	"strings"

	"github.com/go-openapi/inflect"

	"github.com/syssam/fhirgen/compiler/gen"
)

// Syntax renders references and fields as Go declarations. All types live
// in one package, so references are never qualified.
type Syntax struct{}

func (Syntax) TypeName(id gen.TypeID) string { return exported(string(id)) }

func (Syntax) Qualify(_, name string) string { return name }

func (Syntax) Placeholder(string) string { return "json.RawMessage" }

// Union has no Go counterpart; choices are split into one field per member.
func (Syntax) Union([]string) string { return "any" }

func (Syntax) FieldName(name string) string { return exported(name) }

// FieldDeclaration renders a struct field with its json tag. A choice
// property becomes one field per allowed type, named as in FHIR JSON
// (value[x] -> ValueString, valueString).
func (s Syntax) FieldDeclaration(f gen.Field) string {
	var b strings.Builder
	if f.Doc != "" {
		b.WriteString("// ")
		b.WriteString(f.Name)
		b.WriteString(" ")
		b.WriteString(strings.Join(strings.Fields(f.Doc), " "))
		b.WriteString("\n")
	}
	if !f.Shape.Choice {
		field(&b, f.Name, f.Element, typeExpr(f.Shape.Multiplicity, f.Type), !f.Shape.Multiplicity.Required())
		return b.String()
	}
	mult := f.Shape.Multiplicity
	if mult == gen.One {
		// Exactly one member is set, so every member is optional.
		mult = gen.Optional
	}
	for i, m := range f.Members {
		if i > 0 {
			b.WriteString("\n")
		}
		suffix := m.Name
		if suffix == "" {
			suffix = "Raw"
		}
		field(&b, f.Name+suffix, f.Element+suffix, typeExpr(mult, m.Type), true)
	}
	return b.String()
}

func field(b *strings.Builder, name, element, typ string, omitempty bool) {
	b.WriteString(name)
	b.WriteString(" ")
	b.WriteString(typ)
	b.WriteString(" `json:\"")
	b.WriteString(element)
	if omitempty {
		b.WriteString(",omitempty")
	}
	b.WriteString("\"`")
}

func typeExpr(m gen.Multiplicity, typ string) string {
	switch m {
	case gen.Optional:
		if typ == "json.RawMessage" {
			return typ
		}
		return "*" + typ
	case gen.Many, gen.ManyOptional:
		return "[]" + typ
	default:
		return typ
	}
}

// exported returns the Go identifier of a FHIR name.
func exported(name string) string {
	switch name {
	case "id":
		return "ID"
	case "url":
		return "URL"
	}
	return inflect.Camelize(name)
}
