package pydantic

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/syssam/fhirgen/compiler/gen"
)

// Syntax renders references and fields as Python type annotations.
type Syntax struct{}

var keywords = []string{
	"False", "None", "True", "and", "as", "assert", "async", "await",
	"break", "class", "continue", "def", "del", "elif", "else", "except",
	"finally", "for", "from", "global", "if", "import", "in", "is",
	"lambda", "nonlocal", "not", "or", "pass", "raise", "return", "try",
	"while", "with", "yield",
}

func (Syntax) TypeName(id gen.TypeID) string { return string(id) }

func (Syntax) Qualify(module, name string) string { return module + "." + name }

func (Syntax) Placeholder(string) string { return "Any" }

func (Syntax) Union(members []string) string {
	return "Union[" + strings.Join(members, ", ") + "]"
}

// FieldName appends an underscore to Python keywords.
func (Syntax) FieldName(name string) string {
	if slices.Contains(keywords, name) {
		return name + "_"
	}
	return name
}

// FieldDeclaration renders an annotated pydantic field. Type names are
// quoted so that modules may refer to each other.
func (s Syntax) FieldDeclaration(f gen.Field) string {
	members := make([]string, len(f.Members))
	for i, m := range f.Members {
		if m.Name == "" {
			members[i] = m.Type
		} else {
			members[i] = strconv.Quote(m.Type)
		}
	}
	ann := members[0]
	if f.Shape.Choice {
		ann = s.Union(members)
	}

	var args []string
	switch f.Shape.Multiplicity {
	case gen.Optional:
		ann = "Optional[" + ann + "]"
		args = append(args, "None")
	case gen.ManyOptional:
		ann = "List[" + ann + "]"
		args = append(args, "default_factory=list")
	case gen.Many:
		ann = "List[" + ann + "]"
		args = append(args, "min_length=1")
	}
	if f.Name != f.Element {
		args = append(args, "alias="+strconv.Quote(f.Element))
	}

	decl := f.Name + ": " + ann
	switch {
	case len(args) == 0:
	case len(args) == 1 && args[0] == "None":
		decl += " = None"
	default:
		decl += fmt.Sprintf(" = Field(%s)", strings.Join(args, ", "))
	}
	return decl
}
