package golang

import (
	"bytes"
	"fmt"

	"github.com/dave/jennifer/jen"

	"github.com/syssam/fhirgen/compiler/gen"
)

// registry generates a lookup table of the concrete resource types, so that
// a payload can be decoded by its resourceType.
func registry(_ *gen.Graph, m *gen.Module, vars map[string]any) ([]byte, error) {
	pkg, _ := vars["package_name"].(string)
	if pkg == "" {
		pkg = "fhir"
	}
	f := jen.NewFile(pkg)
	if h, _ := vars["header"].(string); h != "" {
		f.HeaderComment(h)
	}

	var syn Syntax
	entries := jen.Dict{}
	for _, t := range m.Types {
		if !t.Resource() || t.Abstract || t.Inline {
			continue
		}
		name := syn.TypeName(t.ID)
		entries[jen.Lit(string(t.ID))] = jen.Func().Params().Interface().Block(
			jen.Return(jen.New(jen.Id(name))),
		)
	}

	f.Comment("Resources maps resource type names to constructors.")
	f.Var().Id("Resources").Op("=").Map(jen.String()).Func().Params().Interface().Values(entries)

	f.Comment("NewResource returns a new value of the named resource type.")
	f.Func().Id("NewResource").Params(jen.Id("name").String()).Params(jen.Interface(), jen.Bool()).Block(
		jen.List(jen.Id("fn"), jen.Id("ok")).Op(":=").Id("Resources").Index(jen.Id("name")),
		jen.If(jen.Op("!").Id("ok")).Block(jen.Return(jen.Nil(), jen.False())),
		jen.Return(jen.Id("fn").Call(), jen.True()),
	)

	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return nil, fmt.Errorf("render registry: %w", err)
	}
	return buf.Bytes(), nil
}
