// Package golang is the preset rendering FHIR types as Go structs in a
// single package, one file per definition.
package golang

import (
	"embed"
	"io/fs"
	"strings"

	"github.com/flosch/pongo2/v6"
	"github.com/go-openapi/inflect"
	"golang.org/x/tools/imports"

	"github.com/syssam/fhirgen/compiler/gen"
	"github.com/syssam/fhirgen/compiler/load"
)

//go:embed templates
var templates embed.FS

// Name is the registry name of the preset.
const Name = "golang"

// New returns the Go preset.
func New() *gen.Preset {
	sub, err := fs.Sub(templates, "templates")
	if err != nil {
		panic(err)
	}
	return &gen.Preset{
		Name:        Name,
		Description: "Go structs with encoding/json tags in a single package",
		FS:          sub,
		Artifacts: []*gen.Artifact{
			{
				Template:    "types.go.tmpl",
				Output:      "{{ module_name }}.go",
				Kinds:       []load.Kind{load.KindComplexType, load.KindResource},
				PostProcess: format,
			},
			{
				Template:    "primitives.go.tmpl",
				Output:      "{{ module_name }}.go",
				Kinds:       []load.Kind{load.KindPrimitiveType},
				PostProcess: format,
			},
			{
				Name:   "registry",
				Code:   registry,
				Output: "registry.go",
				Module: "registry",
			},
		},
		Variables: map[string]any{
			"package_name": "fhir",
			"header":       "Code generated by fhirgen. DO NOT EDIT.",
		},
		Syntax:     Syntax{},
		ModuleName: ModuleName,
		Filters: map[string]pongo2.FilterFunction{
			"go_primitive": filterPrimitive,
			"go_comment":   filterComment,
		},
	}
}

// ModuleName names the file of a type after the last segment of its URL.
func ModuleName(t *gen.Type) string {
	if t.Primitive() {
		return "primitives"
	}
	u := t.URL
	if i := strings.LastIndexByte(u, '/'); i >= 0 {
		u = u[i+1:]
	}
	return inflect.Underscore(inflect.Camelize(u))
}

// format runs goimports over the generated file.
func format(path string, src []byte) ([]byte, error) {
	return imports.Process(path, src, nil)
}

var primitives = map[string]string{
	"boolean":     "bool",
	"integer":     "int32",
	"integer64":   "int64",
	"positiveInt": "uint32",
	"unsignedInt": "uint32",
	"decimal":     "json.Number",
}

func filterPrimitive(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	name := in.String()
	if v, ok := in.Interface().(*gen.TypeView); ok {
		name = string(v.Type.ID)
	}
	if g, ok := primitives[name]; ok {
		return pongo2.AsSafeValue(g), nil
	}
	return pongo2.AsSafeValue("string"), nil
}

// filterComment turns documentation into the body of a line comment.
func filterComment(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsSafeValue(strings.Join(strings.Fields(in.String()), " ")), nil
}
