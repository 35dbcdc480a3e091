// Package pydantic is the preset rendering FHIR types as pydantic models,
// one Python module per definition.
package pydantic

import (
	"embed"
	"io/fs"
	"regexp"
	"strings"

	"github.com/flosch/pongo2/v6"

	"github.com/syssam/fhirgen/compiler/gen"
	"github.com/syssam/fhirgen/compiler/load"
)

//go:embed all:templates
var templates embed.FS

// Name is the registry name of the preset.
const Name = "pydantic"

// New returns the pydantic preset.
func New() *gen.Preset {
	sub, err := fs.Sub(templates, "templates")
	if err != nil {
		panic(err)
	}
	return &gen.Preset{
		Name:        Name,
		Description: "pydantic v2 models, one Python module per definition",
		FS:          sub,
		Artifacts: []*gen.Artifact{
			{
				Template:    "__init__.py.tmpl",
				Output:      "{{ package_name }}/__init__.py",
				Module:      "__init__",
				PostProcess: tidy,
			},
			{
				Template:    "complex_type.py.tmpl",
				Output:      "{{ package_name }}/{{ module_name }}.py",
				Kinds:       []load.Kind{load.KindComplexType, load.KindResource},
				PostProcess: tidy,
			},
			{
				Template:    "primitives.py.tmpl",
				Output:      "{{ package_name }}/{{ module_name }}.py",
				Kinds:       []load.Kind{load.KindPrimitiveType},
				PostProcess: tidy,
			},
		},
		Variables: map[string]any{
			"package_name": "fhir_models",
			"base_module":  "pydantic",
			"base_model":   "BaseModel",
		},
		Syntax:     Syntax{},
		ModuleName: ModuleName,
		Filters: map[string]pongo2.FilterFunction{
			"py_primitive": filterPrimitive,
			"py_docstring": filterDocstring,
		},
	}
}

// ModuleName groups primitives into one module and every other type into
// the module named after the last segment of its URL. Inline types share
// the URL, and so the module, of their owner.
func ModuleName(t *gen.Type) string {
	if t.Primitive() {
		return "primitives"
	}
	u := t.URL
	if i := strings.LastIndexByte(u, '/'); i >= 0 {
		u = u[i+1:]
	}
	return strings.ReplaceAll(strings.ToLower(u), "-", "_")
}

var primitives = map[string]string{
	"boolean":      "bool",
	"integer":      "int",
	"integer64":    "int",
	"positiveInt":  "int",
	"unsignedInt":  "int",
	"decimal":      "Decimal",
	"base64Binary": "bytes",
}

func filterPrimitive(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	name := in.String()
	if v, ok := in.Interface().(*gen.TypeView); ok {
		name = string(v.Type.ID)
	}
	if py, ok := primitives[name]; ok {
		return pongo2.AsSafeValue(py), nil
	}
	return pongo2.AsSafeValue("str"), nil
}

func filterDocstring(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	s := strings.ReplaceAll(in.String(), `\`, `\\`)
	s = strings.ReplaceAll(s, `"""`, `\"\"\"`)
	s = strings.TrimRight(s, `"`+" \n")
	return pongo2.AsSafeValue(s), nil
}

var blankRuns = regexp.MustCompile(`\n{4,}`)

// tidy normalizes whitespace of the rendered Python source: no trailing
// blanks, at most two consecutive empty lines, one final newline.
func tidy(_ string, src []byte) ([]byte, error) {
	lines := strings.Split(string(src), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	s := blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n\n")
	s = strings.TrimLeft(s, "\n")
	return []byte(strings.TrimRight(s, "\n") + "\n"), nil
}
