package gen

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/flosch/pongo2/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/fhirgen/compiler/load"
)

// textSyntax renders fields as "name type multiplicity".
type textSyntax struct{}

func (textSyntax) TypeName(id TypeID) string { return string(id) }

func (textSyntax) Qualify(module, name string) string { return module + "." + name }

func (textSyntax) Placeholder(url string) string { return "?" + url }

func (textSyntax) Union(m []string) string { return strings.Join(m, "|") }

func (textSyntax) FieldName(name string) string { return name }

func (textSyntax) FieldDeclaration(f Field) string {
	return fmt.Sprintf("%s %s %s", f.Name, f.Type, f.Shape.Multiplicity)
}

const typesTemplate = `module {{ module_name }} ({{ version }})
{% for m in import_modules %}
import {{ m }}
{% endfor %}
{% for t in types %}
type {{ t.Name }}{% if t.Base %} : {{ t.Base|type_reference }}{% endif %}

{% for p in t.Properties %}
  {{ p|field_declaration }}
{% endfor %}
{% endfor %}
`

func testModuleName(t *Type) string {
	if t.Primitive() {
		return "primitives"
	}
	return strings.ToLower(t.URL[strings.LastIndexByte(t.URL, '/')+1:])
}

func testPreset(files map[string]string) *Preset {
	fsys := fstest.MapFS{
		"types.tmpl": {Data: []byte(typesTemplate)},
		"prims.tmpl": {Data: []byte("{% for t in types %}{{ t.Name }}\n{% endfor %}")},
		"index.tmpl": {Data: []byte("{% for m in import_modules %}{{ m }}\n{% endfor %}")},
	}
	for name, data := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(data)}
	}
	return &Preset{
		Name: "text",
		FS:   fsys,
		Artifacts: []*Artifact{
			{
				Template: "types.tmpl",
				Output:   "{{ module_name }}.txt",
				Kinds:    []load.Kind{load.KindComplexType, load.KindResource},
			},
			{
				Template: "prims.tmpl",
				Output:   "{{ module_name }}.txt",
				Kinds:    []load.Kind{load.KindPrimitiveType},
			},
			{
				Template: "index.tmpl",
				Output:   "index.txt",
				Module:   "index",
			},
		},
		Syntax:     textSyntax{},
		ModuleName: testModuleName,
	}
}

func readTree(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestModules(t *testing.T) {
	g := mustGraph(t, testConfig(), patientRecords()...)
	mods, err := Modules(g, testPreset(nil))
	require.NoError(t, err)

	byName := make(map[string]*Module)
	var names []string
	for _, m := range mods {
		byName[m.Name] = m
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"backboneelement", "base", "element", "patient", "primitives", "index"}, names)

	t.Run("Inline types share the module of their owner", func(t *testing.T) {
		assert.Equal(t, []TypeID{"PatientContact", "Patient"}, ids(byName["patient"].Types))
	})

	t.Run("Imports are minimal", func(t *testing.T) {
		assert.Equal(t, []string{"backboneelement", "base", "primitives"}, byName["patient"].Imports)
		assert.Equal(t, []string{"backboneelement", "base"}, byName["patient"].BaseImports)
		assert.Equal(t, []string{"primitives"}, byName["element"].Imports)
		assert.Empty(t, byName["element"].BaseImports)
		assert.Equal(t, []string{"element"}, byName["primitives"].Imports)
		assert.Equal(t, []string{"primitives"}, byName["base"].Imports)
		assert.Equal(t, []string{"element"}, byName["backboneelement"].BaseImports)
	})

	t.Run("Graph level module", func(t *testing.T) {
		index := byName["index"]
		assert.Len(t, index.Types, len(g.Nodes))
		assert.Equal(t, []string{"backboneelement", "base", "element", "patient", "primitives"}, index.Imports)
		assert.Empty(t, index.BaseImports)
		assert.NotContains(t, index.Imports, index.Name)
	})
}

func TestRender(t *testing.T) {
	g := mustGraph(t, testConfig(WithTarget(filepath.Join(t.TempDir(), "out"))), patientRecords()...)

	mods, err := Render(context.Background(), g, testPreset(nil))
	require.NoError(t, err)
	require.Len(t, mods, 6)

	files := readTree(t, g.Target)
	assert.Len(t, files, 6)

	patient := files["patient.txt"]
	assert.True(t, strings.HasPrefix(patient, "module patient (4.0.1)\n"))
	for _, line := range []string{
		"import backboneelement",
		"type PatientContact : backboneelement.BackboneElement",
		"  name primitives.string one",
		"  gender primitives.code optional",
		"type Patient : base.Base",
		"  name primitives.string many_optional",
		"  active primitives.boolean one",
		"  deceased primitives.boolean|primitives.string optional",
		"  contact PatientContact many_optional",
		"  other PatientContact many_optional",
	} {
		assert.Contains(t, patient, line+"\n")
	}
	assert.NotContains(t, patient, "  id ")
	assert.Less(t, strings.Index(patient, "type PatientContact"), strings.Index(patient, "type Patient "))
	assert.True(t, strings.HasPrefix(patient, "module patient (4.0.1)\n"+
		"import backboneelement\nimport base\nimport primitives\n"+
		"type PatientContact : backboneelement.BackboneElement\n"+
		"  name primitives.string one\n"+
		"  gender primitives.code optional\n"+
		"type Patient : base.Base\n"), patient)

	assert.Equal(t, "string\nboolean\ncode\n", files["primitives.txt"])
	assert.Equal(t, "backboneelement\nbase\nelement\npatient\nprimitives\n", files["index.txt"])

	for _, m := range mods {
		assert.NotEmpty(t, m.Path, m.Name)
	}
}

func TestTrimBlocks(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"newline after block", "{% if x %}\na\n{% endif %}\nb", "{% if x %}a\n{% endif %}b"},
		{"only the first newline", "{% for x in y %}\n\n{% endfor %}", "{% for x in y %}\n{% endfor %}"},
		{"indented block", "a\n  \t{% if x %}\n  b", "a\n{% if x %}  b"},
		{"block after text keeps spaces", "{{ m }}, {% endfor %}]", "{{ m }}, {% endfor %}]"},
		{"variables untouched", "  {{ x }}\n", "  {{ x }}\n"},
		{"comments", "  {# note #}\nx", "{# note #}x"},
		{"crlf", "{% if x %}\r\ny", "{% if x %}y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(trimBlocks([]byte(tt.in))))
		})
	}
}

func TestRenderWhitespace(t *testing.T) {
	// One compiled template renders every module; the layout must not
	// drift between executions.
	const tmpl = "head\n{% if module_name %}\n\n  {% for t in types %}\n{{ t.Name }}, {% endfor %}\n{% endif %}\nend\n"
	target := filepath.Join(t.TempDir(), "out")
	g := mustGraph(t, testConfig(WithTarget(target), WithWorkers(1)), patientRecords()...)
	_, err := Render(context.Background(), g, testPreset(map[string]string{"types.tmpl": tmpl}))
	require.NoError(t, err)

	files := readTree(t, target)
	assert.Equal(t, "head\n\nBackboneElement, end\n", files["backboneelement.txt"])
	assert.Equal(t, "head\n\nBase, end\n", files["base.txt"])
	assert.Equal(t, "head\n\nElement, end\n", files["element.txt"])
	assert.Equal(t, "head\n\nPatientContact, Patient, end\n", files["patient.txt"])
}

func TestRenderDeterministic(t *testing.T) {
	render := func() map[string]string {
		target := filepath.Join(t.TempDir(), "out")
		g := mustGraph(t, testConfig(WithTarget(target), WithWorkers(4)), patientRecords()...)
		_, err := Render(context.Background(), g, testPreset(nil))
		require.NoError(t, err)
		return readTree(t, target)
	}
	assert.Equal(t, render(), render())
}

func TestRenderReplacesTarget(t *testing.T) {
	target := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.MkdirAll(target, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "stale.txt"), []byte("x"), 0o644))

	g := mustGraph(t, testConfig(WithTarget(target)), patientRecords()...)
	_, err := Render(context.Background(), g, testPreset(nil))
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(target, "stale.txt"))
	assert.FileExists(t, filepath.Join(target, "patient.txt"))
	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(target), ".out-staging-*"))
	assert.Empty(t, leftovers)
}

func TestRenderErrors(t *testing.T) {
	// failing leaves a marker file in a fresh target and checks that it
	// survives the failed render.
	failing := func(t *testing.T, p *Preset, opts ...Option) error {
		t.Helper()
		target := filepath.Join(t.TempDir(), "out")
		require.NoError(t, os.MkdirAll(target, 0o755))
		marker := filepath.Join(target, "keep.txt")
		require.NoError(t, os.WriteFile(marker, []byte("keep"), 0o644))

		g := mustGraph(t, testConfig(append(opts, WithTarget(target))...), patientRecords()...)
		mods, err := Render(context.Background(), g, p)
		require.Error(t, err)
		assert.Nil(t, mods)
		assert.FileExists(t, marker)
		leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(target), ".out-staging-*"))
		assert.Empty(t, leftovers)
		return err
	}

	t.Run("Unknown filter", func(t *testing.T) {
		p := testPreset(map[string]string{"types.tmpl": "{{ module_name|no_such_filter }}"})
		err := failing(t, p)
		assert.True(t, IsTemplateError(err))
		assert.Contains(t, err.Error(), "types.tmpl")
	})

	t.Run("Failing filter names the property", func(t *testing.T) {
		p := testPreset(map[string]string{
			"types.tmpl": "{% for t in types %}{% for p in t.Properties %}{{ p|field_declaration }}{{ p|test_fail }}{% endfor %}{% endfor %}",
		})
		p.Filters = map[string]pongo2.FilterFunction{
			"test_fail": func(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
				return nil, &pongo2.Error{Sender: "filter:test_fail", OrigError: errors.New("boom")}
			},
		}
		err := failing(t, p, WithWorkers(1))
		var te *TemplateError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, "types.tmpl", te.Template)
		assert.Equal(t, "base", te.Module)
		assert.Equal(t, "Base", te.Type)
		assert.Equal(t, "id", te.Property)
	})

	t.Run("Output path escapes the target", func(t *testing.T) {
		p := testPreset(nil)
		p.Artifacts[1].Output = "../{{ module_name }}.txt"
		err := failing(t, p)
		assert.True(t, IsOutputConflict(err))
	})

	t.Run("Two modules, one path", func(t *testing.T) {
		p := testPreset(nil)
		p.Artifacts[0].Output = "all.txt"
		err := failing(t, p)
		var oe *OutputConflictError
		require.True(t, errors.As(err, &oe))
		assert.Equal(t, "all.txt", oe.Path)
		assert.Len(t, oe.Modules, 2)
	})

	t.Run("Version constraint", func(t *testing.T) {
		p := testPreset(nil)
		p.Versions = ">= 5.0.0"
		g := mustGraph(t, testConfig(WithTarget(t.TempDir())), patientRecords()...)
		_, err := Render(context.Background(), g, p)
		assert.True(t, IsConfigError(err))
	})

	t.Run("Missing target", func(t *testing.T) {
		g := mustGraph(t, testConfig(), patientRecords()...)
		_, err := Render(context.Background(), g, testPreset(nil))
		assert.True(t, IsConfigError(err))
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		target := filepath.Join(t.TempDir(), "out")
		g := mustGraph(t, testConfig(WithTarget(target)), patientRecords()...)
		_, err := Render(ctx, g, testPreset(nil))
		assert.ErrorIs(t, err, context.Canceled)
		assert.NoDirExists(t, target)
	})
}

func TestRenderIdenticalOutputMerges(t *testing.T) {
	p := testPreset(map[string]string{"same.tmpl": "same\n"})
	p.Artifacts[0].Template = "same.tmpl"
	p.Artifacts[0].Output = "same.txt"

	target := filepath.Join(t.TempDir(), "out")
	g := mustGraph(t, testConfig(WithTarget(target)), patientRecords()...)
	_, err := Render(context.Background(), g, p)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(target, "same.txt"))
	require.NoError(t, err)
	assert.Equal(t, "same\n", string(data))
}

func TestRenderCodeArtifact(t *testing.T) {
	p := testPreset(nil)
	p.Artifacts[2] = &Artifact{
		Name:   "count",
		Output: "count.txt",
		Code: func(g *Graph, m *Module, vars map[string]any) ([]byte, error) {
			return fmt.Appendf(nil, "%s %d %v\n", m.Name, len(m.Types), vars["flavor"]), nil
		},
		PostProcess: func(_ string, src []byte) ([]byte, error) {
			return []byte(strings.ToUpper(string(src))), nil
		},
	}
	p.Variables = map[string]any{"flavor": "plain"}

	target := filepath.Join(t.TempDir(), "out")
	g := mustGraph(t, testConfig(WithTarget(target), WithVariables(map[string]any{"flavor": "spicy"})), patientRecords()...)
	_, err := Render(context.Background(), g, p)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(target, "count.txt"))
	require.NoError(t, err)
	assert.Equal(t, "COUNT 8 SPICY\n", string(data))
}

func TestPresetValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Preset)
	}{
		{"no name", func(p *Preset) { p.Name = "" }},
		{"no syntax", func(p *Preset) { p.Syntax = nil }},
		{"no module names", func(p *Preset) { p.ModuleName = nil }},
		{"no artifacts", func(p *Preset) { p.Artifacts = nil }},
		{"no output", func(p *Preset) { p.Artifacts[0].Output = "" }},
		{"no template", func(p *Preset) { p.FS = nil }},
		{"kind bound twice", func(p *Preset) { p.Artifacts[1].Kinds = []load.Kind{load.KindResource} }},
		{"shadowed filter", func(p *Preset) {
			p.Filters = map[string]pongo2.FilterFunction{"type_reference": filterTypeReference}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPreset(nil)
			tt.modify(p)
			assert.True(t, IsConfigError(p.validate()))
		})
	}

	assert.NoError(t, testPreset(nil).validate())
}

func TestPresetCheckVersion(t *testing.T) {
	p := &Preset{Name: "p", Versions: ">= 4.0.0, < 5.0.0"}
	assert.NoError(t, p.CheckVersion("4.0.1"))
	assert.True(t, IsConfigError(p.CheckVersion("5.0.0")))
	assert.True(t, IsConfigError(p.CheckVersion("")))
	assert.True(t, IsConfigError(p.CheckVersion("R4")))

	p.Versions = ""
	assert.NoError(t, p.CheckVersion(""))
	assert.NoError(t, p.CheckVersion("R4"))
}

func TestRenderVersionTag(t *testing.T) {
	target := filepath.Join(t.TempDir(), "out")
	g := mustGraph(t, testConfig(WithTarget(target), WithVersion("R4")), patientRecords()...)
	_, err := Render(context.Background(), g, testPreset(nil))
	require.NoError(t, err)
	patient, err := os.ReadFile(filepath.Join(target, "patient.txt"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(patient), "module patient (R4)\n"))

	p := testPreset(nil)
	p.Versions = ">= 4.0.0"
	_, err = Render(context.Background(), g, p)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}
