package compiler

import (
	"archive/zip"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/fhirgen/compiler/gen"
	"github.com/syssam/fhirgen/compiler/gen/golang"
	"github.com/syssam/fhirgen/compiler/gen/pydantic"
	"github.com/syssam/fhirgen/compiler/load"
)

const typesSource = `{
  "resourceType": "Bundle",
  "entry": [
    {"resource": {
      "resourceType": "StructureDefinition",
      "url": "http://hl7.org/fhir/StructureDefinition/Element",
      "name": "Element", "type": "Element", "kind": "complex-type",
      "snapshot": {"element": [
        {"id": "Element", "path": "Element", "definition": "Base definition for all elements"},
        {"id": "Element.id", "path": "Element.id", "min": 0, "max": "1", "type": [{"code": "string"}]}
      ]}
    }},
    {"resource": {
      "resourceType": "StructureDefinition",
      "url": "http://hl7.org/fhir/StructureDefinition/string",
      "name": "string", "type": "string", "kind": "primitive-type",
      "baseDefinition": "http://hl7.org/fhir/StructureDefinition/Element"
    }},
    {"resource": {
      "resourceType": "StructureDefinition",
      "url": "http://hl7.org/fhir/StructureDefinition/boolean",
      "name": "boolean", "type": "boolean", "kind": "primitive-type",
      "baseDefinition": "http://hl7.org/fhir/StructureDefinition/Element"
    }}
  ]
}`

const resourcesSource = `{
  "resourceType": "Bundle",
  "entry": [
    {"resource": {
      "resourceType": "StructureDefinition",
      "url": "http://hl7.org/fhir/StructureDefinition/Resource",
      "name": "Resource", "type": "Resource", "kind": "resource", "abstract": true,
      "snapshot": {"element": [
        {"id": "Resource", "path": "Resource"},
        {"id": "Resource.id", "path": "Resource.id", "min": 0, "max": "1", "type": [{"code": "string"}]}
      ]}
    }},
    {"resource": {
      "resourceType": "StructureDefinition",
      "url": "http://hl7.org/fhir/StructureDefinition/Patient",
      "name": "Patient", "type": "Patient", "kind": "resource",
      "derivation": "specialization",
      "baseDefinition": "http://hl7.org/fhir/StructureDefinition/Resource",
      "snapshot": {"element": [
        {"id": "Patient", "path": "Patient", "definition": "Demographics"},
        {"id": "Patient.id", "path": "Patient.id", "min": 0, "max": "1",
         "base": {"path": "Resource.id", "min": 0, "max": "1"}, "type": [{"code": "string"}]},
        {"id": "Patient.active", "path": "Patient.active", "min": 0, "max": "1", "type": [{"code": "boolean"}]},
        {"id": "Patient.name", "path": "Patient.name", "min": 0, "max": "*", "type": [{"code": "string"}]}
      ]}
    }},
    {"resource": {
      "resourceType": "StructureDefinition",
      "url": "http://hl7.org/fhir/StructureDefinition/string",
      "name": "string", "type": "string", "kind": "primitive-type"
    }}
  ]
}`

var sources = map[string]string{
	"profiles-types.json":     typesSource,
	"profiles-resources.json": resourcesSource,
}

func definitions(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "definitions")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, content := range sources {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func definitionsZip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "definitions.json.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range sources {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func runConfig(t *testing.T, preset string) *RunConfig {
	t.Helper()
	return &RunConfig{
		Definitions: Definitions{
			URL:     definitions(t),
			Version: "4.0.1",
			Sources: []string{"profiles-types.json", "profiles-resources.json"},
		},
		Parser:   Parser{BaseURL: "http://hl7.org/fhir"},
		Renderer: Renderer{Preset: preset, OutputDir: filepath.Join(t.TempDir(), "out")},
	}
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func files(t *testing.T, dir string) []string {
	t.Helper()
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		paths = append(paths, filepath.ToSlash(rel))
		return err
	})
	require.NoError(t, err)
	return paths
}

func TestPresets(t *testing.T) {
	assert.Equal(t, []string{golang.Name, pydantic.Name}, Presets())
	p, ok := Preset(pydantic.Name)
	require.True(t, ok)
	assert.Equal(t, pydantic.Name, p.Name)
	_, ok = Preset("typescript")
	assert.False(t, ok)
}

func TestGenerate(t *testing.T) {
	t.Run("Pydantic", func(t *testing.T) {
		rc := runConfig(t, pydantic.Name)
		res, err := Generate(context.Background(), rc, quiet())
		require.NoError(t, err)

		assert.NotEmpty(t, res.RunID)
		assert.Equal(t, 5, res.Records)
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, "http://hl7.org/fhir/StructureDefinition/string", res.Warnings[0].URL)
		assert.Equal(t, "profiles-resources.json", res.Warnings[0].Dropped.Source)
		assert.Len(t, res.Graph.Nodes, 5)
		assert.NotEmpty(t, res.Modules)

		assert.ElementsMatch(t, []string{
			"fhir_models/__init__.py",
			"fhir_models/element.py",
			"fhir_models/patient.py",
			"fhir_models/primitives.py",
			"fhir_models/resource.py",
		}, files(t, rc.Renderer.OutputDir))

		patient, err := os.ReadFile(filepath.Join(rc.Renderer.OutputDir, "fhir_models", "patient.py"))
		require.NoError(t, err)
		assert.Contains(t, string(patient), "class Patient(resource.Resource):")
		assert.Contains(t, string(patient), `active: Optional["primitives.boolean"] = None`)
		assert.NotContains(t, string(patient), "    id:")
	})

	t.Run("Golang", func(t *testing.T) {
		rc := runConfig(t, golang.Name)
		rc.Renderer.Variables = map[string]any{"package_name": "r4"}
		_, err := Generate(context.Background(), rc, quiet())
		require.NoError(t, err)

		assert.ElementsMatch(t, []string{
			"element.go",
			"patient.go",
			"primitives.go",
			"registry.go",
			"resource.go",
		}, files(t, rc.Renderer.OutputDir))
		src, err := os.ReadFile(filepath.Join(rc.Renderer.OutputDir, "patient.go"))
		require.NoError(t, err)
		assert.Contains(t, string(src), "package r4\n")
		assert.Contains(t, string(src), "type Patient struct {")
	})

	t.Run("Zip archive and record cache", func(t *testing.T) {
		rc := runConfig(t, pydantic.Name)
		rc.Definitions.URL = definitionsZip(t)
		rc.CacheDir = filepath.Join(t.TempDir(), "cache")
		for range 2 {
			res, err := Generate(context.Background(), rc, quiet())
			require.NoError(t, err)
			assert.Equal(t, 5, res.Records)
		}
		assert.DirExists(t, filepath.Join(rc.CacheDir, "fhirgen", "4.0.1", "records"))
	})

	t.Run("Release tag", func(t *testing.T) {
		rc := runConfig(t, pydantic.Name)
		rc.Definitions.Version = "R4"
		res, err := Generate(context.Background(), rc, quiet())
		require.NoError(t, err)
		assert.Equal(t, "R4", res.Graph.Config.Version)
		assert.FileExists(t, filepath.Join(rc.Renderer.OutputDir, "fhir_models", "patient.py"))
	})

	t.Run("Custom preset", func(t *testing.T) {
		rc := runConfig(t, "count")
		p := &gen.Preset{
			Name:       "count",
			Syntax:     pydantic.Syntax{},
			ModuleName: pydantic.ModuleName,
			Artifacts: []*gen.Artifact{{
				Name:   "count",
				Output: "count.txt",
				Module: "count",
				Code: func(g *gen.Graph, _ *gen.Module, _ map[string]any) ([]byte, error) {
					return []byte{byte('0' + len(g.Nodes)), '\n'}, nil
				},
			}},
		}
		_, err := Generate(context.Background(), rc, quiet(), WithPreset(p))
		require.NoError(t, err)
		data, err := os.ReadFile(filepath.Join(rc.Renderer.OutputDir, "count.txt"))
		require.NoError(t, err)
		assert.Equal(t, "5\n", string(data))
	})
}

func TestGenerateErrors(t *testing.T) {
	t.Run("Invalid config", func(t *testing.T) {
		_, err := Generate(context.Background(), &RunConfig{}, quiet())
		require.Error(t, err)
		assert.True(t, gen.IsConfigError(err))
	})

	t.Run("Unknown preset", func(t *testing.T) {
		rc := runConfig(t, "typescript")
		rc.Definitions.URL = filepath.Join(t.TempDir(), "missing")
		_, err := Generate(context.Background(), rc, quiet())
		require.Error(t, err)
		assert.True(t, gen.IsConfigError(err))
		assert.Contains(t, err.Error(), "golang")
	})

	t.Run("Unsupported version", func(t *testing.T) {
		rc := runConfig(t, "strict")
		rc.Definitions.Version = "R4"
		rc.Definitions.URL = filepath.Join(t.TempDir(), "missing")
		p := pydantic.New()
		p.Name = "strict"
		p.Versions = ">= 4.0.0"
		_, err := Generate(context.Background(), rc, quiet(), WithPreset(p))
		require.Error(t, err)
		assert.True(t, gen.IsConfigError(err))
		assert.False(t, load.IsSourceUnavailable(err))
	})

	t.Run("Missing definitions", func(t *testing.T) {
		rc := runConfig(t, pydantic.Name)
		rc.Definitions.URL = filepath.Join(t.TempDir(), "missing")
		_, err := Generate(context.Background(), rc, quiet())
		require.Error(t, err)
		assert.True(t, load.IsSourceUnavailable(err))
	})

	t.Run("Invalid graph keeps output", func(t *testing.T) {
		rc := runConfig(t, pydantic.Name)
		rc.Definitions.Sources = []string{"profiles-resources.json"}
		require.NoError(t, os.MkdirAll(rc.Renderer.OutputDir, 0o755))
		marker := filepath.Join(rc.Renderer.OutputDir, "keep.txt")
		require.NoError(t, os.WriteFile(marker, []byte("keep"), 0o644))

		_, err := Generate(context.Background(), rc, quiet())
		require.Error(t, err)
		assert.True(t, gen.IsUnresolvableReference(err))
		assert.FileExists(t, marker)
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Generate(ctx, runConfig(t, pydantic.Name), quiet())
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBuildGraph(t *testing.T) {
	rc := runConfig(t, "any")
	res, err := BuildGraph(context.Background(), rc, quiet(), WithGenOptions(gen.WithWorkers(1)))
	require.NoError(t, err)
	require.Len(t, res.Graph.Roots(), 2)
	assert.Equal(t, gen.TypeID("Element"), res.Graph.Roots()[0].ID)
	assert.Equal(t, gen.TypeID("Resource"), res.Graph.Roots()[1].ID)
	assert.NoDirExists(t, rc.Renderer.OutputDir)
}
