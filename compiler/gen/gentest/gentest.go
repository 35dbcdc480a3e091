// Package gentest provides a small set of definitions for preset tests.
package gentest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syssam/fhirgen/compiler/gen"
	"github.com/syssam/fhirgen/compiler/load"
)

// BaseURL is the namespace of the records.
const BaseURL = "http://hl7.org/fhir"

// URL returns the canonical URL of a definition name.
func URL(name string) string { return BaseURL + "/StructureDefinition/" + name }

func record(kind load.Kind, name, base, doc string, props ...load.RawProperty) *load.RawRecord {
	r := &load.RawRecord{
		URL:           URL(name),
		Name:          name,
		Type:          name,
		Kind:          kind,
		Documentation: doc,
		Properties:    props,
		SourceFile:    "gentest.json",
	}
	if base != "" {
		r.BaseURL = URL(base)
	}
	for i := range r.Properties {
		r.Properties[i].Index = i
	}
	return r
}

func prop(path string, min int, max, doc string, codes ...string) load.RawProperty {
	p := load.RawProperty{Path: path, Min: min, Max: max, Documentation: doc}
	for _, c := range codes {
		p.Types = append(p.Types, load.RawTypeRef{Code: c})
	}
	return p
}

// Records returns primitives, Element, BackboneElement, an abstract
// resource Base and a Patient resource with a backbone element, a choice
// and a property named after a Python keyword.
func Records() []*load.RawRecord {
	base := record(load.KindResource, "Base", "", "Base definition for all resources.",
		prop("Base.id", 0, "1", "Logical id of this artifact", "id"),
	)
	base.Abstract = true
	return []*load.RawRecord{
		record(load.KindComplexType, "Element", "", "Base definition for all elements.",
			prop("Element.id", 0, "1", "Unique id for inter-element referencing", "string"),
		),
		record(load.KindPrimitiveType, "string", "Element", ""),
		record(load.KindPrimitiveType, "boolean", "Element", ""),
		record(load.KindPrimitiveType, "decimal", "Element", ""),
		record(load.KindPrimitiveType, "id", "string", ""),
		record(load.KindPrimitiveType, "code", "string", ""),
		record(load.KindComplexType, "BackboneElement", "Element", ""),
		base,
		record(load.KindResource, "Patient", "Base", `Demographics "and" other data.`,
			prop("Patient.name", 0, "*", "A name associated with the patient", "string"),
			prop("Patient.active", 1, "1", "Whether this patient's record is in active use", "boolean"),
			prop("Patient.deceased[x]", 0, "1", "Indicates if the individual is deceased or not", "boolean", "string"),
			prop("Patient.weight", 0, "1", "", "decimal"),
			prop("Patient.class", 0, "1", "", "code"),
			prop("Patient.contact", 0, "*", "A contact party", "BackboneElement"),
			prop("Patient.contact.name", 1, "1", "", "string"),
			prop("Patient.contact.gender", 0, "1", "", "code"),
		),
	}
}

// Render builds the graph of Records and renders it with the preset into a
// fresh directory. It returns the rendered files by relative path.
func Render(t *testing.T, p *gen.Preset, opts ...gen.Option) map[string]string {
	t.Helper()
	target := filepath.Join(t.TempDir(), "out")
	c, err := gen.NewConfig(append([]gen.Option{
		gen.WithBaseURL(BaseURL),
		gen.WithVersion("4.0.1"),
		gen.WithTarget(target),
		gen.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)...)
	require.NoError(t, err)
	g, err := gen.NewGraph(c, Records()...)
	require.NoError(t, err)
	_, err = gen.Render(context.Background(), g, p)
	require.NoError(t, err)

	files := make(map[string]string)
	err = filepath.WalkDir(target, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(target, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return files
}
