package gen

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syssam/fhirgen/compiler/load"
)

const testBaseURL = "http://hl7.org/fhir"

func sd(name string) string { return testBaseURL + "/StructureDefinition/" + name }

func testConfig(opts ...Option) *Config {
	c := MustNewConfig(append([]Option{
		WithBaseURL(testBaseURL),
		WithVersion("4.0.1"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)...)
	return c
}

func record(kind load.Kind, name, base string, props ...load.RawProperty) *load.RawRecord {
	r := &load.RawRecord{
		URL:        sd(name),
		Name:       name,
		Type:       name,
		Kind:       kind,
		Properties: props,
		SourceFile: "test.json",
	}
	if base != "" {
		r.BaseURL = sd(base)
	}
	for i := range r.Properties {
		r.Properties[i].Index = i
	}
	return r
}

func prop(path string, min int, max string, codes ...string) load.RawProperty {
	p := load.RawProperty{Path: path, Min: min, Max: max}
	for _, c := range codes {
		p.Types = append(p.Types, load.RawTypeRef{Code: c})
	}
	return p
}

// basics are the records most tests build upon.
func basics() []*load.RawRecord {
	return []*load.RawRecord{
		record(load.KindComplexType, "Element", "",
			prop("Element.id", 0, "1", "string"),
		),
		record(load.KindPrimitiveType, "string", "Element"),
		record(load.KindPrimitiveType, "boolean", "Element"),
		record(load.KindPrimitiveType, "code", "string"),
		record(load.KindComplexType, "BackboneElement", "Element"),
	}
}

// patientRecords is a small resource hierarchy with a backbone element, a
// choice and a content reference.
func patientRecords() []*load.RawRecord {
	base := record(load.KindResource, "Base", "",
		prop("Base.id", 0, "1", "string"),
	)
	base.Abstract = true
	patient := record(load.KindResource, "Patient", "Base",
		load.RawProperty{Path: "Patient.id", BasePath: "Base.id", Min: 0, Max: "1", Types: []load.RawTypeRef{{Code: "string"}}},
		prop("Patient.name", 0, "*", "string"),
		prop("Patient.active", 1, "1", "boolean"),
		prop("Patient.deceased[x]", 0, "1", "boolean", "string"),
		prop("Patient.contact", 0, "*", "BackboneElement"),
		prop("Patient.contact.name", 1, "1", "string"),
		prop("Patient.contact.gender", 0, "1", "code"),
		prop("Patient.link", 0, "0", "string"),
	)
	patient.Properties = append(patient.Properties,
		load.RawProperty{Path: "Patient.other", Min: 0, Max: "*", ContentReference: "#Patient.contact"},
	)
	return append(basics(), base, patient)
}

func mustGraph(t *testing.T, c *Config, records ...*load.RawRecord) *Graph {
	t.Helper()
	g, err := NewGraph(c, records...)
	require.NoError(t, err)
	return g
}

func ids(types []*Type) []TypeID {
	out := make([]TypeID, len(types))
	for i, t := range types {
		out[i] = t.ID
	}
	return out
}
