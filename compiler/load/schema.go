package load

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Kind classifies a raw record.
type Kind string

// Record kinds. The first four mirror StructureDefinition.kind; value sets
// and constraint profiles get their own kinds.
const (
	KindPrimitiveType Kind = "primitive-type"
	KindComplexType   Kind = "complex-type"
	KindResource      Kind = "resource"
	KindLogical       Kind = "logical"
	KindValueSet      Kind = "value-set"
	KindProfile       Kind = "profile"
)

// RawRecord is one schema-declared entity as parsed from a source file.
// Records are produced once by Load and never mutated afterwards.
type RawRecord struct {
	URL  string `json:"url" msgpack:"url"`
	Name string `json:"name,omitempty" msgpack:"name,omitempty"`
	// Type is StructureDefinition.type, the root of all element paths.
	Type string `json:"type,omitempty" msgpack:"type,omitempty"`
	Kind Kind   `json:"kind" msgpack:"kind"`
	// StructureKind is the StructureDefinition.kind of a profile, so that
	// resource profiles can be told apart from data type profiles.
	StructureKind Kind          `json:"structure_kind,omitempty" msgpack:"structure_kind,omitempty"`
	Abstract      bool          `json:"abstract,omitempty" msgpack:"abstract,omitempty"`
	BaseURL       string        `json:"base_url,omitempty" msgpack:"base_url,omitempty"`
	Documentation string        `json:"documentation,omitempty" msgpack:"documentation,omitempty"`
	Properties    []RawProperty `json:"properties,omitempty" msgpack:"properties,omitempty"`
	SourceFile    string        `json:"source_file" msgpack:"source_file"`
	SourceIndex   int           `json:"source_index" msgpack:"source_index"`
}

// Origin returns the provenance of the record.
func (r *RawRecord) Origin() Origin {
	return Origin{Source: r.SourceFile, Index: r.SourceIndex}
}

// RawProperty is a raw element descriptor of a record.
type RawProperty struct {
	// Path is the dotted element path, e.g. "Patient.contact.name".
	Path string `json:"path" msgpack:"path"`
	// BasePath is the path of the element this one was inherited from.
	BasePath string `json:"base_path,omitempty" msgpack:"base_path,omitempty"`
	Min      int    `json:"min" msgpack:"min"`
	// Max is the raw maximum: a decimal integer or "*".
	Max              string       `json:"max" msgpack:"max"`
	Types            []RawTypeRef `json:"types,omitempty" msgpack:"types,omitempty"`
	ContentReference string       `json:"content_reference,omitempty" msgpack:"content_reference,omitempty"`
	Documentation    string       `json:"documentation,omitempty" msgpack:"documentation,omitempty"`
	// Index is the declared position within the record.
	Index int `json:"index" msgpack:"index"`
}

// RawTypeRef is one declared type of an element.
type RawTypeRef struct {
	// Code is either a type name relative to the base namespace or an absolute URL.
	Code           string   `json:"code" msgpack:"code"`
	TargetProfiles []string `json:"target_profiles,omitempty" msgpack:"target_profiles,omitempty"`
}

// Name returns the last path segment of the property.
func (p *RawProperty) Name() string {
	if i := strings.LastIndexByte(p.Path, '.'); i >= 0 {
		return p.Path[i+1:]
	}
	return p.Path
}

// Parent returns the path of the enclosing element.
func (p *RawProperty) Parent() string {
	if i := strings.LastIndexByte(p.Path, '.'); i >= 0 {
		return p.Path[:i]
	}
	return ""
}

// Unbounded is the parsed value of a "*" maximum.
const Unbounded = -1

// ParseMax parses a raw maximum cardinality.
func ParseMax(s string) (int, error) {
	if s == "*" {
		return Unbounded, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// The following types mirror the subset of the FHIR JSON format read by the loader.
type (
	resourceHeader struct {
		ResourceType string `json:"resourceType"`
	}

	bundle struct {
		ResourceType string        `json:"resourceType"`
		Entry        []bundleEntry `json:"entry"`
	}

	bundleEntry struct {
		FullURL  string          `json:"fullUrl"`
		Resource json.RawMessage `json:"resource"`
	}

	structureDefinition struct {
		ResourceType   string       `json:"resourceType"`
		URL            string       `json:"url"`
		Name           string       `json:"name"`
		Type           string       `json:"type"`
		Kind           Kind         `json:"kind"`
		Abstract       bool         `json:"abstract"`
		Derivation     string       `json:"derivation"`
		BaseDefinition string       `json:"baseDefinition"`
		Description    string       `json:"description"`
		Snapshot       *elementList `json:"snapshot"`
		Differential   *elementList `json:"differential"`
	}

	elementList struct {
		Element []elementDefinition `json:"element"`
	}

	elementDefinition struct {
		ID               string       `json:"id"`
		Path             string       `json:"path"`
		SliceName        string       `json:"sliceName"`
		Short            string       `json:"short"`
		Definition       string       `json:"definition"`
		Min              int          `json:"min"`
		Max              string       `json:"max"`
		Base             *elementBase `json:"base"`
		ContentReference string       `json:"contentReference"`
		Type             []struct {
			Code          string   `json:"code"`
			TargetProfile []string `json:"targetProfile"`
		} `json:"type"`
	}

	elementBase struct {
		Path string `json:"path"`
		Min  int    `json:"min"`
		Max  string `json:"max"`
	}

	valueSet struct {
		ResourceType string `json:"resourceType"`
		URL          string `json:"url"`
		Name         string `json:"name"`
		Description  string `json:"description"`
	}
)

// record converts a StructureDefinition into a RawRecord.
func (sd *structureDefinition) record(source string, index int) *RawRecord {
	rec := &RawRecord{
		URL:           sd.URL,
		Name:          sd.Name,
		Type:          sd.Type,
		Kind:          sd.Kind,
		Abstract:      sd.Abstract,
		BaseURL:       sd.BaseDefinition,
		Documentation: sd.Description,
		SourceFile:    source,
		SourceIndex:   index,
	}
	if sd.Derivation == "constraint" {
		rec.Kind = KindProfile
		rec.StructureKind = sd.Kind
	}
	elements := sd.Snapshot
	if elements == nil || len(elements.Element) == 0 {
		elements = sd.Differential
	}
	if elements == nil {
		return rec
	}
	for _, el := range elements.Element {
		// Slices restate an element already present in the list.
		if el.SliceName != "" || strings.Contains(el.ID, ":") {
			continue
		}
		if el.Path == sd.Type {
			if rec.Documentation == "" {
				rec.Documentation = el.Definition
			}
			continue
		}
		p := RawProperty{
			Path:             el.Path,
			Min:              el.Min,
			Max:              el.Max,
			ContentReference: el.ContentReference,
			Documentation:    el.Short,
			Index:            len(rec.Properties),
		}
		if p.Documentation == "" {
			p.Documentation = el.Definition
		}
		if el.Base != nil {
			p.BasePath = el.Base.Path
			if p.Max == "" {
				p.Max = el.Base.Max
			}
		}
		if p.Max == "" {
			p.Max = "1"
		}
		for _, t := range el.Type {
			p.Types = append(p.Types, RawTypeRef{Code: t.Code, TargetProfiles: t.TargetProfile})
		}
		rec.Properties = append(rec.Properties, p)
	}
	return rec
}

// record converts a ValueSet into a RawRecord.
func (vs *valueSet) record(source string, index int) *RawRecord {
	return &RawRecord{
		URL:           vs.URL,
		Name:          vs.Name,
		Kind:          KindValueSet,
		Documentation: vs.Description,
		SourceFile:    source,
		SourceIndex:   index,
	}
}
