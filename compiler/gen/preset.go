package gen

import (
	"fmt"
	"io/fs"
	"slices"

	"github.com/Masterminds/semver/v3"
	"github.com/flosch/pongo2/v6"

	"github.com/syssam/fhirgen/compiler/load"
)

// Preset is a named combination of templates, output layout and default
// variables for one target style.
type Preset struct {
	Name        string
	Description string
	// FS holds the templates referenced by the artifacts.
	FS fs.FS
	// Artifacts are rendered in order. Per-type artifacts must bind
	// disjoint kinds.
	Artifacts []*Artifact
	// Variables are template defaults, overridden by Config.Variables.
	Variables map[string]any
	// Syntax renders references and field declarations.
	Syntax Syntax
	// ModuleName assigns a type to its output module.
	ModuleName func(*Type) string
	// Versions is an optional semver constraint on the specification
	// version, e.g. ">= 4.0.0, < 5.0.0".
	Versions string
	// Filters are extra template filters. Names must not clash with the
	// built-in filters and should carry a preset prefix.
	Filters map[string]pongo2.FilterFunction
}

// Artifact describes how one kind of output module is produced.
type Artifact struct {
	// Name identifies the artifact in diagnostics. Defaults to Template.
	Name string
	// Template is the path of the template within the preset FS.
	Template string
	// Code generates the module content instead of a template. It receives
	// the template variables, preset defaults merged with the configuration.
	Code func(g *Graph, m *Module, vars map[string]any) ([]byte, error)
	// Output is a template for the module path relative to the output
	// directory, rendered with the module context.
	Output string
	// Kinds binds the artifact to the types of these kinds, grouped into
	// modules by Preset.ModuleName. An artifact without kinds renders a
	// single module holding every type.
	Kinds []load.Kind
	// Module names the single module of a graph-level artifact.
	Module string
	// PostProcess formats the rendered content. It receives the module
	// path relative to the output directory.
	PostProcess func(path string, src []byte) ([]byte, error)
}

func (a *Artifact) name() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Template
}

// GraphLevel reports whether the artifact renders one module for the whole
// graph. Such a module is an index over the type modules: it imports every
// other module of the preset, not only the ones its code refers to, and has
// no base imports.
func (a *Artifact) GraphLevel() bool { return len(a.Kinds) == 0 }

// Binds reports whether the artifact renders types of the given kind.
func (a *Artifact) Binds(k load.Kind) bool { return slices.Contains(a.Kinds, k) }

// Syntax is the target-language half of the cardinality/type mapper.
type Syntax interface {
	// TypeName returns the identifier a type is declared with.
	TypeName(TypeID) string
	// Qualify refers to a type declared in another module.
	Qualify(module, name string) string
	// Placeholder renders a reference that could not be resolved.
	Placeholder(url string) string
	// Union renders the alternatives of a choice.
	Union(members []string) string
	// FieldName returns the identifier of a property.
	FieldName(string) string
	// FieldDeclaration composes a field declaration.
	FieldDeclaration(Field) string
}

// Field is the input of Syntax.FieldDeclaration.
type Field struct {
	// Name is the identifier returned by Syntax.FieldName.
	Name string
	// Element is the property name as declared in the definitions.
	Element string
	Shape   FieldShape
	// Type is the rendered reference, a union for choices.
	Type    string
	Members []FieldMember
	Doc     string
}

// FieldMember is one alternative of a field type.
type FieldMember struct {
	// Name is the unqualified type name, empty for placeholders.
	Name string
	// Type is the rendered reference.
	Type string
}

// validate checks the preset before anything is rendered.
func (p *Preset) validate() error {
	switch {
	case p.Name == "":
		return NewConfigError("Preset", nil, "preset name cannot be empty")
	case p.Syntax == nil:
		return NewConfigError("Preset", p.Name, "preset has no syntax")
	case p.ModuleName == nil:
		return NewConfigError("Preset", p.Name, "preset has no module naming rule")
	case len(p.Artifacts) == 0:
		return NewConfigError("Preset", p.Name, "preset has no artifacts")
	}
	claimed := make(map[load.Kind]string)
	for _, a := range p.Artifacts {
		if a.Output == "" {
			return NewConfigError("Artifact", a.name(), "artifact has no output path")
		}
		if a.Code == nil && (a.Template == "" || p.FS == nil) {
			return NewConfigError("Artifact", a.name(), "artifact needs a template or a code generator")
		}
		for _, k := range a.Kinds {
			if prev, ok := claimed[k]; ok {
				return NewConfigError("Artifact", a.name(), fmt.Sprintf("kind %s already bound to %s", k, prev))
			}
			claimed[k] = a.name()
		}
	}
	for name := range p.Filters {
		if _, ok := builtinFilters[name]; ok {
			return NewConfigError("Filters", name, "filter shadows a built-in filter")
		}
	}
	return nil
}

// CheckVersion matches the specification version against the preset
// constraint. Without a constraint any tag is accepted.
func (p *Preset) CheckVersion(version string) error {
	if p.Versions == "" {
		return nil
	}
	c, err := semver.NewConstraint(p.Versions)
	if err != nil {
		return NewConfigError("Versions", p.Versions, "invalid version constraint: "+err.Error())
	}
	if version == "" {
		return NewConfigError("Version", nil, fmt.Sprintf("preset %s requires a definitions version", p.Name))
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return NewConfigError("Version", version, "invalid version: "+err.Error())
	}
	if !c.Check(v) {
		return NewConfigError("Version", version, fmt.Sprintf("preset %s supports %s", p.Name, p.Versions))
	}
	return nil
}
