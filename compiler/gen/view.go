package gen

import (
	"fmt"
	"sync"

	"github.com/flosch/pongo2/v6"
	"github.com/go-openapi/inflect"
)

// The following types are what templates see. They are plain values built
// once per module; templates perform no resolution of their own.
type (
	// TypeView exposes a Type to templates.
	TypeView struct {
		Name       string
		URL        string
		Kind       string
		Doc        string
		Module     string
		Owner      string
		Base       *RefView
		Properties []*PropertyView
		Inline     bool
		Abstract   bool
		Primitive  bool
		Resource   bool
		Profile    bool
		// Type is the underlying graph node.
		Type *Type

		scope *scope
	}

	// PropertyView exposes a Property to templates.
	PropertyView struct {
		Name string
		Doc  string
		Min  int
		// Max is -1 for unbounded properties.
		Max          int
		Multiplicity string
		Collection   bool
		Required     bool
		Choice       bool
		Ref          *RefView
		// Types lists the alternatives, a single entry unless Choice.
		Types    []*RefView
		Property *Property

		owner *TypeView
		scope *scope
	}

	// RefView exposes a TypeRef to templates.
	RefView struct {
		// Name is the identifier of a resolved reference.
		Name     string
		URL      string
		Module   string
		Resolved bool
		Union    bool
		Members  []*RefView
		Ref      TypeRef

		scope *scope
	}
)

// scope is the per-module state shared by the views and filters of one
// render. It records the last type and property handed to a filter so that
// a failing template can be reported precisely.
type scope struct {
	graph    *Graph
	preset   *Preset
	module   *Module
	assigned map[TypeID]string

	mu       sync.Mutex
	lastType string
	lastProp string
}

func newScope(g *Graph, p *Preset, m *Module, assigned map[TypeID]string) *scope {
	return &scope{graph: g, preset: p, module: m, assigned: assigned}
}

func (s *scope) moduleOf(id TypeID) (string, bool) {
	name, ok := s.assigned[id]
	return name, ok
}

func (s *scope) touch(t, p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastType, s.lastProp = t, p
}

func (s *scope) last() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastType, s.lastProp
}

func (s *scope) typeView(t *Type) *TypeView {
	v := &TypeView{
		Name:      s.preset.Syntax.TypeName(t.ID),
		URL:       t.URL,
		Kind:      string(t.Kind),
		Doc:       t.Doc,
		Owner:     string(t.Owner),
		Inline:    t.Inline,
		Abstract:  t.Abstract,
		Primitive: t.Primitive(),
		Resource:  t.Resource(),
		Profile:   t.Profile,
		Type:      t,
		scope:     s,
	}
	v.Module, _ = s.moduleOf(t.ID)
	if t.Base != nil {
		v.Base = s.refView(*t.Base)
	}
	v.Properties = make([]*PropertyView, len(t.Properties))
	for i, p := range t.Properties {
		v.Properties[i] = s.propertyView(v, p)
	}
	return v
}

func (s *scope) propertyView(owner *TypeView, p *Property) *PropertyView {
	shape := Shape(p)
	v := &PropertyView{
		Name:         p.Name,
		Doc:          p.Doc,
		Min:          p.Card.Min,
		Max:          p.Card.Max,
		Multiplicity: shape.Multiplicity.String(),
		Collection:   shape.Multiplicity.Collection(),
		Required:     shape.Multiplicity.Required(),
		Choice:       shape.Choice,
		Ref:          s.refView(shape.Ref),
		Property:     p,
		owner:        owner,
		scope:        s,
	}
	v.Types = v.Ref.Members
	if !v.Ref.Union {
		v.Types = []*RefView{v.Ref}
	}
	return v
}

func (s *scope) refView(r TypeRef) *RefView {
	v := &RefView{
		URL:      r.URL,
		Resolved: r.Resolved(),
		Union:    r.Kind == RefUnion,
		Ref:      r,
		scope:    s,
	}
	if v.Resolved {
		v.Name = s.preset.Syntax.TypeName(r.ID)
		v.Module, _ = s.moduleOf(r.ID)
	}
	if v.Union {
		v.Members = make([]*RefView, len(r.Union))
		for i, m := range r.Union {
			v.Members[i] = s.refView(m)
		}
	}
	return v
}

// reference renders a reference relative to the current module.
func (s *scope) reference(r TypeRef) string {
	syn := s.preset.Syntax
	switch r.Kind {
	case RefResolved:
		name := syn.TypeName(r.ID)
		if mod, ok := s.moduleOf(r.ID); ok && mod != s.module.Name {
			return syn.Qualify(mod, name)
		}
		return name
	case RefUnresolved:
		return syn.Placeholder(r.URL)
	default:
		members := make([]string, len(r.Union))
		for i, m := range r.Union {
			members[i] = s.reference(m)
		}
		return syn.Union(members)
	}
}

func (s *scope) field(v *PropertyView) Field {
	syn := s.preset.Syntax
	p := v.Property
	f := Field{
		Name:    syn.FieldName(p.Name),
		Element: p.Name,
		Shape:   Shape(p),
		Type:    s.reference(p.Ref()),
		Doc:     p.Doc,
	}
	for _, r := range p.Refs {
		m := FieldMember{Type: s.reference(r)}
		if r.Resolved() {
			m.Name = syn.TypeName(r.ID)
		}
		f.Members = append(f.Members, m)
	}
	return f
}

// builtinFilters are registered once for all presets.
var builtinFilters = map[string]pongo2.FilterFunction{
	"type_reference":       filterTypeReference,
	"field_declaration":    filterFieldDeclaration,
	"prop_name":            filterPropName,
	"module_name_for_type": filterModuleName,
	"camelize":             filterCamelize,
	"underscore":           filterUnderscore,
}

var (
	filtersMu   sync.Mutex
	builtinOnce sync.Once
	builtinErr  error
)

// registerFilters makes the built-in and preset filters available to
// pongo2, whose filter table is process wide.
func registerFilters(p *Preset) error {
	filtersMu.Lock()
	defer filtersMu.Unlock()
	builtinOnce.Do(func() {
		pongo2.SetAutoescape(false)
		for name, fn := range builtinFilters {
			if builtinErr = setFilter(name, fn); builtinErr != nil {
				return
			}
		}
	})
	if builtinErr != nil {
		return builtinErr
	}
	for name, fn := range p.Filters {
		if err := setFilter(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func setFilter(name string, fn pongo2.FilterFunction) error {
	if pongo2.FilterExists(name) {
		return pongo2.ReplaceFilter(name, fn)
	}
	return pongo2.RegisterFilter(name, fn)
}

func filterError(name string, format string, args ...any) *pongo2.Error {
	return &pongo2.Error{Sender: "filter:" + name, OrigError: fmt.Errorf(format, args...)}
}

func filterTypeReference(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	switch v := in.Interface().(type) {
	case *RefView:
		return pongo2.AsSafeValue(v.scope.reference(v.Ref)), nil
	case *PropertyView:
		v.scope.touch(v.owner.Name, v.Name)
		return pongo2.AsSafeValue(v.scope.reference(v.Property.Ref())), nil
	case *TypeView:
		v.scope.touch(v.Name, "")
		return pongo2.AsSafeValue(v.scope.reference(Ref(v.Type.ID))), nil
	default:
		return nil, filterError("type_reference", "unsupported value %T", in.Interface())
	}
}

func filterFieldDeclaration(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	v, ok := in.Interface().(*PropertyView)
	if !ok {
		return nil, filterError("field_declaration", "expected a property, got %T", in.Interface())
	}
	v.scope.touch(v.owner.Name, v.Name)
	return pongo2.AsSafeValue(v.scope.preset.Syntax.FieldDeclaration(v.scope.field(v))), nil
}

func filterPropName(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	switch v := in.Interface().(type) {
	case *PropertyView:
		v.scope.touch(v.owner.Name, v.Name)
		return pongo2.AsSafeValue(v.scope.preset.Syntax.FieldName(v.Name)), nil
	default:
		return nil, filterError("prop_name", "expected a property, got %T", in.Interface())
	}
}

func filterModuleName(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	switch v := in.Interface().(type) {
	case *TypeView:
		return pongo2.AsSafeValue(v.Module), nil
	case *RefView:
		return pongo2.AsSafeValue(v.Module), nil
	default:
		return nil, filterError("module_name_for_type", "expected a type, got %T", in.Interface())
	}
}

func filterCamelize(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsSafeValue(inflect.Camelize(in.String())), nil
}

func filterUnderscore(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsSafeValue(inflect.Underscore(in.String())), nil
}
