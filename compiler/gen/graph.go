package gen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/syssam/fhirgen/compiler/load"
)

// Graph is the immutable type graph of one run. Nodes are addressed by
// TypeID and base edges form a forest.
type Graph struct {
	*Config
	// Nodes holds all types ordered so that every base precedes its
	// subtypes. Ties follow source order, inline types before their owner.
	Nodes []*Type

	nodes    map[TypeID]*Type
	children map[TypeID][]TypeID
}

// Type returns the node with the given identifier.
func (g *Graph) Type(id TypeID) (*Type, bool) {
	t, ok := g.nodes[id]
	return t, ok
}

// Ancestors returns the base chain of the type, nearest first.
func (g *Graph) Ancestors(id TypeID) []*Type {
	var chain []*Type
	t := g.nodes[id]
	for t != nil && t.Base != nil {
		t = g.nodes[t.Base.ID]
		if t != nil {
			chain = append(chain, t)
		}
	}
	return chain
}

// AllProperties returns the flattened property set of the type: the
// properties of its farthest ancestor first, its own last.
func (g *Graph) AllProperties(id TypeID) []*Property {
	t, ok := g.nodes[id]
	if !ok {
		return nil
	}
	chain := g.Ancestors(id)
	var props []*Property
	for i := len(chain) - 1; i >= 0; i-- {
		props = append(props, chain[i].Properties...)
	}
	return append(props, t.Properties...)
}

// Children returns the direct subtypes of the type in graph order.
func (g *Graph) Children(id TypeID) []*Type {
	ids := g.children[id]
	out := make([]*Type, len(ids))
	for i, c := range ids {
		out[i] = g.nodes[c]
	}
	return out
}

// Roots returns the types without a base, in graph order.
func (g *Graph) Roots() []*Type {
	var roots []*Type
	for _, t := range g.Nodes {
		if t.Base == nil {
			roots = append(roots, t)
		}
	}
	return roots
}

// NewGraph builds the type graph of the records.
func NewGraph(c *Config, records ...*load.RawRecord) (*Graph, error) {
	return NewGraphContext(context.Background(), c, records...)
}

// NewGraphContext is like NewGraph but stops between build phases once the
// context is done. A cancelled build returns no graph.
func NewGraphContext(ctx context.Context, c *Config, records ...*load.RawRecord) (*Graph, error) {
	if c == nil {
		return nil, NewConfigError("Config", nil, "config cannot be nil")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	b := &builder{
		cfg:      c,
		log:      c.logger(),
		resolver: NewResolver(c),
		types:    make(map[TypeID]*Type),
		profiles: make(map[string]TypeID),
		inline:   make(map[TypeID][]*Type),
	}
	phases := []func([]*load.RawRecord) error{
		b.addNodes,
		b.resolveBases,
		b.checkCycles,
		b.addProperties,
	}
	for _, phase := range phases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := phase(records); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.graph()
}

// builder holds the mutable state of a graph build. It is discarded once
// the graph is returned.
type builder struct {
	cfg      *Config
	log      *slog.Logger
	resolver *Resolver
	types    map[TypeID]*Type
	// top-level types with their records, in record order.
	top  []*Type
	recs []*load.RawRecord
	// profiles maps profile URLs to their name-derived identifiers.
	profiles map[string]TypeID
	// inline types by owning top-level type, in creation order.
	inline map[TypeID][]*Type
}

var title = cases.Title(language.Und, cases.NoLower)

func (b *builder) add(t *Type) error {
	if prev, ok := b.types[t.ID]; ok {
		return NewDuplicateTypeIDError(t.ID, prev.URL, t.URL, t.Source.String())
	}
	b.types[t.ID] = t
	return nil
}

// addNodes creates one node per top-level record.
func (b *builder) addNodes(records []*load.RawRecord) error {
	for _, r := range records {
		t := &Type{
			URL:      r.URL,
			Kind:     r.Kind,
			Abstract: r.Abstract,
			Doc:      r.Documentation,
			Source:   r.Origin(),
		}
		switch r.Kind {
		case load.KindValueSet, load.KindLogical:
			b.log.Debug("record skipped", "url", r.URL, "kind", r.Kind)
			continue
		case load.KindProfile:
			if r.StructureKind != load.KindResource {
				b.log.Debug("non-resource profile skipped", "url", r.URL)
				continue
			}
			name := r.Name
			if !isIdentifier(name) {
				name = inflect.Camelize(name)
			}
			if name == "" {
				return load.NewMalformedSourceError(r.SourceFile, t.Source.String(), "resource profile without name", nil)
			}
			t.ID, t.Kind, t.Profile = TypeID(name), load.KindResource, true
			b.profiles[r.URL] = t.ID
		default:
			id, err := b.resolver.Resolve(r.URL)
			if err != nil {
				var ue *UnresolvableReferenceError
				if errors.As(err, &ue) {
					return ue.at("", "", "declared by "+t.Source.String())
				}
				return err
			}
			t.ID = id
		}
		t.Path = r.Type
		if t.Path == "" {
			t.Path = string(t.ID)
		}
		if err := b.add(t); err != nil {
			return err
		}
		b.top = append(b.top, t)
		b.recs = append(b.recs, r)
	}
	return nil
}

// resolveBases links every node to its base. A missing base is fatal even
// in permissive mode.
func (b *builder) resolveBases(_ []*load.RawRecord) error {
	for i, t := range b.top {
		url := b.recs[i].BaseURL
		if url == "" {
			continue
		}
		id, ok := b.profiles[url]
		if !ok {
			var err error
			if id, err = b.resolver.Resolve(url); err != nil {
				var ue *UnresolvableReferenceError
				if errors.As(err, &ue) {
					return ue.at(t.Name(), "", "base of "+t.Name())
				}
				return err
			}
		}
		if _, ok := b.types[id]; !ok {
			return NewUnresolvableReferenceError(url).at(t.Name(), "", fmt.Sprintf("base type %q is not defined", id))
		}
		ref := Ref(id)
		ref.URL = url
		t.Base = &ref
	}
	return nil
}

// checkCycles walks the base chain of every node.
func (b *builder) checkCycles(_ []*load.RawRecord) error {
	done := make(map[TypeID]bool, len(b.types))
	for _, t := range b.top {
		var (
			walk []TypeID
			on   = make(map[TypeID]int)
		)
		for cur := t; cur != nil && !done[cur.ID]; {
			if i, ok := on[cur.ID]; ok {
				return NewCyclicInheritanceError(append(walk[i:], cur.ID)...)
			}
			on[cur.ID] = len(walk)
			walk = append(walk, cur.ID)
			if cur.Base == nil {
				break
			}
			cur = b.types[cur.Base.ID]
		}
		for _, id := range walk {
			done[id] = true
		}
	}
	return nil
}

// addProperties fills the properties of every node, bases first so that
// properties restated from an ancestor can be recognized.
func (b *builder) addProperties(_ []*load.RawRecord) error {
	index := make(map[TypeID]int, len(b.top))
	for i, t := range b.top {
		index[t.ID] = i
	}
	order, err := topoSort(len(b.top), func(i int) []int {
		if base := b.top[i].Base; base != nil {
			return []int{index[base.ID]}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, i := range order {
		if b.top[i].Primitive() {
			continue
		}
		if err := b.typeProperties(b.top[i], b.recs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) typeProperties(t *Type, r *load.RawRecord) error {
	var (
		root      = rootOf(t.Path)
		scopes    = map[string]*Type{t.Path: t}
		skipped   = make(map[string]bool)
		parents   = make(map[string]bool)
		inherited = make(map[string]bool)
	)
	for _, p := range r.Properties {
		parents[p.Parent()] = true
	}
	if t.Base != nil {
		for _, p := range b.allProperties(t.Base.ID) {
			inherited[p.Name] = true
		}
	}
	for i := range r.Properties {
		p := &r.Properties[i]
		parent := p.Parent()
		if skipped[parent] {
			skipped[p.Path] = true
			continue
		}
		owner, ok := scopes[parent]
		if !ok {
			b.log.Debug("element outside of any type skipped", "type", t.Name(), "path", p.Path)
			skipped[p.Path] = true
			continue
		}
		name := strings.TrimSuffix(p.Name(), "[x]")
		upper, err := load.ParseMax(p.Max)
		if err != nil {
			return load.NewMalformedSourceError(r.SourceFile, fmt.Sprintf("%s element %s", t.Source, p.Path), "invalid max cardinality", err)
		}
		switch {
		case p.BasePath != "" && rootOf(p.BasePath) != root:
			skipped[p.Path] = true
			continue
		case owner == t && inherited[name]:
			skipped[p.Path] = true
			continue
		case upper == 0:
			skipped[p.Path] = true
			continue
		}
		if _, dup := owner.Property(name); dup {
			b.log.Warn("repeated element ignored", "type", owner.Name(), "path", p.Path)
			skipped[p.Path] = true
			continue
		}

		prop := &Property{
			Name:  name,
			Path:  p.Path,
			Card:  Cardinality{Min: p.Min, Max: upper},
			Doc:   p.Documentation,
			Index: len(owner.Properties),
		}
		switch {
		case parents[p.Path] && isBackbone(p):
			it, err := b.inlineType(t, owner, p, name)
			if err != nil {
				return err
			}
			scopes[p.Path] = it
			prop.Refs = []TypeRef{Ref(it.ID)}
		case p.ContentReference != "":
			ref, err := b.contentRef(owner, name, p.ContentReference, scopes)
			if err != nil {
				return err
			}
			prop.Refs = []TypeRef{ref}
		case len(p.Types) == 0:
			ref, err := b.degrade(NewUnresolvableReferenceError("").at(owner.Name(), name, "element declares no type"))
			if err != nil {
				return err
			}
			prop.Refs = []TypeRef{ref}
		default:
			seen := make(map[string]bool)
			for _, code := range p.Types {
				ref, err := b.propertyRef(owner, name, b.resolver.CodeURL(code.Code))
				if err != nil {
					return err
				}
				key := ref.String()
				if seen[key] {
					continue
				}
				seen[key] = true
				prop.Refs = append(prop.Refs, ref)
			}
		}
		owner.Properties = append(owner.Properties, prop)
	}
	return nil
}

// inlineType registers the type holding the children of a backbone element.
func (b *builder) inlineType(top, owner *Type, p *load.RawProperty, name string) (*Type, error) {
	it := &Type{
		ID:     owner.ID + TypeID(title.String(name)),
		URL:    top.URL,
		Kind:   load.KindComplexType,
		Inline: true,
		Owner:  owner.ID,
		Path:   p.Path,
		Doc:    p.Documentation,
		Source: top.Source,
	}
	if len(p.Types) == 1 {
		url := b.resolver.CodeURL(p.Types[0].Code)
		if id, err := b.resolver.Resolve(url); err == nil {
			if _, ok := b.types[id]; ok {
				ref := Ref(id)
				ref.URL = url
				it.Base = &ref
			}
		}
	}
	if err := b.add(it); err != nil {
		return nil, err
	}
	b.inline[top.ID] = append(b.inline[top.ID], it)
	return it, nil
}

// contentRef resolves "#Path" or "url#Path" to the inline type built for
// that path.
func (b *builder) contentRef(owner *Type, prop, ref string, scopes map[string]*Type) (TypeRef, error) {
	path := ref
	if i := strings.IndexByte(ref, '#'); i >= 0 {
		path = ref[i+1:]
	}
	if t, ok := scopes[path]; ok {
		r := Ref(t.ID)
		r.URL = ref
		return r, nil
	}
	return b.degrade(NewUnresolvableReferenceError(ref).at(owner.Name(), prop, "no element "+path))
}

func (b *builder) propertyRef(owner *Type, prop, url string) (TypeRef, error) {
	id, err := b.resolver.Resolve(url)
	if err != nil {
		var ue *UnresolvableReferenceError
		if !errors.As(err, &ue) {
			return TypeRef{}, err
		}
		return b.degrade(ue.at(owner.Name(), prop, ""))
	}
	if _, ok := b.types[id]; !ok {
		return b.degrade(NewUnresolvableReferenceError(url).at(owner.Name(), prop, fmt.Sprintf("type %q is not defined", id)))
	}
	ref := Ref(id)
	ref.URL = url
	return ref, nil
}

// degrade returns a placeholder for the unresolvable reference in
// permissive mode, and the error otherwise.
func (b *builder) degrade(err *UnresolvableReferenceError) (TypeRef, error) {
	if !b.cfg.Permissive {
		return TypeRef{}, err
	}
	b.log.Warn("unresolvable reference", "url", err.URL, "type", err.Type, "property", err.Property, "reason", err.Message)
	return Unresolved(err.URL), nil
}

// allProperties walks the base chain of id during the build.
func (b *builder) allProperties(id TypeID) []*Property {
	var props []*Property
	for t := b.types[id]; t != nil; {
		props = append(props, t.Properties...)
		if t.Base == nil {
			break
		}
		t = b.types[t.Base.ID]
	}
	return props
}

// graph orders the nodes and freezes the build.
func (b *builder) graph() (*Graph, error) {
	seed := make([]*Type, 0, len(b.types))
	for _, t := range b.top {
		seed = append(seed, b.inline[t.ID]...)
		seed = append(seed, t)
	}
	index := make(map[TypeID]int, len(seed))
	for i, t := range seed {
		index[t.ID] = i
	}
	order, err := topoSort(len(seed), func(i int) []int {
		if base := seed[i].Base; base != nil {
			return []int{index[base.ID]}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	g := &Graph{
		Config:   b.cfg,
		Nodes:    make([]*Type, len(order)),
		nodes:    b.types,
		children: make(map[TypeID][]TypeID),
	}
	for i, j := range order {
		t := seed[j]
		g.Nodes[i] = t
		if t.Base != nil {
			g.children[t.Base.ID] = append(g.children[t.Base.ID], t.ID)
		}
	}
	b.log.Debug("type graph built", "types", len(g.Nodes), "inline", len(seed)-len(b.top))
	return g, nil
}

// rootOf returns the first segment of an element path.
func rootOf(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

// isBackbone reports whether the element groups child elements into an
// anonymous type.
func isBackbone(p *load.RawProperty) bool {
	if p.ContentReference != "" {
		return false
	}
	switch len(p.Types) {
	case 0:
		return true
	case 1:
		code := p.Types[0].Code
		return code == "BackboneElement" || code == "Element"
	}
	return false
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r != '_' && !unicode.IsLetter(r) && (i == 0 || !unicode.IsDigit(r)) {
			return false
		}
	}
	return s != "_"
}
