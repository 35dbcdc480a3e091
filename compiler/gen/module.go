package gen

import (
	"cmp"
	"slices"
)

// Module is one generated output unit.
type Module struct {
	Name     string
	Artifact *Artifact
	// Types are ordered bases first, ties in graph order.
	Types []*Type
	// Imports are the other modules holding types referenced by Types,
	// sorted and without duplicates. A graph level module imports every
	// other module.
	Imports []string
	// BaseImports is the subset of Imports holding base types.
	BaseImports []string
	// Path is the output path relative to the output directory. It is set
	// once the module is rendered.
	Path string

	index int // artifact position, for ordering.
}

// Modules groups the types of the graph into the modules of the preset.
func Modules(g *Graph, p *Preset) ([]*Module, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	mods, _ := modules(g, p)
	return mods, nil
}

type moduleKey struct {
	artifact int
	name     string
}

// modules returns the modules of the preset and the module each type is
// assigned to.
func modules(g *Graph, p *Preset) ([]*Module, map[TypeID]string) {
	var (
		out      []*Module
		byKey    = make(map[moduleKey]*Module)
		assigned = make(map[TypeID]string)
	)
	for i, a := range p.Artifacts {
		if a.GraphLevel() {
			continue
		}
		for _, t := range g.Nodes {
			if !a.Binds(t.Kind) {
				continue
			}
			name := p.ModuleName(t)
			key := moduleKey{artifact: i, name: name}
			m, ok := byKey[key]
			if !ok {
				m = &Module{Name: name, Artifact: a, index: i}
				byKey[key] = m
				out = append(out, m)
			}
			m.Types = append(m.Types, t)
			assigned[t.ID] = name
		}
	}
	for _, m := range out {
		m.Imports, m.BaseImports = imports(m, assigned)
	}

	var all []string
	for _, name := range assigned {
		all = append(all, name)
	}
	slices.Sort(all)
	all = slices.Compact(all)
	for i, a := range p.Artifacts {
		if !a.GraphLevel() {
			continue
		}
		name := cmp.Or(a.Module, a.name())
		m := &Module{Name: name, Artifact: a, Types: g.Nodes, index: i}
		// Index modules re-export everything, so they import every module.
		m.Imports = slices.DeleteFunc(slices.Clone(all), func(s string) bool { return s == name })
		out = append(out, m)
	}

	slices.SortStableFunc(out, func(a, b *Module) int {
		return cmp.Or(cmp.Compare(a.index, b.index), cmp.Compare(a.Name, b.Name))
	})
	return out, assigned
}

// imports computes the sorted set of modules, other than m, holding a type
// referenced by a type of m, and the subset holding base types.
func imports(m *Module, assigned map[TypeID]string) (all, bases []string) {
	for _, t := range m.Types {
		for _, id := range t.References() {
			if name, ok := assigned[id]; ok && name != m.Name {
				all = append(all, name)
			}
		}
		if t.Base != nil {
			if name, ok := assigned[t.Base.ID]; ok && name != m.Name {
				bases = append(bases, name)
			}
		}
	}
	slices.Sort(all)
	slices.Sort(bases)
	return slices.Compact(all), slices.Compact(bases)
}
