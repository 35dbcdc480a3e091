package gen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/flosch/pongo2/v6"
	"golang.org/x/sync/errgroup"
)

// Render groups the graph into the modules of the preset, renders every
// module and writes the result under Config.Target.
//
// Modules are rendered concurrently and independently: a failing module
// does not stop the others, but any failure fails the run and leaves the
// target untouched. All failures are returned joined.
func Render(ctx context.Context, g *Graph, p *Preset) ([]*Module, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if g.Target == "" {
		return nil, NewConfigError("Target", nil, "missing target directory in config")
	}
	if err := p.CheckVersion(g.Version); err != nil {
		return nil, err
	}
	if err := registerFilters(p); err != nil {
		return nil, NewConfigError("Filters", p.Name, err.Error())
	}
	r := &renderer{
		graph:  g,
		preset: p,
		vars:   g.variables(p.Variables),
	}
	mods, assigned := modules(g, p)
	r.assigned = assigned
	r.compile()

	w, err := newWriter(g.Target, g.WriteTimeout)
	if err != nil {
		return nil, err
	}
	var (
		mu   sync.Mutex
		errs []error
	)
	eg := new(errgroup.Group)
	eg.SetLimit(g.workers())
	for _, m := range mods {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("module %s: %w", m.Name, err))
				mu.Unlock()
				return nil
			}
			if err := r.module(ctx, w, m); err != nil {
				g.logger().Error("module failed", "module", m.Name, "artifact", m.Artifact.name(), "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()

	if len(errs) > 0 {
		w.discard()
		return nil, errors.Join(errs...)
	}
	if err := w.commit(); err != nil {
		return nil, err
	}
	g.logger().Info("modules rendered",
		"preset", p.Name,
		"modules", len(mods),
		"files", w.metrics.FilesWritten,
		"merged", w.metrics.FilesMerged,
		"bytes", w.metrics.TotalBytes,
		"target", g.Target,
	)
	return mods, nil
}

type renderer struct {
	graph    *Graph
	preset   *Preset
	vars     map[string]any
	assigned map[TypeID]string

	// compiled templates by artifact, with the compile error if any.
	templates map[*Artifact]*compiled
}

type compiled struct {
	body   *pongo2.Template
	output *pongo2.Template
	err    error
}

// compile parses every artifact template once. Failures are reported by
// each module of the artifact.
func (r *renderer) compile() {
	set := pongo2.NewSet(r.preset.Name, &fsLoader{fsys: r.preset.FS})
	r.templates = make(map[*Artifact]*compiled, len(r.preset.Artifacts))
	for _, a := range r.preset.Artifacts {
		c := &compiled{}
		if c.output, c.err = set.FromBytes(trimBlocks([]byte(a.Output))); c.err != nil {
			c.err = fmt.Errorf("output path: %w", c.err)
		} else if a.Code == nil {
			c.body, c.err = set.FromFile(a.Template)
		}
		r.templates[a] = c
	}
}

// context builds the template context of a module.
func (r *renderer) context(s *scope, m *Module) pongo2.Context {
	ctx := make(pongo2.Context, len(r.vars)+6)
	for k, v := range r.vars {
		ctx[k] = v
	}
	types := make([]*TypeView, len(m.Types))
	for i, t := range m.Types {
		types[i] = s.typeView(t)
	}
	ctx["types"] = types
	ctx["import_modules"] = m.Imports
	ctx["base_modules"] = m.BaseImports
	ctx["module_name"] = m.Name
	ctx["version"] = r.graph.Version
	ctx["preset"] = r.preset.Name
	return ctx
}

func (r *renderer) module(ctx context.Context, w *writer, m *Module) error {
	a := m.Artifact
	c := r.templates[a]
	if c.err != nil {
		return NewTemplateError(a.name(), m.Name, "", "", c.err)
	}
	s := newScope(r.graph, r.preset, m, r.assigned)
	data := r.context(s, m)

	out, err := c.output.Execute(data)
	if err != nil {
		return NewTemplateError(a.name(), m.Name, "", "", fmt.Errorf("output path: %w", err))
	}
	rel := filepath.Clean(filepath.FromSlash(strings.TrimSpace(out)))
	if !filepath.IsLocal(rel) {
		return NewOutputConflictError(out, "path escapes the output directory", nil, m.Name)
	}
	m.Path = filepath.ToSlash(rel)

	var src []byte
	if a.Code != nil {
		src, err = a.Code(r.graph, m, r.vars)
	} else {
		var buf bytes.Buffer
		err = c.body.ExecuteWriter(data, &buf)
		src = buf.Bytes()
	}
	if err != nil {
		typ, prop := s.last()
		return NewTemplateError(a.name(), m.Name, typ, prop, err)
	}
	if a.PostProcess != nil {
		if src, err = a.PostProcess(m.Path, src); err != nil {
			return NewTemplateError(a.name(), m.Name, "", "", fmt.Errorf("post-process %s: %w", m.Path, err))
		}
	}
	return w.write(ctx, fileTask{name: rel, module: m.Name, data: src})
}

// fsLoader loads templates from a preset FS. Names are relative to the
// root of the FS, as with Jinja loaders.
type fsLoader struct {
	fsys fs.FS
}

func (l *fsLoader) Abs(_, name string) string {
	return path.Clean(strings.TrimPrefix(filepath.ToSlash(name), "/"))
}

func (l *fsLoader) Get(name string) (io.Reader, error) {
	if l.fsys == nil {
		return nil, fmt.Errorf("template %s: no template file system", name)
	}
	data, err := fs.ReadFile(l.fsys, name)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(trimBlocks(data)), nil
}

var (
	// indentation before a block or comment tag that starts a line.
	blockIndent = regexp.MustCompile(`(?m)^[ \t]+(\{[%#])`)
	// the first newline after a block or comment tag.
	blockNewline = regexp.MustCompile(`([%#]\})\r?\n`)
)

// trimBlocks applies the Jinja trim_blocks and lstrip_blocks rules to the
// template source before it is parsed. pongo2's own options strip spaces
// before any block tag, not only at line start, and rewrite the parsed
// tokens on every execution.
func trimBlocks(src []byte) []byte {
	src = blockIndent.ReplaceAll(src, []byte("$1"))
	return blockNewline.ReplaceAll(src, []byte("$1"))
}

// defaultWriteTimeout applies when the configuration sets none.
const defaultWriteTimeout = time.Minute
