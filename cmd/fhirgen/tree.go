package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
	"github.com/xlab/treeprint"

	"github.com/syssam/fhirgen/compiler"
	"github.com/syssam/fhirgen/compiler/gen"
)

var cmdTree = &cli.Command{
	Name:  "tree",
	Usage: "print the inheritance tree of the loaded definitions",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{
			Name:    "properties",
			Aliases: []string{"p"},
			Usage:   "list the properties declared by each type",
		},
	}, configFlags...),
	Action: runTree,
}

func runTree(cctx *cli.Context) error {
	logger := configLogger(cctx, cctx.App.ErrWriter)
	rc, err := loadRunConfig(cctx)
	if err != nil {
		return err
	}
	res, err := compiler.BuildGraph(cctx.Context, rc, compilerOptions(cctx, logger)...)
	if err != nil {
		return err
	}
	tree := treeprint.NewWithRoot(fmt.Sprintf("%s (%d types)", rc.Parser.BaseURL, len(res.Graph.Nodes)))
	for _, t := range res.Graph.Roots() {
		addType(res.Graph, tree, t, cctx.Bool("properties"))
	}
	fmt.Fprintln(cctx.App.Writer, tree.String())
	return nil
}

func addType(g *gen.Graph, tree treeprint.Tree, t *gen.Type, props bool) {
	label := string(t.ID)
	var tags []string
	if t.Abstract {
		tags = append(tags, "abstract")
	}
	if t.Inline {
		tags = append(tags, "inline")
	}
	if len(tags) > 0 {
		label += " [" + strings.Join(tags, ", ") + "]"
	}
	branch := tree.AddMetaBranch(string(t.Kind), label)
	if props {
		for _, p := range t.Properties {
			branch.AddMetaNode(p.Card.String(), p.Name+": "+p.Ref().String())
		}
	}
	for _, c := range g.Children(t.ID) {
		addType(g, branch, c, props)
	}
}

var cmdPresets = &cli.Command{
	Name:  "presets",
	Usage: "list the built-in presets",
	Action: func(cctx *cli.Context) error {
		for _, name := range compiler.Presets() {
			p, _ := compiler.Preset(name)
			fmt.Fprintf(cctx.App.Writer, "%-10s %s\n", p.Name, p.Description)
			if p.Versions != "" {
				fmt.Fprintf(cctx.App.Writer, "%-10s definitions %s\n", "", p.Versions)
			}
		}
		return nil
	},
}
