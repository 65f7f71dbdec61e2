// Package compiler wires the backend stages end to end: symbol
// classification, SSA construction, peephole optimisation, instruction
// selection, dominator analysis and register allocation. Each stage
// consumes its predecessor's output in full; nothing here is
// concurrent.
package compiler

import (
	"github.com/tliron/commonlog"

	"garnetc/internal/ast"
	"garnetc/internal/builder"
	"garnetc/internal/dom"
	"garnetc/internal/isel"
	"garnetc/internal/regalloc"
	"garnetc/internal/ssa"
	"garnetc/internal/ssaopt"
	"garnetc/internal/symbols"
)

var log = commonlog.GetLogger("garnetc.compiler")

// Options governs pipeline behaviour.
type Options struct {
	// Optimise runs the peephole pass between SSA construction and
	// instruction selection. Off, the selector still handles every
	// shape the builder emits; the output just keeps the naive forms.
	Optimise bool
}

// DefaultOptions is what cmd/garnetc compiles with.
var DefaultOptions = Options{Optimise: true}

// Unit is one independently compiled procedure: its selected RV64 SSA
// blocks (split blocks and parallel-move sequences included, since the
// later stages rewrite the procedure in place), the dominance
// information computed for it, and the register assignment.
type Unit struct {
	Procedure *ssa.Procedure
	Dominance *dom.Result
	Colours   regalloc.Colouring
}

// Result carries every stage's output for inspection and testing.
type Result struct {
	Table    *symbols.Table
	Abstract *ssa.Procedure
	Selected *ssa.Procedure
	Units    []*Unit
}

// Compile runs the whole pipeline over root. The returned Units are in
// bottom-up order: nested procedures precede the procedure that
// declares them, the outermost "main" last.
func Compile(root *ast.Decl, opts Options) (*Result, error) {
	table, err := symbols.Build(root)
	if err != nil {
		return nil, err
	}

	proc, err := builder.Build(root, table)
	if err != nil {
		return nil, err
	}
	log.Debugf("built abstract SSA for %q: %d blocks, %d nested procedures",
		proc.Label, len(proc.Blocks), len(proc.Procedures))

	if opts.Optimise {
		if err := ssaopt.Optimise(proc); err != nil {
			return nil, err
		}
		log.Debugf("peephole pass reached a fixed point for %q", proc.Label)
	}

	selected, err := isel.Select(proc)
	if err != nil {
		return nil, err
	}
	log.Debugf("selected RV64 instructions for %q", selected.Label)

	result := &Result{Table: table, Abstract: proc, Selected: selected}
	if err := compileUnits(selected, result); err != nil {
		return nil, err
	}
	return result, nil
}

func compileUnits(proc *ssa.Procedure, result *Result) error {
	for _, nested := range proc.Procedures {
		if err := compileUnits(nested, result); err != nil {
			return err
		}
	}

	d := dom.Analyse(proc)
	colours, err := regalloc.Allocate(proc, d)
	if err != nil {
		return err
	}
	log.Debugf("allocated registers for %q: %d blocks after critical-edge splitting",
		proc.Label, len(proc.Blocks))

	result.Units = append(result.Units, &Unit{Procedure: proc, Dominance: d, Colours: colours})
	return nil
}
