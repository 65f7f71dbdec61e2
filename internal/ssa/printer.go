package ssa

import (
	"fmt"
	"sort"
	"strings"

	"garnetc/internal/riscv64"
)

// Print returns a textual rendering of proc and every procedure nested
// within it, one value name (v1, v2, ...) assigned per instruction in
// the order instructions are visited. Nested procedures print first,
// then the procedure itself.
func Print(proc *Procedure) string {
	p := &printer{names: map[Value]string{}, counter: 1}
	p.printProcedure(proc)
	return p.out.String()
}

type printer struct {
	out     strings.Builder
	names   map[Value]string
	counter int
}

func (p *printer) name(v Value) string {
	v = Find(v)
	switch v := v.(type) {
	case *Param:
		return v.Label
	case Imm:
		return v.String()
	case Sym:
		return v.String()
	case Reg:
		return v.String()
	case Off:
		return fmt.Sprintf("%d(%s)", v.Offset, p.name(v.Base))
	}
	if n, ok := p.names[v]; ok {
		return n
	}
	n := fmt.Sprintf("v%d", p.counter)
	p.counter++
	p.names[v] = n
	return n
}

func (p *printer) printProcedure(proc *Procedure) {
	for _, nested := range proc.Procedures {
		p.printProcedure(nested)
	}
	fmt.Fprintf(&p.out, "%s:\n", proc.Label)
	for _, b := range proc.Blocks {
		p.printBlock(b)
	}
}

func (p *printer) printBlock(b *Block) {
	if len(b.Params) > 0 {
		names := make([]string, len(b.Params))
		for i, param := range b.Params {
			names[i] = param.Label
		}
		fmt.Fprintf(&p.out, "%s(%s):\n", b.Label, strings.Join(names, ", "))
	} else {
		fmt.Fprintf(&p.out, "%s:\n", b.Label)
	}
	for _, inst := range b.Insts {
		if inst.Forwarded != nil {
			continue
		}
		p.printInst(inst)
	}
	if b.Cont == nil {
		p.out.WriteString("\tNo continuation\n")
		return
	}
	p.printCont(b.Cont)
}

func (p *printer) printInst(inst *Inst) {
	var args []string
	for _, a := range inst.Args {
		args = append(args, p.name(a))
	}
	if ao, ok := inst.Op.(AbstractOp); ok {
		switch ao {
		case OpConst:
			args = append(args, fmt.Sprintf("%d", inst.Const))
		case OpLoad, OpStore:
			args = append(args, "%"+inst.Variable)
		case OpCall:
			args = append(args, "@"+inst.Proc)
		}
	}
	name := inst.Op.String()
	if op, ok := inst.Op.(riscv64.Opcode); ok {
		name = riscv64.Mnemonic(op)
	}
	line := append([]string{name}, args...)
	if inst.Op.Output() {
		fmt.Fprintf(&p.out, "\t%s = %s\n", p.name(inst), strings.Join(line, " "))
	} else {
		fmt.Fprintf(&p.out, "\t%s\n", strings.Join(line, " "))
	}
}

func (p *printer) printEdge(e *ContEdge) {
	if len(e.Args) == 0 {
		fmt.Fprintf(&p.out, "%s", e.Target.Label)
		return
	}
	params := make([]*Param, 0, len(e.Args))
	for param := range e.Args {
		params = append(params, param)
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Label < params[j].Label })
	parts := make([]string, len(params))
	for i, param := range params {
		parts[i] = fmt.Sprintf("%s=%s", param.Label, p.name(e.Args[param]))
	}
	fmt.Fprintf(&p.out, "%s(%s)", e.Target.Label, strings.Join(parts, ", "))
}

func (p *printer) printCont(cont Cont) {
	switch c := cont.(type) {
	case *ReturnCont:
		if c.Value != nil {
			fmt.Fprintf(&p.out, "\tRETURN %s\n", p.name(c.Value))
		} else {
			p.out.WriteString("\tRETURN\n")
		}
	case *JumpCont:
		p.out.WriteString("\tJUMP ")
		p.printEdge(c.Edge)
		p.out.WriteString("\n")
	case *BranchCont:
		fmt.Fprintf(&p.out, "\tBRANCH %s ", p.name(c.Value))
		p.printEdge(c.TrueEdge)
		p.out.WriteString(" ")
		p.printEdge(c.FalseEdge)
		p.out.WriteString("\n")
	case *CallCont:
		if len(c.Args) > 0 {
			names := make([]string, len(c.Args))
			for i, a := range c.Args {
				names[i] = p.name(a)
			}
			fmt.Fprintf(&p.out, "\tCALL %s(%s) ", c.Proc, strings.Join(names, ", "))
		} else {
			fmt.Fprintf(&p.out, "\tCALL %s ", c.Proc)
		}
		p.printEdge(c.ThenEdge)
		p.out.WriteString("\n")
	default:
		fmt.Fprintf(&p.out, "\t?unknown continuation %T?\n", cont)
	}
}
