package ssa

import "testing"

func TestFindFollowsForwardingChain(t *testing.T) {
	a := &Inst{Op: OpConst, Const: 1}
	b := &Inst{Op: OpConst, Const: 2}
	c := &Inst{Op: OpConst, Const: 3}

	a.Replace(b)
	b.Replace(c)

	if got := Find(a); got != Value(c) {
		t.Fatalf("Find(a) = %v, want %v", got, c)
	}
	if got := Find(b); got != Value(c) {
		t.Fatalf("Find(b) = %v, want %v", got, c)
	}
	if got := Find(c); got != Value(c) {
		t.Fatalf("Find(c) = %v, want %v", got, c)
	}
}

func TestReplaceTwicePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic when forwarding an instruction twice")
		}
	}()
	a := &Inst{Op: OpConst, Const: 1}
	b := &Inst{Op: OpConst, Const: 2}
	c := &Inst{Op: OpConst, Const: 3}
	a.Replace(b)
	a.Replace(c)
}

func TestArgResolvesForwarding(t *testing.T) {
	x := &Inst{Op: OpConst, Const: 1}
	y := &Inst{Op: OpConst, Const: 2}
	add := &Inst{Op: OpAdd, Args: []Value{x, y}}
	folded := &Inst{Op: OpConst, Const: 3}
	x.Replace(folded)

	if got := add.Arg(0); got != Value(folded) {
		t.Fatalf("add.Arg(0) = %v, want %v", got, folded)
	}
}

func TestBlockClosesWithExactlyOneContinuation(t *testing.T) {
	b := NewBlock("b1")
	target := NewBlock("b2")
	b.Jump(target)

	if b.Cont == nil {
		t.Fatal("expected a continuation after Jump")
	}
	if len(b.Succs) != 1 || b.Succs[0] != target {
		t.Fatalf("expected b1 -> b2, got succs=%v", b.Succs)
	}
	if len(target.Preds) != 1 || target.Preds[0] != b {
		t.Fatalf("expected b2's single pred to be b1, got %v", target.Preds)
	}
}

func TestBlockDoubleCloseFails(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic when closing a block twice")
		}
	}()
	b := NewBlock("b1")
	b.Ret(nil)
	b.Ret(nil)
}

func TestContEdgeAddArgRejectsForeignParam(t *testing.T) {
	target := NewBlock("b2")
	other := NewBlock("b3")
	foreignParam := other.Param()

	edge := NewContEdge(target)
	edge.AddArg(foreignParam, &Inst{Op: OpConst, Const: 1})

	if len(edge.Args) != 0 {
		t.Fatalf("expected AddArg to ignore a param belonging to another block, got %v", edge.Args)
	}
}

func TestPrintReturnsNonEmptyProgram(t *testing.T) {
	entry := NewBlock("fentry")
	v := entry.Emit(&Inst{Op: OpConst, Const: 7})
	entry.Ret(v)
	proc := &Procedure{Label: "main", Blocks: []*Block{entry}}

	out := Print(proc)
	if out == "" {
		t.Fatal("expected non-empty printer output")
	}
}
