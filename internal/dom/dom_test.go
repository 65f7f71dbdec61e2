package dom

import (
	"strings"
	"testing"

	"garnetc/internal/ssa"
)

func constInst(b *ssa.Block, v int64) *ssa.Inst {
	return b.Emit(&ssa.Inst{Op: ssa.OpConst, Const: v})
}

// diamond builds bentry -> {bthen, bexit}, bthen -> bexit, where bexit
// carries one parameter fed by both edges. The bentry -> bexit edge is
// critical.
func diamond() (*ssa.Procedure, *ssa.Block, *ssa.Block, *ssa.Block, *ssa.Param) {
	bentry := ssa.NewBlock("bentry")
	bthen := ssa.NewBlock("bthen")
	bexit := ssa.NewBlock("bexit")
	p := bexit.Param()

	cond := constInst(bentry, 1)
	_, fedge := bentry.Branch(cond, bthen, bexit)
	fedge.Args[p] = cond

	v := constInst(bthen, 2)
	tedge := bthen.Jump(bexit)
	tedge.Args[p] = v

	bexit.Ret(nil)
	proc := &ssa.Procedure{Label: "diamond", Blocks: []*ssa.Block{bentry, bthen, bexit}}
	return proc, bentry, bthen, bexit, p
}

func TestCriticalEdgeSplit(t *testing.T) {
	proc, bentry, bthen, bexit, p := diamond()
	Analyse(proc)

	if len(proc.Blocks) != 4 {
		t.Fatalf("%d blocks after splitting, want 4", len(proc.Blocks))
	}
	var split *ssa.Block
	for _, b := range proc.Blocks {
		if strings.HasSuffix(b.Label, "_split") {
			split = b
		}
	}
	if split == nil {
		t.Fatal("expected a _split block")
	}

	if len(split.Preds) != 1 || split.Preds[0] != bentry {
		t.Errorf("split block's predecessor is wrong")
	}
	if len(split.Succs) != 1 || split.Succs[0] != bexit {
		t.Errorf("split block's successor is wrong")
	}
	if len(split.Params) != 1 {
		t.Fatalf("split block has %d params, want 1", len(split.Params))
	}

	// The argument chain still threads bentry's value through the split
	// block's fresh parameter to bexit's parameter.
	branch := bentry.Cont.(*ssa.BranchCont)
	if branch.FalseEdge.Target != split {
		t.Fatalf("bentry's false edge should now target the split block")
	}
	routed, ok := branch.FalseEdge.Args[split.Params[0]]
	if !ok {
		t.Fatal("bentry's false edge carries no argument for the split parameter")
	}
	if inst, ok := ssa.Find(routed).(*ssa.Inst); !ok || inst.Const != 1 {
		t.Errorf("split parameter receives %v, want bentry's constant", routed)
	}
	jump := split.Cont.(*ssa.JumpCont)
	if jump.Edge.Args[p] != ssa.Value(split.Params[0]) {
		t.Errorf("split block forwards %v to bexit, want its own parameter", jump.Edge.Args[p])
	}

	// The then-edge was not critical and stays direct.
	if bthen.Cont.(*ssa.JumpCont).Edge.Target != bexit {
		t.Errorf("bthen -> bexit should not have been split")
	}

	// Property: no remaining edge joins a multi-successor block to a
	// multi-predecessor block.
	for _, b := range proc.Blocks {
		if len(b.Succs) <= 1 {
			continue
		}
		for _, s := range b.Succs {
			if len(s.Preds) > 1 {
				t.Errorf("critical edge %s -> %s survives splitting", b.Label, s.Label)
			}
		}
	}
}

func TestDiamondDominators(t *testing.T) {
	proc, bentry, bthen, bexit, _ := diamond()
	r := Analyse(proc)

	if r.DtreeRoot != bentry {
		t.Errorf("dominator-tree root is %s, want bentry", r.DtreeRoot.Label)
	}
	if r.Idom[bthen] != bentry {
		t.Errorf("idom(bthen) = %s, want bentry", r.Idom[bthen].Label)
	}
	if r.Idom[bexit] != bentry {
		t.Errorf("idom(bexit) = %s, want bentry", r.Idom[bexit].Label)
	}
	if !r.Dominates(bentry, bexit) {
		t.Errorf("bentry should dominate bexit")
	}
	if r.Dominates(bthen, bexit) {
		t.Errorf("bthen should not dominate bexit")
	}
	if !r.Frontier[bthen][bexit] {
		t.Errorf("DF(bthen) should contain bexit")
	}
	if len(r.BackEdges) != 0 {
		t.Errorf("a diamond has no back edges")
	}
}

// loopNest builds entry -> h1; h1 -> {h2, exit}; h2 -> {body2, tail1};
// body2 -> h2; tail1 -> h1. Two nested natural loops.
func loopNest() (*ssa.Procedure, map[string]*ssa.Block) {
	blocks := map[string]*ssa.Block{}
	for _, label := range []string{"entry", "h1", "h2", "body2", "tail1", "exit"} {
		blocks[label] = ssa.NewBlock(label)
	}
	blocks["entry"].Jump(blocks["h1"])
	c1 := constInst(blocks["h1"], 1)
	blocks["h1"].Branch(c1, blocks["h2"], blocks["exit"])
	c2 := constInst(blocks["h2"], 2)
	blocks["h2"].Branch(c2, blocks["body2"], blocks["tail1"])
	blocks["body2"].Jump(blocks["h2"])
	blocks["tail1"].Jump(blocks["h1"])
	blocks["exit"].Ret(nil)
	proc := &ssa.Procedure{Label: "loops", Blocks: []*ssa.Block{
		blocks["entry"], blocks["h1"], blocks["h2"], blocks["body2"], blocks["tail1"], blocks["exit"],
	}}
	return proc, blocks
}

func TestBackEdgesAndLoops(t *testing.T) {
	proc, blocks := loopNest()
	r := Analyse(proc)

	// Every reported back edge has its header dominating its tail.
	for _, e := range r.BackEdges {
		if !r.Dominates(e[1], e[0]) {
			t.Errorf("back edge %s -> %s without domination", e[0].Label, e[1].Label)
		}
	}
	if len(r.BackEdges) != 2 {
		t.Fatalf("%d back edges, want 2", len(r.BackEdges))
	}

	var inner, outer *Loop
	for _, l := range r.Loops {
		switch l.Header {
		case blocks["h2"]:
			inner = l
		case blocks["h1"]:
			outer = l
		}
	}
	if inner == nil || outer == nil {
		t.Fatal("expected loops headed at h1 and h2")
	}
	if !inner.Blocks[blocks["body2"]] || inner.Blocks[blocks["tail1"]] {
		t.Errorf("inner loop membership is wrong")
	}
	for _, label := range []string{"h1", "h2", "body2", "tail1"} {
		if !outer.Blocks[blocks[label]] {
			t.Errorf("outer loop misses %s", label)
		}
	}
	if outer.Blocks[blocks["exit"]] || outer.Blocks[blocks["entry"]] {
		t.Errorf("outer loop includes blocks outside the loop")
	}

	if inner.Parent != outer {
		t.Errorf("loop-nest forest does not nest the inner loop under the outer")
	}
	if outer.Parent != nil {
		t.Errorf("outer loop should be a forest root")
	}
}

func TestLoopHeaderFrontierContainsItself(t *testing.T) {
	proc, blocks := loopNest()
	r := Analyse(proc)

	// A natural loop header is in its own dominance frontier via the
	// back edge.
	if !r.Frontier[blocks["h1"]][blocks["h1"]] {
		t.Errorf("DF(h1) should contain h1")
	}
	if !r.Frontier[blocks["h2"]][blocks["h2"]] {
		t.Errorf("DF(h2) should contain h2")
	}
}

func TestDomChildrenPartitionBlocks(t *testing.T) {
	proc, _ := loopNest()
	r := Analyse(proc)

	// Walking Dom from the root visits every block exactly once: the
	// register allocator relies on this traversal.
	visited := map[*ssa.Block]int{}
	var walk func(b *ssa.Block)
	walk = func(b *ssa.Block) {
		visited[b]++
		for c := range r.Dom[b] {
			if c != b {
				walk(c)
			}
		}
	}
	walk(r.DtreeRoot)
	for _, b := range proc.Blocks {
		if visited[b] != 1 {
			t.Errorf("block %s visited %d times in the dominator walk", b.Label, visited[b])
		}
	}
}
