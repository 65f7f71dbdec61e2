// Package dom implements the dominator analyser. Analyse splits
// critical edges in place, then computes immediate dominators with the
// Lengauer-Tarjan algorithm (semidominators plus the path-compressing
// eval/find from the original paper), the dominator tree, the
// dominance frontier, back edges, natural loops and the loop-nest
// forest.
//
// The analyser is total: it never fails on a well-formed procedure, and
// malformed input (an unreachable block, a missing continuation) is a
// programmer error upstream, reported by panicking.
package dom

import (
	"fmt"
	"sort"

	"garnetc/internal/ssa"
)

// Result is what the downstream register allocator consumes. Dom and
// Dtree both map a block to the set of blocks it immediately dominates;
// Dom additionally has the entry block containing itself, mirroring the
// self-rooted idom convention (idom(entry) = entry).
type Result struct {
	Idom      map[*ssa.Block]*ssa.Block
	Dom       map[*ssa.Block]map[*ssa.Block]bool
	Dtree     map[*ssa.Block]map[*ssa.Block]bool
	DtreeRoot *ssa.Block
	Frontier  map[*ssa.Block]map[*ssa.Block]bool

	// BackEdges holds every (tail, header) CFG edge whose header
	// dominates its tail; Loops the natural loop of each, smallest
	// first, linked into the loop-nest forest via Parent/Children.
	BackEdges [][2]*ssa.Block
	Loops     []*Loop
}

// Loop is one natural loop: the header, the back edge's tail, and every
// block that reaches the tail without passing through the header.
type Loop struct {
	Header   *ssa.Block
	Tail     *ssa.Block
	Blocks   map[*ssa.Block]bool
	Parent   *Loop
	Children []*Loop
}

// Dominates reports whether a dominates b (reflexively).
func (r *Result) Dominates(a, b *ssa.Block) bool {
	w := b
	for r.Idom[w] != w {
		if w == a {
			return true
		}
		w = r.Idom[w]
	}
	return w == a
}

type node struct {
	block    *ssa.Block
	index    int
	preds    []*node
	children []*node

	dfs    int
	parent *node
}

type analysis struct {
	proc  *ssa.Procedure
	nodes []*node
	root  *node

	dfsnodes []*node // reverse DFS order

	ancestor []*node // indexed by node.index
	label    []*node // indexed by node.index
	semi     []*node // indexed by dfs number

	idom      map[*node]*node
	dom       map[*node]map[*node]bool
	dtree     map[*node]map[*node]bool
	dtreeroot *node
	frontier  map[*node]map[*node]bool
	backedges [][2]*node
	loops     []*Loop
}

// Analyse runs the full sequence on proc. Critical-edge splitting
// mutates proc in place (fresh forwarding blocks are appended to
// proc.Blocks); everything else is read-only.
func Analyse(proc *ssa.Procedure) *Result {
	a := &analysis{proc: proc}
	a.graph()
	a.splitCritical()
	a.dfs()
	a.semidominators()
	a.idominators()
	a.dominators()
	a.calcBackEdges()
	a.calcLoops()
	a.calcLNF()
	a.dominatorTree()
	a.calcFrontier()
	return a.result()
}

func (a *analysis) graph() {
	index := map[*ssa.Block]*node{}
	for i, block := range a.proc.Blocks {
		n := &node{block: block, index: i}
		a.nodes = append(a.nodes, n)
		index[block] = n
	}
	for _, n := range a.nodes {
		if n.block.Cont == nil {
			panic(fmt.Sprintf("dom: block %s has no continuation", n.block.Label))
		}
		for _, t := range ssa.Targets(n.block.Cont) {
			n.children = append(n.children, index[t])
		}
		for _, p := range n.block.Preds {
			n.preds = append(n.preds, index[p])
		}
	}
	a.root = a.nodes[0]
}

// splitCritical inserts a forwarding block on every edge from a
// multi-successor block to a multi-predecessor block, re-keying the
// edge-argument maps through fresh parameters so semantics are
// unchanged. Afterwards no such edge remains.
func (a *analysis) splitCritical() {
	for vi := 0; vi < len(a.nodes); vi++ {
		v := a.nodes[vi]
		if len(v.children) <= 1 {
			continue
		}
		edges := v.block.Cont.Edges()
		for i, u := range v.children {
			if len(u.preds) <= 1 {
				continue
			}
			edge := edges[i]

			nb := ssa.NewBlock(fmt.Sprintf("%s_%s_split", v.block.Label, u.block.Label))
			nb.Preds = []*ssa.Block{v.block}
			nb.Succs = []*ssa.Block{u.block}
			jedge := ssa.NewContEdge(u.block)
			nb.Cont = &ssa.JumpCont{Edge: jedge}

			av := map[*ssa.Param]ssa.Value{}
			for _, pu := range u.block.Params {
				pw := nb.Param()
				jedge.Args[pu] = pw
				if old, ok := edge.Args[pu]; ok {
					av[pw] = old
				}
			}
			edge.Target = nb
			edge.Args = av

			w := &node{block: nb, index: len(a.nodes)}
			a.nodes = append(a.nodes, w)
			a.proc.Blocks = append(a.proc.Blocks, nb)

			u.preds[indexOfNode(u.preds, v)] = w
			w.children = append(w.children, u)
			v.children[i] = w
			w.preds = append(w.preds, v)
			v.block.Succs[indexOfBlock(v.block.Succs, u.block)] = nb
			u.block.Preds[indexOfBlock(u.block.Preds, v.block)] = nb
		}
	}
}

func indexOfNode(s []*node, n *node) int {
	for i, x := range s {
		if x == n {
			return i
		}
	}
	panic("dom: node not found")
}

func indexOfBlock(s []*ssa.Block, b *ssa.Block) int {
	for i, x := range s {
		if x == b {
			return i
		}
	}
	panic("dom: block not found")
}

func (a *analysis) dfs() {
	counter := 0
	seen := map[*node]bool{}
	var order []*node
	var walk func(v, parent *node)
	walk = func(v, parent *node) {
		if seen[v] {
			return
		}
		seen[v] = true
		v.parent = parent
		v.dfs = counter
		counter++
		order = append(order, v)
		for _, u := range v.children {
			walk(u, v)
		}
	}
	walk(a.root, a.root)
	if len(order) != len(a.nodes) {
		panic(fmt.Sprintf("dom: %d of %d blocks are unreachable from %s",
			len(a.nodes)-len(order), len(a.nodes), a.root.block.Label))
	}
	a.dfsnodes = make([]*node, len(order))
	for i, n := range order {
		a.dfsnodes[len(order)-1-i] = n
	}
}

func (a *analysis) find(v *node) *node {
	anc := a.ancestor[v.index]
	if anc == v || a.ancestor[anc.index] == anc {
		return anc
	}
	r := a.find(anc)
	if a.semi[a.label[anc.index].dfs].dfs < a.semi[a.label[v.index].dfs].dfs {
		a.label[v.index] = a.label[anc.index]
	}
	a.ancestor[v.index] = r
	return r
}

func (a *analysis) eval(v *node) *node {
	if a.ancestor[v.index] != v {
		a.find(v)
		return a.label[v.index]
	}
	return v
}

func (a *analysis) semidominators() {
	n := len(a.nodes)
	a.ancestor = make([]*node, n)
	a.semi = make([]*node, n)
	a.label = make([]*node, n)
	for i, v := range a.nodes {
		a.ancestor[i] = v
		a.semi[i] = v
		a.label[i] = v
	}
	for _, v := range a.dfsnodes {
		a.semi[v.dfs] = v.parent
		for _, u := range v.preds {
			if u.dfs < v.dfs {
				if u.dfs < a.semi[v.dfs].dfs {
					a.semi[v.dfs] = u
				}
			} else {
				su := a.eval(u)
				if a.semi[su.dfs].dfs < a.semi[v.dfs].dfs {
					a.semi[v.dfs] = a.semi[su.dfs]
				}
			}
		}
		a.ancestor[v.index] = v.parent
	}
}

func (a *analysis) idominators() {
	a.idom = map[*node]*node{}
	for i := len(a.dfsnodes) - 1; i >= 0; i-- { // DFS order
		v := a.dfsnodes[i]
		sv := a.semi[v.dfs]
		if sv == v.parent {
			a.idom[v] = sv
			continue
		}
		// w: the node of least semidominator on the tree path from sv
		// (exclusive) down to v.
		w := v
		for x := v.parent; x != sv; x = x.parent {
			if a.semi[x.dfs].dfs < a.semi[w.dfs].dfs {
				w = x
			}
		}
		if a.semi[w.dfs] == sv {
			a.idom[v] = sv
		} else {
			a.idom[v] = a.idom[w]
		}
	}
}

func (a *analysis) dominators() {
	a.dom = map[*node]map[*node]bool{}
	for _, v := range a.dfsnodes {
		a.dom[v] = map[*node]bool{}
	}
	for k, v := range a.idom {
		a.dom[v][k] = true
	}
}

func (a *analysis) dominates(u, v *node) bool {
	w := v
	for a.idom[w] != w {
		if w == u {
			return true
		}
		w = a.idom[w]
	}
	return w == u
}

func (a *analysis) calcBackEdges() {
	for _, v := range a.dfsnodes {
		for _, u := range v.children {
			if a.dominates(u, v) {
				a.backedges = append(a.backedges, [2]*node{v, u})
			}
		}
	}
}

func (a *analysis) calcLoops() {
	for _, e := range a.backedges {
		v, u := e[0], e[1]
		blocks := map[*ssa.Block]bool{u.block: true, v.block: true}
		nodes := map[*node]bool{u: true, v: true}
		stack := []*node{v}
		for len(stack) > 0 {
			x := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, p := range x.preds {
				if !nodes[p] {
					nodes[p] = true
					blocks[p.block] = true
					stack = append(stack, p)
				}
			}
		}
		a.loops = append(a.loops, &Loop{Header: u.block, Tail: v.block, Blocks: blocks})
	}
}

// calcLNF orders the loops by inclusion: each loop's parent is the
// smallest strictly larger loop containing it.
func (a *analysis) calcLNF() {
	sort.SliceStable(a.loops, func(i, j int) bool {
		return len(a.loops[i].Blocks) < len(a.loops[j].Blocks)
	})
	for _, l1 := range a.loops {
		for _, l2 := range a.loops {
			if l1 == l2 || !subset(l1.Blocks, l2.Blocks) {
				continue
			}
			if l1.Parent == nil || len(l2.Blocks) < len(l1.Parent.Blocks) {
				l1.Parent = l2
			}
		}
	}
	for _, l := range a.loops {
		if l.Parent != nil {
			l.Parent.Children = append(l.Parent.Children, l)
		}
	}
}

func subset(a, b map[*ssa.Block]bool) bool {
	if len(a) > len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func (a *analysis) dominatorTree() {
	a.dtree = map[*node]map[*node]bool{}
	for v, idom := range a.idom {
		if v == idom {
			a.dtreeroot = v
			continue
		}
		if a.dtree[idom] == nil {
			a.dtree[idom] = map[*node]bool{}
		}
		a.dtree[idom][v] = true
	}
}

// calcFrontier computes DF(B) by a dominator-tree post-order walk:
// CFG successors B does not immediately dominate, plus each dtree
// child's frontier members B does not immediately dominate.
func (a *analysis) calcFrontier() {
	a.frontier = map[*node]map[*node]bool{}
	var walk func(b *node)
	walk = func(b *node) {
		df := map[*node]bool{}
		a.frontier[b] = df
		for c := range a.dtree[b] {
			walk(c)
		}
		for _, y := range b.children {
			if a.idom[y] != b {
				df[y] = true
			}
		}
		for c := range a.dtree[b] {
			for w := range a.frontier[c] {
				if a.idom[w] != b {
					df[w] = true
				}
			}
		}
	}
	walk(a.dtreeroot)
}

func (a *analysis) result() *Result {
	r := &Result{
		Idom:      make(map[*ssa.Block]*ssa.Block, len(a.idom)),
		Dom:       map[*ssa.Block]map[*ssa.Block]bool{},
		Dtree:     map[*ssa.Block]map[*ssa.Block]bool{},
		DtreeRoot: a.dtreeroot.block,
		Frontier:  map[*ssa.Block]map[*ssa.Block]bool{},
		Loops:     a.loops,
	}
	for k, v := range a.idom {
		r.Idom[k.block] = v.block
	}
	for k, v := range a.dom {
		r.Dom[k.block] = blockSet(v)
	}
	for k, v := range a.dtree {
		r.Dtree[k.block] = blockSet(v)
	}
	for k, v := range a.frontier {
		r.Frontier[k.block] = blockSet(v)
	}
	for _, e := range a.backedges {
		r.BackEdges = append(r.BackEdges, [2]*ssa.Block{e[0].block, e[1].block})
	}
	return r
}

func blockSet(nodes map[*node]bool) map[*ssa.Block]bool {
	out := make(map[*ssa.Block]bool, len(nodes))
	for n := range nodes {
		out[n.block] = true
	}
	return out
}
