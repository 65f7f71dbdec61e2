// Package symbols classifies every identifier used in an AST into the
// storage kind the SSA builder needs to know about: a constant, a local
// bound through the SSA mechanism, a formal parameter, the procedure's
// own return slot, an escaped/global, or a nested procedure name.
//
// Constants and procedure names are visible in every nested scope; a
// plain local is only visible within the declaring Decl; a local
// referenced by a textually nested procedure "escapes" and must be
// classified Global in both the declaring Decl (where it escapes) and
// the nested Decl (where it is free) because neither side can reach it
// through the SSA write/read mechanism, which is strictly
// per-procedure.
package symbols

import (
	"fmt"

	"garnetc/internal/ast"
)

// Kind is the storage classification of an identifier at one occurrence.
type Kind int

const (
	KindConst Kind = iota
	KindLocal
	KindParam
	KindReturn
	KindGlobal
	KindProc
)

func (k Kind) String() string {
	switch k {
	case KindConst:
		return "const"
	case KindLocal:
		return "local"
	case KindParam:
		return "param"
	case KindReturn:
		return "return"
	case KindGlobal:
		return "global"
	case KindProc:
		return "proc"
	default:
		return "?kind?"
	}
}

// Info is the resolved classification of one name within one Decl.
type Info struct {
	Kind  Kind
	Const int64 // meaningful only when Kind == KindConst
}

// Table holds, for every Decl reachable from the root, the classification
// of every name that Decl's body may reference.
type Table struct {
	perDecl map[*ast.Decl]map[string]Info
}

// Lookup resolves name as it would be seen from within decl's body.
func (t *Table) Lookup(decl *ast.Decl, name string) (Info, bool) {
	scope, ok := t.perDecl[decl]
	if !ok {
		return Info{}, false
	}
	info, ok := scope[name]
	return info, ok
}

type scope struct {
	decl     *ast.Decl
	procName string // name of the procedure whose body this Decl is, "" for the root
	consts   map[string]int64
	vars     map[string]bool // all var names visible here (inherited + own), for free-variable detection
	locals   map[string]bool // var names declared directly in this Decl
	params   map[string]bool // formal parameter names of this Decl's own procedure
	procs    map[string]bool
	free     map[string]bool // names from an enclosing scope this Decl, or a procedure nested in it, reads/writes
}

// checker walks the AST once: const/var/proc sets accumulate downward,
// locals reset per nested Decl, and free-variable references bubble
// back up as "escaped" in the enclosing Decl.
type checker struct {
	perDecl map[*ast.Decl]map[string]Info
	escaped map[*ast.Decl]map[string]bool // names declared in decl but captured by a nested proc
}

// Build computes the symbol table for root and every Decl nested within
// it (every ProcDecl.Body, transitively).
func Build(root *ast.Decl) (*Table, error) {
	c := &checker{
		perDecl: map[*ast.Decl]map[string]Info{},
		escaped: map[*ast.Decl]map[string]bool{},
	}
	s := &scope{
		decl:   root,
		consts: map[string]int64{},
		vars:   map[string]bool{},
		locals: map[string]bool{},
		params: map[string]bool{},
		procs:  map[string]bool{},
		free:   map[string]bool{},
	}
	if err := c.visitDecl(s); err != nil {
		return nil, err
	}
	c.resolve()
	return &Table{perDecl: c.perDecl}, nil
}

func (c *checker) visitDecl(s *scope) error {
	for _, cd := range s.decl.ConstDecls {
		if _, dup := s.consts[cd.Name]; dup {
			return fmt.Errorf("symbols: duplicate const %q", cd.Name)
		}
		s.consts[cd.Name] = cd.Value
	}
	for _, v := range s.decl.VarDecls {
		s.vars[v] = true
		s.locals[v] = true
	}
	for _, pd := range s.decl.ProcDecls {
		s.procs[pd.Name] = true
	}
	// Walk this scope's own body first. Its classification is recorded
	// only after every nested procedure has been visited (see record),
	// and resolve() later upgrades escaped Local/Param names to Global.
	if err := c.walkStmt(s, s.decl.Stmt); err != nil {
		return err
	}
	for _, pd := range s.decl.ProcDecls {
		child := &scope{
			decl:     pd.Body,
			procName: pd.Name,
			consts:   copyInt64Map(s.consts),
			vars:     copyBoolMap(s.vars),
			locals:   map[string]bool{},
			params:   map[string]bool{},
			procs:    copyBoolMap(s.procs),
			free:     map[string]bool{},
		}
		for _, p := range pd.Params {
			child.locals[p] = true
			child.params[p] = true
			child.vars[p] = true
		}
		if err := c.visitDecl(child); err != nil {
			return err
		}
		if len(child.free) > 0 {
			if c.escaped[s.decl] == nil {
				c.escaped[s.decl] = map[string]bool{}
			}
			for name := range child.free {
				c.escaped[s.decl][name] = true
				// A name this scope inherits from further out is free
				// here too, so the promotion reaches the declaring Decl.
				if !s.locals[name] {
					s.free[name] = true
				}
			}
		}
	}
	c.record(s)
	return nil
}

// record stores the provisional classification for s.decl: consts,
// procs, and locals-vs-free are final now, but local-vs-escaped is only
// known once every nested proc has been visited for every ancestor, so
// resolve() performs the final Local -> Global upgrade afterwards.
func (c *checker) record(s *scope) {
	info := map[string]Info{}
	for name, v := range s.consts {
		info[name] = Info{Kind: KindConst, Const: v}
	}
	for name := range s.procs {
		info[name] = Info{Kind: KindProc}
	}
	for name := range s.locals {
		info[name] = Info{Kind: KindLocal}
	}
	for name := range s.params {
		info[name] = Info{Kind: KindParam}
	}
	for name := range s.free {
		info[name] = Info{Kind: KindGlobal}
	}
	if s.procName != "" {
		info[s.procName] = Info{Kind: KindReturn}
	}
	c.perDecl[s.decl] = info
}

// resolve applies the escaped-variable promotion: any local or formal
// parameter that a nested procedure also recorded as free becomes
// KindGlobal, since it can no longer be reached through the
// per-procedure SSA write/read mechanism.
func (c *checker) resolve() {
	for decl, names := range c.escaped {
		info := c.perDecl[decl]
		for name := range names {
			if cur, ok := info[name]; ok && (cur.Kind == KindLocal || cur.Kind == KindParam) {
				info[name] = Info{Kind: KindGlobal}
			}
		}
	}
}

func (c *checker) markUse(s *scope, name string) {
	if s.locals[name] || s.procs[name] {
		return
	}
	if _, isConst := s.consts[name]; isConst {
		return
	}
	if s.vars[name] {
		s.free[name] = true
	}
}

func (c *checker) walkStmt(s *scope, stmt ast.Stmt) error {
	switch n := stmt.(type) {
	case nil:
		return nil
	case *ast.AssignStmt:
		c.markUse(s, n.Ident)
		return c.walkExpr(s, n.Expr)
	case *ast.CallStmt:
		return nil
	case *ast.ReadStmt:
		c.markUse(s, n.Ident)
		return nil
	case *ast.WriteStmt:
		return c.walkExpr(s, n.Expr)
	case *ast.ExprStmt:
		return c.walkExpr(s, n.Expr)
	case *ast.Statements:
		for _, st := range n.Stmts {
			if err := c.walkStmt(s, st); err != nil {
				return err
			}
		}
		return nil
	case *ast.IfStmt:
		if err := c.walkExpr(s, n.Cond); err != nil {
			return err
		}
		return c.walkStmt(s, n.Body)
	case *ast.IfElseStmt:
		if err := c.walkExpr(s, n.Cond); err != nil {
			return err
		}
		if err := c.walkStmt(s, n.Body); err != nil {
			return err
		}
		return c.walkStmt(s, n.Alt)
	case *ast.WhileStmt:
		if err := c.walkExpr(s, n.Cond); err != nil {
			return err
		}
		return c.walkStmt(s, n.Body)
	case *ast.LoopStmt:
		return c.walkStmt(s, n.Body)
	default:
		return fmt.Errorf("symbols: unhandled statement %T", n)
	}
}

func (c *checker) walkExpr(s *scope, expr ast.Expr) error {
	switch n := expr.(type) {
	case nil:
		return nil
	case *ast.Ident:
		c.markUse(s, n.Name)
		return nil
	case *ast.Number:
		return nil
	case *ast.Unary:
		return c.walkExpr(s, n.Expr)
	case *ast.Binary:
		if err := c.walkExpr(s, n.Lhs); err != nil {
			return err
		}
		return c.walkExpr(s, n.Rhs)
	case *ast.Assign:
		c.markUse(s, n.Ident)
		return c.walkExpr(s, n.Expr)
	case *ast.Call:
		for _, a := range n.Args {
			if err := c.walkExpr(s, a); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("symbols: unhandled expression %T", n)
	}
}

func copyBoolMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyInt64Map(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
