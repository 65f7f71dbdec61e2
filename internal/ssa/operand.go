package ssa

import (
	"fmt"
	"strings"

	"garnetc/internal/riscv64"
)

// The operand kinds below appear only after instruction selection: an
// abstract Inst's operands are always other Values, but a RV64 Inst may
// take an immediate, a symbol, a base+offset memory operand, or (after
// register allocation inserts parallel moves) a bare physical register.
// None of them are assignable: the register allocator never colours
// them.

// Imm is an integer immediate operand.
type Imm struct {
	Value int64
}

func (Imm) isValue() {}

func (i Imm) String() string { return fmt.Sprintf("%d", i.Value) }

// Sym references a linker-visible symbol: a global variable or a
// procedure label, the operand of LA.
type Sym struct {
	Name string
}

func (Sym) isValue() {}

func (s Sym) String() string { return s.Name }

// Off is a base-register-plus-offset memory operand, the addressing
// form LD and SD take. Base is the value holding the address (an LA
// result); the allocator colours Base, not the Off itself.
type Off struct {
	Base   Value
	Offset int64
}

func (Off) isValue() {}

// Reg is a physical register operand. It appears only in the MV
// instructions the register allocator inserts to resolve block-argument
// transfers; everything earlier in the pipeline refers to virtual
// values.
type Reg struct {
	Reg riscv64.Register
}

func (Reg) isValue() {}

func (r Reg) String() string { return strings.ToLower(r.Reg.String()) }

// Assignable reports whether the register allocator may bind a colour
// to v: block parameters always, instructions only when their opcode
// produces a value, selected operand kinds never.
func Assignable(v Value) bool {
	switch v := v.(type) {
	case *Param:
		return true
	case *Inst:
		return v.Op.Output()
	default:
		return false
	}
}
