// Package riscv64 describes the RISC-V 64 (RV64I + M) instruction set
// this backend targets: the opcode vocabulary the instruction selector
// emits, the register file, and the ordered colouring pool the register
// allocator draws from.
package riscv64

import (
	"strings"

	"github.com/iancoleman/strcase"
)

// Opcode enumerates the RV64 instructions (and pseudo-instructions) the
// selector emits. It implements ssa.Opcode so an Inst can carry either
// an AbstractOp (pre-selection) or an Opcode (post-selection) without
// the IR library needing to know which stage it is in.
type Opcode int

const (
	// Pseudo-ops.
	LI Opcode = iota
	LA
	CALL
	ECALLRead
	ECALLWrite

	// Loads/stores.
	LD
	SD

	// Register moves and register negation.
	MV
	NEG

	// Arithmetic, register and immediate forms.
	ADD
	ADDI
	SUB
	MUL
	MULH
	DIV
	SLL
	SLLI
	SRL
	SRLI
	SRA
	SRAI
	AND
	ANDI

	// Comparisons, register and zero-compare forms.
	SEQ
	SNE
	SLT
	SGT
	SLE
	SGE
	SEQZ
	SNEZ
	SLTZ
	SGTZ
	SLEZ
	SGEZ
)

var opcodeNames = [...]string{
	LI: "LI", LA: "LA", CALL: "CALL", ECALLRead: "ECALL_READ", ECALLWrite: "ECALL_WRITE",
	LD: "LD", SD: "SD", MV: "MV", NEG: "NEG",
	ADD: "ADD", ADDI: "ADDI", SUB: "SUB", MUL: "MUL", MULH: "MULH", DIV: "DIV",
	SLL: "SLL", SLLI: "SLLI", SRL: "SRL", SRLI: "SRLI", SRA: "SRA", SRAI: "SRAI",
	AND: "AND", ANDI: "ANDI",
	SEQ: "SEQ", SNE: "SNE", SLT: "SLT", SGT: "SGT", SLE: "SLE", SGE: "SGE",
	SEQZ: "SEQZ", SNEZ: "SNEZ", SLTZ: "SLTZ", SGTZ: "SGTZ", SLEZ: "SLEZ", SGEZ: "SGEZ",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return "?rv64-opcode?"
}

// Mnemonic renders op the way the textual assembly printer does:
// lower-case, underscore-delimited, e.g. ADDI -> "addi", ECALL_READ ->
// "ecall_read".
func Mnemonic(op Opcode) string {
	return strcase.ToSnake(strings.ToLower(op.String()))
}

// Pure implements ssa.Opcode. SD (store) and CALL have effects beyond
// their result; every arithmetic/comparison/load opcode is pure.
func (op Opcode) Pure() bool {
	switch op {
	case SD, CALL, ECALLRead, ECALLWrite:
		return false
	default:
		return true
	}
}

// Output implements ssa.Opcode: SD, CALL, ECALL_WRITE produce no value.
func (op Opcode) Output() bool {
	switch op {
	case SD, CALL, ECALLWrite:
		return false
	default:
		return true
	}
}

// Register names a RV64 general-purpose register by its ABI name.
type Register int

const (
	Zero Register = iota
	RA
	SP
	GP
	TP
	T0
	T1
	T2
	S0
	S1
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	T3
	T4
	T5
	T6
)

var registerNames = [...]string{
	Zero: "ZERO", RA: "RA", SP: "SP", GP: "GP", TP: "TP",
	T0: "T0", T1: "T1", T2: "T2", S0: "S0", S1: "S1",
	A0: "A0", A1: "A1", A2: "A2", A3: "A3", A4: "A4", A5: "A5", A6: "A6", A7: "A7",
	S2: "S2", S3: "S3", S4: "S4", S5: "S5", S6: "S6", S7: "S7", S8: "S8", S9: "S9",
	S10: "S10", S11: "S11", T3: "T3", T4: "T4", T5: "T5", T6: "T6",
}

func (r Register) String() string {
	if int(r) < len(registerNames) {
		return registerNames[r]
	}
	return "?register?"
}

// ArgRegisters is the parameter/return-value register list, A0..A7, in
// calling-convention order. A0 is always the return register on a
// call-continuation then-block.
var ArgRegisters = []Register{A0, A1, A2, A3, A4, A5, A6, A7}

// REGALLOC is the ordered general-purpose colouring pool the register
// allocator draws from, caller-saved temporaries first.
var REGALLOC = []Register{
	T0, T1, T2, T3, T4, T5, T6,
	A0, A1, A2, A3, A4, A5, A6, A7,
	S1, S2, S3, S4, S5, S6, S7, S8, S9, S10, S11,
}
