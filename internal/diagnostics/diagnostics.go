// Package diagnostics defines the compiler's error taxonomy and a
// terminal-styled reporter: a CompilerError carries a severity, an
// E0xxx-style code, and an optional source Position, and renders with
// github.com/fatih/color.
package diagnostics

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"garnetc/internal/ast"
)

// Level is the severity of a CompilerError.
type Level string

const (
	LevelError Level = "error"
	LevelNote  Level = "note"
)

// Error codes. The E0600-E0699 band is reserved for backend
// construction failures: an unbound SSA local, an unselectable abstract
// opcode, register exhaustion. Front-end bands below E0600 belong to
// the syntax and semantic checkers that produce our input.
const (
	ErrUnboundLocal           = "E0600"
	ErrDivisionByZero         = "E0601"
	ErrSelectorUnsupported    = "E0602"
	ErrRegisterAllocationFull = "E0603"
)

// CompilerError is a structured, user-facing compiler diagnostic.
type CompilerError struct {
	Level    Level
	Code     string
	Message  string
	Position ast.Position // zero when the failing stage has no source position
	Detail   string       // extra context, e.g. the offending opcode name
}

func (e *CompilerError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds a CompilerError at Error level.
func New(code, message string, pos ast.Position) *CompilerError {
	return &CompilerError{Level: LevelError, Code: code, Message: message, Position: pos}
}

// WithDetail attaches extra context (e.g. an unsupported opcode's name)
// and returns the same error for chaining.
func (e *CompilerError) WithDetail(detail string) *CompilerError {
	e.Detail = detail
	return e
}

// InvariantError reports a violated internal IR invariant. These are
// programmer errors, not user-facing diagnostics, so callers panic with
// it rather than returning it; the register allocator does so on a
// surviving critical edge. The ssa and dom packages panic with plain
// messages instead.
type InvariantError struct {
	Invariant string // e.g. "critical-edge-free"
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Invariant, e.Detail)
}

// Reporter formats CompilerErrors against their originating source
// text, Rust-style.
type Reporter struct {
	filename string
	lines    []string
}

// NewReporter returns a Reporter over filename's source text. source may
// be empty when no front-end text is available (this backend compiles
// pre-built ASTs; see the package doc of internal/ast).
func NewReporter(filename, source string) *Reporter {
	return &Reporter{filename: filename, lines: strings.Split(source, "\n")}
}

// Format renders err as a coloured "error[E06xx]: message" header, a
// location line when a Position is available, and the detail as a
// trailing note.
func (r *Reporter) Format(err *CompilerError) string {
	var out strings.Builder

	bold := color.New(color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()
	levelColor := color.New(color.FgRed, color.Bold).SprintFunc()
	if err.Level == LevelNote {
		levelColor = color.New(color.FgBlue, color.Bold).SprintFunc()
	}

	fmt.Fprintf(&out, "%s[%s]: %s\n", levelColor(string(err.Level)), err.Code, bold(err.Message))

	if err.Position.Line > 0 {
		fmt.Fprintf(&out, "  %s %s:%d:%d\n", dim("-->"), r.filename, err.Position.Line, err.Position.Column)
		if err.Position.Line-1 < len(r.lines) {
			fmt.Fprintf(&out, "  %s %s\n", dim("│"), r.lines[err.Position.Line-1])
		}
	}
	if err.Detail != "" {
		noteColor := color.New(color.FgBlue).SprintFunc()
		fmt.Fprintf(&out, "  %s %s %s\n", dim("│"), noteColor("note:"), err.Detail)
	}
	return out.String()
}
