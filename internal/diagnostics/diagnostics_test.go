package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"garnetc/internal/ast"
)

func TestCompilerErrorMessage(t *testing.T) {
	err := New(ErrDivisionByZero, "division by the constant 0", ast.Position{Line: 3, Column: 5})
	require.Equal(t, "E0601: division by the constant 0", err.Error())
}

func TestWithDetailChains(t *testing.T) {
	err := New(ErrSelectorUnsupported, "no tile matches", ast.Position{}).WithDetail("SCAN")
	require.Contains(t, err.Error(), "SCAN")
}

func TestReporterFormatIncludesCodeAndPosition(t *testing.T) {
	r := NewReporter("prog.gnt", "var x\nbegin\n  x := 1 / 0\nend.")
	err := New(ErrDivisionByZero, "division by the constant 0", ast.Position{Line: 3, Column: 8})

	out := r.Format(err)
	require.Contains(t, out, "E0601")
	require.Contains(t, out, "prog.gnt:3:8")
}
