package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vajexal/dbg/pkg/breakpoint"
)

func TestParseSpecFileLine(t *testing.T) {
	spec, err := parseSpec("hello.c:10", "")
	assert.NoError(t, err)
	assert.Equal(t, breakpoint.Specifier{Kind: "file-line", File: "hello.c", Line: 10}, spec)
}

func TestParseSpecBareLineUsesCurrentFile(t *testing.T) {
	spec, err := parseSpec("42", "hello.c")
	assert.NoError(t, err)
	assert.Equal(t, breakpoint.Specifier{Kind: "bare-line", File: "hello.c", Line: 42}, spec)
}

func TestParseSpecBareLineWithoutCurrentFileErrors(t *testing.T) {
	_, err := parseSpec("42", "")
	assert.Error(t, err)
}

func TestParseSpecFunctionName(t *testing.T) {
	spec, err := parseSpec("main", "")
	assert.NoError(t, err)
	assert.Equal(t, breakpoint.Specifier{Kind: "function", Func: "main"}, spec)
}

func TestParseSpecEmptyErrors(t *testing.T) {
	_, err := parseSpec("", "")
	assert.Error(t, err)
}

func TestParseSpecBadLineNumberErrors(t *testing.T) {
	_, err := parseSpec("hello.c:abc", "")
	assert.Error(t, err)
}

func TestSplitSetArgsWithEquals(t *testing.T) {
	path, value, ok := splitSetArgs("x = 5")
	assert.True(t, ok)
	assert.Equal(t, "x", path)
	assert.Equal(t, "5", value)
}

func TestSplitSetArgsWithoutEquals(t *testing.T) {
	path, value, ok := splitSetArgs("x 5")
	assert.True(t, ok)
	assert.Equal(t, "x", path)
	assert.Equal(t, "5", value)
}

func TestSplitSetArgsMissingValue(t *testing.T) {
	_, _, ok := splitSetArgs("x")
	assert.False(t, ok)
}

func TestSplitSetArgsPreservesQuotedValueSpacing(t *testing.T) {
	path, value, ok := splitSetArgs(`s = "hello world"`)
	assert.True(t, ok)
	assert.Equal(t, "s", path)
	assert.Equal(t, `"hello world"`, value)
}

func TestCommandFindIsCaseInsensitive(t *testing.T) {
	cmds := DebugCommands()
	assert.NotNil(t, cmds.find("BREAK"))
	assert.NotNil(t, cmds.find("b"))
	assert.Nil(t, cmds.find("nonexistent"))
}

func TestCommandsMergeAddsAliasToCanonicalCommand(t *testing.T) {
	cmds := DebugCommands()
	cmds.Merge(map[string][]string{"step": {"s"}})
	assert.NotNil(t, cmds.find("s"))
}
