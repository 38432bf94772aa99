package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePathBareName(t *testing.T) {
	p, err := ParsePath("x")
	assert.NoError(t, err)
	assert.Equal(t, "x", p.Root)
	assert.Empty(t, p.PrefixOps)
	assert.Empty(t, p.Suffixes)
}

func TestParsePathPrefixOps(t *testing.T) {
	p, err := ParsePath("**p")
	assert.NoError(t, err)
	assert.Equal(t, []byte{'*', '*'}, p.PrefixOps)
	assert.Equal(t, "p", p.Root)

	p, err = ParsePath("&x")
	assert.NoError(t, err)
	assert.Equal(t, []byte{'&'}, p.PrefixOps)
}

func TestParsePathFieldAndIndexSuffixes(t *testing.T) {
	p, err := ParsePath("node.children[2].name")
	assert.NoError(t, err)
	assert.Equal(t, "node", p.Root)
	assert.Equal(t, []Suffix{
		{Field: "children"},
		{HasIdx: true, Index: 2},
		{Field: "name"},
	}, p.Suffixes)
}

func TestParsePathRejectsEmpty(t *testing.T) {
	_, err := ParsePath("   ")
	assert.Error(t, err)
}

func TestParsePathRejectsMissingIdentifier(t *testing.T) {
	_, err := ParsePath("*")
	assert.Error(t, err)
}

func TestParsePathRejectsUnterminatedIndex(t *testing.T) {
	_, err := ParsePath("arr[1")
	assert.Error(t, err)
}

func TestParsePathRejectsBadIndex(t *testing.T) {
	_, err := ParsePath("arr[x]")
	assert.Error(t, err)
}
