package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLiteralInt(t *testing.T) {
	lit, err := ParseLiteral("42")
	assert.NoError(t, err)
	assert.Equal(t, LiteralInt, lit.Kind)
	assert.EqualValues(t, 42, lit.Int)

	lit, err = ParseLiteral("-7")
	assert.NoError(t, err)
	assert.EqualValues(t, -7, lit.Int)
}

func TestParseLiteralHex(t *testing.T) {
	lit, err := ParseLiteral("0x1f")
	assert.NoError(t, err)
	assert.Equal(t, LiteralInt, lit.Kind)
	assert.EqualValues(t, 31, lit.Int)
}

func TestParseLiteralFloat(t *testing.T) {
	lit, err := ParseLiteral("3.5")
	assert.NoError(t, err)
	assert.Equal(t, LiteralFloat, lit.Kind)
	assert.Equal(t, 3.5, lit.Float)
}

func TestParseLiteralBool(t *testing.T) {
	lit, err := ParseLiteral("true")
	assert.NoError(t, err)
	assert.True(t, lit.Bool)

	lit, err = ParseLiteral("false")
	assert.NoError(t, err)
	assert.False(t, lit.Bool)
}

func TestParseLiteralNull(t *testing.T) {
	lit, err := ParseLiteral("null")
	assert.NoError(t, err)
	assert.Equal(t, LiteralNull, lit.Kind)
}

func TestParseLiteralString(t *testing.T) {
	lit, err := ParseLiteral(`"hello\nworld"`)
	assert.NoError(t, err)
	assert.Equal(t, LiteralString, lit.Kind)
	assert.Equal(t, "hello\nworld", lit.Str)
}

func TestParseLiteralStringRejectsBadEscape(t *testing.T) {
	_, err := ParseLiteral(`"bad\qescape"`)
	assert.Error(t, err)
}

func TestParseLiteralIdent(t *testing.T) {
	lit, err := ParseLiteral("main")
	assert.NoError(t, err)
	assert.Equal(t, LiteralIdent, lit.Kind)
	assert.Equal(t, "main", lit.Ident)
}

func TestParseLiteralRejectsGarbage(t *testing.T) {
	_, err := ParseLiteral("1.2.3")
	assert.Error(t, err)
}
