package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRoundtrip(t *testing.T) {
	m := New()
	m.SetS64("seq", 42)
	m.SetString("method", "hello")
	m.SetBytes("payload", []byte{0x01, 0x02})
	m.SetList("nums", []Value{{Kind: KindS64, S64: 1}, {Kind: KindS64, S64: 2}})

	nested := New()
	nested.SetString("name", "eng0")
	m.SetMessage("source", nested)

	assert.Equal(t, int64(42), m.Long("seq", 0))
	assert.Equal(t, "hello", m.String("method", ""))
	assert.Equal(t, []byte{0x01, 0x02}, m.Bytes("payload", nil))
	assert.Len(t, m.List("nums"), 2)

	sub, ok := m.Message("source")
	require.True(t, ok)
	assert.Equal(t, "eng0", sub.String("name", ""))
}

func TestGetDefaultsOnAbsentOrWrongKind(t *testing.T) {
	m := New()
	m.SetString("method", "hello")

	assert.Equal(t, 7, m.Integer("missing", 7))
	assert.Equal(t, int64(0), m.Long("method", 0), "wrong kind falls back to default")
	assert.Nil(t, m.List("method"))
	_, ok := m.Message("method")
	assert.False(t, ok)
}

func TestKeyOrderPreserved(t *testing.T) {
	m := New()
	m.SetString("c", "3")
	m.SetString("a", "1")
	m.SetString("b", "2")
	assert.Equal(t, []string{"c", "a", "b"}, m.Keys())
}

func TestSetOverwritePreservesPosition(t *testing.T) {
	m := New()
	m.SetString("a", "1")
	m.SetString("b", "2")
	m.SetString("a", "one")
	assert.Equal(t, []string{"a", "b"}, m.Keys())
	assert.Equal(t, "one", m.String("a", ""))
}

func TestDelete(t *testing.T) {
	m := New()
	m.SetString("a", "1")
	m.SetString("b", "2")
	m.Delete("a")
	assert.False(t, m.Has("a"))
	assert.Equal(t, []string{"b"}, m.Keys())
	assert.Equal(t, 1, m.Len())
}

func TestClone(t *testing.T) {
	m := New()
	m.SetBytes("bin", []byte{1, 2, 3})
	m.SetList("l", []Value{{Kind: KindS64, S64: 9}})
	nested := New()
	nested.SetString("k", "v")
	m.SetMessage("m", nested)

	c := m.Clone()
	c.Delete("l")
	assert.True(t, m.Has("l"), "deleting a field on the clone must not affect the original")

	c.Bytes("bin", nil)[0] = 99
	assert.Equal(t, byte(1), m.Bytes("bin", nil)[0], "clone's byte slice must be independent")
}

func TestMethodAndSeqHelpers(t *testing.T) {
	m := New()
	m.SetString("method", "subscriptionStart")
	m.SetS64("seq", 5)

	assert.Equal(t, "subscriptionStart", m.Method())
	seq, ok := m.Seq()
	require.True(t, ok)
	assert.Equal(t, int64(5), seq)

	m2 := New()
	_, ok = m2.Seq()
	assert.False(t, ok)
}

func TestStringAcceptsBothStrAndBinKind(t *testing.T) {
	m := New()
	m.SetValue("a", Value{Kind: KindStr, Bin: []byte("str")})
	m.SetValue("b", Value{Kind: KindBin, Bin: []byte("bin")})
	assert.Equal(t, "str", m.String("a", ""))
	assert.Equal(t, "bin", m.String("b", ""))
}
