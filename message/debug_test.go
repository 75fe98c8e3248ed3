package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalJSON(t *testing.T) {
	m := New()
	m.SetString("method", "hello")
	m.SetS64("seq", 1)
	m.SetBytes("bin", []byte("raw"))

	b, err := json.Marshal(m)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "hello", out["method"])
	assert.Equal(t, float64(1), out["seq"])
	assert.Equal(t, "raw", out["bin"])
}

func TestLogValueSummarizesMethodAndSeq(t *testing.T) {
	m := New()
	m.SetString("method", "subscriptionStart")
	m.SetS64("seq", 3)

	v := m.LogValue()
	assert.Equal(t, "subscriptionStart seq=3", v.String())
}

func TestLogValueMethodOnly(t *testing.T) {
	m := New()
	m.SetString("method", "enableAsyncMetadata")
	assert.Equal(t, "enableAsyncMetadata", m.LogValue().String())
}

func TestLogValueFallsBackToJSON(t *testing.T) {
	m := New()
	m.SetS64("subscriptionId", 1)
	got := m.LogValue().String()
	assert.Contains(t, got, "subscriptionId")
}
