package serialization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSerializerRoundTrip(t *testing.T) {
	s := NewJSONSerializer()

	data, err := s.Marshal(map[string]interface{}{"op": 2, "guilds": []string{"a", "b"}})
	require.NoError(t, err)

	v, err := s.Unmarshal(data)
	require.NoError(t, err)

	decoded, ok := v.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(2), decoded["op"])
	assert.Equal(t, []interface{}{"a", "b"}, decoded["guilds"])
}

func TestJSONSerializerMarshalError(t *testing.T) {
	s := NewJSONSerializer()
	_, err := s.Marshal(make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serialization: encode")
}

func TestJSONSerializerUnmarshalError(t *testing.T) {
	s := NewJSONSerializer()
	_, err := s.Unmarshal([]byte("{truncated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serialization: decode")
}

func TestJSONSerializerContentType(t *testing.T) {
	assert.Equal(t, "application/json", NewJSONSerializer().ContentType())
}
