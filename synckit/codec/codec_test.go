package codec

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upperCodec struct{ JSON }

func (upperCodec) Kind() string { return "upper" }

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(upperCodec{}, "UP")

	c, ok := r.Get("upper")
	require.True(t, ok)
	assert.Equal(t, "upper", c.Kind())

	byPath, err := r.ForPath("/tmp/state.up")
	require.NoError(t, err)
	assert.Equal(t, "upper", byPath.Kind())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_ForPathFallsBackToJSON(t *testing.T) {
	c, err := ForPath("state.backup")
	require.NoError(t, err)
	assert.Equal(t, KindJSON, c.Kind())

	c, err = ForPath("state.SZ")
	require.NoError(t, err)
	assert.Equal(t, KindSnappy, c.Kind())

	_, err = NewRegistry().ForPath("state.json")
	assert.Error(t, err)
}

func TestDefaultRegistry_Kinds(t *testing.T) {
	assert.Equal(t, []string{KindJSON, KindSnappy}, DefaultRegistry.Kinds())
}

func TestCodecs_RoundTrip(t *testing.T) {
	payload := map[string]any{"users": []any{map[string]any{"id": "7", "name": "Ada"}}}

	for _, c := range []Codec{JSON{}, Snappy{}} {
		t.Run(c.Kind(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, c.Encode(&buf, payload))

			var got map[string]any
			require.NoError(t, c.Decode(&buf, &got))
			assert.Equal(t, payload, got)
		})
	}
}

func TestSnappy_IsCompressedStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Snappy{}.Encode(&buf, map[string]string{"a": "b"}))

	// Framed snappy streams start with the stream identifier chunk.
	assert.Equal(t, byte(0xff), buf.Bytes()[0])

	var got map[string]string
	err := JSON{}.Decode(bytes.NewReader(buf.Bytes()), &got)
	assert.Error(t, err)

	err = Snappy{}.Decode(io.LimitReader(bytes.NewReader(buf.Bytes()), 3), &got)
	assert.Error(t, err)
}
