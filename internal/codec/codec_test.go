package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultNames(t *testing.T) {
	c, err := New(Default, "")
	require.NoError(t, err)
	assert.Equal(t, JSON, c.Serializer.Name())
	assert.Equal(t, NoCompression, c.Compressor.Name())
}

func TestNew_UnknownNames(t *testing.T) {
	_, err := New("yaml", NoCompression)
	assert.ErrorIs(t, err, ErrUnknownSerializer)

	_, err = New(JSON, "lz77")
	assert.ErrorIs(t, err, ErrUnknownCompression)
}

func TestCodec_EncodeDecodeAcrossCompressions(t *testing.T) {
	payload := map[string]any{"id": "job-1", "tags": []any{"a", "b"}}

	for _, compression := range []string{NoCompression, Gzip, Zstd, Snappy, S2} {
		t.Run(compression, func(t *testing.T) {
			c, err := New(JSON, compression)
			require.NoError(t, err)

			body, err := c.Encode(payload)
			require.NoError(t, err)

			decoded, err := c.Decode(body)
			require.NoError(t, err)
			assert.Equal(t, payload, decoded)
		})
	}
}

func TestCodec_MsgPackString(t *testing.T) {
	c, err := New(MsgPack, Gzip)
	require.NoError(t, err)

	body, err := c.Encode("hello")
	require.NoError(t, err)

	decoded, err := c.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, "hello", decoded)
}

func TestCodec_RawRejectsStructuredPayload(t *testing.T) {
	c, err := New(Raw, NoCompression)
	require.NoError(t, err)

	_, err = c.Encode(map[string]int{"n": 1})
	assert.ErrorIs(t, err, ErrUnsupportedPayload)

	body, err := c.Encode("bytes")
	require.NoError(t, err)
	decoded, err := c.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), decoded)
}

func TestFromHeaders(t *testing.T) {
	c, err := New(MsgPack, Zstd)
	require.NoError(t, err)

	got, ok := FromHeaders(c.Headers())
	require.True(t, ok)
	assert.Equal(t, MsgPack, got.Serializer.Name())
	assert.Equal(t, Zstd, got.Compressor.Name())

	_, ok = FromHeaders(map[string]string{HeaderContentType: "text/csv"})
	assert.False(t, ok)

	got, ok = FromHeaders(map[string]string{HeaderContentType: "application/json"})
	require.True(t, ok)
	assert.Equal(t, NoCompression, got.Compressor.Name())
}
