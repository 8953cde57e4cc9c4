package serializer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	LastPrice float64 `json:"lastPrice" msgpack:"lastPrice"`
	Symbol    string  `json:"symbol" msgpack:"symbol"`
}

func TestJSONRoundTrip(t *testing.T) {
	codec, err := New("json")
	require.NoError(t, err)

	in := sample{LastPrice: 228.33, Symbol: "AAPL.US"}
	b, err := codec.Encode(in)
	require.NoError(t, err)

	var out sample
	require.NoError(t, codec.Decode(b, &out))
	assert.Equal(t, in, out)
}

func TestMsgPackRoundTrip(t *testing.T) {
	codec, err := New("msgpack")
	require.NoError(t, err)

	in := sample{LastPrice: 561, Symbol: "700.HK"}
	b, err := codec.Encode(in)
	require.NoError(t, err)

	var out sample
	require.NoError(t, codec.Decode(b, &out))
	assert.Equal(t, in, out)
}

func TestUnknownEncodingRejected(t *testing.T) {
	_, err := New("protobuf")
	require.Error(t, err)
}

func TestCompressionThresholdBoundary(t *testing.T) {
	inner, err := New("json")
	require.NoError(t, err)

	// A string that encodes to exactly N bytes of JSON: "..." quotes add 2.
	exact := strings.Repeat("a", 8) // encodes as 10 bytes with quotes
	cs := CompressingSerializer{Inner: inner, ThresholdBytes: 10}

	_, compressedAtThreshold, err := cs.EncodeEntry(exact)
	require.NoError(t, err)
	assert.False(t, compressedAtThreshold, "payload exactly at threshold must not be compressed")

	overThreshold := strings.Repeat("a", 9) // 11 bytes encoded
	_, compressedOverThreshold, err := cs.EncodeEntry(overThreshold)
	require.NoError(t, err)
	assert.True(t, compressedOverThreshold, "payload one byte over threshold must be compressed")
}

func TestCompressingSerializerRoundTrip(t *testing.T) {
	inner, err := New("json")
	require.NoError(t, err)
	cs := CompressingSerializer{Inner: inner, ThresholdBytes: 8}

	in := sample{LastPrice: 228.33, Symbol: "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"}
	payload, compressed, err := cs.EncodeEntry(in)
	require.NoError(t, err)
	require.True(t, compressed)
	assert.True(t, IsCompressed(payload))

	var out sample
	require.NoError(t, cs.Decode(payload, &out))
	assert.Equal(t, in, out)
}

func TestCompressingSerializerDecodesUncompressedTransparently(t *testing.T) {
	inner, err := New("json")
	require.NoError(t, err)
	cs := CompressingSerializer{Inner: inner, ThresholdBytes: 1 << 20}

	in := sample{LastPrice: 1, Symbol: "x"}
	payload, compressed, err := cs.EncodeEntry(in)
	require.NoError(t, err)
	require.False(t, compressed)

	var out sample
	require.NoError(t, cs.Decode(payload, &out))
	assert.Equal(t, in, out)
}
