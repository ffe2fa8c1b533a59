package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodec_EncodeDecode_RoundTripsNestedBuffers(t *testing.T) {
	c := New(NoneCompressor{})

	value := map[string]interface{}{
		"creds": map[string]interface{}{
			"noiseKey": []byte{0x01, 0x02, 0x03},
		},
		"keys": map[string]interface{}{
			"pre-key": map[string]interface{}{
				"1": map[string]interface{}{
					"public": []byte("pubkey-bytes"),
				},
			},
		},
	}

	encoded, err := c.Encode(value)
	require.NoError(t, err)

	decoded, err := c.Decode(encoded)
	require.NoError(t, err)

	top, ok := decoded.(map[string]interface{})
	require.True(t, ok)
	creds, ok := top["creds"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, creds["noiseKey"])

	keys := top["keys"].(map[string]interface{})
	preKey := keys["pre-key"].(map[string]interface{})
	rec := preKey["1"].(map[string]interface{})
	require.Equal(t, []byte("pubkey-bytes"), rec["public"])
}

func TestCodec_Encode_DeterministicAcrossMapKeyOrder(t *testing.T) {
	c := New(NoneCompressor{})

	a := map[string]interface{}{"b": 1.0, "a": 2.0, "c": 3.0}
	b := map[string]interface{}{"c": 3.0, "a": 2.0, "b": 1.0}

	encA, err := c.Encode(a)
	require.NoError(t, err)
	encB, err := c.Encode(b)
	require.NoError(t, err)
	require.Equal(t, encA, encB)
}

func TestCodec_Encode_RejectsUnsupportedType(t *testing.T) {
	c := New(NoneCompressor{})

	_, err := c.Encode(map[string]interface{}{"bad": make(chan int)})
	require.Error(t, err)
}

func TestCodec_Decode_RejectsMalformedBytes(t *testing.T) {
	c := New(NoneCompressor{})

	_, err := c.Decode([]byte("not json"))
	require.Error(t, err)
}

func TestCodec_RoundTripsThroughEachCompressor(t *testing.T) {
	value := map[string]interface{}{"hello": "world", "payload": []byte("some binary content, repeated some binary content")}

	for _, alg := range []Algorithm{AlgorithmNone, AlgorithmGzip, AlgorithmSnappy, AlgorithmLZ4} {
		alg := alg
		t.Run(string(alg), func(t *testing.T) {
			c := New(NewCompressor(alg))

			encoded, err := c.Encode(value)
			require.NoError(t, err)

			decoded, err := c.Decode(encoded)
			require.NoError(t, err)

			top := decoded.(map[string]interface{})
			require.Equal(t, "world", top["hello"])
			require.Equal(t, []byte("some binary content, repeated some binary content"), top["payload"])
		})
	}
}

func TestCodec_Stats_ReportsCompressorName(t *testing.T) {
	c := New(NewCompressor(AlgorithmSnappy))
	name, enabled := c.Stats()
	require.Equal(t, "snappy", name)
	require.True(t, enabled)

	none := New(NoneCompressor{})
	name, enabled = none.Stats()
	require.Equal(t, "none", name)
	require.False(t, enabled)
}

func TestNewCompressor_UnknownAlgorithmFallsBackToGzip(t *testing.T) {
	c := NewCompressor(Algorithm("bogus"))
	require.Equal(t, "gzip", c.Name())
}
