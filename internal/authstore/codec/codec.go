// Package codec provides the deterministic, self-delimiting serialization
// used for everything written to either storage tier: a canonical textual
// form with lexicographically ordered map keys (so structurally equal
// values always produce byte-identical output), binary blobs tagged as a
// recoverable sum type under arbitrary nesting, and an optional
// compression pass.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/authstoreerr"
)

// maxRevivalDepth bounds recursion while tagging/reviving nested values.
// Real session-state trees (key records nested a few levels inside a
// per-type map) never come close to this; it exists only to fail fast on
// an accidentally cyclic Go value instead of recursing forever.
const maxRevivalDepth = 512

// bufferTag is the canonical shape a binary blob takes in the textual
// form: {"type":"Buffer","data":[...byte ints...]}.
const bufferTag = "Buffer"

// Codec encodes and decodes arbitrary structured values, with compression
// applied between the canonical textual form and the returned bytes.
type Codec struct {
	compressor Compressor
}

// New builds a Codec around the given compressor. A nil compressor is
// treated as NoneCompressor{}.
func New(compressor Compressor) *Codec {
	if compressor == nil {
		compressor = NoneCompressor{}
	}
	return &Codec{compressor: compressor}
}

// Encode converts value into a self-delimiting byte sequence: canonical
// JSON text (with binary blobs tagged) followed by optional compression.
func (c *Codec) Encode(value interface{}) ([]byte, error) {
	tagged, err := tagBuffers(value, 0)
	if err != nil {
		return nil, authstoreerr.NewCompressionError("encode: cannot serialize value").WithCause(err)
	}

	text, err := json.Marshal(tagged)
	if err != nil {
		return nil, authstoreerr.NewCompressionError("encode: canonical marshal failed").WithCause(err)
	}

	out, err := c.compressor.Compress(text)
	if err != nil {
		return nil, authstoreerr.NewCompressionError("encode: compression failed").WithCause(err)
	}
	return out, nil
}

// Decode inverts Encode: decompress, parse the canonical text, and
// recursively revive any {"type":"Buffer","data":[...]} node into a
// native []byte. Revival is a single recursive pass over arrays and
// nested maps so a buffer nested arbitrarily deep inside a key record
// still comes back as a real byte slice.
func (c *Codec) Decode(data []byte) (interface{}, error) {
	text, err := c.compressor.Decompress(data)
	if err != nil {
		return nil, authstoreerr.NewCompressionError("decode: decompression failed").WithCause(err)
	}

	var generic interface{}
	if err := json.Unmarshal(text, &generic); err != nil {
		return nil, authstoreerr.NewCompressionError("decode: malformed bytes").WithCause(err)
	}

	revived, err := reviveBuffers(generic, 0)
	if err != nil {
		return nil, authstoreerr.NewCompressionError("decode: revival failed").WithCause(err)
	}
	return revived, nil
}

// Stats reports the configured compressor and whether it is active.
func (c *Codec) Stats() (name string, enabled bool) {
	return c.compressor.Name(), c.compressor.Name() != "none"
}

// TestCompressionRatio compresses sample and reports output/input size,
// for diagnostics only.
func (c *Codec) TestCompressionRatio(sample []byte) (float64, error) {
	out, err := c.compressor.Compress(sample)
	if err != nil {
		return 0, err
	}
	if len(sample) == 0 {
		return 1, nil
	}
	return float64(len(out)) / float64(len(sample)), nil
}

// tagBuffers walks value recursively, replacing every []byte leaf with the
// canonical tagged-sum shape so that json.Marshal's key sorting (Go sorts
// map[string]interface{} keys lexicographically by default) gives us
// canonical ordering for free.
func tagBuffers(value interface{}, depth int) (interface{}, error) {
	if depth > maxRevivalDepth {
		return nil, fmt.Errorf("value nesting exceeds %d levels (possible cycle)", maxRevivalDepth)
	}

	switch v := value.(type) {
	case nil, bool, string, float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return v, nil
	case []byte:
		data := make([]interface{}, len(v))
		for i, b := range v {
			data[i] = int(b)
		}
		return map[string]interface{}{"type": bufferTag, "data": data}, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			tagged, err := tagBuffers(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = tagged
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			tagged, err := tagBuffers(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = tagged
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %T", value)
	}
}

// reviveBuffers is the inverse walk: any map matching the tagged-buffer
// shape becomes a []byte; everything else is rewritten in place
// recursively so a revived buffer nested several levels deep is returned
// correctly.
func reviveBuffers(value interface{}, depth int) (interface{}, error) {
	if depth > maxRevivalDepth {
		return nil, fmt.Errorf("value nesting exceeds %d levels (possible cycle)", maxRevivalDepth)
	}

	switch v := value.(type) {
	case map[string]interface{}:
		if typ, ok := v["type"].(string); ok && typ == bufferTag {
			if data, ok := v["data"].([]interface{}); ok {
				out := make([]byte, len(data))
				for i, n := range data {
					f, ok := n.(float64)
					if !ok {
						return nil, fmt.Errorf("buffer tag data[%d] is not numeric", i)
					}
					out[i] = byte(f)
				}
				return out, nil
			}
		}
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			revived, err := reviveBuffers(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = revived
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			revived, err := reviveBuffers(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = revived
		}
		return out, nil
	default:
		return v, nil
	}
}
