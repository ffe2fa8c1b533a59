package crypto

import (
	"encoding/base64"

	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/authstoreerr"
)

// Normalize accepts a binary field in any of the shapes it may arrive in
// from the cold tier — a native []byte, a tagged-sum map as produced by
// the codec ({"type":"Buffer","data":[...]}), a []interface{} of numeric
// byte values, or a base64 string — and returns a raw byte slice.
// Anything else fails with an EncryptionError naming the field.
func Normalize(value interface{}, fieldName string) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, authstoreerr.NewEncryptionError("NORMALIZE_FAILED", "field "+fieldName+" is not valid base64").WithCause(err)
		}
		return decoded, nil
	case []interface{}:
		out := make([]byte, len(v))
		for i, item := range v {
			f, ok := item.(float64)
			if !ok {
				return nil, authstoreerr.NewEncryptionError("NORMALIZE_FAILED", "field "+fieldName+" contains a non-numeric byte")
			}
			out[i] = byte(f)
		}
		return out, nil
	case map[string]interface{}:
		typ, _ := v["type"].(string)
		if typ != "Buffer" {
			return nil, authstoreerr.NewEncryptionError("NORMALIZE_FAILED", "field "+fieldName+" has an unrecognized tagged shape")
		}
		data, ok := v["data"].([]interface{})
		if !ok {
			return nil, authstoreerr.NewEncryptionError("NORMALIZE_FAILED", "field "+fieldName+" Buffer tag is missing data")
		}
		return Normalize(data, fieldName)
	default:
		return nil, authstoreerr.NewEncryptionError("NORMALIZE_FAILED", "field "+fieldName+" has an unrecognized binary shape")
	}
}
