package codec

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// Compressor is the pluggable second stage of the encode/decode pipeline.
// Both sides of a tier share the same configured Compressor; there is no
// in-band magic byte, so Decompress always routes to the algorithm the
// encoder used.
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Algorithm enumerates the supported compressor configurations.
type Algorithm string

const (
	AlgorithmNone   Algorithm = "none"
	AlgorithmGzip   Algorithm = "gzip"
	AlgorithmSnappy Algorithm = "snappy"
	AlgorithmLZ4    Algorithm = "lz4"
)

// NewCompressor builds the Compressor for the given algorithm. An unknown
// algorithm silently falls back to gzip, per spec.
func NewCompressor(alg Algorithm) Compressor {
	switch alg {
	case AlgorithmNone:
		return NoneCompressor{}
	case AlgorithmGzip:
		return GzipCompressor{}
	case AlgorithmSnappy:
		return SnappyCompressor{}
	case AlgorithmLZ4:
		return LZ4Compressor{}
	default:
		return GzipCompressor{}
	}
}

// NoneCompressor passes data through unchanged.
type NoneCompressor struct{}

func (NoneCompressor) Name() string                        { return "none" }
func (NoneCompressor) Compress(data []byte) ([]byte, error) { return data, nil }
func (NoneCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

// GzipCompressor wraps the standard library's gzip, used both as an
// explicit choice and as the fallback target for unrecognized algorithms.
type GzipCompressor struct{}

func (GzipCompressor) Name() string { return "gzip" }

func (GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (GzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// SnappyCompressor wraps github.com/golang/snappy's block format.
type SnappyCompressor struct{}

func (SnappyCompressor) Name() string { return "snappy" }

func (SnappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (SnappyCompressor) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

// LZ4Compressor wraps github.com/pierrec/lz4/v4's streaming format.
type LZ4Compressor struct{}

func (LZ4Compressor) Name() string { return "lz4" }

func (LZ4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}
