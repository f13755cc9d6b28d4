package codec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression names.
const (
	NoCompression = "none"
	Gzip          = "gzip"
	Zstd          = "zstd"
	Snappy        = "snappy"
	S2            = "s2"
)

// Compressor compresses encoded payloads.
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

var compressors = map[string]Compressor{
	NoCompression: noneCompressor{},
	Gzip:          gzipCompressor{},
	Zstd:          &zstdCompressor{},
	Snappy:        snappyCompressor{},
	S2:            s2Compressor{},
}

// LookupCompression returns the compressor registered under name.
// Empty and "default" resolve to no compression.
func LookupCompression(name string) (Compressor, error) {
	if name == "" || name == Default {
		name = NoCompression
	}
	c, ok := compressors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, name)
	}
	return c, nil
}

type noneCompressor struct{}

func (noneCompressor) Name() string                           { return NoCompression }
func (noneCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noneCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

type gzipCompressor struct{}

func (gzipCompressor) Name() string { return Gzip }

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// zstdCompressor shares one encoder and decoder; both are safe for
// concurrent EncodeAll/DecodeAll calls.
type zstdCompressor struct {
	once    sync.Once
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	err     error
}

func (z *zstdCompressor) init() error {
	z.once.Do(func() {
		z.encoder, z.err = zstd.NewWriter(nil)
		if z.err != nil {
			return
		}
		z.decoder, z.err = zstd.NewReader(nil)
	})
	return z.err
}

func (z *zstdCompressor) Name() string { return Zstd }

func (z *zstdCompressor) Compress(data []byte) ([]byte, error) {
	if err := z.init(); err != nil {
		return nil, err
	}
	return z.encoder.EncodeAll(data, nil), nil
}

func (z *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	if err := z.init(); err != nil {
		return nil, err
	}
	return z.decoder.DecodeAll(data, nil)
}

type snappyCompressor struct{}

func (snappyCompressor) Name() string                           { return Snappy }
func (snappyCompressor) Compress(data []byte) ([]byte, error)   { return snappy.Encode(nil, data), nil }
func (snappyCompressor) Decompress(data []byte) ([]byte, error) { return snappy.Decode(nil, data) }

type s2Compressor struct{}

func (s2Compressor) Name() string                           { return S2 }
func (s2Compressor) Compress(data []byte) ([]byte, error)   { return s2.Encode(nil, data), nil }
func (s2Compressor) Decompress(data []byte) ([]byte, error) { return s2.Decode(nil, data) }
