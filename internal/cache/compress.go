package cache

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

// compressor gzips cached bodies above a size threshold.
type compressor struct {
	minSize int
	level   int
}

// newCompressor creates a compressor. Levels outside [BestSpeed,
// BestCompression] fall back to the default.
func newCompressor(minSize, level int) *compressor {
	if level < gzip.BestSpeed || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	if minSize <= 0 {
		minSize = 1024
	}
	return &compressor{minSize: minSize, level: level}
}

// Compress gzips the body. Returns the compressed bytes and true only
// when the body meets the threshold and actually shrank; otherwise the
// original bytes and false.
func (c *compressor) Compress(body []byte) ([]byte, bool) {
	if len(body) < c.minSize {
		return body, false
	}

	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return body, false
	}
	if _, err := w.Write(body); err != nil {
		return body, false
	}
	if err := w.Close(); err != nil {
		return body, false
	}

	if buf.Len() >= len(body) {
		return body, false
	}
	return buf.Bytes(), true
}

// Decompress reverses Compress.
func (c *compressor) Decompress(body []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
