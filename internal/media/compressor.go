package media

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// Compressor wraps the deflate-family codec applied to each encoded frame
// before chunking, per the streaming algorithm. klauspost/compress's flate
// implementation is a drop-in, faster reimplementation of compress/flate.
type Compressor struct {
	Level int
}

// NewCompressor builds a Compressor at the given deflate level
// (flate.HuffmanOnly..flate.BestCompression); any other level falls back to
// flate.DefaultCompression.
func NewCompressor(level int) *Compressor {
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		level = flate.DefaultCompression
	}
	return &Compressor{Level: level}
}

// Compress deflates data.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, c.Level)
	if err != nil {
		return nil, fmt.Errorf("media: creating flate writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("media: compressing: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("media: closing flate writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress inflates data produced by Compress.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("media: decompressing: %w", err)
	}
	return out, nil
}
