package compress

import (
	"bytes"
	"compress/flate"
	"compress/lzw"
	"io"

	"github.com/pkg/errors"
)

// LZW is a Compressor using Lempel-Ziv-Welch compression.
type LZW struct {
	Order lzw.Order
}

func (l LZW) Compress(inp []byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	w := lzw.NewWriter(buf, l.Order, 8)
	if _, err := w.Write(inp); err != nil {
		return nil, errors.Wrap(err, "lzw compressing")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "lzw compressing")
	}
	return buf.Bytes(), nil
}

func (l LZW) Uncompress(inp []byte) ([]byte, error) {
	r := lzw.NewReader(bytes.NewReader(inp), l.Order, 8)
	defer r.Close()
	out, err := io.ReadAll(r)
	return out, errors.Wrap(err, "lzw uncompressing")
}

// Flate is a Compressor using DEFLATE.
// Level is as in compress/flate;
// out-of-range values mean flate.DefaultCompression.
type Flate struct {
	Level int
}

func (f Flate) Compress(inp []byte) ([]byte, error) {
	level := f.Level
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		level = flate.DefaultCompression
	}
	buf := new(bytes.Buffer)
	w, err := flate.NewWriter(buf, level)
	if err != nil {
		return nil, errors.Wrap(err, "creating flate writer")
	}
	if _, err = w.Write(inp); err != nil {
		return nil, errors.Wrap(err, "flate compressing")
	}
	if err = w.Close(); err != nil {
		return nil, errors.Wrap(err, "flate compressing")
	}
	return buf.Bytes(), nil
}

func (f Flate) Uncompress(inp []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(inp))
	defer r.Close()
	out, err := io.ReadAll(r)
	return out, errors.Wrap(err, "flate uncompressing")
}
