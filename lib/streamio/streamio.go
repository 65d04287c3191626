// Package streamio stores codec streams in files, optionally compressed with
// lz4 or zstd. Readers detect the compression from the frame magic, so a
// file can be opened without knowing how it was written.
package streamio

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	dlog "github.com/lni/dragonboat/v4/logger"
	"github.com/pierrec/lz4/v4"
)

var logger = dlog.GetLogger("streamio")

// Compression identifies the compression of a stream file
type Compression uint8

const (
	// CompressionNone stores the codec stream as is
	CompressionNone Compression = iota
	// CompressionLZ4 wraps the stream in an lz4 frame (fast)
	CompressionLZ4
	// CompressionZstd wraps the stream in a zstd frame (smaller)
	CompressionZstd
)

// frame magics as they appear at the start of a file
var (
	lz4Magic  = []byte{0x04, 0x22, 0x4D, 0x18}
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
)

// String returns the human-readable name of a compression.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression from its name
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

// --------------------------------------------------------------------------
// Writing
// --------------------------------------------------------------------------

// nopWriteCloser turns an io.Writer into an io.WriteCloser
type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewWriter wraps w in a compressor. Close flushes the compressor but leaves
// w open.
func NewWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("unsupported compression: %s", c)
	}
}

// fileWriter closes the compressor before the file
type fileWriter struct {
	io.WriteCloser
	file *os.File
}

func (w *fileWriter) Close() error {
	err := w.WriteCloser.Close()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Create creates (or truncates) the file at path and returns a writer that
// compresses everything written to it. Closing the writer closes the file.
func Create(path string, c Compression) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, c)
	if err != nil {
		f.Close()
		return nil, err
	}
	logger.Debugf("created %s (compression=%s)", path, c)
	return &fileWriter{WriteCloser: w, file: f}, nil
}

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

// Detect returns the compression a stream starts with
func Detect(head []byte) Compression {
	switch {
	case bytes.HasPrefix(head, lz4Magic):
		return CompressionLZ4
	case bytes.HasPrefix(head, zstdMagic):
		return CompressionZstd
	default:
		return CompressionNone
	}
}

// reader releases the decompressor on Close
type reader struct {
	io.Reader
	release func()
}

func (r *reader) Close() error {
	if r.release != nil {
		r.release()
		r.release = nil
	}
	return nil
}

// NewReader detects the compression of r and returns a reader of the
// decompressed stream. Close releases the decompressor but leaves r open.
func NewReader(r io.Reader) (io.ReadCloser, Compression, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, CompressionNone, err
	}

	c := Detect(head)
	switch c {
	case CompressionLZ4:
		return &reader{Reader: lz4.NewReader(br)}, c, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, c, fmt.Errorf("zstd reader: %w", err)
		}
		return &reader{Reader: dec, release: dec.Close}, c, nil
	default:
		return &reader{Reader: br}, c, nil
	}
}

// fileReader closes the decompressor before the file
type fileReader struct {
	io.ReadCloser
	file *os.File
}

func (r *fileReader) Close() error {
	err := r.ReadCloser.Close()
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Open opens the stream file at path and returns a reader of the
// decompressed stream and the detected compression. Closing the reader
// closes the file.
func Open(path string) (io.ReadCloser, Compression, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, CompressionNone, err
	}
	r, c, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, c, err
	}
	logger.Debugf("opened %s (compression=%s)", path, c)
	return &fileReader{ReadCloser: r, file: f}, c, nil
}
