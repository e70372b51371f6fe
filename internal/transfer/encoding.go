package transfer

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Encoding is the compression applied to archives sent into a container.
type Encoding string

const (
	// EncodingIdentity sends a plain tar stream.
	EncodingIdentity Encoding = "identity"

	// EncodingGzip sends a gzip-compressed tar stream.
	EncodingGzip Encoding = "gzip"

	// EncodingZstd sends a zstd-compressed tar stream.
	EncodingZstd Encoding = "zstd"
)

// String returns the string representation of Encoding.
func (e Encoding) String() string {
	return string(e)
}

// ParseEncoding converts a string to an Encoding. "none" and the empty
// string are accepted as aliases for identity.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", string(EncodingIdentity):
		return EncodingIdentity, nil
	case string(EncodingGzip):
		return EncodingGzip, nil
	case string(EncodingZstd):
		return EncodingZstd, nil
	default:
		return "", fmt.Errorf("invalid transfer encoding: %q (valid: identity, gzip, zstd)", s)
	}
}

// nopWriteCloser adapts the identity case to the compressor interface.
type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// compress wraps w with the encoder for e. Closing the returned writer
// flushes the compressor but does not close w.
func (e Encoding) compress(w io.Writer) (io.WriteCloser, error) {
	switch e {
	case "", EncodingIdentity:
		return nopWriteCloser{w}, nil
	case EncodingGzip:
		return gzip.NewWriter(w), nil
	case EncodingZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("unsupported transfer encoding %q", e)
	}
}
