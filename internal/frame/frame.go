// Package frame implements the length-prefixed wire framing every substream
// uses to carry a request or response body: a 4-byte big-endian header
// encoding a compression flag, an algorithm selector, and a body length,
// followed by the (possibly compressed) body itself.
package frame

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algo identifies the compression algorithm a frame's body was encoded with.
type Algo uint8

const (
	AlgoGzip Algo = 0
	AlgoLZ4  Algo = 1
	AlgoZstd Algo = 2
)

const (
	compressedBit = 1 << 31
	algoShift     = 28
	algoMask      = 0x7
	lenMask       = 0x0FFFFFFF

	// MaxBodyLen is the largest decoded body length the 28-bit LEN field can
	// address.
	MaxBodyLen = lenMask

	// HeaderSize is the fixed byte length of a frame header.
	HeaderSize = 4

	// DefaultCompressionThreshold is sized so an uncompressed frame fits a
	// typical MTU; bodies longer than it are compressed before framing.
	DefaultCompressionThreshold = 1436
)

var (
	ErrFrameTooLarge       = errors.New("frame: body exceeds maximum frame length")
	ErrUnexpectedEOF       = errors.New("frame: unexpected eof reading frame")
	ErrInvalidHeader       = errors.New("frame: invalid header")
	ErrDecompressionFailed = errors.New("frame: decompression failed")
)

// ParseAlgo maps a configuration name onto its Algo code.
func ParseAlgo(name string) (Algo, error) {
	switch name {
	case "", "gzip":
		return AlgoGzip, nil
	case "lz4":
		return AlgoLZ4, nil
	case "zstd":
		return AlgoZstd, nil
	default:
		return 0, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidHeader, name)
	}
}

// Codec encodes and decodes frames using a configurable compression
// threshold and default algorithm.
type Codec struct {
	Threshold int
	Algorithm Algo
}

// NewCodec builds a Codec with the default threshold and gzip as the
// default algorithm (gzip needs no external dependency and is always
// available as a fallback decoder).
func NewCodec() *Codec {
	return &Codec{Threshold: DefaultCompressionThreshold, Algorithm: AlgoGzip}
}

// Encode frames body, compressing it with the codec's algorithm when body is
// longer than Threshold bytes.
func (c *Codec) Encode(body []byte) ([]byte, error) {
	if len(body) > MaxBodyLen {
		return nil, ErrFrameTooLarge
	}

	if len(body) <= c.Threshold {
		return packFrame(false, 0, body), nil
	}

	compressed, err := compress(c.Algorithm, body)
	if err != nil {
		return nil, err
	}
	if len(compressed) > MaxBodyLen {
		return nil, ErrFrameTooLarge
	}
	return packFrame(true, c.Algorithm, compressed), nil
}

// Decode reads exactly one frame from r and returns its decoded body.
func Decode(r io.Reader) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrUnexpectedEOF
		}
		return nil, err
	}

	header := uint32(hdr[0])<<24 | uint32(hdr[1])<<16 | uint32(hdr[2])<<8 | uint32(hdr[3])
	compressed := header&compressedBit != 0
	algo := Algo((header >> algoShift) & algoMask)
	bodyLen := header & lenMask

	if algo > AlgoZstd {
		return nil, ErrInvalidHeader
	}

	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return nil, ErrUnexpectedEOF
			}
			return nil, err
		}
	}

	if !compressed {
		return body, nil
	}

	decoded, err := decompress(algo, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
	}
	return decoded, nil
}

func packFrame(compressed bool, algo Algo, body []byte) []byte {
	header := uint32(len(body)) & lenMask
	if compressed {
		header |= compressedBit
		header |= uint32(algo&algoMask) << algoShift
	}

	out := make([]byte, HeaderSize+len(body))
	out[0] = byte(header >> 24)
	out[1] = byte(header >> 16)
	out[2] = byte(header >> 8)
	out[3] = byte(header)
	copy(out[HeaderSize:], body)
	return out
}

func compress(algo Algo, body []byte) ([]byte, error) {
	switch algo {
	case AlgoGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case AlgoLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case AlgoZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(body, nil), nil
	default:
		return nil, ErrInvalidHeader
	}
}

func decompress(algo Algo, body []byte) ([]byte, error) {
	switch algo {
	case AlgoGzip:
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(io.LimitReader(r, MaxBodyLen+1))
	case AlgoLZ4:
		r := lz4.NewReader(bytes.NewReader(body))
		return io.ReadAll(io.LimitReader(r, MaxBodyLen+1))
	case AlgoZstd:
		dec, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return io.ReadAll(io.LimitReader(dec, MaxBodyLen+1))
	default:
		return nil, ErrInvalidHeader
	}
}
