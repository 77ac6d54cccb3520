package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies a compression algorithm.
type Compression uint8

const (
	// CompressionNone stores bytes as they are.
	CompressionNone Compression = 0
	// CompressionLZ4 is LZ4 block compression (fast).
	CompressionLZ4 Compression = 1
	// CompressionZstd is Zstandard (better ratio).
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression resolves a compression name.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unsupported compression: %q", s)
	}
}

// envelope: magic(3) | algorithm(1) | uvarint(raw size) | payload
var magic = []byte{'L', 'V', 'C'}

// ErrCorrupt is returned when an envelope cannot be decoded.
var ErrCorrupt = errors.New("codec: corrupt compressed payload")

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}

		zstdDec, zstdErr = zstd.NewReader(nil)
	})

	return zstdEnc, zstdDec, zstdErr
}

// Compress wraps data in a self-describing envelope. CompressionNone
// returns data unchanged.
func Compress(c Compression, data []byte) ([]byte, error) {
	if c == CompressionNone {
		return data, nil
	}

	header := make([]byte, len(magic)+1+binary.MaxVarintLen64)
	copy(header, magic)
	header[len(magic)] = byte(c)
	n := len(magic) + 1 + binary.PutUvarint(header[len(magic)+1:], uint64(len(data)))
	header = header[:n]

	switch c {
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))

		size, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("codec: lz4 compress: %w", err)
		}

		if size == 0 {
			// Incompressible input, keep it plain.
			return data, nil
		}

		return append(header, dst[:size]...), nil
	case CompressionZstd:
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, err
		}

		return enc.EncodeAll(data, header), nil
	default:
		return nil, fmt.Errorf("codec: unsupported compression %d", c)
	}
}

// IsCompressed reports whether data starts with a compression envelope.
func IsCompressed(data []byte) bool {
	return len(data) > len(magic) && bytes.Equal(data[:len(magic)], magic)
}

// Decompress unwraps an envelope written by Compress. Data without an
// envelope is returned unchanged.
func Decompress(data []byte) ([]byte, error) {
	if !IsCompressed(data) {
		return data, nil
	}

	alg := Compression(data[len(magic)])

	rawSize, n := binary.Uvarint(data[len(magic)+1:])
	if n <= 0 {
		return nil, ErrCorrupt
	}

	payload := data[len(magic)+1+n:]

	switch alg {
	case CompressionLZ4:
		dst := make([]byte, rawSize)

		size, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		if uint64(size) != rawSize {
			return nil, ErrCorrupt
		}

		return dst, nil
	case CompressionZstd:
		_, dec, err := zstdCodec()
		if err != nil {
			return nil, err
		}

		out, err := dec.DecodeAll(payload, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		if uint64(len(out)) != rawSize {
			return nil, ErrCorrupt
		}

		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %d", ErrCorrupt, alg)
	}
}
