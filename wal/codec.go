package wal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Frame layout: [kind:1][len:4][crc32:4][body:len]
// A begin body is a msgpack Entry (optionally zstd compressed); a commit
// body is the committed sequence number.
const (
	frameBegin  byte = 1
	frameCommit byte = 2

	frameHeaderLen = 9
	maxFrameBody   = 256 << 20
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

var errTornFrame = errors.New("wal: torn or corrupt frame")

type frameCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newFrameCodec(compressed bool) (*frameCodec, error) {
	if !compressed {
		return &frameCodec{}, nil
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("failed to create decompressor: %w", err)
	}

	return &frameCodec{enc: enc, dec: dec}, nil
}

func (c *frameCodec) close() {
	if c.enc != nil {
		_ = c.enc.Close()
	}

	if c.dec != nil {
		c.dec.Close()
	}
}

func (c *frameCodec) encodeBegin(e *Entry) ([]byte, error) {
	body, err := msgpack.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode WAL entry: %w", err)
	}

	if c.enc != nil {
		body = c.enc.EncodeAll(body, nil)
	}

	return frame(frameBegin, body), nil
}

func (c *frameCodec) encodeCommit(seq uint64) []byte {
	var body [8]byte
	binary.LittleEndian.PutUint64(body[:], seq)

	return frame(frameCommit, body[:])
}

func frame(kind byte, body []byte) []byte {
	buf := make([]byte, frameHeaderLen+len(body))
	buf[0] = kind
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(body))) //nolint:gosec
	binary.LittleEndian.PutUint32(buf[5:9], crc32.Checksum(body, crcTable))
	copy(buf[frameHeaderLen:], body)

	return buf
}

// scan reads frames until EOF or the first torn frame. It returns the number
// of bytes consumed by valid frames.
func (c *frameCodec) scan(r io.Reader, onBegin func(Entry), onCommit func(uint64)) (int64, error) {
	br := bufio.NewReader(r)

	var (
		consumed int64
		hdr      [frameHeaderLen]byte
	)

	for {
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return consumed, nil
			}

			return consumed, err
		}

		size := binary.LittleEndian.Uint32(hdr[1:5])
		if size > maxFrameBody {
			return consumed, nil
		}

		body := make([]byte, size)
		if _, err := io.ReadFull(br, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return consumed, nil
			}

			return consumed, err
		}

		if crc32.Checksum(body, crcTable) != binary.LittleEndian.Uint32(hdr[5:9]) {
			return consumed, nil
		}

		switch hdr[0] {
		case frameBegin:
			e, err := c.decodeBegin(body)
			if err != nil {
				return consumed, nil
			}

			onBegin(e)
		case frameCommit:
			if len(body) != 8 {
				return consumed, nil
			}

			onCommit(binary.LittleEndian.Uint64(body))
		default:
			return consumed, nil
		}

		consumed += int64(frameHeaderLen) + int64(size)
	}
}

func (c *frameCodec) decodeBegin(body []byte) (Entry, error) {
	if c.dec != nil {
		raw, err := c.dec.DecodeAll(body, nil)
		if err != nil {
			return Entry{}, errTornFrame
		}

		body = raw
	}

	dec := msgpack.NewDecoder(bytes.NewReader(body))
	dec.UseLooseInterfaceDecoding(true)

	var e Entry
	if err := dec.Decode(&e); err != nil {
		return Entry{}, errTornFrame
	}

	return e, nil
}
