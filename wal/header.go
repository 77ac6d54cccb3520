package wal

import (
	"encoding/binary"
	"fmt"
	"io"
)

var (
	walMagic         = [4]byte{'L', 'V', 'W', '1'}
	walHeaderVersion = uint16(1)
	walHeaderLen     = 16
)

const flagCompressed = 1

type walHeader struct {
	Compressed bool
}

func encodeHeader(h walHeader) []byte {
	buf := make([]byte, walHeaderLen)
	copy(buf, walMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], walHeaderVersion)

	var flags uint16
	if h.Compressed {
		flags |= flagCompressed
	}

	binary.LittleEndian.PutUint16(buf[6:8], flags)
	// buf[8:16] reserved

	return buf
}

func readHeader(r io.Reader) (walHeader, error) {
	buf := make([]byte, walHeaderLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return walHeader{}, fmt.Errorf("read WAL header: %w", err)
	}

	if [4]byte(buf[:4]) != walMagic {
		return walHeader{}, fmt.Errorf("unsupported WAL format: invalid header magic")
	}

	if v := binary.LittleEndian.Uint16(buf[4:6]); v != walHeaderVersion {
		return walHeader{}, fmt.Errorf("unsupported WAL header version: %d", v)
	}

	flags := binary.LittleEndian.Uint16(buf[6:8])

	return walHeader{Compressed: flags&flagCompressed != 0}, nil
}
