package wal

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hupe1980/localvec/internal/fs"
)

// Compile time check to ensure File satisfies the Log interface.
var _ Log = (*File)(nil)

// File is an append-only, file backed Log.
type File struct {
	mu      sync.Mutex
	fs      fs.FileSystem
	file    fs.File
	path    string
	opts    Options
	codec   *frameCodec
	size    int64
	seq     uint64
	open    map[uint64]struct{}
	records int
	closed  bool
}

// Open opens or creates the log at path. A torn tail left by a crash is
// discarded.
func Open(path string, optFns ...func(o *Options)) (*File, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.FS == nil {
		opts.FS = fs.Default
	}

	if err := opts.FS.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	f, err := opts.FS.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	w := &File{
		fs:   opts.FS,
		file: f,
		path: path,
		opts: opts,
		open: make(map[uint64]struct{}),
	}

	if err := w.init(); err != nil {
		_ = f.Close()
		return nil, err
	}

	return w, nil
}

func (w *File) init() error {
	st, err := w.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat WAL file: %w", err)
	}

	if st.Size() == 0 {
		return w.writeHeader(w.opts.Compress)
	}

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	hdr, err := readHeader(w.file)
	if err != nil {
		return err
	}

	w.codec, err = newFrameCodec(hdr.Compressed)
	if err != nil {
		return err
	}

	consumed, err := w.codec.scan(w.file, func(e Entry) {
		w.seq = max(w.seq, e.Seq)
		w.open[e.Seq] = struct{}{}
		w.records++
	}, func(seq uint64) {
		delete(w.open, seq)
	})
	if err != nil {
		return fmt.Errorf("failed to scan WAL: %w", err)
	}

	w.size = int64(walHeaderLen) + consumed

	if w.size < st.Size() {
		// Drop the torn tail so new frames follow the last valid one.
		if err := w.fs.Truncate(w.path, w.size); err != nil {
			return fmt.Errorf("failed to truncate torn WAL tail: %w", err)
		}
	}

	_, err = w.file.Seek(w.size, io.SeekStart)

	return err
}

func (w *File) writeHeader(compressed bool) error {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	if _, err := w.file.Write(encodeHeader(walHeader{Compressed: compressed})); err != nil {
		return fmt.Errorf("failed to write WAL header: %w", err)
	}

	if w.codec == nil {
		c, err := newFrameCodec(compressed)
		if err != nil {
			return err
		}

		w.codec = c
	}

	w.size = int64(walHeaderLen)

	return w.sync()
}

func (w *File) sync() error {
	if w.opts.DurabilityMode == DurabilityAsync {
		return nil
	}

	return w.file.Sync()
}

func (w *File) append(buf []byte) error {
	n, err := w.file.Write(buf)
	if err != nil {
		if n > 0 {
			// Best effort rollback of a partial frame.
			_ = w.fs.Truncate(w.path, w.size)
			_, _ = w.file.Seek(w.size, io.SeekStart)
		}

		return fmt.Errorf("failed to append WAL frame: %w", err)
	}

	w.size += int64(n)

	return w.sync()
}

// Path returns the path of the log file.
func (w *File) Path() string { return w.path }

// Begin records e and returns its sequence number.
func (w *File) Begin(_ context.Context, e Entry) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrClosed
	}

	e.Seq = w.seq + 1
	if e.Timestamp.IsZero() && w.opts.Now != nil {
		e.Timestamp = w.opts.Now()
	}

	buf, err := w.codec.encodeBegin(&e)
	if err != nil {
		return 0, err
	}

	if err := w.append(buf); err != nil {
		return 0, err
	}

	w.seq = e.Seq
	w.open[e.Seq] = struct{}{}
	w.records++

	return e.Seq, nil
}

// Commit marks seq as completed.
func (w *File) Commit(_ context.Context, seq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	if _, ok := w.open[seq]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSequence, seq)
	}

	if err := w.append(w.codec.encodeCommit(seq)); err != nil {
		return err
	}

	delete(w.open, seq)

	return nil
}

// Pending reads back every record since the last checkpoint.
func (w *File) Pending(_ context.Context) ([]Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrClosed
	}

	if _, err := w.file.Seek(int64(walHeaderLen), io.SeekStart); err != nil {
		return nil, err
	}

	defer func() { _, _ = w.file.Seek(w.size, io.SeekStart) }()

	var (
		records   []Record
		committed = make(map[uint64]bool)
	)

	_, err := w.codec.scan(io.LimitReader(w.file, w.size-int64(walHeaderLen)), func(e Entry) {
		records = append(records, Record{Entry: e})
	}, func(seq uint64) {
		committed[seq] = true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL: %w", err)
	}

	for i := range records {
		records[i].Committed = committed[records[i].Seq]
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	return records, nil
}

// Len returns the number of records since the last checkpoint.
func (w *File) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.records
}

// Checkpoint truncates the log.
func (w *File) Checkpoint(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	if err := w.fs.Truncate(w.path, int64(walHeaderLen)); err != nil {
		return fmt.Errorf("failed to truncate WAL file: %w", err)
	}

	if _, err := w.file.Seek(int64(walHeaderLen), io.SeekStart); err != nil {
		return err
	}

	w.size = int64(walHeaderLen)
	w.open = make(map[uint64]struct{})
	w.records = 0

	// Checkpoint is an explicit durability boundary.
	return w.file.Sync()
}

// Close closes the WAL file. Close is idempotent.
func (w *File) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	w.codec.close()

	return w.file.Close()
}
