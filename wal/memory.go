package wal

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// Compile time check to ensure Memory satisfies the Log interface.
var _ Log = (*Memory)(nil)

// Memory is a volatile Log for tests and in-memory backends.
type Memory struct {
	mu      sync.Mutex
	seq     uint64
	records []Record
	closed  bool
	now     func() time.Time
}

// NewMemory returns an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

// Begin records e and returns its sequence number.
func (m *Memory) Begin(_ context.Context, e Entry) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	m.seq++
	e.Seq = m.seq
	e.Vector = slices.Clone(e.Vector)
	e.Metadata = maps.Clone(e.Metadata)

	if e.Timestamp.IsZero() {
		e.Timestamp = m.now()
	}

	m.records = append(m.records, Record{Entry: e})

	return e.Seq, nil
}

// Commit marks seq as completed.
func (m *Memory) Commit(_ context.Context, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	for i := range m.records {
		if m.records[i].Seq == seq && !m.records[i].Committed {
			m.records[i].Committed = true
			return nil
		}
	}

	return fmt.Errorf("%w: %d", ErrUnknownSequence, seq)
}

// Pending returns a copy of every record since the last checkpoint.
func (m *Memory) Pending(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	return slices.Clone(m.records), nil
}

// Checkpoint drops every record.
func (m *Memory) Checkpoint(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.records = nil

	return nil
}

// Reopen makes a closed log usable again while keeping its records, the
// way a durable log survives a restart.
func (m *Memory) Reopen() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = false
}

// Close marks the log closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return nil
}
