// Package quota reports storage usage against a quota and raises warnings
// when usage crosses thresholds.
package quota

import (
	"context"
	"fmt"
	"sync"
)

// Source is the storage whose usage is measured. storage.Backend
// satisfies it.
type Source interface {
	EstimateSize(ctx context.Context) (int64, error)
	Persistent() bool
}

// Usage is a usage snapshot. Quota is zero when unknown.
type Usage struct {
	Used    int64   `json:"used"`
	Quota   int64   `json:"quota"`
	Percent float64 `json:"percentUsed"`
}

// Level classifies a usage snapshot.
type Level int

// Usage levels.
const (
	LevelOK Level = iota
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelOK:
		return "ok"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Options configures a Monitor.
type Options struct {
	// QuotaBytes is a fixed quota. When zero the capacity of the file
	// system holding Path is used.
	QuotaBytes int64

	// Path locates the file system for the capacity fallback.
	Path string

	// WarningPercent and CriticalPercent are the thresholds.
	WarningPercent  float64
	CriticalPercent float64

	// OnWarning and OnCritical run when usage rises into their level.
	OnWarning  func(Usage)
	OnCritical func(Usage)
}

// DefaultOptions are the default thresholds.
var DefaultOptions = Options{
	WarningPercent:  80,
	CriticalPercent: 95,
}

// Monitor measures a Source.
type Monitor struct {
	src  Source
	opts Options

	mu   sync.Mutex
	last Level
}

// NewMonitor returns a monitor for src.
func NewMonitor(src Source, optFns ...func(o *Options)) *Monitor {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.WarningPercent <= 0 {
		opts.WarningPercent = DefaultOptions.WarningPercent
	}

	if opts.CriticalPercent <= 0 {
		opts.CriticalPercent = DefaultOptions.CriticalPercent
	}

	return &Monitor{src: src, opts: opts}
}

// Usage returns the current usage.
func (m *Monitor) Usage(ctx context.Context) (Usage, error) {
	used, err := m.src.EstimateSize(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("quota: estimate size: %w", err)
	}

	u := Usage{Used: used, Quota: m.opts.QuotaBytes}

	if u.Quota == 0 && m.opts.Path != "" {
		capacity, err := diskCapacity(m.opts.Path)
		if err != nil {
			return Usage{}, fmt.Errorf("quota: stat file system: %w", err)
		}

		u.Quota = capacity
	}

	if u.Quota > 0 {
		u.Percent = float64(u.Used) / float64(u.Quota) * 100
	}

	return u, nil
}

// RequestPersistence reports whether the data is durable and will not be
// evicted.
func (m *Monitor) RequestPersistence(_ context.Context) (bool, error) {
	return m.src.Persistent(), nil
}

// Classify returns the level of u.
func (m *Monitor) Classify(u Usage) Level {
	switch {
	case u.Percent >= m.opts.CriticalPercent:
		return LevelCritical
	case u.Percent >= m.opts.WarningPercent:
		return LevelWarning
	default:
		return LevelOK
	}
}

// Check measures usage and runs the callback of a level usage just rose
// into. Staying in a level does not repeat the callback.
func (m *Monitor) Check(ctx context.Context) (Usage, Level, error) {
	u, err := m.Usage(ctx)
	if err != nil {
		return Usage{}, LevelOK, err
	}

	level := m.Classify(u)

	m.mu.Lock()
	rose := level > m.last
	m.last = level
	m.mu.Unlock()

	if rose {
		switch level {
		case LevelWarning:
			if m.opts.OnWarning != nil {
				m.opts.OnWarning(u)
			}
		case LevelCritical:
			if m.opts.OnCritical != nil {
				m.opts.OnCritical(u)
			}
		}
	}

	return u, level, nil
}
