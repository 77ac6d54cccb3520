package lock

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Compile time check to ensure File satisfies the Locker interface.
var _ Locker = (*File)(nil)

// FileOptions configures a File locker.
type FileOptions struct {
	// PollInterval is the delay between attempts on a held lock.
	PollInterval time.Duration
}

// File locks keys with advisory locks on files in a directory. Every
// process that uses the same directory contends for the same keys.
type File struct {
	dir  string
	opts FileOptions

	// local serializes goroutines of this process first so the file lock
	// only arbitrates between processes.
	local Local

	once sync.Once
	err  error
}

// NewFile returns a File locker rooted at dir. The directory is created on
// first use.
func NewFile(dir string, optFns ...func(o *FileOptions)) *File {
	opts := FileOptions{PollInterval: 10 * time.Millisecond}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Millisecond
	}

	return &File{dir: dir, opts: opts}
}

// Dir returns the lock directory.
func (f *File) Dir() string { return f.dir }

// Path returns the lock file used for key.
func (f *File) Path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+".lock")
}

// Lock acquires key.
func (f *File) Lock(ctx context.Context, key string) (func(), error) {
	f.once.Do(func() {
		f.err = os.MkdirAll(f.dir, 0o750)
	})

	if f.err != nil {
		return nil, fmt.Errorf("lock: create directory: %w", f.err)
	}

	unlockLocal, err := f.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(f.Path(key), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		unlockLocal()
		return nil, fmt.Errorf("lock: open %s: %w", f.Path(key), err)
	}

	ticker := time.NewTicker(f.opts.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := tryLock(file)
		if err != nil {
			_ = file.Close()
			unlockLocal()

			return nil, fmt.Errorf("lock: %s: %w", f.Path(key), err)
		}

		if ok {
			break
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			_ = file.Close()
			unlockLocal()

			return nil, timeout(ctx, key)
		}
	}

	var once sync.Once

	return func() {
		once.Do(func() {
			_ = unlockFile(file)
			_ = file.Close()
			unlockLocal()
		})
	}, nil
}
