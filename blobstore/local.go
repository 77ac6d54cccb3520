package blobstore

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	ifs "github.com/hupe1980/localvec/internal/fs"
)

// LocalStore keeps objects as files below a root directory.
type LocalStore struct {
	root string
	fsys ifs.FileSystem
}

// NewLocalStore creates a store rooted at dir. The directory is created on
// the first write.
func NewLocalStore(dir string) *LocalStore {
	return NewLocalStoreFS(dir, ifs.Default)
}

// NewLocalStoreFS creates a store on a custom file system.
func NewLocalStoreFS(dir string, fsys ifs.FileSystem) *LocalStore {
	return &LocalStore{root: dir, fsys: fsys}
}

// Root returns the store directory.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) path(name string) (string, error) {
	clean, err := CleanName(name)
	if err != nil {
		return "", err
	}

	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put writes data atomically.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := s.path(name)
	if err != nil {
		return err
	}

	return ifs.WriteFileAtomic(s.fsys, p, data, 0o640)
}

// Get reads a whole object.
func (s *LocalStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, err := s.path(name)
	if err != nil {
		return nil, err
	}

	data, err := ifs.ReadFile(s.fsys, p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}

	return data, err
}

// Delete removes an object file.
func (s *LocalStore) Delete(_ context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}

	if err := s.fsys.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

// List walks the root and returns slash-separated names matching prefix.
// Temporary files of in-flight writes are skipped.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string

	var walk func(dir, rel string) error

	walk = func(dir, rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		entries, err := s.fsys.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return err
		}

		for _, e := range entries {
			name := e.Name()
			if rel != "" {
				name = rel + "/" + name
			}

			if e.IsDir() {
				if err := walk(filepath.Join(dir, e.Name()), name); err != nil {
					return err
				}

				continue
			}

			if strings.HasSuffix(name, ".tmp") || !strings.HasPrefix(name, prefix) {
				continue
			}

			names = append(names, name)
		}

		return nil
	}

	if err := walk(s.root, ""); err != nil {
		return nil, err
	}

	slices.Sort(names)

	return names, nil
}
