//go:build !unix

package lock

import (
	"errors"
	"os"
)

// Without flock the lock file itself is the lock: it is created
// exclusively next to the opened handle and removed on unlock.
func tryLock(f *os.File) (bool, error) {
	h, err := os.OpenFile(f.Name()+".held", os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, h.Close()
}

func unlockFile(f *os.File) error {
	return os.Remove(f.Name() + ".held")
}
