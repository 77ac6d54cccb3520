//go:build linux || darwin || freebsd || openbsd || netbsd || dragonfly

package quota

import "golang.org/x/sys/unix"

func diskCapacity(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}

	return int64(st.Blocks) * int64(st.Bsize), nil
}
