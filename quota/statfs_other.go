//go:build !(linux || darwin || freebsd || openbsd || netbsd || dragonfly)

package quota

func diskCapacity(string) (int64, error) { return 0, nil }
