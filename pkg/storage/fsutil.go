package storage

import (
	"errors"
	"os"
	"runtime"
	"syscall"
)

// SyncDir flushes a directory's entries to disk so a rename inside it
// survives a crash. Put and the sidecar store call it after every rename.
// Platforms and filesystems that cannot sync a directory (Windows, tmpfs
// returning EINVAL, mounts returning ENOTSUP) count as already durable.
func SyncDir(dir string) error {
	if dir == "" || runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil &&
		!errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTSUP) {
		return err
	}
	return nil
}
