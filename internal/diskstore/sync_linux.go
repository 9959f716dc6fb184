//go:build linux

package diskstore

import (
	"os"

	"golang.org/x/sys/unix"
)

// datasync flushes file data without forcing a metadata (mtime) write,
// which is measurably cheaper than Sync on ext4/xfs for append workloads.
func datasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
