package version

import "golang.org/x/sys/unix"

// msync flushes a record's mmap'd pages to disk synchronously, called by
// Finalize so a version record's terminator and hash are durable before
// the backup driver records the path → UUID link that makes it reachable.
func msync(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Msync(data, unix.MS_SYNC)
}
