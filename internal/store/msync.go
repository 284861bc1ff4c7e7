package store

import "golang.org/x/sys/unix"

// msync flushes a bucket's mmap'd pages to disk synchronously. Used before
// a superblock update so a split's source and destination buckets are
// durable before the pointer that makes them reachable changes.
func msync(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Msync(data, unix.MS_SYNC)
}
