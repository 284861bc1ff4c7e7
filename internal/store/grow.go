package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// growBucketInPlace doubles a bucket's key-array and data-region capacity
// and rewrites it to a temp file which atomically replaces the original.
// Callers must not hold b's lock: it reads b's mmap directly, then closes
// and remaps it, and bucket.close acquires the lock itself.
func growBucketInPlace(b *bucket) (*bucket, error) {
	newChunkCount := b.header.ChunkCount * 2
	newAllocSize := b.header.AllocSize * 2
	if newChunkCount == 0 {
		newChunkCount = InitialChunkCount
	}
	if newAllocSize == 0 {
		newAllocSize = InitialAllocSize
	}

	dir := filepath.Dir(b.path)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".grow-%d-*", b.id))
	tmp, err := os.CreateTemp(dir, filepath.Base(tmpPath))
	if err != nil {
		return nil, fmt.Errorf("grow bucket %d: %w", b.id, err)
	}
	tmpName := tmp.Name()

	size := bucketFileSize(newChunkCount, newAllocSize)
	if err := tmp.Truncate(size); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("grow bucket %d: truncate: %w", b.id, err)
	}

	hdr := bucketHeader{ChunkCount: newChunkCount, AllocSize: newAllocSize}
	if _, err := tmp.WriteAt(encodeBucketHeader(hdr), 0); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("grow bucket %d: header: %w", b.id, err)
	}

	// Copy the key array: existing slots first (already in non-decreasing
	// offset order), the rest of the new, larger array stays zeroed.
	slotBuf := make([]byte, SlotSize)
	keyArrayOff := int64(BucketHeaderSize)
	for i := 0; i < int(b.header.ChunkCount); i++ {
		s := b.slotAt(i)
		encodeSlot(slotBuf, s)
		if _, err := tmp.WriteAt(slotBuf, keyArrayOff+int64(i)*int64(SlotSize)); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return nil, fmt.Errorf("grow bucket %d: copy slot %d: %w", b.id, i, err)
		}
	}

	// Copy the data region verbatim: chunk offsets are relative to the
	// start of the data region, which doesn't move (only grows) here.
	newDataOff := keyArrayOff + int64(newChunkCount)*int64(SlotSize)
	oldDataOff := b.dataOffset()
	oldData := b.data[oldDataOff : oldDataOff+int64(b.header.AllocSize)]
	if _, err := tmp.WriteAt(oldData, newDataOff); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("grow bucket %d: copy data: %w", b.id, err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("grow bucket %d: sync: %w", b.id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("grow bucket %d: close: %w", b.id, err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("grow bucket %d: rename: %w", b.id, err)
	}

	if err := b.close(); err != nil {
		return nil, fmt.Errorf("grow bucket %d: close old mapping: %w", b.id, err)
	}
	return openBucket(b.path, b.id)
}
