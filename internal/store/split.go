package store

import "fmt"

// splitBucket performs one linear-hashing split: given the superblock's
// current (i, n), bucket n is split into bucket n and the newly created
// bucket m = 2^i+n.
// Every non-empty slot in bucket n is re-evaluated under level i+1; slots
// that now belong to m are copied there and cleared from n. Both buckets
// are flushed before the caller persists the advanced superblock, so a
// crash between the data move and the superblock update is recoverable:
// the moved copy in m is inert until n's advanced-level pointer makes it
// reachable.
func splitBucket(source, target *bucket, sb Superblock) error {
	source.mu.Lock()
	defer source.mu.Unlock()
	target.mu.Lock()
	defer target.mu.Unlock()

	nextLevel := sb.I + 1
	for i := 0; i < int(source.header.ChunkCount); i++ {
		s := source.slotAt(i)
		if s.empty() {
			continue
		}
		x := strongTailUint64(s.ID)
		if modPow2(x, nextLevel) == sb.N {
			continue
		}

		start := source.dataOffset() + int64(s.Offset)
		data := make([]byte, s.Length)
		copy(data, source.data[start:start+int64(s.Length)])

		off, ok := target.allocateSpace(s.Length)
		if !ok {
			return fmt.Errorf("split bucket: %w: target has no room", ErrChunkTooLarge)
		}
		dstStart := target.dataOffset() + int64(off)
		copy(target.data[dstStart:dstStart+int64(s.Length)], data)
		moved := slot{ID: s.ID, Offset: off, Length: s.Length, References: s.References}
		if !target.insertSlotInOrder(moved) {
			return fmt.Errorf("split bucket: %w: target key array full", ErrChunkTooLarge)
		}

		source.setSlotAt(i, slot{})
	}

	if err := msync(source.data); err != nil {
		return fmt.Errorf("split bucket: sync source: %w", err)
	}
	if err := msync(target.data); err != nil {
		return fmt.Errorf("split bucket: sync target: %w", err)
	}
	return nil
}
