package store

import (
	"path/filepath"
	"testing"

	"arrow/internal/keying"
)

func newTestBucket(t *testing.T, chunkCount uint16, allocSize uint32) *bucket {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bucket")
	b, err := createBucket(path, 0, chunkCount, allocSize)
	if err != nil {
		t.Fatalf("createBucket: %v", err)
	}
	t.Cleanup(func() { b.close() })
	return b
}

func TestBucketPutGet(t *testing.T) {
	b := newTestBucket(t, 16, 1024)
	data := []byte("bucket payload")
	id := keying.Identify(data)

	if err := b.put(id, data); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := b.get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("get = %q, want %q", got, data)
	}
}

func TestBucketPutFullKeyArrayReturnsTooLarge(t *testing.T) {
	b := newTestBucket(t, 1, 1024)
	first := []byte("first")
	if err := b.put(keying.Identify(first), first); err != nil {
		t.Fatalf("first put: %v", err)
	}
	second := []byte("second")
	if err := b.put(keying.Identify(second), second); err != ErrChunkTooLarge {
		t.Fatalf("put into full key array: err = %v, want ErrChunkTooLarge", err)
	}
}

func TestBucketPutExhaustedDataRegionReturnsTooLarge(t *testing.T) {
	b := newTestBucket(t, 16, 4)
	data := []byte("too big for four bytes")
	if err := b.put(keying.Identify(data), data); err != ErrChunkTooLarge {
		t.Fatalf("put oversized chunk: err = %v, want ErrChunkTooLarge", err)
	}
}

func TestBucketAddrefIncrementsReferences(t *testing.T) {
	b := newTestBucket(t, 16, 1024)
	data := []byte("refcounted")
	id := keying.Identify(data)
	if err := b.put(id, data); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := b.addref(id); err != nil {
		t.Fatalf("addref: %v", err)
	}
	_, s, ok := b.find(id)
	if !ok {
		t.Fatalf("find after addref: not found")
	}
	if s.References != 2 {
		t.Fatalf("References = %d, want 2", s.References)
	}
}

func TestBucketLoadFactor(t *testing.T) {
	b := newTestBucket(t, 4, 1024)
	if b.loadFactor() != 0 {
		t.Fatalf("loadFactor on empty bucket = %f, want 0", b.loadFactor())
	}
	for i := 0; i < 3; i++ {
		data := []byte{byte(i)}
		if err := b.put(keying.Identify(data), data); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	if lf := b.loadFactor(); lf != 0.75 {
		t.Fatalf("loadFactor = %f, want 0.75", lf)
	}
}

func TestGrowBucketInPlacePreservesData(t *testing.T) {
	b := newTestBucket(t, 4, 64)
	stored := map[keying.ChunkId][]byte{}
	for i := 0; i < 3; i++ {
		data := []byte{byte('a' + i), byte('a' + i), byte('a' + i)}
		id := keying.Identify(data)
		if err := b.put(id, data); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
		stored[id] = data
	}

	grown, err := growBucketInPlace(b)
	if err != nil {
		t.Fatalf("growBucketInPlace: %v", err)
	}
	defer grown.close()

	if grown.header.ChunkCount != 8 {
		t.Fatalf("grown ChunkCount = %d, want 8", grown.header.ChunkCount)
	}
	if grown.header.AllocSize != 128 {
		t.Fatalf("grown AllocSize = %d, want 128", grown.header.AllocSize)
	}
	for id, data := range stored {
		got, err := grown.get(id)
		if err != nil {
			t.Fatalf("get after grow: %v", err)
		}
		if string(got) != string(data) {
			t.Fatalf("get after grow returned wrong bytes")
		}
	}

	// Grown bucket should still have room to accept the insert that
	// triggered the grow.
	more := []byte("xyz")
	if err := grown.put(keying.Identify(more), more); err != nil {
		t.Fatalf("put after grow: %v", err)
	}
}

func TestSplitBucketMovesOnlyMatchingSlots(t *testing.T) {
	sourcePath := filepath.Join(t.TempDir(), "source")
	targetPath := filepath.Join(t.TempDir(), "target")
	source, err := createBucket(sourcePath, 0, 64, 4096)
	if err != nil {
		t.Fatalf("create source: %v", err)
	}
	defer source.close()
	target, err := createBucket(targetPath, 1, 64, 4096)
	if err != nil {
		t.Fatalf("create target: %v", err)
	}
	defer target.close()

	sb := Superblock{I: 0, N: 0}
	for i := 0; i < 20; i++ {
		data := []byte{byte(i), byte(i * 7), byte(i * 13)}
		id := keying.Identify(data)
		if err := source.put(id, data); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	if err := splitBucket(source, target, sb); err != nil {
		t.Fatalf("splitBucket: %v", err)
	}

	for _, s := range source.occupiedSlots() {
		if modPow2(strongTailUint64(s.ID), sb.I+1) != sb.N {
			t.Fatalf("slot left in source does not belong to source under the new level")
		}
	}
	for _, s := range target.occupiedSlots() {
		if modPow2(strongTailUint64(s.ID), sb.I+1) != sb.splitTargetBucket() {
			t.Fatalf("slot moved to target does not belong to target under the new level")
		}
	}
}
