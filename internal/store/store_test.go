package store

import (
	"fmt"
	"testing"

	"arrow/internal/keying"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	data := []byte("hello, arrow")
	id := keying.Identify(data)

	if err := s.Put(id, data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("Get returned %q, want %q", got, data)
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	s := openTestStore(t)
	id := keying.Identify([]byte("never stored"))
	if _, err := s.Get(id); err != ErrNotFound {
		t.Fatalf("Get on missing chunk: err = %v, want ErrNotFound", err)
	}
}

func TestContainsReflectsPuts(t *testing.T) {
	s := openTestStore(t)
	data := []byte("contains me")
	id := keying.Identify(data)

	ok, err := s.Contains(id)
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if ok {
		t.Fatalf("Contains reported true before Put")
	}

	if err := s.Put(id, data); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, err = s.Contains(id)
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if !ok {
		t.Fatalf("Contains reported false after Put")
	}
}

func TestPutIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	data := []byte("idempotent")
	id := keying.Identify(data)

	if err := s.Put(id, data); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if err := s.Put(id, data); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	chunks, _, err := s.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if chunks != 1 {
		t.Fatalf("Size reports %d chunks after duplicate Put, want 1", chunks)
	}
}

func TestAddrefRequiresExistingChunk(t *testing.T) {
	s := openTestStore(t)
	id := keying.Identify([]byte("not yet stored"))
	if err := s.Addref(id); err != ErrNotFound {
		t.Fatalf("Addref on missing chunk: err = %v, want ErrNotFound", err)
	}
}

func TestGetLenMatchesStoredLength(t *testing.T) {
	s := openTestStore(t)
	data := []byte("twelve bytes")
	id := keying.Identify(data)
	if err := s.Put(id, data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	n, err := s.GetLen(id)
	if err != nil {
		t.Fatalf("GetLen: %v", err)
	}
	if int(n) != len(data) {
		t.Fatalf("GetLen = %d, want %d", n, len(data))
	}
}

func TestVerifyCleanStoreReportsNoErrors(t *testing.T) {
	s := openTestStore(t)
	for _, text := range []string{"one", "two", "three"} {
		data := []byte(text)
		if err := s.Put(keying.Identify(data), data); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	mismatches, err := s.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(mismatches) != 0 {
		t.Fatalf("Verify on a clean store = %v, want no mismatches", mismatches)
	}
}

func TestVerifyDetectsCorruptedChunkBytes(t *testing.T) {
	s := openTestStore(t)
	data := []byte("hello, arrow")
	id := keying.Identify(data)
	if err := s.Put(id, data); err != nil {
		t.Fatalf("Put: %v", err)
	}

	bn, b, err := s.bucketFor(id)
	if err != nil {
		t.Fatalf("bucketFor: %v", err)
	}
	_, sl, ok := b.find(id)
	if !ok {
		t.Fatalf("chunk not found in its own bucket")
	}
	start := b.dataOffset() + int64(sl.Offset)
	b.data[start] ^= 0xff

	mismatches, err := s.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(mismatches) != 1 {
		t.Fatalf("Verify after corruption = %v, want exactly one mismatch", mismatches)
	}
	if mismatches[0].Bucket != bn || !mismatches[0].ID.Equal(id) {
		t.Fatalf("Verify mismatch = %+v, want bucket %d id %+v", mismatches[0], bn, id)
	}
}

func TestRepairAlwaysReportsUnfixable(t *testing.T) {
	s := openTestStore(t)
	fixed, err := s.Repair([]VerifyError{{Bucket: 0, Slot: 0}})
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if fixed != 0 {
		t.Fatalf("Repair fixed = %d, want 0", fixed)
	}
}

// TestManyChunksSurviveSplits inserts enough distinct chunks to force
// several linear-hashing splits and verifies every chunk is still
// reachable afterward with correct bytes.
func TestManyChunksSurviveSplits(t *testing.T) {
	s := openTestStore(t)

	const n = 4000
	ids := make([]keying.ChunkId, 0, n)
	values := make(map[keying.ChunkId][]byte, n)

	for i := 0; i < n; i++ {
		data := []byte(fmt.Sprintf("chunk-payload-number-%d-with-some-padding-bytes", i))
		id := keying.Identify(data)
		if _, dup := values[id]; dup {
			continue
		}
		if err := s.Put(id, data); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
		ids = append(ids, id)
		values[id] = data
	}

	if s.sb.I == 0 && s.sb.N == 0 {
		t.Fatalf("expected at least one split after %d inserts", n)
	}

	for _, id := range ids {
		got, err := s.Get(id)
		if err != nil {
			t.Fatalf("Get after splits: %v", err)
		}
		if string(got) != string(values[id]) {
			t.Fatalf("Get after splits returned wrong bytes for one chunk")
		}
	}
}

func TestReopenPreservesData(t *testing.T) {
	root := t.TempDir()
	data := []byte("persisted across reopen")
	id := keying.Identify(data)

	s1, err := Open(Config{Root: root})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.Put(id, data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(Config{Root: root})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(id)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("Get after reopen returned %q, want %q", got, data)
	}
}

func TestSecondOpenIsLocked(t *testing.T) {
	root := t.TempDir()
	s1, err := Open(Config{Root: root})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s1.Close()

	if _, err := Open(Config{Root: root}); err == nil {
		t.Fatalf("second Open on same root succeeded, want lock error")
	}
}
