package version

import (
	"testing"

	"github.com/google/uuid"

	"arrow/internal/keying"
	"arrow/internal/layout"
)

func TestCreateAppendFinalizeOpenRoundTrip(t *testing.T) {
	dir := layout.New(t.TempDir())
	id := uuid.New()

	h := Header{Name: "a.txt", Size: 30, ChunkSize: 700}
	r, err := Create(dir, id, h)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	refID := keying.Identify([]byte("twenty four byte chunk!!"))
	entries := []Entry{
		NewDirect([]byte("short head")),
		NewReference(24, refID),
	}
	for _, e := range entries {
		if err := r.AppendEntry(e); err != nil {
			t.Fatalf("AppendEntry: %v", err)
		}
	}
	hash := keying.Strong([]byte("whole file bytes"))
	if err := r.Finalize(hash); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir, id)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	if reopened.Header().Hash != hash {
		t.Fatalf("reopened hash = %x, want %x", reopened.Header().Hash, hash)
	}
	got, err := reopened.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("Entries returned %d entries, want %d", len(got), len(entries))
	}
	if string(got[0].Direct) != "short head" {
		t.Fatalf("entry 0 = %+v, want Direct{short head}", got[0])
	}
	if got[1].Tag != TagReference || got[1].Length != 24 || !got[1].ID.Equal(refID) {
		t.Fatalf("entry 1 = %+v, want Reference{24, %v}", got[1], refID)
	}
}

func TestCreateFailsIfAlreadyExists(t *testing.T) {
	dir := layout.New(t.TempDir())
	id := uuid.New()

	r, err := Create(dir, id, Header{Name: "dup.txt"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	r.Close()

	if _, err := Create(dir, id, Header{Name: "dup.txt"}); err == nil {
		t.Fatalf("second Create with same id succeeded")
	}
}

func TestAppendGrowsPastInitialCapacity(t *testing.T) {
	dir := layout.New(t.TempDir())
	id := uuid.New()

	r, err := Create(dir, id, Header{Name: "many.bin", ChunkSize: 700})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	n := initialEntryCapacity * 3
	for i := 0; i < n; i++ {
		id := keying.Identify([]byte{byte(i), byte(i >> 8)})
		if err := r.AppendEntry(NewReference(700, id)); err != nil {
			t.Fatalf("AppendEntry %d: %v", i, err)
		}
	}
	if err := r.Finalize(keying.Strong(nil)); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if r.capacity <= initialEntryCapacity {
		t.Fatalf("capacity = %d, want growth past %d", r.capacity, initialEntryCapacity)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir, id)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(got) != n {
		t.Fatalf("Entries returned %d, want %d", len(got), n)
	}
}

func TestDeleteRemovesFile(t *testing.T) {
	dir := layout.New(t.TempDir())
	id := uuid.New()
	r, err := Create(dir, id, Header{Name: "gone.txt"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := Delete(dir, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := Open(dir, id); err == nil {
		t.Fatalf("Open after Delete succeeded")
	}
}
