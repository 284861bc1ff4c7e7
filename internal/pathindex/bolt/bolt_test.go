package bolt

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestUpdateThenLookupRoundTrip(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "paths.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	id := uuid.New()
	if err := idx.Update("docs/report.pdf", id); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, ok, err := idx.Lookup("docs/report.pdf")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || got != id {
		t.Fatalf("Lookup = %v, %v, want %v, true", got, ok, id)
	}
}

func TestLookupMissingPathReturnsNotFound(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "paths.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	_, ok, err := idx.Lookup("never/backed/up.txt")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Fatalf("Lookup: ok = true for a path never updated")
	}
}

func TestReopenPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paths.db")
	id := uuid.New()

	idx, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := idx.Update("a.txt", id); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, ok, err := reopened.Lookup("a.txt")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || got != id {
		t.Fatalf("Lookup = %v, %v, want %v, true", got, ok, id)
	}
}
