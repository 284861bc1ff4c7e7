package syncer

import "testing"

func TestRingFillAndBytes(t *testing.T) {
	r := newRing(4)
	r.fill([]byte("abcd"))
	if string(r.bytes()) != "abcd" {
		t.Fatalf("bytes = %q, want %q", r.bytes(), "abcd")
	}
}

func TestRingPushSlidesWindow(t *testing.T) {
	r := newRing(4)
	r.fill([]byte("abcd"))

	old := r.push('e')
	if old != 'a' {
		t.Fatalf("push evicted %q, want 'a'", old)
	}
	if string(r.bytes()) != "bcde" {
		t.Fatalf("bytes = %q, want %q", r.bytes(), "bcde")
	}

	old = r.push('f')
	if old != 'b' {
		t.Fatalf("push evicted %q, want 'b'", old)
	}
	if string(r.bytes()) != "cdef" {
		t.Fatalf("bytes = %q, want %q", r.bytes(), "cdef")
	}
}
