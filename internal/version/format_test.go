package version

import (
	"bytes"
	"testing"

	"arrow/internal/keying"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Name:      "report.pdf",
		Hash:      keying.Strong([]byte("whole file contents")),
		Size:      12345,
		Mode:      0o644,
		MtimeSec:  1700000000,
		MtimeNsec: 42,
		CtimeSec:  1700000001,
		CtimeNsec: 7,
		ChunkSize: 900,
	}
	buf, err := encodeHeader(h)
	if err != nil {
		t.Fatalf("encodeHeader: %v", err)
	}
	got, err := decodeHeader(buf)
	if err != nil {
		t.Fatalf("decodeHeader: %v", err)
	}
	if got != h {
		t.Fatalf("round trip = %+v, want %+v", got, h)
	}
}

func TestEncodeHeaderRejectsLongName(t *testing.T) {
	h := Header{Name: string(make([]byte, MaxNameLength+1))}
	if _, err := encodeHeader(h); err != ErrNameTooLong {
		t.Fatalf("encodeHeader with long name: err = %v, want ErrNameTooLong", err)
	}
}

func TestEntryFixedRoundTripReference(t *testing.T) {
	id := keying.Identify([]byte("referenced chunk bytes"))
	e := NewReference(700, id)
	buf := make([]byte, EntrySize)
	if err := encodeEntryFixed(buf, e); err != nil {
		t.Fatalf("encodeEntryFixed: %v", err)
	}
	got, err := decodeEntryFixed(buf)
	if err != nil {
		t.Fatalf("decodeEntryFixed: %v", err)
	}
	if got.Tag != TagReference || got.Length != 700 || !got.ID.Equal(id) {
		t.Fatalf("round trip = %+v, want Reference{700, %v}", got, id)
	}
}

func TestEntryFixedRoundTripDirect(t *testing.T) {
	e := NewDirect([]byte("short"))
	buf := make([]byte, EntrySize)
	if err := encodeEntryFixed(buf, e); err != nil {
		t.Fatalf("encodeEntryFixed: %v", err)
	}
	got, err := decodeEntryFixed(buf)
	if err != nil {
		t.Fatalf("decodeEntryFixed: %v", err)
	}
	if got.Tag != TagDirect || string(got.Direct) != "short" {
		t.Fatalf("round trip = %+v, want Direct{short}", got)
	}
}

func TestEntryFixedRoundTripEndOfChunks(t *testing.T) {
	buf := make([]byte, EntrySize)
	if err := encodeEntryFixed(buf, EndOfChunks); err != nil {
		t.Fatalf("encodeEntryFixed: %v", err)
	}
	got, err := decodeEntryFixed(buf)
	if err != nil {
		t.Fatalf("decodeEntryFixed: %v", err)
	}
	if got.Tag != TagEndOfChunks {
		t.Fatalf("round trip tag = %v, want TagEndOfChunks", got.Tag)
	}
}

func TestNewDirectPanicsOnOversizedData(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("NewDirect with 24 bytes did not panic")
		}
	}()
	NewDirect(make([]byte, MaxDirectChunkSize+1))
}

func TestWireRoundTripAllTags(t *testing.T) {
	entries := []Entry{
		EndOfChunks,
		NewReference(16000, keying.Identify([]byte("wire reference"))),
		NewDirect([]byte("inline bytes")),
	}
	for _, want := range entries {
		var buf bytes.Buffer
		if err := EncodeWire(&buf, want); err != nil {
			t.Fatalf("EncodeWire(%+v): %v", want, err)
		}
		got, err := DecodeWire(&buf)
		if err != nil {
			t.Fatalf("DecodeWire: %v", err)
		}
		if got.Tag != want.Tag {
			t.Fatalf("tag = %v, want %v", got.Tag, want.Tag)
		}
		switch want.Tag {
		case TagReference:
			if got.Length != want.Length || !got.ID.Equal(want.ID) {
				t.Fatalf("Reference round trip = %+v, want %+v", got, want)
			}
		case TagDirect:
			if string(got.Direct) != string(want.Direct) {
				t.Fatalf("Direct round trip = %q, want %q", got.Direct, want.Direct)
			}
		}
	}
}

func TestClampChunkSize(t *testing.T) {
	cases := []struct {
		size uint64
		want uint32
	}{
		{0, MinChunkSize},
		{1000, MinChunkSize}, // floor(sqrt(1000)) = 31, clamped to 700
		{100_000_000, 10000},
		{100_000_000_000, MaxChunkSize},
	}
	for _, c := range cases {
		if got := ClampChunkSize(c.size); got != c.want {
			t.Fatalf("ClampChunkSize(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}
