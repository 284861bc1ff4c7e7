package version

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"arrow/internal/layout"
)

// Record is one mmap-backed version-record file: a fixed header followed
// by a flat array of chunk entries. Exactly one writer
// may hold a Record open for writing at a time; the backup driver
// enforces this by holding the handle for the file's whole lifetime.
type Record struct {
	mu sync.Mutex

	id   uuid.UUID
	path string

	file *os.File
	data []byte

	header Header

	// entryCount is the number of data-bearing entries written so far,
	// not counting the EndOfChunks terminator.
	entryCount int
	capacity   int

	closed bool
}

// ID returns the record's UUID.
func (r *Record) ID() uuid.UUID { return r.id }

// Header returns a copy of the record's header fields.
func (r *Record) Header() Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header
}

// Create makes a new version record file for id and mmaps it read-write.
// Fails if a record with this id already exists.
func Create(dir layout.Dir, id uuid.UUID, h Header) (*Record, error) {
	if err := os.MkdirAll(dir.VersionShardDir(id), 0o750); err != nil {
		return nil, fmt.Errorf("version: create %s: %w", id, err)
	}
	path := dir.VersionPath(id)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("version: create %s: %w", id, err)
	}

	size := int64(HeaderSize) + int64(initialEntryCapacity)*int64(EntrySize)
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("version: create %s: truncate: %w", id, err)
	}
	headerBytes, err := encodeHeader(h)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if _, err := f.WriteAt(headerBytes, 0); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("version: create %s: write header: %w", id, err)
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("version: create %s: mmap: %w", id, err)
	}

	return &Record{
		id:       id,
		path:     path,
		file:     f,
		data:     data,
		header:   h,
		capacity: initialEntryCapacity,
	}, nil
}

// Open opens an existing, finalized version record read-write and scans
// its entry array to find the EndOfChunks terminator.
func Open(dir layout.Dir, id uuid.UUID) (*Record, error) {
	path := dir.VersionPath(id)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("version: open %s: %w", id, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("version: open %s: stat: %w", id, err)
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, int(info.Size()), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("version: open %s: mmap: %w", id, err)
	}
	h, err := decodeHeader(data)
	if err != nil {
		syscall.Munmap(data)
		f.Close()
		return nil, fmt.Errorf("version: open %s: %w", id, err)
	}

	capacity := (len(data) - HeaderSize) / EntrySize
	entryCount, err := scanForTerminator(data, capacity)
	if err != nil {
		syscall.Munmap(data)
		f.Close()
		return nil, fmt.Errorf("version: open %s: %w", id, err)
	}

	return &Record{
		id:         id,
		path:       path,
		file:       f,
		data:       data,
		header:     h,
		entryCount: entryCount,
		capacity:   capacity,
	}, nil
}

func scanForTerminator(data []byte, capacity int) (int, error) {
	for i := 0; i < capacity; i++ {
		off := HeaderSize + i*EntrySize
		e, err := decodeEntryFixed(data[off : off+EntrySize])
		if err != nil {
			return 0, err
		}
		if e.Tag == TagEndOfChunks {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: no EndOfChunks terminator found", ErrCorrupt)
}

// Close unmaps and closes the record's file.
func (r *Record) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var err error
	if e := syscall.Munmap(r.data); e != nil {
		err = e
	}
	r.data = nil
	if e := r.file.Close(); e != nil && err == nil {
		err = e
	}
	return err
}

// Delete removes the record's file from disk. The record must already be
// closed.
func Delete(dir layout.Dir, id uuid.UUID) error {
	if err := os.Remove(dir.VersionPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("version: delete %s: %w", id, err)
	}
	return nil
}

// AppendEntry writes a non-terminator chunk entry to the record, growing
// and remapping the backing file if needed.
func (r *Record) AppendEntry(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("version: append to closed record")
	}
	if e.Tag == TagEndOfChunks {
		return fmt.Errorf("version: AppendEntry called with EndOfChunks; use Finalize")
	}
	if err := r.ensureCapacityLocked(r.entryCount + 2); err != nil {
		return err
	}
	off := HeaderSize + r.entryCount*EntrySize
	if err := encodeEntryFixed(r.data[off:off+EntrySize], e); err != nil {
		return err
	}
	r.entryCount++
	return nil
}

// Entries returns every data-bearing chunk entry written so far, in
// order, not including the EndOfChunks terminator.
func (r *Record) Entries() ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, r.entryCount)
	for i := 0; i < r.entryCount; i++ {
		off := HeaderSize + i*EntrySize
		e, err := decodeEntryFixed(r.data[off : off+EntrySize])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Finalize writes the EndOfChunks terminator and the record's whole-file
// hash, then flushes the mapping to disk.
func (r *Record) Finalize(hash [16]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("version: finalize closed record")
	}
	if err := r.ensureCapacityLocked(r.entryCount + 1); err != nil {
		return err
	}
	off := HeaderSize + r.entryCount*EntrySize
	if err := encodeEntryFixed(r.data[off:off+EntrySize], EndOfChunks); err != nil {
		return err
	}

	r.header.Hash = hash
	headerBytes, err := encodeHeader(r.header)
	if err != nil {
		return err
	}
	copy(r.data[0:HeaderSize], headerBytes)

	return msync(r.data)
}

// ensureCapacityLocked grows the record's entry array, by doubling, until
// it can hold at least `required` entries. Must be called with r.mu held.
func (r *Record) ensureCapacityLocked(required int) error {
	if required <= r.capacity {
		return nil
	}
	newCapacity := r.capacity
	if newCapacity == 0 {
		newCapacity = initialEntryCapacity
	}
	for newCapacity < required {
		newCapacity *= 2
	}

	newSize := int64(HeaderSize) + int64(newCapacity)*int64(EntrySize)
	if err := r.file.Truncate(newSize); err != nil {
		return fmt.Errorf("version: grow %s: truncate: %w", r.id, err)
	}
	if err := syscall.Munmap(r.data); err != nil {
		return fmt.Errorf("version: grow %s: munmap: %w", r.id, err)
	}
	data, err := syscall.Mmap(int(r.file.Fd()), 0, int(newSize), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("version: grow %s: remap: %w", r.id, err)
	}
	r.data = data
	r.capacity = newCapacity
	return nil
}
