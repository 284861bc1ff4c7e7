// Package syncer implements the rolling-checksum delta algorithm that
// drives a backup run: Generate walks a file with no prior version and
// chunks it fresh; Diff compares a file against its previous version's
// chunk list and emits references to unchanged blocks plus literal data
// for the rest.
package syncer

import (
	"crypto/md5"
	"fmt"
	"io"

	"arrow/internal/keying"
	"arrow/internal/version"
)

// Callbacks bundles the side effects Generate and Diff need to perform
// against a block store and an in-progress version record, so this
// package stays free of any storage or transport dependency. A local
// backup run backs these with an *store.Store and a *version.Record
// directly; a remote run backs them with RPC calls instead.
type Callbacks struct {
	// AddRef increments the reference count of an already-stored chunk.
	AddRef func(id keying.ChunkId) error
	// PutBlock stores a new chunk with an initial reference count of 1.
	PutBlock func(id keying.ChunkId, data []byte) error
	// StoreContains reports whether a chunk is already stored.
	StoreContains func(id keying.ChunkId) (bool, error)
	// EmitChunk appends one chunk entry (never EndOfChunks) to the
	// version being built.
	EmitChunk func(e version.Entry) error
}

// emitLiteralOrReference is the no-basis dispatch rule used by Generate:
// short blocks are stored inline, longer ones are content-addressed and
// stored only if not already present. No add_ref call is made for a block
// that already exists; PutBlock is responsible for the initial refcount.
func emitLiteralOrReference(block []byte, cb Callbacks) error {
	if len(block) <= version.MaxDirectChunkSize {
		return cb.EmitChunk(version.NewDirect(block))
	}
	id := keying.Identify(block)
	if err := cb.EmitChunk(version.NewReference(uint32(len(block)), id)); err != nil {
		return err
	}
	exists, err := cb.StoreContains(id)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return cb.PutBlock(id, block)
}

// emitLiteralRunDiff is the literal-data dispatch rule used by Diff: the
// data between two matches (or before the first/after the last) is
// chopped into pieces no larger than chunkSize, each handled the same way
// as emitLiteralOrReference except that an already-present chunk gets an
// explicit AddRef, since diff literals are not assumed fresh the way
// generate's are.
func emitLiteralRunDiff(data []byte, chunkSize uint32, cb Callbacks) error {
	for len(data) > 0 {
		n := int(chunkSize)
		if n > len(data) {
			n = len(data)
		}
		piece := data[:n]
		if err := emitLiteralPieceDiff(piece, cb); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func emitLiteralPieceDiff(piece []byte, cb Callbacks) error {
	if len(piece) <= version.MaxDirectChunkSize {
		return cb.EmitChunk(version.NewDirect(piece))
	}
	id := keying.Identify(piece)
	if err := cb.EmitChunk(version.NewReference(uint32(len(piece)), id)); err != nil {
		return err
	}
	exists, err := cb.StoreContains(id)
	if err != nil {
		return err
	}
	if exists {
		return cb.AddRef(id)
	}
	return cb.PutBlock(id, piece)
}

// Generate chunks input with no prior basis, choosing a chunk size from
// size (the file's total length) and emitting one Direct or Reference
// entry per block in order. It returns the chosen chunk size and the
// whole-input MD5 hash, both destined for the new version's header.
func Generate(input io.Reader, size uint64, cb Callbacks) (chunkSize uint32, hash [16]byte, err error) {
	chunkSize = version.ClampChunkSize(size)
	hasher := md5.New()
	tee := io.TeeReader(input, hasher)

	buf := make([]byte, chunkSize)
	for {
		n, readErr := io.ReadFull(tee, buf)
		if n > 0 {
			if err := emitLiteralOrReference(buf[:n], cb); err != nil {
				return 0, [16]byte{}, err
			}
		}
		switch readErr {
		case nil:
			continue
		case io.EOF, io.ErrUnexpectedEOF:
			var sum [16]byte
			copy(sum[:], hasher.Sum(nil))
			return chunkSize, sum, nil
		default:
			return 0, [16]byte{}, fmt.Errorf("syncer: generate: %w", readErr)
		}
	}
}

// Diff compares input against a basis version's chunk list. If
// checkWholeFileHash is set, it first hashes the entire input and, if that
// matches basisHash exactly, returns matched=true without emitting
// anything (the caller should link the new version directly to the basis
// rather than create a new record). Otherwise it performs a rolling-
// checksum scan: unchanged chunk_size-aligned blocks from the basis become
// Reference entries with no data transfer, and everything else is emitted
// as literal Direct/Reference pieces the way Generate would. input must
// support Seek so the hash-match pre-check can rewind.
func Diff(basis []version.Entry, basisChunkSize uint32, basisHash [16]byte, input io.ReadSeeker, checkWholeFileHash bool, cb Callbacks) (matched bool, chunkSize uint32, hash [16]byte, err error) {
	if checkWholeFileHash {
		h := md5.New()
		if _, err := io.Copy(h, input); err != nil {
			return false, 0, [16]byte{}, fmt.Errorf("syncer: diff: hash precheck: %w", err)
		}
		var sum [16]byte
		copy(sum[:], h.Sum(nil))
		if sum == basisHash {
			return true, basisChunkSize, sum, nil
		}
		if _, err := input.Seek(0, io.SeekStart); err != nil {
			return false, 0, [16]byte{}, fmt.Errorf("syncer: diff: rewind after hash precheck: %w", err)
		}
	}

	chunkSize = basisChunkSize
	table := buildProbeTable(basis, chunkSize)

	hasher := md5.New()
	tee := io.TeeReader(input, hasher)

	finish := func() [16]byte {
		var sum [16]byte
		copy(sum[:], hasher.Sum(nil))
		return sum
	}

	window := make([]byte, chunkSize)
	n, readErr := io.ReadFull(tee, window)
	if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
		if n > 0 {
			if err := emitLiteralRunDiff(window[:n], chunkSize, cb); err != nil {
				return false, 0, [16]byte{}, err
			}
		}
		return false, chunkSize, finish(), nil
	}
	if readErr != nil {
		return false, 0, [16]byte{}, fmt.Errorf("syncer: diff: %w", readErr)
	}

	ring := newRing(int(chunkSize))
	ring.fill(window)
	var rc keying.RollingChecksum
	rc.Update(window)

	pending := append([]byte(nil), window...)

	for {
		if id, ok := table.confirm(ring.bytes(), rc.Digest()); ok {
			literal := pending[:len(pending)-int(chunkSize)]
			if err := emitLiteralRunDiff(literal, chunkSize, cb); err != nil {
				return false, 0, [16]byte{}, err
			}
			if err := cb.EmitChunk(version.NewReference(chunkSize, id)); err != nil {
				return false, 0, [16]byte{}, err
			}
			if err := cb.AddRef(id); err != nil {
				return false, 0, [16]byte{}, err
			}
			pending = pending[:0]

			next := make([]byte, chunkSize)
			nn, nextErr := io.ReadFull(tee, next)
			if nn > 0 {
				pending = append(pending, next[:nn]...)
			}
			switch nextErr {
			case nil:
				ring.fill(next)
				rc.Reset()
				rc.Update(next)
				continue
			case io.EOF, io.ErrUnexpectedEOF:
				if err := emitLiteralRunDiff(pending, chunkSize, cb); err != nil {
					return false, 0, [16]byte{}, err
				}
				return false, chunkSize, finish(), nil
			default:
				return false, 0, [16]byte{}, fmt.Errorf("syncer: diff: %w", nextErr)
			}
		}

		var next [1]byte
		m, readErr := tee.Read(next[:])
		if m == 0 {
			if err := emitLiteralRunDiff(pending, chunkSize, cb); err != nil {
				return false, 0, [16]byte{}, err
			}
			return false, chunkSize, finish(), nil
		}
		pending = append(pending, next[0])
		old := ring.push(next[0])
		rc.Rotate(old, next[0])
		if readErr != nil && readErr != io.EOF {
			return false, 0, [16]byte{}, fmt.Errorf("syncer: diff: %w", readErr)
		}
	}
}
