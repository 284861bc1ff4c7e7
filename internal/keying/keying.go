// Package keying implements the content-addressing primitives shared by
// the block store and the synchronizer: the rolling weak checksum and the
// strong (MD5) chunk hash that together form a ChunkId.
package keying

import (
	"crypto/md5"
	"encoding/binary"
)

// CharOffset is added to every byte folded into the rolling checksum.
// This is the classic rsync constant. It is on-disk-observable (recorded
// Weak values must match later recomputations) and must never change.
const CharOffset = 31

// StrongSize is the width in bytes of a strong chunk hash (MD5).
const StrongSize = 16

// ChunkId identifies a chunk by its weak rolling checksum and its strong
// MD5 hash. Two chunks are equal iff both fields match; Weak is only a
// cheap probe key, Strong is authoritative.
type ChunkId struct {
	Weak   uint32
	Strong [StrongSize]byte
}

// Equal reports whether two chunk identifiers refer to the same content.
func (id ChunkId) Equal(other ChunkId) bool {
	return id.Weak == other.Weak && id.Strong == other.Strong
}

// IsZero reports whether id is the zero value (used as a null-slot marker
// in block store buckets).
func (id ChunkId) IsZero() bool {
	return id == ChunkId{}
}

// Strong computes the MD5 digest of data.
func Strong(data []byte) [StrongSize]byte {
	return md5.Sum(data)
}

// Identify computes the full ChunkId (weak + strong) of data by running a
// fresh RollingChecksum over it. Used by the no-basis path (Generate),
// where the whole block is hashed at once rather than rolled byte by byte.
func Identify(data []byte) ChunkId {
	var rc RollingChecksum
	rc.Update(data)
	return ChunkId{Weak: rc.Digest(), Strong: Strong(data)}
}

// RollingChecksum computes the rsync-style weak checksum over a sliding
// window of bytes:
//
//	a = (sum of (x_i + CharOffset))                      mod 2^16
//	b = (sum of (n-i) * (x_i + CharOffset))               mod 2^16
//	weak digest = (b << 16) | a
//
// The zero value is a checksum over an empty window.
type RollingChecksum struct {
	a, b uint32
	n    uint32 // number of bytes currently folded into the window
}

// Reset clears the checksum back to an empty window.
func (r *RollingChecksum) Reset() {
	*r = RollingChecksum{}
}

// Update folds every byte of buf into the window, growing it. Used to
// seed the checksum the first time a window's contents are known, or to
// accumulate a checksum over a whole block in Generate.
//
// Weight decreases toward the end of the window (the byte appended last
// carries weight 1), matching Rotate's assumption that the oldest byte
// in a full window carries the highest weight.
func (r *RollingChecksum) Update(buf []byte) {
	l := uint32(len(buf))
	for i, x := range buf {
		v := uint32(x) + CharOffset
		weight := l - uint32(i)
		r.a += v
		r.b += weight * v
	}
	r.n += l
	r.a &= 0xffff
	r.b &= 0xffff
}

// Rotate advances a full window by one byte: old leaves the window at the
// low end, new enters at the high end. The window length (n) is
// unchanged. Used once the window has reached chunk_size and the
// synchronizer is sliding it forward one byte at a time.
func (r *RollingChecksum) Rotate(old, new byte) {
	ov := uint32(old) + CharOffset
	nv := uint32(new) + CharOffset
	r.a = (r.a - ov + nv) & 0xffff
	r.b = (r.b - r.n*ov + r.a) & 0xffff
}

// Digest returns the current 32-bit weak checksum: (b << 16) | a.
func (r *RollingChecksum) Digest() uint32 {
	return (r.b << 16) | r.a
}

// PutWeak writes a weak checksum to buf in big-endian form. buf must be
// at least 4 bytes.
func PutWeak(buf []byte, weak uint32) {
	binary.BigEndian.PutUint32(buf, weak)
}

// GetWeak reads a big-endian weak checksum from buf. buf must be at least
// 4 bytes.
func GetWeak(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf)
}
