// Package layout describes the on-disk root directory of an arrow store:
//
//	<root>/
//	  .superblock
//	  blocks/<base64(bucket)>
//	  files/<xx>/<b64hi>.<b64lo>
//	  tree/...
//
// Dir owns path construction only; it does not open or create files.
package layout

import (
	"encoding/base64"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
)

// alphabet is the filesystem-safe base64 alphabet this format commits to:
// the standard alphabet with '/' substituted by '*' so encoded strings are
// always valid single path components on every common filesystem.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+*"

// Encoding is the shared, unpadded base64 codec for bucket ids and UUID
// halves. It is exported so the store and version packages can encode and
// decode filenames without duplicating the alphabet.
var Encoding = base64.NewEncoding(alphabet).WithPadding(base64.NoPadding)

const (
	superblockName = ".superblock"
	blocksDirName  = "blocks"
	filesDirName   = "files"
	treeDirName    = "tree"
)

// Dir represents an arrow store's root directory.
type Dir struct {
	root string
}

// New creates a Dir rooted at the given path.
func New(root string) Dir {
	return Dir{root: root}
}

// Root returns the store's root directory path.
func (d Dir) Root() string {
	return d.root
}

// SuperblockPath returns the path to the store's single superblock file.
func (d Dir) SuperblockPath() string {
	return filepath.Join(d.root, superblockName)
}

// BlocksDir returns the directory holding bucket files.
func (d Dir) BlocksDir() string {
	return filepath.Join(d.root, blocksDirName)
}

// BucketPath returns the path to the bucket file for the given bucket
// number, named by its base64 encoding.
func (d Dir) BucketPath(bucket uint64) string {
	return filepath.Join(d.BlocksDir(), EncodeBucketID(bucket))
}

// FilesDir returns the root directory holding sharded version-record files.
func (d Dir) FilesDir() string {
	return filepath.Join(d.root, filesDirName)
}

// VersionPath returns the path to the version-record file for id, sharded
// into one of 256 subdirectories by the first byte of the UUID.
func (d Dir) VersionPath(id uuid.UUID) string {
	shard, name := EncodeVersionName(id)
	return filepath.Join(d.FilesDir(), shard, name)
}

// VersionShardDir returns the shard subdirectory for id, without the
// filename. Used to ensure the shard directory exists before creating a
// new version-record file.
func (d Dir) VersionShardDir(id uuid.UUID) string {
	shard, _ := EncodeVersionName(id)
	return filepath.Join(d.FilesDir(), shard)
}

// TreeDir returns the root of the symlink tree that shadows the source
// tree; each leaf is a symlink whose target is the relative path from the
// leaf's directory to a version record under FilesDir.
// Walking the source tree to populate it is the backup driver's job; this
// just gives a symlink-tree PathIndex implementation somewhere to live.
func (d Dir) TreeDir() string {
	return filepath.Join(d.root, treeDirName)
}

// EncodeBucketID renders a bucket number as its base64 filename.
func EncodeBucketID(bucket uint64) string {
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = byte(bucket)
		bucket >>= 8
	}
	return Encoding.EncodeToString(buf[:])
}

// DecodeBucketID parses a bucket filename back into a bucket number.
func DecodeBucketID(name string) (uint64, error) {
	buf, err := Encoding.DecodeString(name)
	if err != nil {
		return 0, fmt.Errorf("decode bucket id %q: %w", name, err)
	}
	if len(buf) != 8 {
		return 0, fmt.Errorf("decode bucket id %q: want 8 bytes, got %d", name, len(buf))
	}
	var v uint64
	for _, b := range buf {
		v = (v << 8) | uint64(b)
	}
	return v, nil
}

// EncodeVersionName splits a UUID's 16 bytes into an upper/lower 64-bit
// halves, base64-encodes each, and returns the two-character shard name
// (the UUID's first byte, hex) and the "<b64hi>.<b64lo>" filename.
func EncodeVersionName(id uuid.UUID) (shard, name string) {
	shard = fmt.Sprintf("%02x", id[0])
	hi := Encoding.EncodeToString(id[:8])
	lo := Encoding.EncodeToString(id[8:])
	name = hi + "." + lo
	return shard, name
}

// DecodeVersionName reverses EncodeVersionName's filename half.
func DecodeVersionName(name string) (uuid.UUID, error) {
	var id uuid.UUID
	dot := -1
	for i, c := range name {
		if c == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return id, fmt.Errorf("decode version name %q: missing '.'", name)
	}
	hi, err := Encoding.DecodeString(name[:dot])
	if err != nil || len(hi) != 8 {
		return id, fmt.Errorf("decode version name %q: bad high half", name)
	}
	lo, err := Encoding.DecodeString(name[dot+1:])
	if err != nil || len(lo) != 8 {
		return id, fmt.Errorf("decode version name %q: bad low half", name)
	}
	copy(id[:8], hi)
	copy(id[8:], lo)
	return id, nil
}
