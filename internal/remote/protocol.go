// Package remote implements the symmetric request/response wire protocol
// that lets a backup driver talk to a block store and version filer that
// live on a different machine: one opcode-tagged request produces exactly
// one status-prefixed response, over a single inbound/outbound byte
// stream.
package remote

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"arrow/internal/keying"
	"arrow/internal/version"
)

// Opcode identifies a request's operation.
type Opcode uint16

const (
	OpReadLink         Opcode = 2
	OpFetchVersion     Opcode = 3
	OpReadFileHash     Opcode = 4
	OpCreateVersion    Opcode = 5
	OpMakeLink         Opcode = 6
	OpStoreAddRef      Opcode = 7
	OpStorePutChunk    Opcode = 8
	OpStoreBlockExists Opcode = 9
	OpEmitChunk        Opcode = 10
	OpCloseVersion     Opcode = 11
	OpGoodbye          Opcode = 12
)

// Status is the leading u16 of every response.
type Status uint16

const (
	StatusOK          Status = 0
	StatusNotFound    Status = 1
	StatusInvalid     Status = 2
	StatusIOError     Status = 3
	StatusCorrupt     Status = 4
	StatusUnknownOp   Status = 5
	StatusInternalBug Status = 6
)

// ErrProtocol reports a response that violated the expected tag/order
// contract; the session must be torn down when this occurs.
var ErrProtocol = errors.New("remote: protocol violation")

// ErrRemote wraps a non-OK status returned by the peer.
type ErrRemote struct {
	Status Status
}

func (e *ErrRemote) Error() string {
	return fmt.Sprintf("remote: peer returned status %d", e.Status)
}

func writeU16(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func writeU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func writeUUID(w io.Writer, id uuid.UUID) error {
	_, err := w.Write(id[:])
	return err
}

func readUUID(r io.Reader) (uuid.UUID, error) {
	var id uuid.UUID
	_, err := io.ReadFull(r, id[:])
	return id, err
}

func writeHash(w io.Writer, h [keying.StrongSize]byte) error {
	_, err := w.Write(h[:])
	return err
}

func readHash(r io.Reader) ([keying.StrongSize]byte, error) {
	var h [keying.StrongSize]byte
	_, err := io.ReadFull(r, h[:])
	return h, err
}

func writeChunkID(w io.Writer, id keying.ChunkId) error {
	if err := writeU32(w, id.Weak); err != nil {
		return err
	}
	return writeHash(w, id.Strong)
}

func readChunkID(r io.Reader) (keying.ChunkId, error) {
	weak, err := readU32(r)
	if err != nil {
		return keying.ChunkId{}, err
	}
	strong, err := readHash(r)
	if err != nil {
		return keying.ChunkId{}, err
	}
	return keying.ChunkId{Weak: weak, Strong: strong}, nil
}

// writeLPBytes writes a u16-length-prefixed byte string.
func writeLPBytes(w io.Writer, b []byte) error {
	if len(b) > 0xffff {
		return fmt.Errorf("%w: payload too long (%d bytes)", ErrProtocol, len(b))
	}
	if err := writeU16(w, uint16(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readLPBytes(r io.Reader) ([]byte, error) {
	n, err := readU16(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeU32LPBytes writes a u32-length-prefixed byte string, used for
// StorePutChunk's data payload (chunks can exceed a u16 length).
func writeU32LPBytes(w io.Writer, b []byte) error {
	if err := writeU32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readU32LPBytes(r io.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// versionHeaderWire is the CreateVersion request payload, decoupled from
// version.Header so the wire format doesn't move if the on-disk header
// grows a field.
type versionHeaderWire struct {
	Name      string
	Hash      [keying.StrongSize]byte
	Previous  uuid.UUID
	Size      uint64
	Mode      uint32
	ChunkSize uint32
	MtimeSec  uint32
	MtimeNsec uint32
	CtimeSec  uint32
	CtimeNsec uint32
}

func writeCreateVersionPayload(w io.Writer, h versionHeaderWire) error {
	if err := writeLPBytes(w, []byte(h.Name)); err != nil {
		return err
	}
	if err := writeHash(w, h.Hash); err != nil {
		return err
	}
	if err := writeUUID(w, h.Previous); err != nil {
		return err
	}
	if err := writeU64(w, h.Size); err != nil {
		return err
	}
	if err := writeU32(w, h.Mode); err != nil {
		return err
	}
	if err := writeU32(w, h.ChunkSize); err != nil {
		return err
	}
	if err := writeU32(w, h.MtimeSec); err != nil {
		return err
	}
	if err := writeU32(w, h.MtimeNsec); err != nil {
		return err
	}
	if err := writeU32(w, h.CtimeSec); err != nil {
		return err
	}
	return writeU32(w, h.CtimeNsec)
}

func readCreateVersionPayload(r io.Reader) (versionHeaderWire, error) {
	var h versionHeaderWire
	name, err := readLPBytes(r)
	if err != nil {
		return h, err
	}
	h.Name = string(name)
	if h.Hash, err = readHash(r); err != nil {
		return h, err
	}
	if h.Previous, err = readUUID(r); err != nil {
		return h, err
	}
	if h.Size, err = readU64(r); err != nil {
		return h, err
	}
	if h.Mode, err = readU32(r); err != nil {
		return h, err
	}
	if h.ChunkSize, err = readU32(r); err != nil {
		return h, err
	}
	if h.MtimeSec, err = readU32(r); err != nil {
		return h, err
	}
	if h.MtimeNsec, err = readU32(r); err != nil {
		return h, err
	}
	if h.CtimeSec, err = readU32(r); err != nil {
		return h, err
	}
	h.CtimeNsec, err = readU32(r)
	return h, err
}

// encodeEntry and decodeEntry reuse version's variable-length wire codec
// for the EmitChunk and FetchVersion chunk-entry stream.
func encodeEntry(w io.Writer, e version.Entry) error {
	return version.EncodeWire(w, e)
}

func decodeEntry(r io.Reader) (version.Entry, error) {
	return version.DecodeWire(r)
}
