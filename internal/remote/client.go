package remote

import (
	"fmt"
	"io"

	"github.com/google/uuid"

	"arrow/internal/keying"
	"arrow/internal/syncer"
	"arrow/internal/version"
)

// Client issues requests to a remote Server over rw and decodes the
// matching response. Requests must be made one at a time: the protocol
// requires the client to flush after each request and read its response
// before issuing the next.
type Client struct {
	rw io.ReadWriter
}

// NewClient wraps an open bidirectional stream (e.g. a net.Conn) in a
// Client.
func NewClient(rw io.ReadWriter) *Client {
	return &Client{rw: rw}
}

func (c *Client) request(op Opcode) error {
	return writeU16(c.rw, uint16(op))
}

func (c *Client) status() (Status, error) {
	v, err := readU16(c.rw)
	return Status(v), err
}

// ReadLink resolves a source-relative path to its current version UUID.
func (c *Client) ReadLink(path string) (uuid.UUID, bool, error) {
	if err := c.request(OpReadLink); err != nil {
		return uuid.UUID{}, false, err
	}
	if err := writeLPBytes(c.rw, []byte(path)); err != nil {
		return uuid.UUID{}, false, err
	}
	st, err := c.status()
	if err != nil {
		return uuid.UUID{}, false, err
	}
	if st == StatusNotFound {
		return uuid.UUID{}, false, nil
	}
	if st != StatusOK {
		return uuid.UUID{}, false, &ErrRemote{Status: st}
	}
	id, err := readUUID(c.rw)
	return id, true, err
}

// FetchVersion retrieves a version record's hash, chunk size, and full
// entry list.
func (c *Client) FetchVersion(id uuid.UUID) (hash [keying.StrongSize]byte, chunkSize uint32, entries []version.Entry, err error) {
	if err = c.request(OpFetchVersion); err != nil {
		return
	}
	if err = writeUUID(c.rw, id); err != nil {
		return
	}
	st, err := c.status()
	if err != nil {
		return
	}
	if st != StatusOK {
		err = &ErrRemote{Status: st}
		return
	}
	if hash, err = readHash(c.rw); err != nil {
		return
	}
	if chunkSize, err = readU32(c.rw); err != nil {
		return
	}
	for {
		var e version.Entry
		e, err = decodeEntry(c.rw)
		if err != nil {
			return
		}
		if e.Tag == version.TagEndOfChunks {
			return hash, chunkSize, entries, nil
		}
		entries = append(entries, e)
	}
}

// ReadFileHash retrieves only a version record's whole-file hash.
func (c *Client) ReadFileHash(id uuid.UUID) (hash [keying.StrongSize]byte, ok bool, err error) {
	if err = c.request(OpReadFileHash); err != nil {
		return
	}
	if err = writeUUID(c.rw, id); err != nil {
		return
	}
	st, err := c.status()
	if err != nil {
		return
	}
	if st == StatusNotFound {
		return hash, false, nil
	}
	if st != StatusOK {
		return hash, false, &ErrRemote{Status: st}
	}
	hash, err = readHash(c.rw)
	return hash, err == nil, err
}

// CreateVersion asks the peer to open a new version record for writing
// and returns its assigned UUID. Exactly one version may be open per
// connection at a time.
func (c *Client) CreateVersion(h version.Header) (uuid.UUID, error) {
	if err := c.request(OpCreateVersion); err != nil {
		return uuid.UUID{}, err
	}
	err := writeCreateVersionPayload(c.rw, versionHeaderWire{
		Name:      h.Name,
		Hash:      h.Hash,
		Previous:  h.Previous,
		Size:      h.Size,
		Mode:      h.Mode,
		ChunkSize: h.ChunkSize,
		MtimeSec:  h.MtimeSec,
		MtimeNsec: h.MtimeNsec,
		CtimeSec:  h.CtimeSec,
		CtimeNsec: h.CtimeNsec,
	})
	if err != nil {
		return uuid.UUID{}, err
	}
	st, err := c.status()
	if err != nil {
		return uuid.UUID{}, err
	}
	if st != StatusOK {
		return uuid.UUID{}, &ErrRemote{Status: st}
	}
	return readUUID(c.rw)
}

// MakeLink points path at id in the remote path index.
func (c *Client) MakeLink(path string, id uuid.UUID) error {
	if err := c.request(OpMakeLink); err != nil {
		return err
	}
	if err := writeLPBytes(c.rw, []byte(path)); err != nil {
		return err
	}
	if err := writeUUID(c.rw, id); err != nil {
		return err
	}
	return c.expectOK()
}

// StoreAddRef increments an existing chunk's reference count.
func (c *Client) StoreAddRef(id keying.ChunkId) error {
	if err := c.request(OpStoreAddRef); err != nil {
		return err
	}
	if err := writeChunkID(c.rw, id); err != nil {
		return err
	}
	return c.expectOK()
}

// StorePutChunk stores a new chunk with an initial reference count of 1.
func (c *Client) StorePutChunk(id keying.ChunkId, data []byte) error {
	if err := c.request(OpStorePutChunk); err != nil {
		return err
	}
	if err := writeChunkID(c.rw, id); err != nil {
		return err
	}
	if err := writeU32LPBytes(c.rw, data); err != nil {
		return err
	}
	return c.expectOK()
}

// StoreBlockExists reports whether a chunk is already stored remotely.
func (c *Client) StoreBlockExists(id keying.ChunkId) (bool, error) {
	if err := c.request(OpStoreBlockExists); err != nil {
		return false, err
	}
	if err := writeChunkID(c.rw, id); err != nil {
		return false, err
	}
	st, err := c.status()
	if err != nil {
		return false, err
	}
	switch st {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, &ErrRemote{Status: st}
	}
}

// EmitChunk appends one chunk entry to the version currently open for
// writing on this connection.
func (c *Client) EmitChunk(e version.Entry) error {
	if err := c.request(OpEmitChunk); err != nil {
		return err
	}
	if err := encodeEntry(c.rw, e); err != nil {
		return err
	}
	return c.expectOK()
}

// CloseVersion finalizes (or, if abort is set, discards) the version
// record opened by the most recent CreateVersion on this connection.
func (c *Client) CloseVersion(id uuid.UUID, hash [keying.StrongSize]byte, abort bool) error {
	if err := c.request(OpCloseVersion); err != nil {
		return err
	}
	if err := writeUUID(c.rw, id); err != nil {
		return err
	}
	if err := writeHash(c.rw, hash); err != nil {
		return err
	}
	var abortFlag uint16
	if abort {
		abortFlag = 1
	}
	if err := writeU16(c.rw, abortFlag); err != nil {
		return err
	}
	return c.expectOK()
}

// Goodbye ends the session; the peer is expected to echo back the
// Goodbye opcode.
func (c *Client) Goodbye() error {
	if err := c.request(OpGoodbye); err != nil {
		return err
	}
	v, err := readU16(c.rw)
	if err != nil {
		return err
	}
	if Opcode(v) != OpGoodbye {
		return fmt.Errorf("%w: expected Goodbye echo, got opcode %d", ErrProtocol, v)
	}
	return nil
}

func (c *Client) expectOK() error {
	st, err := c.status()
	if err != nil {
		return err
	}
	if st != StatusOK {
		return &ErrRemote{Status: st}
	}
	return nil
}

// Callbacks adapts this Client into the syncer.Callbacks bundle a remote
// backup run needs, mirroring the local driver's store-backed callbacks
// one for one.
func (c *Client) Callbacks() syncer.Callbacks {
	return syncer.Callbacks{
		AddRef:        c.StoreAddRef,
		PutBlock:      c.StorePutChunk,
		StoreContains: c.StoreBlockExists,
		EmitChunk:     c.EmitChunk,
	}
}
