package remote

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"arrow/internal/layout"
	"arrow/internal/logging"
	"arrow/internal/pathindex"
	"arrow/internal/store"
	"arrow/internal/version"
)

// Config configures a Server.
type Config struct {
	Dir    layout.Dir
	Store  *store.Store
	Index  pathindex.PathIndex
	Logger *slog.Logger
}

// Server answers one peer's requests against a local store, version
// filer, and path index. One Server may serve many sequential
// connections, but each connection's CreateVersion/EmitChunk/CloseVersion
// calls are session-scoped to that connection alone.
type Server struct {
	dir    layout.Dir
	store  *store.Store
	index  pathindex.PathIndex
	logger *slog.Logger
}

// NewServer constructs a Server.
func NewServer(cfg Config) *Server {
	return &Server{
		dir:    cfg.Dir,
		store:  cfg.Store,
		index:  cfg.Index,
		logger: logging.Default(cfg.Logger).With("component", "remote-server"),
	}
}

// Serve reads and answers requests from rw until the peer sends Goodbye,
// the connection is closed, or a protocol violation occurs. Exactly one
// version record may be under construction at a time per connection.
func (s *Server) Serve(rw io.ReadWriter) error {
	sess := &session{}
	defer sess.discardIfOpen()

	for {
		op, err := readU16(rw)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("remote: read opcode: %w", err)
		}

		switch Opcode(op) {
		case OpReadLink:
			err = s.handleReadLink(rw)
		case OpFetchVersion:
			err = s.handleFetchVersion(rw)
		case OpReadFileHash:
			err = s.handleReadFileHash(rw)
		case OpCreateVersion:
			err = s.handleCreateVersion(rw, sess)
		case OpMakeLink:
			err = s.handleMakeLink(rw)
		case OpStoreAddRef:
			err = s.handleStoreAddRef(rw)
		case OpStorePutChunk:
			err = s.handleStorePutChunk(rw)
		case OpStoreBlockExists:
			err = s.handleStoreBlockExists(rw)
		case OpEmitChunk:
			err = s.handleEmitChunk(rw, sess)
		case OpCloseVersion:
			err = s.handleCloseVersion(rw, sess)
		case OpGoodbye:
			return writeU16(rw, uint16(OpGoodbye))
		default:
			s.logger.Warn("unknown opcode", "op", op)
			return fmt.Errorf("%w: unknown opcode %d", ErrProtocol, op)
		}
		if err != nil {
			return fmt.Errorf("remote: handle opcode %d: %w", op, err)
		}
	}
}

// session tracks the one version record a connection may have open for
// writing at a time.
type session struct {
	rec *version.Record
	id  uuid.UUID
	dir layout.Dir
}

func (sess *session) discardIfOpen() {
	if sess.rec == nil {
		return
	}
	sess.rec.Close()
	version.Delete(sess.dir, sess.id)
	sess.rec = nil
}

func (s *Server) handleReadLink(rw io.ReadWriter) error {
	pathBytes, err := readLPBytes(rw)
	if err != nil {
		return err
	}
	id, ok, err := s.index.Lookup(string(pathBytes))
	if err != nil {
		return writeU16(rw, uint16(StatusIOError))
	}
	if !ok {
		return writeU16(rw, uint16(StatusNotFound))
	}
	if err := writeU16(rw, uint16(StatusOK)); err != nil {
		return err
	}
	return writeUUID(rw, id)
}

func (s *Server) handleFetchVersion(rw io.ReadWriter) error {
	id, err := readUUID(rw)
	if err != nil {
		return err
	}
	rec, err := version.Open(s.dir, id)
	if err != nil {
		return writeU16(rw, uint16(StatusNotFound))
	}
	defer rec.Close()

	h := rec.Header()
	if err := writeU16(rw, uint16(StatusOK)); err != nil {
		return err
	}
	if err := writeHash(rw, h.Hash); err != nil {
		return err
	}
	if err := writeU32(rw, h.ChunkSize); err != nil {
		return err
	}
	entries, err := rec.Entries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := encodeEntry(rw, e); err != nil {
			return err
		}
	}
	return encodeEntry(rw, version.EndOfChunks)
}

func (s *Server) handleReadFileHash(rw io.ReadWriter) error {
	id, err := readUUID(rw)
	if err != nil {
		return err
	}
	rec, err := version.Open(s.dir, id)
	if err != nil {
		return writeU16(rw, uint16(StatusNotFound))
	}
	defer rec.Close()
	if err := writeU16(rw, uint16(StatusOK)); err != nil {
		return err
	}
	h := rec.Header()
	return writeHash(rw, h.Hash)
}

func (s *Server) handleCreateVersion(rw io.ReadWriter, sess *session) error {
	payload, err := readCreateVersionPayload(rw)
	if err != nil {
		return err
	}
	sess.discardIfOpen()

	id := uuid.New()
	rec, err := version.Create(s.dir, id, version.Header{
		Name:      payload.Name,
		Hash:      payload.Hash,
		Previous:  payload.Previous,
		Size:      payload.Size,
		Mode:      payload.Mode,
		MtimeSec:  payload.MtimeSec,
		MtimeNsec: payload.MtimeNsec,
		CtimeSec:  payload.CtimeSec,
		CtimeNsec: payload.CtimeNsec,
		ChunkSize: payload.ChunkSize,
	})
	if err != nil {
		s.logger.Warn("create version failed", "error", err)
		return writeU16(rw, uint16(StatusIOError))
	}
	sess.rec = rec
	sess.id = id
	sess.dir = s.dir

	if err := writeU16(rw, uint16(StatusOK)); err != nil {
		return err
	}
	return writeUUID(rw, id)
}

func (s *Server) handleMakeLink(rw io.ReadWriter) error {
	pathBytes, err := readLPBytes(rw)
	if err != nil {
		return err
	}
	id, err := readUUID(rw)
	if err != nil {
		return err
	}
	if err := s.index.Update(string(pathBytes), id); err != nil {
		return writeU16(rw, uint16(StatusIOError))
	}
	return writeU16(rw, uint16(StatusOK))
}

func (s *Server) handleStoreAddRef(rw io.ReadWriter) error {
	id, err := readChunkID(rw)
	if err != nil {
		return err
	}
	if err := s.store.Addref(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return writeU16(rw, uint16(StatusNotFound))
		}
		return writeU16(rw, uint16(StatusIOError))
	}
	return writeU16(rw, uint16(StatusOK))
}

func (s *Server) handleStorePutChunk(rw io.ReadWriter) error {
	id, err := readChunkID(rw)
	if err != nil {
		return err
	}
	data, err := readU32LPBytes(rw)
	if err != nil {
		return err
	}
	if err := s.store.Put(id, data); err != nil {
		return writeU16(rw, uint16(StatusIOError))
	}
	return writeU16(rw, uint16(StatusOK))
}

func (s *Server) handleStoreBlockExists(rw io.ReadWriter) error {
	id, err := readChunkID(rw)
	if err != nil {
		return err
	}
	exists, err := s.store.Contains(id)
	if err != nil {
		return writeU16(rw, uint16(StatusIOError))
	}
	if exists {
		return writeU16(rw, 1)
	}
	return writeU16(rw, 0)
}

func (s *Server) handleEmitChunk(rw io.ReadWriter, sess *session) error {
	e, err := decodeEntry(rw)
	if err != nil {
		return err
	}
	if sess.rec == nil {
		return writeU16(rw, uint16(StatusInvalid))
	}
	if err := sess.rec.AppendEntry(e); err != nil {
		return writeU16(rw, uint16(StatusIOError))
	}
	return writeU16(rw, uint16(StatusOK))
}

func (s *Server) handleCloseVersion(rw io.ReadWriter, sess *session) error {
	id, err := readUUID(rw)
	if err != nil {
		return err
	}
	hash, err := readHash(rw)
	if err != nil {
		return err
	}
	abort, err := readU16(rw)
	if err != nil {
		return err
	}

	if sess.rec == nil || sess.id != id {
		return writeU16(rw, uint16(StatusInvalid))
	}

	if abort != 0 {
		sess.rec.Close()
		version.Delete(s.dir, sess.id)
		sess.rec = nil
		return writeU16(rw, uint16(StatusOK))
	}

	if err := sess.rec.Finalize(hash); err != nil {
		sess.rec.Close()
		sess.rec = nil
		return writeU16(rw, uint16(StatusIOError))
	}
	sess.rec.Close()
	sess.rec = nil
	return writeU16(rw, uint16(StatusOK))
}
