// Package backup implements the driver that walks a source tree, dispatches
// each regular file to the synchronizer, and maintains the source-path
// index that remembers which version record is the current one for each
// path.
package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/docker/go-units"
	"github.com/google/uuid"

	"arrow/internal/keying"
	"arrow/internal/layout"
	"arrow/internal/logging"
	"arrow/internal/pathindex"
	"arrow/internal/store"
	"arrow/internal/syncer"
	"arrow/internal/version"
)

// ErrNotVersionLink is returned when the path index has an entry for a
// path but the version record it points to cannot be opened as one.
var ErrNotVersionLink = errors.New("backup: path index entry does not resolve to a version record")

// RunStats accumulates counters for one backup run. Safe for concurrent
// use; the driver itself runs one file at a time, but callers may read a
// RunStats while a run is still in progress.
type RunStats struct {
	FilesScanned    atomic.Int64
	FilesChanged    atomic.Int64
	FilesUnchanged  atomic.Int64
	BytesReferenced atomic.Int64
	BytesStored     atomic.Int64
	Errors          atomic.Int64
}

// Summary renders a human-readable one-line digest of the run, using
// go-units for byte counts.
func (s *RunStats) Summary() string {
	return fmt.Sprintf(
		"scanned=%d changed=%d unchanged=%d referenced=%s stored=%s errors=%d",
		s.FilesScanned.Load(), s.FilesChanged.Load(), s.FilesUnchanged.Load(),
		units.HumanSize(float64(s.BytesReferenced.Load())),
		units.HumanSize(float64(s.BytesStored.Load())),
		s.Errors.Load(),
	)
}

// Config configures a Driver.
type Config struct {
	// Root is the source directory to walk.
	Root string

	// IgnoreGlobs are doublestar patterns matched against each file's
	// source-relative path (slash-separated); a match skips the file.
	IgnoreGlobs []string

	// Store is the block store new and changed chunks are written to.
	Store *store.Store

	// Dir is the layout of the version-record tree Store and Index share.
	Dir layout.Dir

	// Index maps source-relative paths to their current version UUID.
	Index pathindex.PathIndex

	// MaxConcurrentJobs bounds the backup Scheduler's parallelism for
	// periodic runs. Defaults to 4.
	MaxConcurrentJobs int

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Logger for structured logging. If nil, logging is disabled.
	Logger *slog.Logger
}

// Driver walks a source tree and drives the synchronizer and path index
// to produce and record new versions. It does not itself own the store or
// index lifecycle; callers open and close those independently.
type Driver struct {
	root        string
	ignoreGlobs []string
	store       *store.Store
	dir         layout.Dir
	index       pathindex.PathIndex
	now         func() time.Time
	logger      *slog.Logger
	scheduler   *Scheduler
}

// New constructs a Driver. Panics only on the scheduler's own internal
// construction error, which cannot happen under normal use.
func New(cfg Config) *Driver {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := logging.Default(cfg.Logger).With("component", "backup")

	sched, err := newScheduler(logger, cfg.MaxConcurrentJobs, cfg.Now)
	if err != nil {
		panic(fmt.Sprintf("backup: create scheduler: %v", err))
	}

	return &Driver{
		root:        cfg.Root,
		ignoreGlobs: cfg.IgnoreGlobs,
		store:       cfg.Store,
		dir:         cfg.Dir,
		index:       cfg.Index,
		now:         cfg.Now,
		logger:      logger,
		scheduler:   sched,
	}
}

// Scheduler returns the scheduler for periodic backup runs.
func (d *Driver) Scheduler() *Scheduler {
	return d.scheduler
}

// Run performs one full depth-first walk of the source tree, backing up
// every regular file that does not match an ignore pattern. Directory
// entries are sorted by name at each level for reproducible runs. It
// returns accumulated stats; a per-file error increments stats.Errors and
// the walk continues rather than aborting, except when the walk itself
// cannot read a directory or a file's error wraps store.ErrCorrupt, which
// ends the run with that error.
func (d *Driver) Run() (*RunStats, error) {
	stats := &RunStats{}
	start := d.now()
	err := d.walk(d.root, stats)
	d.logger.Info("backup run finished", "duration", d.now().Sub(start), "summary", stats.Summary())
	return stats, err
}

// walk recurses depth-first through dir (an absolute path), backing up
// every regular file beneath it.
func (d *Driver) walk(dir string, stats *RunStats) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("backup: read dir %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}
		full := filepath.Join(dir, name)

		if entry.IsDir() {
			if err := d.walk(full, stats); err != nil {
				return err
			}
			continue
		}

		info, err := entry.Info()
		if err != nil {
			stats.Errors.Add(1)
			d.logger.Warn("stat failed", "path", full, "error", err)
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		rel, err := filepath.Rel(d.root, full)
		if err != nil {
			stats.Errors.Add(1)
			d.logger.Warn("relativize failed", "path", full, "error", err)
			continue
		}
		rel = filepath.ToSlash(rel)

		if d.matchesIgnore(rel) {
			continue
		}

		stats.FilesScanned.Add(1)
		if err := d.backupFile(rel, full, info, stats); err != nil {
			stats.Errors.Add(1)
			if errors.Is(err, store.ErrCorrupt) {
				return fmt.Errorf("backup: %s: %w", rel, err)
			}
			d.logger.Warn("backup file failed", "path", rel, "error", err)
		}
	}
	return nil
}

func (d *Driver) matchesIgnore(rel string) bool {
	for _, pattern := range d.ignoreGlobs {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// backupFile looks up the path's basis version, if any, and dispatches to
// generate or diff, then updates the index.
func (d *Driver) backupFile(rel, full string, info fs.FileInfo, stats *RunStats) error {
	basisID, found, err := d.index.Lookup(rel)
	if err != nil {
		return fmt.Errorf("backup: index lookup %s: %w", rel, err)
	}

	if !found {
		return d.generateFile(rel, full, info, stats)
	}

	basis, err := version.Open(d.dir, basisID)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotVersionLink, rel, err)
	}
	return d.diffFile(rel, full, info, basis, stats)
}

func (d *Driver) callbacksFor(entries *[]version.Entry, stats *RunStats) syncer.Callbacks {
	return syncer.Callbacks{
		AddRef: func(id keying.ChunkId) error {
			return d.store.Addref(id)
		},
		PutBlock: func(id keying.ChunkId, data []byte) error {
			if err := d.store.Put(id, data); err != nil {
				return err
			}
			stats.BytesStored.Add(int64(len(data)))
			return nil
		},
		StoreContains: func(id keying.ChunkId) (bool, error) {
			return d.store.Contains(id)
		},
		EmitChunk: func(e version.Entry) error {
			if e.Tag == version.TagReference {
				stats.BytesReferenced.Add(int64(e.Length))
			}
			*entries = append(*entries, e)
			return nil
		},
	}
}

func headerFromInfo(name string, size uint64, mode uint32, mtime, ctime time.Time, chunkSize uint32, previous [16]byte) version.Header {
	return version.Header{
		Name:      name,
		Previous:  previous,
		Size:      size,
		Mode:      mode,
		MtimeSec:  uint32(mtime.Unix()),
		MtimeNsec: uint32(mtime.Nanosecond()),
		CtimeSec:  uint32(ctime.Unix()),
		CtimeNsec: uint32(ctime.Nanosecond()),
		ChunkSize: chunkSize,
	}
}

// fileTimes extracts mtime/ctime from a fs.FileInfo's platform-specific
// Sys(), falling back to ModTime for both when the underlying stat_t is
// unavailable.
func fileTimes(info fs.FileInfo) (mtime, ctime time.Time) {
	mtime = info.ModTime()
	ctime = mtime
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		mtime = time.Unix(st.Mtim.Sec, st.Mtim.Nsec)
		ctime = time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
	}
	return mtime, ctime
}

func (d *Driver) generateFile(rel, full string, info fs.FileInfo, stats *RunStats) error {
	f, err := os.Open(full)
	if err != nil {
		return fmt.Errorf("backup: open %s: %w", rel, err)
	}
	defer f.Close()

	id := uuid.New()
	mtime, ctime := fileTimes(info)
	chunkSize := version.ClampChunkSize(uint64(info.Size()))
	rec, err := version.Create(d.dir, id, headerFromInfo(rel, uint64(info.Size()), uint32(info.Mode()), mtime, ctime, chunkSize, [16]byte{}))
	if err != nil {
		return fmt.Errorf("backup: create version for %s: %w", rel, err)
	}

	var entries []version.Entry
	cb := d.callbacksFor(&entries, stats)
	_, hash, err := syncer.Generate(f, uint64(info.Size()), cb)
	if err != nil {
		rec.Close()
		version.Delete(d.dir, id)
		return fmt.Errorf("backup: generate %s: %w", rel, err)
	}

	if err := d.finalizeNewVersion(rec, entries, hash); err != nil {
		return fmt.Errorf("backup: finalize %s: %w", rel, err)
	}

	if err := d.index.Update(rel, id); err != nil {
		return fmt.Errorf("backup: update index for %s: %w", rel, err)
	}

	stats.FilesChanged.Add(1)
	d.logger.Debug("file backed up (new)", "path", rel, "id", id)
	return nil
}

func (d *Driver) diffFile(rel, full string, info fs.FileInfo, basis *version.Record, stats *RunStats) error {
	defer basis.Close()

	f, err := os.Open(full)
	if err != nil {
		return fmt.Errorf("backup: open %s: %w", rel, err)
	}
	defer f.Close()

	basisEntries, err := basis.Entries()
	if err != nil {
		return fmt.Errorf("backup: read basis entries for %s: %w", rel, err)
	}
	basisHeader := basis.Header()

	id := uuid.New()
	mtime, ctime := fileTimes(info)
	rec, err := version.Create(d.dir, id, headerFromInfo(rel, uint64(info.Size()), uint32(info.Mode()), mtime, ctime, basisHeader.ChunkSize, basis.ID()))
	if err != nil {
		return fmt.Errorf("backup: create version for %s: %w", rel, err)
	}

	var entries []version.Entry
	cb := d.callbacksFor(&entries, stats)
	matched, _, hash, err := syncer.Diff(basisEntries, basisHeader.ChunkSize, basisHeader.Hash, f, true, cb)
	if err != nil {
		rec.Close()
		version.Delete(d.dir, id)
		return fmt.Errorf("backup: diff %s: %w", rel, err)
	}

	if matched {
		rec.Close()
		if err := version.Delete(d.dir, id); err != nil {
			return fmt.Errorf("backup: discard unchanged version for %s: %w", rel, err)
		}
		stats.FilesUnchanged.Add(1)
		d.logger.Debug("file unchanged", "path", rel, "basis", basis.ID())
		return nil
	}

	if err := d.finalizeNewVersion(rec, entries, hash); err != nil {
		return fmt.Errorf("backup: finalize %s: %w", rel, err)
	}

	if err := d.index.Update(rel, id); err != nil {
		return fmt.Errorf("backup: update index for %s: %w", rel, err)
	}

	stats.FilesChanged.Add(1)
	d.logger.Debug("file backed up (diff)", "path", rel, "id", id, "basis", basis.ID())
	return nil
}

// finalizeNewVersion appends every generate/diff-emitted entry to rec and
// writes its terminator and whole-file hash. chunk_size is already fixed
// in the header from Create, so only the hash changes here.
func (d *Driver) finalizeNewVersion(rec *version.Record, entries []version.Entry, hash [16]byte) error {
	defer rec.Close()
	for _, e := range entries {
		if err := rec.AppendEntry(e); err != nil {
			return err
		}
	}
	return rec.Finalize(hash)
}
