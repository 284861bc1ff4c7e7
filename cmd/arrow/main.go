// Command arrow runs a deduplicating, versioned file backup.
//
// It has three modes, selected by which flags are set:
//
//	arrow -root <dir> -store <dir>            back up a directory into a local store
//	arrow -listen <addr> -store <dir>         serve a store to remote clients
//	arrow -root <dir> -remote <addr>          back up a directory into a remote store
//
// There is no subcommand tree and no configuration language beyond flags
// and an optional JSON config file (-config); argument parsing stays
// deliberately thin, with logging and component construction done here
// the way a command's main function wires everything else in this
// codebase.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"arrow/internal/backup"
	"arrow/internal/config"
	configfile "arrow/internal/config/file"
	"arrow/internal/layout"
	"arrow/internal/logging"
	"arrow/internal/pathindex"
	"arrow/internal/pathindex/bolt"
	"arrow/internal/pathindex/symlink"
	"arrow/internal/remote"
	"arrow/internal/store"
	"arrow/internal/syncer"
	"arrow/internal/version"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(logger, os.Args[1:]); err != nil {
		logger.Error("arrow failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, args []string) error {
	flags := flag.NewFlagSet("arrow", flag.ContinueOnError)
	root := flags.String("root", "", "source directory to back up")
	storeRoot := flags.String("store", "", "local store root (block store + version filer)")
	remoteAddr := flags.String("remote", "", "address of a remote store to back up into (host:port)")
	listenAddr := flags.String("listen", "", "address to serve a local store on (host:port)")
	configPath := flags.String("config", "", "path to a JSON config file (flags override its values)")
	ignore := flags.String("ignore", "", "comma-separated glob patterns of paths to skip")
	index := flags.String("index", "symlink", "path index backend: symlink or bolt")
	cron := flags.String("cron", "", "cron expression for periodic backup runs (default: run once and exit)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cfg, *root, *storeRoot, *remoteAddr, *ignore)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	switch {
	case *listenAddr != "":
		return runServe(ctx, logger, *listenAddr, cfg)
	case cfg.Remote != "":
		return runRemoteBackup(ctx, logger, cfg)
	case cfg.Root != "" && cfg.StoreRoot != "":
		return runLocalBackup(ctx, logger, cfg, *index, *cron)
	default:
		flags.Usage()
		return errors.New("arrow: specify either -listen, -remote with -root, or -store with -root")
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return &config.Config{}, nil
	}
	cfg, err := configfile.New(path).Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("arrow: load config: %w", err)
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	return cfg, nil
}

func applyFlagOverrides(cfg *config.Config, root, storeRoot, remoteAddr, ignore string) {
	if root != "" {
		cfg.Root = root
	}
	if storeRoot != "" {
		cfg.StoreRoot = storeRoot
	}
	if remoteAddr != "" {
		cfg.Remote = remoteAddr
	}
	if ignore != "" {
		cfg.IgnoreGlobs = strings.Split(ignore, ",")
	}
}

func openPathIndex(backend string, dir layout.Dir) (pathindex.PathIndex, error) {
	switch backend {
	case "symlink":
		return symlink.New(dir)
	case "bolt":
		return bolt.Open(filepath.Join(dir.Root(), "pathindex.bolt"))
	default:
		return nil, fmt.Errorf("arrow: unknown index backend %q", backend)
	}
}

func runLocalBackup(ctx context.Context, logger *slog.Logger, cfg *config.Config, indexBackend, cronExpr string) error {
	st, err := store.Open(store.Config{Root: cfg.StoreRoot, Logger: logger})
	if err != nil {
		return fmt.Errorf("arrow: open store: %w", err)
	}
	defer st.Close()

	dir := layout.New(cfg.StoreRoot)
	idx, err := openPathIndex(indexBackend, dir)
	if err != nil {
		return err
	}
	defer idx.Close()

	driver := backup.New(backup.Config{
		Root:              cfg.Root,
		IgnoreGlobs:       cfg.IgnoreGlobs,
		Store:             st,
		Dir:               dir,
		Index:             idx,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		Logger:            logger,
	})

	if cronExpr == "" {
		stats, err := driver.Run()
		if err != nil {
			return fmt.Errorf("arrow: backup run: %w", err)
		}
		logger.Info("backup complete", "summary", stats.Summary())
		return nil
	}

	if err := driver.Scheduler().AddJob("backup", cronExpr, driver.Run); err != nil {
		return fmt.Errorf("arrow: schedule backup: %w", err)
	}
	driver.Scheduler().Start()

	<-ctx.Done()
	return driver.Scheduler().Stop()
}

func runServe(ctx context.Context, logger *slog.Logger, addr string, cfg *config.Config) error {
	if cfg.StoreRoot == "" {
		return errors.New("arrow: -listen requires -store")
	}
	st, err := store.Open(store.Config{Root: cfg.StoreRoot, Logger: logger})
	if err != nil {
		return fmt.Errorf("arrow: open store: %w", err)
	}
	defer st.Close()

	dir := layout.New(cfg.StoreRoot)
	idx, err := symlink.New(dir)
	if err != nil {
		return fmt.Errorf("arrow: open path index: %w", err)
	}
	defer idx.Close()

	srv := remote.NewServer(remote.Config{Dir: dir, Store: st, Index: idx, Logger: logger})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("arrow: listen on %s: %w", addr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.Info("serving store", "addr", addr, "store", cfg.StoreRoot)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("arrow: accept: %w", err)
		}
		go func() {
			defer conn.Close()
			if err := srv.Serve(conn); err != nil {
				logger.Warn("connection ended with error", "remote", conn.RemoteAddr(), "error", err)
			}
		}()
	}
}

// runRemoteBackup walks Root and drives the same generate/diff dispatch as
// a local run, but against a remote peer's store and version filer instead
// of local ones.
func runRemoteBackup(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	conn, err := net.Dial("tcp", cfg.Remote)
	if err != nil {
		return fmt.Errorf("arrow: dial %s: %w", cfg.Remote, err)
	}
	defer conn.Close()

	c := remote.NewClient(conn)
	logger = logging.Default(logger).With("component", "remote-backup", "remote", cfg.Remote)

	stats := &backup.RunStats{}
	start := time.Now()

	err = filepath.WalkDir(cfg.Root, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel := filepath.ToSlash(mustRel(cfg.Root, full))
		for _, pattern := range cfg.IgnoreGlobs {
			if ok, _ := doublestar.Match(pattern, rel); ok {
				return nil
			}
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		stats.FilesScanned.Add(1)
		return backupFileRemote(c, rel, full, info, stats)
	})
	if err != nil {
		return fmt.Errorf("arrow: remote backup walk: %w", err)
	}

	if err := c.Goodbye(); err != nil {
		logger.Warn("goodbye failed", "error", err)
	}

	logger.Info("remote backup complete", "duration", time.Since(start), "summary", stats.Summary())
	return nil
}

func mustRel(root, full string) string {
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return full
	}
	return rel
}

func backupFileRemote(c *remote.Client, rel, full string, info fs.FileInfo, stats *backup.RunStats) error {
	id, found, err := c.ReadLink(rel)
	if err != nil {
		stats.Errors.Add(1)
		return fmt.Errorf("arrow: remote ReadLink %s: %w", rel, err)
	}
	if !found {
		return generateRemote(c, rel, full, info, stats)
	}

	basisHash, basisChunkSize, basisEntries, err := c.FetchVersion(id)
	if err != nil {
		stats.Errors.Add(1)
		return fmt.Errorf("arrow: remote FetchVersion %s: %w", rel, err)
	}
	return diffRemote(c, rel, full, info, id, basisHash, basisChunkSize, basisEntries, stats)
}

func generateRemote(c *remote.Client, rel, full string, info fs.FileInfo, stats *backup.RunStats) error {
	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer f.Close()

	chunkSize := version.ClampChunkSize(uint64(info.Size()))
	mtime := info.ModTime()
	id, err := c.CreateVersion(version.Header{
		Name:      rel,
		Size:      uint64(info.Size()),
		Mode:      uint32(info.Mode()),
		ChunkSize: chunkSize,
		MtimeSec:  uint32(mtime.Unix()),
		MtimeNsec: uint32(mtime.Nanosecond()),
		CtimeSec:  uint32(mtime.Unix()),
		CtimeNsec: uint32(mtime.Nanosecond()),
	})
	if err != nil {
		return fmt.Errorf("arrow: remote CreateVersion %s: %w", rel, err)
	}

	_, hash, err := syncer.Generate(f, uint64(info.Size()), c.Callbacks())
	if err != nil {
		c.CloseVersion(id, [16]byte{}, true)
		return fmt.Errorf("arrow: remote generate %s: %w", rel, err)
	}
	if err := c.CloseVersion(id, hash, false); err != nil {
		return fmt.Errorf("arrow: remote CloseVersion %s: %w", rel, err)
	}
	if err := c.MakeLink(rel, id); err != nil {
		return fmt.Errorf("arrow: remote MakeLink %s: %w", rel, err)
	}
	stats.FilesChanged.Add(1)
	return nil
}

func diffRemote(c *remote.Client, rel, full string, info fs.FileInfo, basisID uuid.UUID, basisHash [16]byte, basisChunkSize uint32, basisEntries []version.Entry, stats *backup.RunStats) error {
	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer f.Close()

	mtime := info.ModTime()
	id, err := c.CreateVersion(version.Header{
		Name:      rel,
		Previous:  basisID,
		Size:      uint64(info.Size()),
		Mode:      uint32(info.Mode()),
		ChunkSize: basisChunkSize,
		MtimeSec:  uint32(mtime.Unix()),
		MtimeNsec: uint32(mtime.Nanosecond()),
		CtimeSec:  uint32(mtime.Unix()),
		CtimeNsec: uint32(mtime.Nanosecond()),
	})
	if err != nil {
		return fmt.Errorf("arrow: remote CreateVersion %s: %w", rel, err)
	}

	matched, _, hash, err := syncer.Diff(basisEntries, basisChunkSize, basisHash, f, true, c.Callbacks())
	if err != nil {
		c.CloseVersion(id, [16]byte{}, true)
		return fmt.Errorf("arrow: remote diff %s: %w", rel, err)
	}

	if matched {
		if err := c.CloseVersion(id, hash, true); err != nil {
			return fmt.Errorf("arrow: remote discard unchanged version for %s: %w", rel, err)
		}
		stats.FilesUnchanged.Add(1)
		return nil
	}

	if err := c.CloseVersion(id, hash, false); err != nil {
		return fmt.Errorf("arrow: remote CloseVersion %s: %w", rel, err)
	}
	if err := c.MakeLink(rel, id); err != nil {
		return fmt.Errorf("arrow: remote MakeLink %s: %w", rel, err)
	}
	stats.FilesChanged.Add(1)
	return nil
}
