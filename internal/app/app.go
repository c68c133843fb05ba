package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/whrgg/cloud-drive-project/internal/blobstore"
	"github.com/whrgg/cloud-drive-project/internal/config"
	"github.com/whrgg/cloud-drive-project/internal/database"
	"github.com/whrgg/cloud-drive-project/internal/drive"
	"github.com/whrgg/cloud-drive-project/internal/encryption"
	"github.com/whrgg/cloud-drive-project/internal/fs"
	"github.com/whrgg/cloud-drive-project/internal/metrics"
	"github.com/whrgg/cloud-drive-project/internal/search"
)

// ErrSearchDisabled is returned by search commands when search.type is "none".
var ErrSearchDisabled = errors.New("search index disabled in config")

// Options adjusts how a DriveApp is built.
type Options struct {
	// Stderr receives warnings and errors. Defaults to os.Stderr.
	Stderr io.Writer
	// Clock and IDs default to the real clock and UUIDs.
	Clock drive.Clock
	IDs   drive.IDGenerator
}

// DriveApp is the application layer between the CLI and drive.Service.
// It constructs all dependencies from config, exposes operations that accept
// raw strings and local paths, and releases everything on Close.
type DriveApp struct {
	cfg        *config.Config
	db         *database.SQLiteDatabase
	blobs      drive.BlobStore
	index      search.Index
	dispatcher *search.Dispatcher
	registry   *prometheus.Registry
	metrics    drive.Metrics
	encryptor  encryption.Encryptor
	walker     *fs.Walker
	service    *drive.Service
	logger     drive.Logger
	clock      drive.Clock
	ids        drive.IDGenerator
	op         *Operation
	logFile    *os.File
}

// NewDriveApp creates a fully wired DriveApp from the given config.
// operation names the CLI command being run (e.g. "Upload", "EmptyTrash").
// The caller must call Close when done.
func NewDriveApp(ctx context.Context, cfg *config.Config, operation string, opts Options) (*DriveApp, error) {
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Clock == nil {
		opts.Clock = drive.RealClock{}
	}
	if opts.IDs == nil {
		opts.IDs = drive.UUIDGenerator{}
	}

	opID := opts.Clock.Now().UTC().Format("20060102T150405Z")
	sl, logFile, err := newLogger(cfg.LogDir, opID, opts.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a := &DriveApp{
		cfg:     cfg,
		logger:  &slogAdapter{l: sl},
		clock:   opts.Clock,
		ids:     opts.IDs,
		op:      NewOperation(operation, ""),
		logFile: logFile,
		walker:  fs.NewWalker(cfg.Filesystem.Ignore),
	}
	if err := a.open(ctx); err != nil {
		a.release()
		return nil, err
	}
	return a, nil
}

func (a *DriveApp) open(ctx context.Context) error {
	blobs, err := blobstore.NewBlobStoreFromConfig(ctx, a.cfg.BlobStore)
	if err != nil {
		return fmt.Errorf("creating blob store: %w", err)
	}
	a.blobs = blobs

	db, err := database.NewDatabaseFromConfig(a.cfg.Database)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.db = db
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(a.cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	a.encryptor = enc

	index, err := search.NewIndexFromConfig(a.cfg.Search)
	if err != nil {
		return fmt.Errorf("opening search index: %w", err)
	}
	a.index = index

	a.metrics = drive.NopMetrics{}
	if a.cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.metrics = metrics.New(a.registry)
	}

	a.wire()
	return nil
}

// wire builds the service over the current database. A restored catalog
// is wired again.
func (a *DriveApp) wire() {
	var publisher drive.IndexPublisher
	if a.index != nil {
		if a.dispatcher == nil {
			a.dispatcher = search.NewDispatcher(a.index, a.logger, a.cfg.Search.QueueSize)
		}
		publisher = a.dispatcher
	}
	a.service = drive.NewService(a.db, a.blobs, publisher, a.metrics, a.logger, a.clock, a.ids, drive.Options{
		DefaultQuota: a.cfg.Quota.DefaultTotal,
		BatchSize:    a.cfg.Upload.BatchSize,
	})
}

// Check verifies the blob store is usable and the catalog schema is current.
func (a *DriveApp) Check(ctx context.Context) error {
	if err := a.blobs.ValidateSetup(ctx); err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	if err := a.db.CheckMigrations(); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	return nil
}

// Service exposes the wired components.
func (a *DriveApp) Service() *drive.Service { return a.service }

// Config returns the config the app was built from.
func (a *DriveApp) Config() *config.Config { return a.cfg }

// Record journals the operation. Only commands that change the drive call it.
func (a *DriveApp) Record(ctx context.Context, parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	op, err := a.db.CreateOperation(ctx, a.op.Name, parameters, a.clock.Now())
	if err != nil {
		return fmt.Errorf("recording operation: %w", err)
	}
	a.op.ID = op.ID
	a.logger.Info("operation started", "operation", a.op.Name, "parameters", parameters)
	return nil
}

// Fail marks the journaled operation as failed when err is non-nil.
func (a *DriveApp) Fail(err error) error {
	if err != nil {
		a.logger.Error("operation failed", "operation", a.op.Name, "error", err)
	}
	return a.op.Fail(err)
}

// History returns the most recent journaled operations.
func (a *DriveApp) History(ctx context.Context, limit int) ([]*drive.Operation, error) {
	return a.db.ListOperations(ctx, limit)
}

// Mkdir creates every missing folder of a slash-separated path below the root.
func (a *DriveApp) Mkdir(ctx context.Context, owner int64, path string) (int64, error) {
	return a.service.Tree.EnsurePath(ctx, owner, drive.RootID, path)
}

// DownloadURL presigns owner's file for the configured TTL.
func (a *DriveApp) DownloadURL(ctx context.Context, owner, nodeID int64) (string, error) {
	return a.service.DownloadURL(ctx, owner, nodeID, a.presignTTL())
}

// ShareDownloadURL presigns a file inside a share after checking its code.
func (a *DriveApp) ShareDownloadURL(ctx context.Context, code, extraction string, nodeID int64) (string, error) {
	share, err := a.service.Shares.ResolveShare(ctx, code)
	if err != nil {
		return "", err
	}
	if err := a.service.Shares.Authorize(share, extraction); err != nil {
		return "", err
	}
	return a.service.Shares.DownloadURL(ctx, share, nodeID, a.presignTTL())
}

// SaveShared copies a node out of a share into owner's drive.
func (a *DriveApp) SaveShared(ctx context.Context, code, extraction string, nodeID, targetParent, owner int64) (*drive.Node, error) {
	share, err := a.service.Shares.ResolveShare(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := a.service.Shares.Authorize(share, extraction); err != nil {
		return nil, err
	}
	return a.service.Shares.SaveToDrive(ctx, share, nodeID, targetParent, owner)
}

func (a *DriveApp) presignTTL() time.Duration {
	return time.Duration(a.cfg.Upload.PresignTTL) * time.Second
}

// Search looks keyword up in the configured index.
func (a *DriveApp) Search(ctx context.Context, owner int64, keyword string) ([]*drive.Node, error) {
	if a.index == nil {
		return nil, ErrSearchDisabled
	}
	if err := a.flushIndex(ctx); err != nil {
		return nil, err
	}
	return a.service.Search(ctx, owner, keyword, a.index)
}

// RebuildIndex re-feeds owner's active nodes into the configured index.
func (a *DriveApp) RebuildIndex(ctx context.Context, owner int64) (int, error) {
	if a.index == nil {
		return 0, ErrSearchDisabled
	}
	if err := a.flushIndex(ctx); err != nil {
		return 0, err
	}
	return a.service.RebuildIndex(ctx, owner, a.index)
}

// flushIndex drains pending notifications so reads see this process's writes.
func (a *DriveApp) flushIndex(ctx context.Context) error {
	if a.dispatcher == nil {
		return nil
	}
	if err := a.dispatcher.Flush(ctx); err != nil {
		return fmt.Errorf("flushing index updates: %w", err)
	}
	return nil
}

// Close finishes the journaled operation, drains index updates, writes the
// metrics textfile and closes all resources.
func (a *DriveApp) Close(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.op.Persisted() {
		keep(a.db.FinishOperation(ctx, a.op.ID, a.op.Status, a.clock.Now()))
		a.logger.Info("operation finished", "operation", a.op.Name, "status", a.op.Status)
	}
	if a.dispatcher != nil {
		keep(a.dispatcher.Close(ctx))
		if n := a.dispatcher.Dropped(); n > 0 {
			a.logger.Warn("index updates dropped, run 'drive index rebuild'", "dropped", n)
		}
		a.dispatcher = nil
	}
	keep(metrics.WriteTextfile(a.registry, a.cfg.Metrics.TextfilePath))
	keep(a.release())
	return firstErr
}

// release closes the index, database and log file, whichever are open.
func (a *DriveApp) release() error {
	var firstErr error
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			firstErr = fmt.Errorf("closing search index: %w", err)
		}
		a.index = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
		a.db = nil
	}
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
	return firstErr
}
