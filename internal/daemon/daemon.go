package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"conduit/internal/config"
	"conduit/internal/logging"
	"conduit/internal/pipeline"
	"conduit/internal/store"
	"conduit/internal/upload"
)

// Daemon runs the pipeline services and enforces single-instance execution.
type Daemon struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *store.Store
	coordinator *pipeline.Coordinator
	uploads     *upload.Manager
	api         *apiServer
	logPath     string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DBPath       string
	LockFilePath string
	Health       store.HealthSummary
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, coordinator *pipeline.Coordinator, uploads *upload.Manager, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil || coordinator == nil || uploads == nil {
		return nil, errors.New("daemon requires config, store, coordinator, and upload manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "conduitd.lock")
	d := &Daemon{
		cfg:         cfg,
		logger:      logger,
		store:       st,
		coordinator: coordinator,
		uploads:     uploads,
		logPath:     filepath.Join(cfg.Paths.LogDir, "conduit.log"),
		lockPath:    lockPath,
		lock:        flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock, launches the staleness sweeper, and brings
// up the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another conduit daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	go d.uploads.RunSweeper(d.ctx)
	go d.runMonitor(d.ctx)
	go d.watchEvents(d.ctx)

	if d.api != nil {
		if err := d.api.start(d.ctx); err != nil {
			_ = d.lock.Unlock()
			d.cancel()
			d.ctx = nil
			d.cancel = nil
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("conduit daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.api != nil {
		d.api.stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("conduit daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.coordinator.Close()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the bound API address, or empty when the server is off.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status with pipeline health aggregates.
func (d *Daemon) Status(ctx context.Context) Status {
	staleCutoff := time.Now().UTC().Add(-time.Duration(d.cfg.Upload.StaleAfterHours) * time.Hour)
	health, err := d.store.Health(ctx, staleCutoff)
	if err != nil {
		d.logger.Warn("health aggregation failed", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DBPath:       d.store.Path(),
		LockFilePath: d.lockPath,
		Health:       health,
	}
}
