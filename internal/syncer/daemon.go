package syncer

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/satchelapp/satchel/internal/localdb"
	"github.com/satchelapp/satchel/internal/remote"
)

// DaemonConfig holds configuration for the background sync daemon.
type DaemonConfig struct {
	// Collections to reconcile.
	Collections []string

	// SyncInterval is how often to run a full pass over all collections
	// (default: 5 minutes).
	SyncInterval time.Duration

	// FlushInterval is how often to check the journal for local changes
	// to push between full passes (default: 5 seconds). This batches
	// rapid local edits together.
	FlushInterval time.Duration

	// Reconnect is the connectivity flip channel (Prober.Watch). When the
	// network comes back an immediate full pass runs. Optional.
	Reconnect <-chan bool

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultDaemonConfig returns sensible defaults.
func DefaultDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		SyncInterval:  5 * time.Minute,
		FlushInterval: 5 * time.Second,
		Logger:        log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon runs continuous background reconciliation for one owner:
//
//  1. An initial full pass on startup
//  2. Live-update ingestion from the realtime channel
//  3. Debounced journal flushes after local writes
//  4. Periodic full passes as a safety net
//
// The daemon's lifetime is scoped to the context passed to Run; cancelling
// it stops in-flight work cleanly (every record apply is atomic at
// single-record granularity, so teardown never leaves half-applied state).
type Daemon struct {
	reconciler *Reconciler
	db         *localdb.DB
	backend    remote.Store
	ownerID    string
	config     *DaemonConfig
}

// NewDaemon creates a daemon around an existing reconciler.
func NewDaemon(reconciler *Reconciler, db *localdb.DB, backend remote.Store, ownerID string, config *DaemonConfig) *Daemon {
	if config == nil {
		config = DefaultDaemonConfig()
	}
	if config.SyncInterval == 0 {
		config.SyncInterval = 5 * time.Minute
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	return &Daemon{
		reconciler: reconciler,
		db:         db,
		backend:    backend,
		ownerID:    ownerID,
		config:     config,
	}
}

// Run starts the daemon and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	logger := d.config.Logger
	logger.Printf("Starting sync daemon: owner=%s collections=%v", d.ownerID, d.config.Collections)

	// Initial full pass. An offline start is fine; the periodic pass and
	// the reconnect signal pick it up later.
	if _, err := d.reconciler.SyncAll(ctx, d.config.Collections); err != nil {
		if errors.Is(err, remote.ErrOffline) {
			logger.Printf("Initial pass offline; will retry")
		} else if ctx.Err() == nil {
			logger.Printf("WARNING: initial pass failed: %v", err)
		}
	}

	feed, err := d.backend.Subscribe(ctx, d.ownerID, d.config.Collections)
	if err != nil {
		return err
	}

	syncTicker := time.NewTicker(d.config.SyncInterval)
	defer syncTicker.Stop()
	flushTicker := time.NewTicker(d.config.FlushInterval)
	defer flushTicker.Stop()

	// Channels are nilled out once closed so the select stops polling
	// them; the tickers keep the daemon useful without a live feed.
	events := feed.Events()
	reconnect := d.reconnectCh()

	for {
		select {
		case <-ctx.Done():
			logger.Printf("Daemon stopping")
			<-feed.Done()
			return nil

		case ev, ok := <-events:
			if !ok {
				logger.Printf("Live feed closed; relying on periodic passes")
				events = nil
				continue
			}
			if err := d.reconciler.ApplyEvent(ctx, ev); err != nil && ctx.Err() == nil {
				logger.Printf("WARNING: failed to apply live update %s/%s: %v",
					ev.Collection, ev.DocumentID, err)
			}

		case <-flushTicker.C:
			d.flushPending(ctx, logger)

		case <-syncTicker.C:
			if _, err := d.reconciler.SyncAll(ctx, d.config.Collections); err != nil {
				d.logPassError(logger, err)
			}

		case online, ok := <-reconnect:
			if !ok {
				reconnect = nil
				continue
			}
			if online {
				logger.Printf("Connectivity restored; running full pass")
				if _, err := d.reconciler.SyncAll(ctx, d.config.Collections); err != nil {
					d.logPassError(logger, err)
				}
			}
		}
	}
}

// reconnectCh returns the configured reconnect channel or a nil channel
// (which never fires) when none was configured.
func (d *Daemon) reconnectCh() <-chan bool {
	return d.config.Reconnect
}

// flushPending runs passes only for collections with queued local
// mutations, keeping the between-pass traffic proportional to actual
// changes.
func (d *Daemon) flushPending(ctx context.Context, logger *log.Logger) {
	pending, err := d.db.PendingCount(ctx, d.ownerID)
	if err != nil {
		logger.Printf("WARNING: failed to count pending ops: %v", err)
		return
	}
	if pending == 0 {
		return
	}

	for _, collection := range d.config.Collections {
		ops, err := d.db.PendingOps(ctx, d.ownerID, collection)
		if err != nil {
			logger.Printf("WARNING: failed to read journal for %s: %v", collection, err)
			continue
		}
		if len(ops) == 0 {
			continue
		}
		if _, err := d.reconciler.SyncCollection(ctx, collection); err != nil {
			d.logPassError(logger, err)
			if errors.Is(err, remote.ErrOffline) {
				return
			}
		}
	}
}

func (d *Daemon) logPassError(logger *log.Logger, err error) {
	if errors.Is(err, remote.ErrOffline) {
		// Expected while disconnected; local operation continues.
		return
	}
	if err != nil {
		logger.Printf("WARNING: pass failed: %v", err)
	}
}
