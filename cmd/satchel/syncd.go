package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/satchelapp/satchel/internal/config"
	"github.com/satchelapp/satchel/internal/connectivity"
	"github.com/satchelapp/satchel/internal/record"
	"github.com/satchelapp/satchel/internal/remote"
	"github.com/satchelapp/satchel/internal/session"
	"github.com/satchelapp/satchel/internal/store"
	"github.com/satchelapp/satchel/internal/syncer"
)

var syncdCmd = &cobra.Command{
	Use:   "syncd",
	Short: "Run the sync daemon (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon:
  1. Performs a full reconciliation pass against the backend
  2. Subscribes to the realtime feed and applies live updates
  3. Flushes pending local changes every few seconds
  4. Runs a periodic full pass as a safety net
  5. Re-syncs immediately when connectivity returns

Sessions with the offline entitlement have nothing to reconcile; the
daemon exits once it reads one. The daemon watches the session file and
stops when the user signs out or the entitlement changes.

Press Ctrl+C to stop.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		sess := loadSession(cfg)
		if sess.Entitlement != session.EntitlementSynced {
			fmt.Printf("Session %s has the %s entitlement, nothing to sync\n", sess.UserID, sess.Entitlement)
			return
		}

		logger := newDaemonLogger(cfg)

		database := openDatabase(cfg)
		defer database.Close()

		prober := connectivity.NewProber(&connectivity.ProberConfig{
			Addr:     cfg.ProbeAddr,
			Interval: cfg.ProbeInterval,
		})

		backend, err := remote.NewClient(&remote.Config{
			Endpoint:   cfg.RemoteEndpoint,
			DatabaseID: cfg.RemoteDatabase,
			APIKey:     cfg.RemoteAPIKey,
			Checker:    prober,
			Logger:     logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating backend client: %v\n", err)
			os.Exit(1)
		}

		watcher, err := session.NewWatcher()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating session watcher: %v\n", err)
			os.Exit(1)
		}
		if err := watcher.Start(cfg.SessionPath()); err != nil {
			fmt.Fprintf(os.Stderr, "Error watching session file: %v\n", err)
			os.Exit(1)
		}
		defer watcher.Stop()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		prober.Start(ctx)
		defer prober.Stop()

		hub := store.NewHub()
		reconciler := syncer.New(database, backend, hub, sess.UserID, logger)
		daemon := syncer.NewDaemon(reconciler, database, backend, sess.UserID, &syncer.DaemonConfig{
			Collections:   record.AllCollections(),
			SyncInterval:  cfg.SyncInterval,
			FlushInterval: cfg.FlushInterval,
			Reconnect:     prober.Watch(),
			Logger:        logger,
		})

		// Stop on Ctrl+C, or when the session ends or loses the synced
		// entitlement.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			for {
				select {
				case <-sigCh:
					logger.Printf("Received shutdown signal")
					cancel()
					return
				case ev, ok := <-watcher.Events():
					if !ok {
						return
					}
					if ev.Session == nil || ev.Session.Entitlement != session.EntitlementSynced {
						logger.Printf("Session ended, stopping daemon")
						cancel()
						return
					}
				case err, ok := <-watcher.Errors():
					if !ok {
						return
					}
					if err != nil {
						logger.Printf("WARNING: session watcher error: %v", err)
					}
				}
			}
		}()

		fmt.Printf("Starting sync daemon for %s\n", sess.UserID)
		fmt.Printf("   Database: %s\n", cfg.DBPath())
		fmt.Printf("   Backend:  %s\n", cfg.RemoteEndpoint)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := daemon.Run(ctx); err != nil && err != context.Canceled {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
	},
}

// newDaemonLogger builds the daemon logger, rotating through the configured
// log file when one is set.
func newDaemonLogger(cfg *config.Config) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
	}
	return log.New(out, "[syncd] ", log.LstdFlags)
}

func init() {
	rootCmd.AddCommand(syncdCmd)
}
