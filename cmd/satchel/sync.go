package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/satchelapp/satchel/internal/connectivity"
	"github.com/satchelapp/satchel/internal/record"
	"github.com/satchelapp/satchel/internal/remote"
	"github.com/satchelapp/satchel/internal/session"
	"github.com/satchelapp/satchel/internal/store"
	"github.com/satchelapp/satchel/internal/syncer"
)

var syncCollections []string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one full reconciliation pass",
	Long: `Run a single reconciliation pass against the backend and exit.

Each collection is pulled, diffed against the local database and applied:
remote changes are downloaded, pending local changes are uploaded, and
conflicts resolve by last write wins.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		sess := loadSession(cfg)
		if sess.Entitlement != session.EntitlementSynced {
			fmt.Fprintf(os.Stderr, "Error: session %s has the %s entitlement, nothing to sync\n", sess.UserID, sess.Entitlement)
			os.Exit(1)
		}

		database := openDatabase(cfg)
		defer database.Close()

		logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)
		backend, err := remote.NewClient(&remote.Config{
			Endpoint:   cfg.RemoteEndpoint,
			DatabaseID: cfg.RemoteDatabase,
			APIKey:     cfg.RemoteAPIKey,
			Checker:    connectivity.Static(true),
			Logger:     logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating backend client: %v\n", err)
			os.Exit(1)
		}

		collections := syncCollections
		if len(collections) == 0 {
			collections = record.AllCollections()
		}

		reconciler := syncer.New(database, backend, store.NewHub(), sess.UserID, logger)

		fmt.Printf("Syncing %d collections for %s...\n", len(collections), sess.UserID)
		start := time.Now()

		result, err := reconciler.SyncAll(context.Background(), collections)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Sync complete in %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Downloaded: %d\n", result.Downloaded)
		fmt.Printf("   Uploaded: %d\n", result.Uploaded)
		fmt.Printf("   Deleted locally: %d\n", result.DeletedLocal)
		fmt.Printf("   Deleted remotely: %d\n", result.DeletedRemote)
		if len(result.Failed) > 0 {
			fmt.Printf("   Failed: %d\n", len(result.Failed))
			for _, f := range result.Failed {
				fmt.Fprintf(os.Stderr, "   %s/%s: %v\n", f.Collection, f.ID, f.Err)
			}
			os.Exit(1)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Long: `Display per-collection sync state from the local database.

Shows the last attempted and last successful pass per collection, plus
the number of local changes still waiting to upload.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		sess := loadSession(cfg)

		database := openDatabase(cfg)
		defer database.Close()

		ctx := context.Background()

		fmt.Printf("\nSync Status for %s (%s)\n\n", sess.UserID, sess.Entitlement)
		fmt.Printf("Database: %s\n", cfg.DBPath())

		pending, err := database.PendingCount(ctx, sess.UserID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading journal: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Pending uploads: %d\n\n", pending)

		states, err := database.SyncStates(ctx, sess.UserID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading sync state: %v\n", err)
			os.Exit(1)
		}
		if len(states) == 0 {
			fmt.Printf("No passes recorded yet\n\n")
			return
		}
		for _, st := range states {
			fmt.Printf("%s\n", st.Collection)
			fmt.Printf("   Last pass: %s\n", formatMillis(st.LastPassAt))
			fmt.Printf("   Last success: %s\n", formatMillis(st.LastSuccessAt))
			if st.LastError != "" {
				fmt.Printf("   Last error: %s\n", st.LastError)
			}
		}
		fmt.Println()
	},
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "never"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}

func init() {
	syncCmd.Flags().StringSliceVar(&syncCollections, "collections", nil, "collections to sync (default: all)")
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}
