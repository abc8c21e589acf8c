package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/satchelapp/satchel/internal/migrate"
	"github.com/satchelapp/satchel/internal/record"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Move records between storage spaces and files",
	Long: `Move records between the offline space, the synced space and JSONL files.

Used when a user upgrades from the offline entitlement to the synced one,
and for backup and restore.`,
}

var (
	migrateDryRun      bool
	migratePurge       bool
	migrateCollections []string
	migrateOffline     bool
)

var migrateUploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Promote offline-space records to the synced space",
	Long: `Copy every offline-space record into the synced space and queue it for
upload on the next reconciliation pass.

Records already present in the synced space with an equal or newer
timestamp are skipped, so the command is safe to re-run. The offline
copies are kept unless --purge is set.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		sess := loadSession(cfg)

		database := openDatabase(cfg)
		defer database.Close()

		collections := migrateCollections
		if len(collections) == 0 {
			collections = record.AllCollections()
		}

		result, err := migrate.UploadAll(context.Background(), database, sess.UserID, &migrate.UploadOptions{
			Collections:  collections,
			DryRun:       migrateDryRun,
			PurgeOffline: migratePurge,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during migration: %v\n", err)
			os.Exit(1)
		}

		verb := "Queued"
		if migrateDryRun {
			verb = "Would queue"
		}
		fmt.Printf("%s %d records for upload (%d skipped)\n", verb, result.RecordsQueued, result.Skipped)
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "   %s\n", e)
		}
		if len(result.Errors) > 0 {
			os.Exit(1)
		}
	},
}

var migrateExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export records to a JSONL file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		sess := loadSession(cfg)

		database := openDatabase(cfg)
		defer database.Close()

		collections := migrateCollections
		if len(collections) == 0 {
			collections = record.AllCollections()
		}

		n, err := migrate.ExportJSONL(context.Background(), database, sess.UserID, args[0], &migrate.ExportOptions{
			Collections: collections,
			FromOffline: migrateOffline,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Exported %d records to %s\n", n, args[0])
	},
}

var migrateImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import records from a JSONL file",
	Long: `Import records from a JSONL export.

Existing records with an equal or newer timestamp are skipped, so
importing the same file twice is harmless. Bad lines are reported but do
not abort the import.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		sess := loadSession(cfg)

		database := openDatabase(cfg)
		defer database.Close()

		result, err := migrate.ImportJSONL(context.Background(), database, sess.UserID, args[0], &migrate.ImportOptions{
			ToOffline: migrateOffline,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error importing: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Imported %d records (%d skipped)\n", result.Imported, result.Skipped)
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "   %s\n", e)
		}
		if len(result.Errors) > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	migrateUploadCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "preview without writing")
	migrateUploadCmd.Flags().BoolVar(&migratePurge, "purge", false, "remove offline copies after queueing")
	migrateCmd.PersistentFlags().StringSliceVar(&migrateCollections, "collections", nil, "collections to include (default: all)")
	migrateExportCmd.Flags().BoolVar(&migrateOffline, "offline", false, "use the offline space")
	migrateImportCmd.Flags().BoolVar(&migrateOffline, "offline", false, "use the offline space")

	migrateCmd.AddCommand(migrateUploadCmd)
	migrateCmd.AddCommand(migrateExportCmd)
	migrateCmd.AddCommand(migrateImportCmd)
	rootCmd.AddCommand(migrateCmd)
}
