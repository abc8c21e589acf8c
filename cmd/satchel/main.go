package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/satchelapp/satchel/internal/config"
	"github.com/satchelapp/satchel/internal/localdb"
	"github.com/satchelapp/satchel/internal/session"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "satchel",
	Short: "Offline-first schedule and homework sync",
	Long: `Satchel keeps a student's schedule, homework, grades and settings in a
local SQLite database and reconciles them with the remote backend.

Records are usable offline at all times. When the device is online, the
sync daemon uploads pending local changes and downloads remote ones,
resolving conflicts by last write wins.`,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment only)")
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves configuration for a command invocation.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// openDatabase opens the local database and ensures its schema exists.
func openDatabase(cfg *config.Config) *localdb.DB {
	database, err := localdb.Open(cfg.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	if err := database.InitSchema(); err != nil {
		database.Close()
		fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
		os.Exit(1)
	}
	return database
}

// loadSession reads the session file and exits if nobody is signed in.
func loadSession(cfg *config.Config) *session.Session {
	sess, err := session.Load(cfg.SessionPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: no active session at %s\n", cfg.SessionPath())
		fmt.Fprintf(os.Stderr, "Sign in first, or check the data directory\n")
		os.Exit(1)
	}
	return sess
}
