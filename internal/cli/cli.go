// Package cli is the composition root: it wires config, logging, the
// catalog, and the backup/restore/scheduler components behind a cobra
// command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"backupvault/internal/catalog"
	"backupvault/internal/config"
	"backupvault/internal/logging"
)

// app bundles the services every subcommand needs, built once at startup.
type app struct {
	store   *config.Store
	catalog *catalog.Catalog
}

// Execute builds and runs the root cobra command. It is the sole entry
// point called from main.go.
func Execute() int {
	var logLevel string

	root := &cobra.Command{
		Use:   "backupvault",
		Short: "Back up and restore a file tree with full, incremental, and differential snapshots",
		Long: `backupvault copies a source directory tree to a destination, using
full, incremental, or differential strategies, and can restore any past
snapshot by reconstructing it from the chain of backups that hold its
content.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.Init(logging.Config{Level: logLevel, Format: "console", Timestamp: true, Output: os.Stderr})
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	a, err := newApp()
	if err != nil {
		color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, "fatal:", err)
		return 1
	}
	defer a.catalog.Close()

	root.AddCommand(a.backupCommand())
	root.AddCommand(a.restoreCommand())
	root.AddCommand(a.scheduleCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func newApp() (*app, error) {
	store, err := config.Open()
	if err != nil {
		return nil, fmt.Errorf("open configuration: %w", err)
	}
	cat, err := catalog.Open(store.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	return &app{store: store, catalog: cat}, nil
}
