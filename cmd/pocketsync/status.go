package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/pocketsync/internal/pocket/schema"
	"github.com/mschirtzinger/pocketsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "browse",
	Short:   "Show replica status",
	Long: `Display the state of the local replica:
  - vault and database locations
  - whether an access token is configured
  - the sync cursor
  - item counts by status
  - URL index size`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return ui.WriteStatusReport(os.Stdout, ui.StatusReport{
			Vault:         a.Vault.Root(),
			Database:      a.DB.Path(),
			Authenticated: cfg.Authenticated(),
			Items:         stats.Items,
			ByStatus:      stats.ByStatus,
			Cursor:        schema.Timestamp(stats.Cursor),
			IndexEntries:  stats.IndexEntries,
			SyncTag:       cfg.Sync.Tag,
			AllowTags:     cfg.Reconcile.AllowTags,
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
