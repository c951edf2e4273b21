package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/pocketsync/internal/pocket/migrate"
	"github.com/mschirtzinger/pocketsync/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export <file>",
	GroupID: "maint",
	Short:   "Export stored items to JSONL",
	Long: `Write every stored item to a JSONL file, one item per line. An existing
file is first copied to <file>.backup.<timestamp> unless --no-backup is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		noBackup, _ := cmd.Flags().GetBool("no-backup")
		res, err := migrate.Export(cmd.Context(), a.DB, migrate.ExportOptions{
			Path:   args[0],
			Backup: !noBackup,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s Exported %d items to %s\n", ui.RenderPass("✓"), res.ItemsWritten, args[0])
		if res.BackupCreated != "" {
			fmt.Printf("   Backup: %s\n", res.BackupCreated)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "maint",
	Short:   "Import items from JSONL",
	Long: `Merge items from a JSONL export into the replica. Records replace stored
items with the same id. The batch is applied in one transaction; the sync
cursor is not touched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		res, err := migrate.Import(cmd.Context(), a.DB, migrate.ImportOptions{
			Path:   args[0],
			DryRun: dryRun,
		})
		if err != nil {
			return err
		}
		for _, msg := range res.Errors {
			fmt.Printf("%s %s\n", ui.RenderWarn("⚠"), msg)
		}
		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %d of %d items\n", ui.RenderPass("✓"), verb, res.ItemsImported, res.ItemsRead)
		return nil
	},
}

func init() {
	exportCmd.Flags().Bool("no-backup", false, "overwrite an existing file without a backup")
	importCmd.Flags().Bool("dry-run", false, "validate the file without writing")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
