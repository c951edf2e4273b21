package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/pocketsync/internal/pocket"
	"github.com/mschirtzinger/pocketsync/internal/ui"
)

var indexCmd = &cobra.Command{
	Use:     "index",
	GroupID: "maint",
	Short:   "Inspect and rebuild the URL index",
	Long: `The URL index maps normalized URLs to the notes that carry them. It is
kept current by 'pocketsync serve' and can be rebuilt from the vault at any
time.`,
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rescan the vault and rebuild the URL index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if reset, _ := cmd.Flags().GetBool("reset"); reset {
			ok, err := ui.Confirm("Clear the URL index before rebuilding?", true)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Aborted")
				return nil
			}
			if err := a.Index.Reset(cmd.Context()); err != nil {
				return err
			}
		}

		fmt.Printf("%s Scanning %s...\n", ui.RenderAccent("🔎"), a.Vault.Root())
		n, err := a.RebuildIndex(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s Indexed %d URLs\n", ui.RenderPass("✓"), n)
		return nil
	},
}

var indexLookupCmd = &cobra.Command{
	Use:   "lookup <url>",
	Short: "Show the note a URL resolves to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		ref, err := a.Index.Lookup(cmd.Context(), args[0])
		if errors.Is(err, pocket.ErrNotFound) {
			fmt.Printf("%s No note for %s\n", ui.RenderWarn("⚠"), args[0])
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Println(ref)
		return nil
	},
}

var notesCmd = &cobra.Command{
	Use:     "notes",
	GroupID: "sync",
	Short:   "Manage notes for saved items",
}

var notesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a note for every item without one",
	Long: `Write a note into notes.folder for every stored item whose URL does not
resolve to an existing note. Deleted items and items tagged with one of
notes.ignore_tags are skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		// Pick up notes written while nothing was watching.
		if _, err := a.RebuildIndex(cmd.Context()); err != nil {
			return err
		}
		report, err := a.Notes.CreateMissing(cmd.Context())
		if err != nil {
			return err
		}
		for _, ref := range report.Created {
			fmt.Printf("   %s\n", ref)
		}
		marker := ui.RenderPass("✓")
		if report.Failed > 0 {
			marker = ui.RenderWarn("⚠")
		}
		fmt.Printf("%s Created %d of %d missing notes\n", marker, len(report.Created), report.Missing)
		if report.Unindexable > 0 {
			fmt.Printf("%s Skipped %d items whose URL cannot be indexed\n", ui.RenderWarn("⚠"), report.Unindexable)
		}
		return nil
	},
}

func init() {
	indexRebuildCmd.Flags().Bool("reset", false, "clear the index first")

	indexCmd.AddCommand(indexRebuildCmd)
	indexCmd.AddCommand(indexLookupCmd)
	rootCmd.AddCommand(indexCmd)

	notesCmd.AddCommand(notesCreateCmd)
	rootCmd.AddCommand(notesCmd)
}
