package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/pocketsync/internal/pocket/reconcile"
	"github.com/mschirtzinger/pocketsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Fetch items changed since the last sync",
	Long: `Fetch every item changed on Pocket since the stored cursor and merge
it into the local replica. The first sync fetches the whole list.

The cursor only advances after the batch is stored, so an interrupted sync
is simply repeated next time.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		// --tag is bound to sync.tag
		fmt.Printf("%s Syncing from %s...\n", ui.RenderAccent("🔄"), cfg.API.BaseURL)
		res, err := a.Sync(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), res.Duration.Round(time.Millisecond))
		fmt.Printf("   Fetched: %d\n", res.Fetched)
		fmt.Printf("   Cursor:  %d\n", int64(res.Cursor))
		if res.Tag != "" {
			fmt.Printf("   Tag:     %s\n", res.Tag)
		}
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:     "reconcile",
	GroupID: "sync",
	Short:   "Push note tags back to Pocket",
	Long: `Compare the tags of each item's note with the item's tags on Pocket and
submit the difference, limited to the tags listed in reconcile.allow_tags.

Tags outside the allowed set are never added or removed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
			actions, err := a.PlanReconcile(cmd.Context())
			if err != nil {
				return err
			}
			if len(actions) == 0 {
				fmt.Printf("%s Nothing to do\n", ui.RenderPass("✓"))
				return nil
			}
			fmt.Printf("%s Would submit %d actions:\n", ui.RenderAccent("📋"), len(actions))
			for _, action := range actions {
				fmt.Printf("   %s\n", action)
			}
			return nil
		}

		sum, err := a.Reconcile(cmd.Context())
		if err != nil && sum == nil {
			return err
		}
		if sum.NothingToDo {
			fmt.Printf("%s Nothing to do\n", ui.RenderPass("✓"))
			return nil
		}

		marker := ui.RenderPass("✓")
		if sum.Failed > 0 || !sum.OK {
			marker = ui.RenderWarn("⚠")
		}
		fmt.Printf("%s Reconciled %d items\n", marker, sum.Items)
		fmt.Printf("   Applied:    %d\n", sum.Succeeded)
		fmt.Printf("   Rejected:   %d\n", sum.Failed)
		fmt.Printf("   Unresolved: %d\n", sum.Unresolved)
		return reconcileErr(sum, err)
	},
}

// reconcileErr reports a run the server marked as failed as an error, even
// when the confirmed actions were patched without trouble.
func reconcileErr(sum *reconcile.Summary, err error) error {
	if err != nil {
		return err
	}
	if !sum.OK {
		return fmt.Errorf("reconcile %s: server reported failure (%d of %d actions applied)",
			sum.RunID, sum.Succeeded, len(sum.Actions))
	}
	return nil
}

func init() {
	syncCmd.Flags().String("tag", "", "only fetch items with this tag (default sync.tag)")
	reconcileCmd.Flags().Bool("dry-run", false, "print the planned mutations without sending them")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(reconcileCmd)
}
