package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/pocketsync/internal/pocket/db"
	"github.com/mschirtzinger/pocketsync/internal/pocket/schema"
	"github.com/mschirtzinger/pocketsync/internal/search"
	"github.com/mschirtzinger/pocketsync/internal/ui"
)

var itemsCmd = &cobra.Command{
	Use:     "items",
	GroupID: "browse",
	Short:   "Browse the local replica",
}

var itemsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored items",
	Example: `  pocketsync items list --status normal --tag golang
  pocketsync items list --since "3 days ago"
  pocketsync items list --since 2024-01-31 --limit 20`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var filter db.ItemFilter
		if s, _ := cmd.Flags().GetString("status"); s != "" {
			status, err := schema.ParseStatus(s)
			if err != nil {
				return err
			}
			filter.Status = &status
		}
		filter.Tag, _ = cmd.Flags().GetString("tag")
		filter.Limit, _ = cmd.Flags().GetInt("limit")
		if s, _ := cmd.Flags().GetString("since"); s != "" {
			t, err := parseSince(s, time.Now())
			if err != nil {
				return err
			}
			filter.UpdatedSince = schema.Timestamp(t.Unix())
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.ListItems(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No items")
			return nil
		}
		fmt.Println(ui.ItemTable(items))
		fmt.Printf("%d items\n", len(items))
		return nil
	},
}

var itemsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one item and the note it resolves to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		item, err := a.GetItem(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Print(ui.ItemDetail(item))
		for _, u := range item.URLs() {
			if ref, err := a.Index.Lookup(cmd.Context(), u); err == nil {
				fmt.Printf("\n%s %s\n", ui.RenderMuted("note"), ref)
				break
			}
		}
		return nil
	},
}

var itemsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Fuzzy search items by title",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.DB.AllItems(cmd.Context())
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		results := search.Items(items, strings.Join(args, " "), limit)
		if len(results) == 0 {
			fmt.Println("No matches")
			return nil
		}
		matched := make([]*schema.Item, len(results))
		for i, r := range results {
			matched[i] = r.Item
		}
		fmt.Println(ui.ItemTable(matched))
		return nil
	},
}

// parseSince accepts a date, an RFC 3339 time or a natural-language
// expression such as "yesterday" or "3 days ago".
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(time.DateOnly, s, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized --since value %q", s)
	}
	return r.Time, nil
}

func init() {
	itemsListCmd.Flags().String("status", "", "normal, archived or deleted")
	itemsListCmd.Flags().String("tag", "", "only items with this tag")
	itemsListCmd.Flags().String("since", "", "only items updated since (date or e.g. \"3 days ago\")")
	itemsListCmd.Flags().Int("limit", 0, "maximum number of items")
	itemsSearchCmd.Flags().Int("limit", 20, "maximum number of matches")

	itemsCmd.AddCommand(itemsListCmd)
	itemsCmd.AddCommand(itemsShowCmd)
	itemsCmd.AddCommand(itemsSearchCmd)
	rootCmd.AddCommand(itemsCmd)
}
