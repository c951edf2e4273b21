package ui

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mschirtzinger/pocketsync/internal/pocket/schema"
)

// StatusReport is the state summary printed by `pocketsync status`.
type StatusReport struct {
	Vault         string
	Database      string
	Authenticated bool
	Items         int
	ByStatus      map[string]int
	Cursor        schema.Timestamp
	IndexEntries  int
	SyncTag       string
	AllowTags     []string
}

// WriteStatusReport writes r as plain aligned text.
func WriteStatusReport(w io.Writer, r StatusReport) error {
	auth := "no"
	if r.Authenticated {
		auth = "yes"
	}
	cursor := "never synced"
	if r.Cursor > 0 {
		cursor = fmt.Sprintf("%d (%s)", int64(r.Cursor), r.Cursor.Time().UTC().Format(time.RFC3339))
	}
	syncTag := r.SyncTag
	if syncTag == "" {
		syncTag = "(all items)"
	}
	allow := "(none)"
	if len(r.AllowTags) > 0 {
		tags := append([]string(nil), r.AllowTags...)
		sort.Strings(tags)
		allow = strings.Join(tags, ", ")
	}

	var b strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&b, "  %-15s %s\n", label+":", value)
	}
	b.WriteString("Pocket replica\n")
	line("Vault", r.Vault)
	line("Database", r.Database)
	line("Authenticated", auth)
	line("Cursor", cursor)
	line("Sync tag", syncTag)
	line("Allowed tags", allow)
	b.WriteString("\nItems\n")
	line("Total", fmt.Sprintf("%d", r.Items))
	statuses := make([]string, 0, len(r.ByStatus))
	for s := range r.ByStatus {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		line(s, fmt.Sprintf("%d", r.ByStatus[s]))
	}
	b.WriteString("\nURL index\n")
	line("Entries", fmt.Sprintf("%d", r.IndexEntries))

	_, err := io.WriteString(w, b.String())
	return err
}

// ItemTable renders items as a bordered table.
func ItemTable(items []*schema.Item) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("ID", "STATUS", "TITLE", "TAGS")
	for _, item := range items {
		t.Row(item.ID, item.Status.String(), truncate(item.DisplayTitle(), 60), strings.Join(item.Tags.Names(), ","))
	}
	return t.String()
}

// ItemDetail renders one item as labelled lines.
func ItemDetail(item *schema.Item) string {
	var b strings.Builder
	field := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "%s %s\n", RenderMuted(fmt.Sprintf("%-12s", label)), value)
	}
	fmt.Fprintf(&b, "%s\n", RenderAccent(item.DisplayTitle()))
	field("id", item.ID)
	field("url", item.URL)
	if item.ResolvedURL != item.URL {
		field("resolved", item.ResolvedURL)
	}
	field("status", item.Status.String())
	if item.Favorite {
		field("favorite", "yes")
	}
	field("tags", strings.Join(item.Tags.Names(), ", "))
	if item.TimeAdded > 0 {
		field("added", item.TimeAdded.String())
	}
	if item.TimeUpdated > 0 {
		field("updated", item.TimeUpdated.String())
	}
	if item.WordCount > 0 {
		field("words", fmt.Sprintf("%d", item.WordCount))
	}
	if item.Excerpt != "" {
		fmt.Fprintf(&b, "\n%s\n", item.Excerpt)
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
