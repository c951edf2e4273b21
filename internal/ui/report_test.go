package ui

import (
	"bytes"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/golden"

	"github.com/mschirtzinger/pocketsync/internal/pocket/schema"
)

func TestWriteStatusReport(t *testing.T) {
	var buf bytes.Buffer
	err := WriteStatusReport(&buf, StatusReport{
		Vault:         "/home/me/notes",
		Database:      "/home/me/.local/share/pocketsync/pocket.db",
		Authenticated: true,
		Items:         3,
		ByStatus:      map[string]int{"normal": 2, "archived": 1},
		Cursor:        1700000000,
		IndexEntries:  2,
		AllowTags:     []string{"toread", "golang"},
	})
	assert.NilError(t, err)
	golden.Assert(t, buf.String(), "status_report.golden")
}

func TestWriteStatusReport_Empty(t *testing.T) {
	var buf bytes.Buffer
	assert.NilError(t, WriteStatusReport(&buf, StatusReport{Vault: "/v", Database: "/d"}))
	golden.Assert(t, buf.String(), "status_report_empty.golden")
}

func TestItemTable(t *testing.T) {
	out := ItemTable([]*schema.Item{
		{ID: "42", URL: "https://example.com", Title: "Example", Tags: schema.NewTags("42", "b", "a")},
		{ID: "43", URL: "https://example.com/untitled", Status: schema.StatusArchived},
	})
	assert.Assert(t, strings.Contains(out, "Example"))
	assert.Assert(t, strings.Contains(out, "a,b"))
	assert.Assert(t, strings.Contains(out, "https://example.com/untitled"))
	assert.Assert(t, strings.Contains(out, "archived"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, truncate("short", 10), "short")
	assert.Equal(t, truncate("abcdefghij", 5), "abcd…")
}
