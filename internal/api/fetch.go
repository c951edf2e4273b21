package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mschirtzinger/pocketsync/internal/pocket"
	"github.com/mschirtzinger/pocketsync/internal/pocket/schema"
)

// FetchResult is the outcome of FetchItemsSince.
type FetchResult struct {
	// Since is the server's "as of" time for this response, the next cursor.
	Since schema.Timestamp
	// Items changed since the requested cursor, keyed by item id.
	Items schema.ItemMap
}

type getResponse struct {
	Status int             `json:"status"`
	List   json.RawMessage `json:"list"`
	Since  json.Number     `json:"since"`
	Error  *string         `json:"error"`
}

// wireItem is the loosely typed item shape returned by /v3/get. Numbers and
// flags arrive as strings.
type wireItem struct {
	ItemID        string      `json:"item_id"`
	GivenURL      string      `json:"given_url"`
	ResolvedURL   string      `json:"resolved_url"`
	GivenTitle    string      `json:"given_title"`
	ResolvedTitle string      `json:"resolved_title"`
	Excerpt       string      `json:"excerpt"`
	Status        string      `json:"status"`
	Favorite      string      `json:"favorite"`
	Tags          schema.Tags `json:"tags"`
	TimeAdded     string      `json:"time_added"`
	TimeUpdated   string      `json:"time_updated"`
	TimeRead      string      `json:"time_read"`
	WordCount     string      `json:"word_count"`
}

// FetchItemsSince fetches every item changed after since (nil = full
// fetch), optionally restricted to one tag. The returned Since is the
// server's timestamp for the response: the "since" field when present,
// otherwise the HTTP Date header.
func (c *Client) FetchItemsSince(ctx context.Context, token string, since *schema.Timestamp, tag string) (*FetchResult, error) {
	const op = "get"

	form := url.Values{}
	form.Set("detailType", "complete")
	form.Set("state", "all")
	if since != nil {
		form.Set("since", strconv.FormatInt(int64(*since), 10))
	}
	if tag != "" {
		form.Set("tag", tag)
	}

	body, header, err := c.post(ctx, op, getPath, token, form)
	if err != nil {
		return nil, err
	}

	var resp getResponse
	if err := decode(op, body, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil && *resp.Error != "" {
		return nil, &pocket.NetworkError{Op: op, Reason: *resp.Error}
	}

	items, err := parseList(resp.List)
	if err != nil {
		return nil, &pocket.NetworkError{Op: op, Err: err}
	}

	ts, err := serverTime(resp.Since, header)
	if err != nil {
		return nil, &pocket.NetworkError{Op: op, Err: err}
	}

	return &FetchResult{Since: ts, Items: items}, nil
}

// parseList converts the "list" field, which is an object keyed by item id
// or an empty array when nothing changed.
func parseList(raw json.RawMessage) (schema.ItemMap, error) {
	items := make(schema.ItemMap)
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("[]")) {
		return items, nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse item list: %w", err)
	}

	for key, payload := range entries {
		item, err := parseItem(payload)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", key, err)
		}
		if item.ID == "" {
			item.ID = key
		}
		if item.ID != key {
			return nil, fmt.Errorf("item %s: listed under key %q", item.ID, key)
		}
		item.Normalize()
		if err := item.Validate(); err != nil {
			return nil, err
		}
		items[key] = item
	}
	return items, nil
}

func parseItem(payload json.RawMessage) (*schema.Item, error) {
	var w wireItem
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("failed to parse item: %w", err)
	}

	status, err := schema.ParseStatus(w.Status)
	if err != nil {
		return nil, err
	}

	title := w.ResolvedTitle
	if title == "" {
		title = w.GivenTitle
	}

	return &schema.Item{
		ID:          w.ItemID,
		URL:         w.GivenURL,
		ResolvedURL: w.ResolvedURL,
		Title:       title,
		Excerpt:     w.Excerpt,
		Status:      status,
		Favorite:    w.Favorite == "1",
		Tags:        w.Tags,
		TimeAdded:   schema.Timestamp(atoi(w.TimeAdded)),
		TimeUpdated: schema.Timestamp(atoi(w.TimeUpdated)),
		TimeRead:    schema.Timestamp(atoi(w.TimeRead)),
		WordCount:   int(atoi(w.WordCount)),
		Payload:     append(json.RawMessage(nil), payload...),
	}, nil
}

// serverTime picks the server's notion of "now" for the response.
func serverTime(since json.Number, header http.Header) (schema.Timestamp, error) {
	if since != "" {
		v, err := since.Int64()
		if err != nil {
			return 0, fmt.Errorf("invalid since value %q: %w", since, err)
		}
		return schema.Timestamp(v), nil
	}
	if date := header.Get("Date"); date != "" {
		t, err := http.ParseTime(date)
		if err != nil {
			return 0, fmt.Errorf("invalid Date header %q: %w", date, err)
		}
		return schema.Timestamp(t.Unix()), nil
	}
	return 0, fmt.Errorf("response carries no server timestamp")
}

// atoi parses the stringly typed numbers of the wire format; empty or
// malformed values read as zero.
func atoi(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
