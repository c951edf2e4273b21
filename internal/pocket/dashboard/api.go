package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mschirtzinger/pocketsync/internal/pocket"
	"github.com/mschirtzinger/pocketsync/internal/pocket/db"
	"github.com/mschirtzinger/pocketsync/internal/pocket/reconcile"
	"github.com/mschirtzinger/pocketsync/internal/pocket/schema"
	psync "github.com/mschirtzinger/pocketsync/internal/pocket/sync"
)

// Backend is what the JSON API reads from and triggers.
type Backend interface {
	ListItems(ctx context.Context, filter db.ItemFilter) ([]*schema.Item, error)
	GetItem(ctx context.Context, id string) (*schema.Item, error)
	Stats(ctx context.Context) (*StatsData, error)
	Sync(ctx context.Context) (*psync.Result, error)
	Reconcile(ctx context.Context) (*reconcile.Summary, error)
	RebuildIndex(ctx context.Context) (int, error)
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ItemResponse is the API view of an item.
type ItemResponse struct {
	ID          string   `json:"item_id"`
	URL         string   `json:"url"`
	ResolvedURL string   `json:"resolved_url,omitempty"`
	Title       string   `json:"title"`
	Status      string   `json:"status"`
	Favorite    bool     `json:"favorite"`
	Tags        []string `json:"tags"`
	TimeAdded   int64    `json:"time_added,omitempty"`
	TimeUpdated int64    `json:"time_updated,omitempty"`
}

func newItemResponse(item *schema.Item) ItemResponse {
	return ItemResponse{
		ID:          item.ID,
		URL:         item.URL,
		ResolvedURL: item.ResolvedURL,
		Title:       item.DisplayTitle(),
		Status:      item.Status.String(),
		Favorite:    item.Favorite,
		Tags:        item.Tags.Names(),
		TimeAdded:   int64(item.TimeAdded),
		TimeUpdated: int64(item.TimeUpdated),
	}
}

type api struct {
	backend Backend
	logger  *log.Logger
}

// handleListItems serves GET /api/items?status=&tag=&since=&limit=
func (a *api) handleListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter db.ItemFilter

	if s := q.Get("status"); s != "" {
		status, err := schema.ParseStatus(s)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = &status
	}
	filter.Tag = q.Get("tag")
	if s := q.Get("since"); s != "" {
		since, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid since parameter")
			return
		}
		filter.UpdatedSince = schema.Timestamp(since)
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		filter.Limit = limit
	}

	items, err := a.backend.ListItems(r.Context(), filter)
	if err != nil {
		a.fail(w, "list items", err)
		return
	}
	out := make([]ItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, newItemResponse(item))
	}
	respondJSON(w, http.StatusOK, out)
}

// handleGetItem serves GET /api/items/{id}
func (a *api) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := a.backend.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, "get item", err)
		return
	}
	respondJSON(w, http.StatusOK, newItemResponse(item))
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := a.backend.Stats(r.Context())
	if err != nil {
		a.fail(w, "status", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (a *api) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := a.backend.Sync(r.Context())
	if err != nil {
		a.fail(w, "sync", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (a *api) handleReconcile(w http.ResponseWriter, r *http.Request) {
	sum, err := a.backend.Reconcile(r.Context())
	if err != nil {
		a.fail(w, "reconcile", err)
		return
	}
	respondJSON(w, http.StatusOK, sum)
}

func (a *api) handleRebuildIndex(w http.ResponseWriter, r *http.Request) {
	count, err := a.backend.RebuildIndex(r.Context())
	if err != nil {
		a.fail(w, "rebuild index", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"entries": count})
}

// fail maps err to a status code. Expected outcomes are not logged.
func (a *api) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Printf("API %s failed: %v", op, err)
	}
	respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pocket.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pocket.ErrAlreadyInProgress):
		return http.StatusConflict
	case errors.Is(err, pocket.ErrNotConfigured):
		return http.StatusPreconditionFailed
	case errors.Is(err, pocket.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case pocket.IsNetwork(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}
