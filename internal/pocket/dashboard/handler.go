package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/mschirtzinger/pocketsync/internal/pocket/index"
	"github.com/mschirtzinger/pocketsync/internal/pocket/reconcile"
	psync "github.com/mschirtzinger/pocketsync/internal/pocket/sync"
)

// SyncCompleteData contains sync completion information
type SyncCompleteData struct {
	RunID    string        `json:"run_id"`
	Fetched  int           `json:"fetched"`
	Cursor   int64         `json:"cursor"`
	Tag      string        `json:"tag,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ReconcileCompleteData contains reconciliation outcome information
type ReconcileCompleteData struct {
	RunID     string `json:"run_id"`
	Actions   int    `json:"actions"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Items     int    `json:"items"`
	OK        bool   `json:"ok"`
}

// Handler turns engine, reconciler and index events into dashboard
// messages. Its On* methods match the components' completion hooks.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		logger: logger,
		stats:  StatsData{ByStatus: make(map[string]int)},
	}
}

// OnSyncComplete handles sync completion events
func (h *Handler) OnSyncComplete(res *psync.Result) {
	h.logger.Printf("Sync complete: %d items in %v", res.Fetched, res.Duration)

	h.mu.Lock()
	h.stats.Cursor = int64(res.Cursor)
	h.mu.Unlock()

	h.send(MessageTypeSyncComplete, SyncCompleteData{
		RunID:    res.RunID,
		Fetched:  res.Fetched,
		Cursor:   int64(res.Cursor),
		Tag:      res.Tag,
		Duration: res.Duration,
	})
}

// OnReconcileComplete handles reconciliation completion events
func (h *Handler) OnReconcileComplete(sum *reconcile.Summary) {
	h.logger.Printf("Reconcile complete: %d succeeded, %d failed", sum.Succeeded, sum.Failed)

	h.send(MessageTypeReconcileComplete, ReconcileCompleteData{
		RunID:     sum.RunID,
		Actions:   len(sum.Actions),
		Succeeded: sum.Succeeded,
		Failed:    sum.Failed,
		Items:     sum.Items,
		OK:        sum.OK,
	})
}

// OnIndexEvent handles URL index updates
func (h *Handler) OnIndexEvent(ev index.Event) {
	if ev.Type == index.EventRebuilt {
		h.mu.Lock()
		h.stats.IndexEntries = ev.Count
		h.mu.Unlock()
	}
	h.send(MessageTypeIndexUpdate, ev)
}

// UpdateStats replaces the statistics and broadcasts them.
func (h *Handler) UpdateStats(stats *StatsData) {
	h.mu.Lock()
	h.stats = *stats
	if h.stats.ByStatus == nil {
		h.stats.ByStatus = make(map[string]int)
	}
	snapshot := h.copyStats()
	h.mu.Unlock()

	h.send(MessageTypeStats, snapshot)
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.copyStats()
}

// copyStats returns a deep copy. Callers hold h.mu.
func (h *Handler) copyStats() StatsData {
	out := h.stats
	out.ByStatus = make(map[string]int, len(h.stats.ByStatus))
	for k, v := range h.stats.ByStatus {
		out.ByStatus[k] = v
	}
	return out
}

func (h *Handler) send(typ MessageType, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}

	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}
