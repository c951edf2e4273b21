// Package sync runs incremental sync passes from the remote list into the
// local item store.
//
// A pass reads the cursor, fetches everything changed since it, merges the
// batch into the item store and only then advances the cursor to the
// server's timestamp for the fetch:
//
//	Idle -> Fetching -> Merging -> CommittingCursor -> Idle
//
// A failure at any step returns to Idle with the cursor untouched, so the
// next pass re-fetches the same window. At most one pass runs at a time;
// a concurrent Run returns pocket.ErrAlreadyInProgress without touching
// any store.
package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/mschirtzinger/pocketsync/internal/api"
	"github.com/mschirtzinger/pocketsync/internal/metrics"
	"github.com/mschirtzinger/pocketsync/internal/pocket"
	"github.com/mschirtzinger/pocketsync/internal/pocket/schema"
)

// State is the phase of the running pass.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateMerging
	StateCommittingCursor
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateMerging:
		return "merging"
	case StateCommittingCursor:
		return "committing_cursor"
	default:
		return "unknown"
	}
}

// Remote fetches changed items from the remote list.
type Remote interface {
	FetchItemsSince(ctx context.Context, token string, since *schema.Timestamp, tag string) (*api.FetchResult, error)
}

// Store is the durable state a pass reads and writes.
type Store interface {
	GetCursor(ctx context.Context) (schema.Timestamp, bool, error)
	SetCursor(ctx context.Context, ts schema.Timestamp) error
	MergeUpdates(ctx context.Context, batch schema.ItemMap) error
}

// Config configures an Engine.
type Config struct {
	Store  Store
	Remote Remote
	// Token returns the current access token ("" when logged out).
	Token func() string
	// LockPath, when set, names a file lock held for the duration of a
	// pass so separate processes sharing the database do not overlap.
	LockPath string
	// Logger (default stderr with [sync] prefix).
	Logger *log.Logger
	// OnComplete is called after every successful pass.
	OnComplete func(*Result)
}

// Result describes a completed pass.
type Result struct {
	RunID string `json:"run_id"`
	// Since is the cursor the fetch started from; nil for a full fetch.
	Since *schema.Timestamp `json:"since,omitempty"`
	// Cursor is the cursor committed by this pass.
	Cursor   schema.Timestamp `json:"cursor"`
	Tag      string           `json:"tag,omitempty"`
	Fetched  int              `json:"fetched"`
	Duration time.Duration    `json:"duration"`
}

// Engine runs sync passes.
type Engine struct {
	store      Store
	remote     Remote
	token      func() string
	lockPath   string
	logger     *log.Logger
	onComplete func(*Result)

	running atomic.Bool
	state   atomic.Int32
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if cfg.Token == nil {
		cfg.Token = func() string { return "" }
	}
	return &Engine{
		store:      cfg.Store,
		remote:     cfg.Remote,
		token:      cfg.Token,
		lockPath:   cfg.LockPath,
		logger:     cfg.Logger,
		onComplete: cfg.OnComplete,
	}
}

// State returns the phase of the running pass, StateIdle when none.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Running reports whether a pass is in flight.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Run performs one sync pass, optionally restricted to items carrying
// tagFilter. It returns pocket.ErrNotAuthenticated when no token is
// available and pocket.ErrAlreadyInProgress when a pass is running.
func (e *Engine) Run(ctx context.Context, tagFilter string) (*Result, error) {
	token := e.token()
	if token == "" {
		metrics.SyncRunsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, pocket.ErrNotAuthenticated
	}

	if !e.running.CompareAndSwap(false, true) {
		metrics.SyncRunsTotal.WithLabelValues(metrics.OutcomeInProgress).Inc()
		return nil, fmt.Errorf("sync: %w", pocket.ErrAlreadyInProgress)
	}
	defer e.running.Store(false)
	defer e.setState(StateIdle)

	if e.lockPath != "" {
		lock := flock.New(e.lockPath)
		locked, err := lock.TryLock()
		if err != nil {
			metrics.SyncRunsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
			return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
		}
		if !locked {
			metrics.SyncRunsTotal.WithLabelValues(metrics.OutcomeInProgress).Inc()
			return nil, fmt.Errorf("sync in another process: %w", pocket.ErrAlreadyInProgress)
		}
		defer func() { _ = lock.Unlock() }()
	}

	res, err := e.run(ctx, token, tagFilter)
	if err != nil {
		metrics.SyncRunsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		e.logger.Printf("Sync failed: %v", err)
		return nil, err
	}

	metrics.SyncRunsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	metrics.SyncDuration.Observe(res.Duration.Seconds())
	metrics.ItemsFetchedTotal.Add(float64(res.Fetched))
	metrics.SyncCursor.Set(float64(res.Cursor))

	if e.onComplete != nil {
		e.onComplete(res)
	}
	return res, nil
}

func (e *Engine) run(ctx context.Context, token, tag string) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: uuid.NewString(), Tag: tag}

	prev, ok, err := e.store.GetCursor(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync cursor: %w", err)
	}
	if ok {
		res.Since = &prev
		e.logger.Printf("Sync %s: fetching changes since %s", res.RunID, prev)
	} else {
		e.logger.Printf("Sync %s: no cursor, fetching everything", res.RunID)
	}

	e.setState(StateFetching)
	fetched, err := e.remote.FetchItemsSince(ctx, token, res.Since, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch items: %w", err)
	}
	res.Fetched = len(fetched.Items)

	e.setState(StateMerging)
	if err := e.store.MergeUpdates(ctx, fetched.Items); err != nil {
		return nil, fmt.Errorf("failed to merge %d items: %w", len(fetched.Items), err)
	}

	// The cursor never moves backwards, even if the server clock does.
	res.Cursor = fetched.Since
	if ok && res.Cursor < prev {
		e.logger.Printf("WARNING: server timestamp %s is before cursor %s, keeping cursor", fetched.Since, prev)
		res.Cursor = prev
	}

	e.setState(StateCommittingCursor)
	if err := e.store.SetCursor(ctx, res.Cursor); err != nil {
		return nil, fmt.Errorf("failed to commit sync cursor: %w", err)
	}

	res.Duration = time.Since(start)
	e.logger.Printf("Sync %s complete: %d items, cursor %s (%v)",
		res.RunID, res.Fetched, res.Cursor, res.Duration.Round(time.Millisecond))
	return res, nil
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}
