// Package reconcile pushes tag edits made on local documents back to the
// remote list.
//
// For every stored item that resolves to a local document through the URL
// index, the document's tags are compared with the item's tags, restricted
// to an allowed set. Tags outside that set are never read or written, in
// either direction. The resulting actions are sent in one request and each
// action the server confirms is patched into the item store.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mschirtzinger/pocketsync/internal/api"
	"github.com/mschirtzinger/pocketsync/internal/metrics"
	"github.com/mschirtzinger/pocketsync/internal/pocket"
	"github.com/mschirtzinger/pocketsync/internal/pocket/schema"
	"github.com/mschirtzinger/pocketsync/internal/vault"
)

// Store is the item store surface the reconciler reads and patches.
type Store interface {
	AllItems(ctx context.Context) ([]*schema.Item, error)
	PatchItemTags(ctx context.Context, id string, add, remove []string) (*schema.Item, error)
}

// Resolver maps an item URL to a document ref.
type Resolver interface {
	Lookup(ctx context.Context, url string) (string, error)
}

// TagSource extracts the effective tags of a document.
type TagSource interface {
	ExtractTags(ref string) ([]string, error)
}

// Remote submits tag mutations.
type Remote interface {
	ApplyMutations(ctx context.Context, token string, actions []schema.Action) (*api.MutationResult, error)
}

// Config configures a Reconciler.
type Config struct {
	Store  Store
	Index  Resolver
	Tags   TagSource
	Remote Remote
	// Token returns the current access token ("" when logged out).
	Token func() string
	// Logger (default stderr with [reconcile] prefix).
	Logger *log.Logger
	// OnComplete is called after every run that reached the remote.
	OnComplete func(*Summary)
}

// Summary describes a reconciliation run.
type Summary struct {
	RunID   string          `json:"run_id"`
	Actions []schema.Action `json:"-"`
	// Results holds the server verdict per action, aligned with Actions.
	Results   []bool `json:"results,omitempty"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	// Items is the number of items whose tags were patched locally.
	Items int `json:"items"`
	// Unresolved counts items without a local document.
	Unresolved  int           `json:"unresolved"`
	NothingToDo bool          `json:"nothing_to_do"`
	OK          bool          `json:"ok"`
	Duration    time.Duration `json:"duration"`
}

// Reconciler runs tag reconciliation.
type Reconciler struct {
	store      Store
	index      Resolver
	tags       TagSource
	remote     Remote
	token      func() string
	logger     *log.Logger
	onComplete func(*Summary)

	running atomic.Bool
}

// New creates a Reconciler.
func New(cfg Config) *Reconciler {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	if cfg.Token == nil {
		cfg.Token = func() string { return "" }
	}
	return &Reconciler{
		store:      cfg.Store,
		index:      cfg.Index,
		tags:       cfg.Tags,
		remote:     cfg.Remote,
		token:      cfg.Token,
		logger:     cfg.Logger,
		onComplete: cfg.OnComplete,
	}
}

// Running reports whether a run is in flight.
func (r *Reconciler) Running() bool {
	return r.running.Load()
}

// Plan computes the actions a run would submit without calling the remote.
// Items are visited by id and allowed tags in sorted order, so the same
// inputs always produce the same action list.
func (r *Reconciler) Plan(ctx context.Context, allowed []string) ([]schema.Action, error) {
	allow := allowedSet(allowed)
	if len(allow) == 0 {
		return nil, fmt.Errorf("no tags allowed for upload: %w", pocket.ErrNotConfigured)
	}
	actions, _, err := r.plan(ctx, allow)
	return actions, err
}

// Reconcile computes the actions, submits them in one request and patches
// every confirmed action into the item store.
//
// A failed remote call aborts the run before anything is patched. When the
// server reports an overall failure the confirmed actions are still patched
// and the summary carries OK=false.
func (r *Reconciler) Reconcile(ctx context.Context, allowed []string) (*Summary, error) {
	token := r.token()
	if token == "" {
		metrics.ReconcileRunsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, pocket.ErrNotAuthenticated
	}
	allow := allowedSet(allowed)
	if len(allow) == 0 {
		metrics.ReconcileRunsTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return nil, fmt.Errorf("no tags allowed for upload: %w", pocket.ErrNotConfigured)
	}

	if !r.running.CompareAndSwap(false, true) {
		metrics.ReconcileRunsTotal.WithLabelValues(metrics.OutcomeInProgress).Inc()
		return nil, fmt.Errorf("reconcile: %w", pocket.ErrAlreadyInProgress)
	}
	defer r.running.Store(false)

	start := time.Now()
	sum := &Summary{RunID: uuid.NewString()}

	actions, unresolved, err := r.plan(ctx, allow)
	if err != nil {
		metrics.ReconcileRunsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, err
	}
	sum.Actions = actions
	sum.Unresolved = unresolved

	if len(actions) == 0 {
		sum.NothingToDo = true
		sum.OK = true
		sum.Duration = time.Since(start)
		metrics.ReconcileRunsTotal.WithLabelValues(metrics.OutcomeNoop).Inc()
		r.logger.Printf("Reconcile %s: nothing to do", sum.RunID)
		return sum, nil
	}

	r.logger.Printf("Reconcile %s: submitting %d actions", sum.RunID, len(actions))
	res, err := r.remote.ApplyMutations(ctx, token, actions)
	if err != nil {
		metrics.ReconcileRunsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, fmt.Errorf("failed to submit tag actions: %w", err)
	}
	sum.Results = res.Succeeded
	sum.OK = res.OK

	patchErr := r.applyConfirmed(ctx, actions, res.Succeeded, sum)
	sum.Duration = time.Since(start)

	outcome := metrics.OutcomeSuccess
	if !sum.OK || patchErr != nil {
		outcome = metrics.OutcomeFailure
	}
	metrics.ReconcileRunsTotal.WithLabelValues(outcome).Inc()

	r.logger.Printf("Reconcile %s: %d succeeded, %d failed, %d items patched (ok=%t)",
		sum.RunID, sum.Succeeded, sum.Failed, sum.Items, sum.OK)

	if r.onComplete != nil {
		r.onComplete(sum)
	}
	if patchErr != nil {
		return sum, patchErr
	}
	return sum, nil
}

func (r *Reconciler) plan(ctx context.Context, allow []string) ([]schema.Action, int, error) {
	items, err := r.store.AllItems(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load items: %w", err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	var (
		actions    []schema.Action
		unresolved int
	)
	for _, item := range items {
		ref, err := r.resolve(ctx, item)
		if errors.Is(err, pocket.ErrNotFound) {
			unresolved++
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to resolve item %s: %w", item.ID, err)
		}

		docTags, err := r.tags.ExtractTags(ref)
		if err != nil {
			r.logger.Printf("WARNING: Failed to read tags of %s (item %s): %v", ref, item.ID, err)
			unresolved++
			continue
		}
		have := make(map[string]bool, len(docTags))
		for _, tag := range docTags {
			have[vault.NormalizeTag(tag)] = true
		}

		for _, tag := range allow {
			switch {
			case have[tag] && !item.Tags.Has(tag):
				actions = append(actions, schema.Action{Kind: schema.ActionTagsAdd, ItemID: item.ID, Tag: tag})
			case !have[tag] && item.Tags.Has(tag):
				actions = append(actions, schema.Action{Kind: schema.ActionTagsRemove, ItemID: item.ID, Tag: tag})
			}
		}
	}
	return actions, unresolved, nil
}

// resolve looks the item up by its saved URL, then by the resolved URL.
func (r *Reconciler) resolve(ctx context.Context, item *schema.Item) (string, error) {
	err := fmt.Errorf("item %s has no url: %w", item.ID, pocket.ErrNotFound)
	for _, u := range item.URLs() {
		var ref string
		ref, err = r.index.Lookup(ctx, u)
		if err == nil {
			return ref, nil
		}
		if !errors.Is(err, pocket.ErrNotFound) {
			return "", err
		}
	}
	return "", err
}

type patch struct {
	add, remove []string
}

// applyConfirmed patches the store with every action the server confirmed,
// one write per item. Patches already written stay in place if a later one
// fails.
func (r *Reconciler) applyConfirmed(ctx context.Context, actions []schema.Action, ok []bool, sum *Summary) error {
	var (
		order   []string
		patches = make(map[string]*patch)
	)
	for i, action := range actions {
		result := "failure"
		if i < len(ok) && ok[i] {
			result = "success"
			sum.Succeeded++
			p, seen := patches[action.ItemID]
			if !seen {
				p = &patch{}
				patches[action.ItemID] = p
				order = append(order, action.ItemID)
			}
			if action.Kind == schema.ActionTagsAdd {
				p.add = append(p.add, action.Tag)
			} else {
				p.remove = append(p.remove, action.Tag)
			}
		} else {
			sum.Failed++
			r.logger.Printf("WARNING: Server rejected %s", action)
		}
		metrics.ReconcileActions.WithLabelValues(action.Kind.String(), result).Inc()
	}

	for _, id := range order {
		p := patches[id]
		if _, err := r.store.PatchItemTags(ctx, id, p.add, p.remove); err != nil {
			return fmt.Errorf("failed to patch tags of item %s: %w", id, err)
		}
		sum.Items++
	}
	return nil
}

// allowedSet normalizes, dedupes and sorts the allowed tags.
func allowedSet(allowed []string) []string {
	seen := make(map[string]bool, len(allowed))
	out := make([]string, 0, len(allowed))
	for _, tag := range allowed {
		tag = vault.NormalizeTag(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
