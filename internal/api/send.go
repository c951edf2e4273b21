package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/mschirtzinger/pocketsync/internal/pocket"
	"github.com/mschirtzinger/pocketsync/internal/pocket/schema"
)

// MutationResult is the outcome of ApplyMutations.
type MutationResult struct {
	// Succeeded has one entry per submitted action, in submission order.
	Succeeded []bool
	// OK reports the overall status of the batch.
	OK bool
}

// SuccessCount returns how many actions the remote applied.
func (r *MutationResult) SuccessCount() int {
	n := 0
	for _, ok := range r.Succeeded {
		if ok {
			n++
		}
	}
	return n
}

type wireAction struct {
	Action string      `json:"action"`
	ItemID interface{} `json:"item_id"`
	Tags   string      `json:"tags"`
}

type sendResponse struct {
	ActionResults []json.RawMessage `json:"action_results"`
	Status        int               `json:"status"`
}

// ApplyMutations submits actions in one /v3/send call. Per-action results
// are normalized to the length of actions; a missing or false entry means
// the action was not applied.
func (c *Client) ApplyMutations(ctx context.Context, token string, actions []schema.Action) (*MutationResult, error) {
	const op = "send"

	if len(actions) == 0 {
		return &MutationResult{Succeeded: []bool{}, OK: true}, nil
	}

	wire := make([]wireAction, len(actions))
	for i, a := range actions {
		wire[i] = wireAction{Action: a.Kind.String(), ItemID: wireItemID(a.ItemID), Tags: a.Tag}
	}
	encoded, err := json.Marshal(wire)
	if err != nil {
		return nil, &pocket.NetworkError{Op: op, Err: fmt.Errorf("failed to encode actions: %w", err)}
	}

	form := url.Values{}
	form.Set("actions", string(encoded))

	body, _, err := c.post(ctx, op, sendPath, token, form)
	if err != nil {
		return nil, err
	}

	var resp sendResponse
	if err := decode(op, body, &resp); err != nil {
		return nil, err
	}

	result := &MutationResult{
		Succeeded: make([]bool, len(actions)),
		OK:        resp.Status == 1,
	}
	for i := range result.Succeeded {
		if i < len(resp.ActionResults) {
			result.Succeeded[i] = actionSucceeded(resp.ActionResults[i])
		}
	}
	c.logger.Printf("send: %d/%d actions applied (status %d)", result.SuccessCount(), len(actions), resp.Status)
	return result, nil
}

// actionSucceeded interprets one action_results entry: true or an object
// means success, false or null means failure.
func actionSucceeded(raw json.RawMessage) bool {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj != nil
	}
	return false
}

// wireItemID sends numeric ids as JSON numbers, as the remote issues them.
func wireItemID(id string) interface{} {
	if _, err := strconv.ParseUint(id, 10, 64); err == nil {
		return json.Number(id)
	}
	return id
}
