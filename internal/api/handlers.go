// Package api is the dev log service: a small HTTP surface over the
// in-process action log so several sessions on one machine can share a
// log during development. It is not the production transport.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tallyworks/tally/internal/types"
	"github.com/tallyworks/tally/internal/validation"
)

// ActionLog is the slice of the broadcast log the service needs.
type ActionLog interface {
	Append(ctx context.Context, a types.Action) (string, error)
	Entries() []types.Action
	EntriesAfter(afterMillis int64, limit int) []types.Action
}

// StateReader exposes the current reduced tree for the debug endpoint.
type StateReader interface {
	State() types.Tree
}

const (
	defaultPageLimit = 500
	maxPageLimit     = 1000
	maxWait          = 30 * time.Second
	pollInterval     = 250 * time.Millisecond
)

// Handler implements the API handlers
type Handler struct {
	log     ActionLog
	state   StateReader
	apiKey  string
	version string
}

// NewHandler creates a new Handler over an action log.
func NewHandler(log ActionLog, state StateReader, apiKey, version string) *Handler {
	return &Handler{
		log:     log,
		state:   state,
		apiKey:  apiKey,
		version: version,
	}
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	ActionCount int    `json:"action_count"`
	LatestMS    int64  `json:"latest_millis"`
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	entries := h.log.Entries()
	resp := HealthResponse{
		Status:      "healthy",
		Version:     h.version,
		ActionCount: len(entries),
	}
	if n := len(entries); n > 0 {
		resp.LatestMS = entries[n-1].Timestamp.Millis()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// AppendRequest is the POST /actions body: a batch of actions to append.
type AppendRequest struct {
	Actions []types.Action `json:"actions"`
}

// AppendResult reports per-batch acceptance. Invalid actions are
// rejected individually; the rest of the batch is still appended.
type AppendResult struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	IDs      []string `json:"ids"`
	Errors   []string `json:"errors,omitempty"`
}

// AppendActions handles POST /api/v1/actions
func (h *Handler) AppendActions(w http.ResponseWriter, r *http.Request) {
	var req AppendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if len(req.Actions) == 0 {
		WriteProblem(w, r, http.StatusBadRequest, "Request contains no actions")
		return
	}

	var result AppendResult
	for i, a := range req.Actions {
		if errs := validation.ValidateAction(a); len(errs) > 0 {
			result.Rejected++
			for _, e := range errs {
				result.Errors = append(result.Errors, fmt.Sprintf("actions[%d].%s: %s", i, e.Field, e.Message))
			}
			continue
		}
		id, err := h.log.Append(r.Context(), a)
		if err != nil {
			slog.Error("append failed", "error", err, "type", a.Type)
			MapLogError(w, r, err)
			return
		}
		result.Accepted++
		result.IDs = append(result.IDs, id)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// ActionsResponse is the GET /actions body: confirmed actions after the
// requested cursor, each carrying its cache key millis.
type ActionsResponse struct {
	Actions      []types.CachedAction `json:"actions"`
	LatestMillis int64                `json:"latest_millis"`
}

// ListActions handles GET /api/v1/actions. With wait_ms it long-polls:
// an empty result is held until new actions arrive or the wait expires.
func (h *Handler) ListActions(w http.ResponseWriter, r *http.Request) {
	after, err := queryInt64(r, "after_millis", -1)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "after_millis must be an integer")
		return
	}
	limit, err := queryInt64(r, "limit", defaultPageLimit)
	if err != nil || limit < 0 {
		WriteProblem(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if limit == 0 || limit > maxPageLimit {
		limit = maxPageLimit
	}
	waitMS, err := queryInt64(r, "wait_ms", 0)
	if err != nil || waitMS < 0 {
		WriteProblem(w, r, http.StatusBadRequest, "wait_ms must be a non-negative integer")
		return
	}
	wait := time.Duration(waitMS) * time.Millisecond
	if wait > maxWait {
		wait = maxWait
	}

	entries := h.log.EntriesAfter(after, int(limit))
	if len(entries) == 0 && wait > 0 {
		entries = h.waitForActions(r.Context(), after, int(limit), wait)
	}

	resp := ActionsResponse{Actions: make([]types.CachedAction, 0, len(entries)), LatestMillis: after}
	for _, a := range entries {
		ca := types.NewCachedAction(a)
		resp.Actions = append(resp.Actions, ca)
		resp.LatestMillis = ca.Millis
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// waitForActions polls the log until something lands after the cursor,
// the client goes away, or the wait expires.
func (h *Handler) waitForActions(ctx context.Context, after int64, limit int, wait time.Duration) []types.Action {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			return nil
		case <-tick.C:
			if entries := h.log.EntriesAfter(after, limit); len(entries) > 0 {
				return entries
			}
		}
	}
}

// State handles GET /api/v1/state, returning the current reduced tree.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.state.State()); err != nil {
		slog.Error("failed to encode state response", "error", err)
	}
}

func queryInt64(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
