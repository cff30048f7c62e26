// Package handlers provides the HTTP and websocket transport for a Charles
// session.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/scrypster/charles/internal/session"
	"github.com/scrypster/charles/internal/storage"
	"github.com/scrypster/charles/pkg/types"
)

const (
	defaultSearchK = 5
	maxSearchK     = 50
	maxPromptBytes = 64 << 10
)

// SessionController is the part of a session the transport drives.
// *session.Session implements it.
type SessionController interface {
	HandleUserText(ctx context.Context, text string) error
	Cancel()
	Snapshot() session.Snapshot
	Observations() []types.Observation
}

// Searcher finds prior statements near a piece of text.
// *storage.VectorStore implements it.
type Searcher interface {
	SearchText(ctx context.Context, text string, k int, filter storage.Filter) ([]storage.Match, error)
}

// APIHandlers contains the REST handlers.
type APIHandlers struct {
	session  SessionController
	searcher Searcher
	logger   *zap.Logger
}

// NewAPIHandlers creates the REST handlers. searcher may be nil, in which
// case /api/search reports 503.
func NewAPIHandlers(sess SessionController, searcher Searcher, logger *zap.Logger) *APIHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandlers{session: sess, searcher: searcher, logger: logger}
}

// Register mounts the handlers on mux.
func (h *APIHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", h.GetState)
	mux.HandleFunc("/api/prompt", h.PostPrompt)
	mux.HandleFunc("/api/cancel", h.PostCancel)
	mux.HandleFunc("/api/observations", h.GetObservations)
	mux.HandleFunc("/api/search", h.Search)
}

// GetState handles GET /api/state.
func (h *APIHandlers) GetState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}
	respondJSON(w, http.StatusOK, h.session.Snapshot())
}

// PostPrompt handles POST /api/prompt. The reply streams asynchronously;
// follow it through /api/state or the websocket.
func (h *APIHandlers) PostPrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	var req PromptRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxPromptBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := h.session.HandleUserText(r.Context(), req.Text); err != nil {
		if errors.Is(err, session.ErrEmptyText) {
			respondError(w, http.StatusBadRequest, "text is required", nil)
			return
		}
		h.logger.Error("failed to handle prompt", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to handle prompt", err)
		return
	}
	respondJSON(w, http.StatusAccepted, StatusResponse{Status: "accepted"})
}

// PostCancel handles POST /api/cancel.
func (h *APIHandlers) PostCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}
	h.session.Cancel()
	respondJSON(w, http.StatusOK, StatusResponse{Status: "cancelled"})
}

// GetObservations handles GET /api/observations.
//
// Query parameters:
//   - type:     belief or desire (optional)
//   - category: prior category (optional)
func (h *APIHandlers) GetObservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	q := r.URL.Query()
	kind := types.ObservationType(q.Get("type"))
	if kind != "" && kind != types.TypeBelief && kind != types.TypeDesire {
		respondError(w, http.StatusBadRequest, "type must be belief or desire", nil)
		return
	}
	category := q.Get("category")

	out := []types.Observation{}
	for _, obs := range h.session.Observations() {
		if kind != "" && obs.Type != kind {
			continue
		}
		if category != "" && obs.Category != category {
			continue
		}
		obs.Embedding = nil
		out = append(out, obs)
	}
	respondJSON(w, http.StatusOK, ObservationsResponse{Observations: out, Total: len(out)})
}

// Search handles GET /api/search.
//
// Query parameters:
//   - q:        text to embed (required)
//   - k:        number of results (default 5, max 50)
//   - category: restrict to one prior category (optional)
func (h *APIHandlers) Search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}
	if h.searcher == nil {
		respondError(w, http.StatusServiceUnavailable, "search is not available", nil)
		return
	}

	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		respondError(w, http.StatusBadRequest, "q is required", nil)
		return
	}
	k := parseInt(q.Get("k"), defaultSearchK)
	if k < 1 {
		k = defaultSearchK
	}
	if k > maxSearchK {
		k = maxSearchK
	}
	category := q.Get("category")

	matches, err := h.searcher.SearchText(r.Context(), query, k, storage.Filter{Category: category})
	if err != nil {
		h.logger.Error("search failed", zap.String("query", query), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "search failed", err)
		return
	}

	resp := SearchResponse{Query: query, Category: category, Results: make([]SearchResult, 0, len(matches))}
	for _, m := range matches {
		resp.Results = append(resp.Results, SearchResult{
			ID:       m.ID,
			Text:     m.Text,
			Category: m.Metadata.PriorCategory,
			Type:     m.Metadata.PriorType,
			Distance: m.Distance,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// Health handles GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// parseInt parses s or returns defaultValue.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Headers are already sent; an encoding failure can only be dropped.
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}
