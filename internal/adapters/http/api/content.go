package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/okian/popstats/internal/adapters/repository"
)

// ContentDependencies defines the interface for catalog writes.
type ContentDependencies interface {
	SetContentKind(ctx context.Context, itemID, kind string) error
}

// ContentHandler handles content catalog writes.
type ContentHandler struct {
	deps  ContentDependencies
	token string
}

// NewContentHandler creates a new content handler guarded by token.
func NewContentHandler(deps ContentDependencies, token string) *ContentHandler {
	return &ContentHandler{deps: deps, token: token}
}

type contentRequest struct {
	Kind string `json:"kind"`
}

// HandlePutContent handles PUT /content/{item_id} with body {"kind": "..."}.
func (h *ContentHandler) HandlePutContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.NotFound(w, r)
		return
	}
	if !authorized(w, r, h.token) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/content/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	var req contentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Kind) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	err := h.deps.SetContentKind(r.Context(), id, strings.TrimSpace(req.Kind))
	switch {
	case errors.Is(err, repository.ErrNoCatalog):
		writeError(w, http.StatusNotImplemented, "no_catalog", err)
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
