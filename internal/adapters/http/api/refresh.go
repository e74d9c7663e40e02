package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"github.com/okian/popstats/internal/adapters/repository"
	"github.com/okian/popstats/internal/domain/types"
)

// RefreshTokenHeader carries the shared secret for POST /refresh.
const RefreshTokenHeader = "X-Refresh-Token"

// RefreshDependencies defines the interface for refresh triggers.
type RefreshDependencies interface {
	MaybeRefresh(ctx context.Context) (types.RefreshResponse, error)
	Refresh(ctx context.Context) (types.RefreshResponse, error)
}

// RefreshHandler handles refresh triggers.
type RefreshHandler struct {
	deps  RefreshDependencies
	token string
}

// NewRefreshHandler creates a new refresh handler. An empty token disables
// the header check.
func NewRefreshHandler(deps RefreshDependencies, token string) *RefreshHandler {
	return &RefreshHandler{deps: deps, token: token}
}

// HandlePostRefresh handles POST /refresh?force=true requests.
func (h *RefreshHandler) HandlePostRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if !authorized(w, r, h.token) {
		return
	}

	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
			return
		}
		force = v
	}

	trigger := h.deps.MaybeRefresh
	if force {
		trigger = h.deps.Refresh
	}
	resp, err := trigger(r.Context())
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", err)
	case errors.Is(err, repository.ErrStore):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

// authorized checks the refresh token header against token. It writes the
// error response and returns false when the caller is rejected.
func authorized(w http.ResponseWriter, r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	got := r.Header.Get(RefreshTokenHeader)
	if got == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", ErrUnauthorized)
		return false
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
		writeError(w, http.StatusForbidden, "forbidden", ErrForbidden)
		return false
	}
	return true
}
