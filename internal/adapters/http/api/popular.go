package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/popstats/internal/adapters/repository"
	"github.com/okian/popstats/internal/domain/types"
)

// DefaultListLimit is used when /popular has no limit parameter.
const DefaultListLimit = 10

// OrderByPopular is the only accepted orderby value.
const OrderByPopular = "popular"

// PopularDependencies defines the interface for listing ranked items.
type PopularDependencies interface {
	Popular(ctx context.Context, tag string, limit int, order repository.Order) ([]types.Entry, error)
}

// PopularHandler handles ranked listing requests.
type PopularHandler struct {
	deps     PopularDependencies
	maxLimit int
}

// NewPopularHandler creates a new popular handler.
func NewPopularHandler(deps PopularDependencies, maxLimit int) *PopularHandler {
	if maxLimit < 1 {
		maxLimit = DefaultListLimit
	}
	return &PopularHandler{deps: deps, maxLimit: maxLimit}
}

// HandleGetPopular handles GET /popular?limit=&order=&tag=&orderby=popular.
func (h *PopularHandler) HandleGetPopular(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()

	limit := DefaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > h.maxLimit {
			writeError(w, http.StatusBadRequest, "invalid_limit",
				fmt.Errorf("%w: limit must be between 1 and %d", repository.ErrInvalidLimit, h.maxLimit))
			return
		}
		limit = n
	}

	order, err := repository.ParseOrder(q.Get("order"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_order", err)
		return
	}

	if by := q.Get("orderby"); by != "" && by != OrderByPopular {
		writeError(w, http.StatusBadRequest, "invalid_orderby",
			fmt.Errorf("%w: orderby must be %q", ErrBadRequest, OrderByPopular))
		return
	}

	entries, err := h.deps.Popular(r.Context(), q.Get("tag"), limit, order)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err)
		return
	}
	if entries == nil {
		entries = []types.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
