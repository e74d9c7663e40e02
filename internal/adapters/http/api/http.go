// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/popstats/internal/adapters/repository"
	"github.com/okian/popstats/internal/domain/types"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	StatsProvider

	// Read operations expose the persisted ranking.
	Popular(ctx context.Context, tag string, limit int, order repository.Order) ([]types.Entry, error)
	Rank(ctx context.Context, tag, itemID string) (types.RankResponse, error)

	// Triggers run a refresh cycle when the cache expired, or unconditionally.
	MaybeRefresh(ctx context.Context) (types.RefreshResponse, error)
	Refresh(ctx context.Context) (types.RefreshResponse, error)

	// SetContentKind writes the content catalog used for eligibility.
	SetContentKind(ctx context.Context, itemID, kind string) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	popularHandler *PopularHandler
	rankHandler    *RankHandler
	refreshHandler *RefreshHandler
	contentHandler *ContentHandler
}

// NewServer creates a new API server with all handlers. maxListLimit caps
// /popular; an empty refreshToken leaves /refresh and /content open.
func NewServer(deps Dependencies, maxListLimit int, refreshToken string) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(deps),
		popularHandler: NewPopularHandler(deps, maxListLimit),
		rankHandler:    NewRankHandler(deps),
		refreshHandler: NewRefreshHandler(deps, refreshToken),
		contentHandler: NewContentHandler(deps, refreshToken),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/popular", MetricsMiddleware(s.popularHandler.HandleGetPopular, "popular"))
	mux.HandleFunc("/rank/", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
	mux.HandleFunc("/refresh", MetricsMiddleware(s.refreshHandler.HandlePostRefresh, "refresh"))
	mux.HandleFunc("/content/", MetricsMiddleware(s.contentHandler.HandlePutContent, "content"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
