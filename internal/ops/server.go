// Package ops serves the operator status endpoints for the worker:
// liveness, recent cycle history, and per-feed poll health. It is internal
// tooling and serves no article content.
package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/newsloom/newsloom/internal/feeds"
	"github.com/newsloom/newsloom/internal/models"
	"github.com/newsloom/newsloom/internal/reliability"
)

// CycleLister provides the recent cycle history shown on /status.
type CycleLister interface {
	ListRecent(ctx context.Context, limit int) ([]models.FetchCycle, error)
}

// FeedHealth reports per-feed poll state, keyed by feed URL.
type FeedHealth interface {
	States() map[string]feeds.State
}

// Server is the operator HTTP surface of the worker.
type Server struct {
	Cycles  CycleLister
	Feeds   FeedHealth
	Catalog []feeds.Feed
	Breaker *reliability.Breaker
}

// Router assembles the ops routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(15 * time.Second))
	// Read-only surface; let dashboards on other origins poll it.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.health)
	r.Get("/status", s.status)
	r.Get("/feeds", s.feeds)
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse is what an operator checks first: is the scoring model
// being called at all, and how did recent cycles go.
type statusResponse struct {
	ScorerBreakerOpen bool                `json:"scorer_breaker_open"`
	Cycles            []models.FetchCycle `json:"cycles"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			http.Error(w, "limit must be an integer in [1, 200]", http.StatusBadRequest)
			return
		}
		limit = n
	}

	cycles, err := s.Cycles.ListRecent(r.Context(), limit)
	if err != nil {
		slog.Error("ops: list cycles failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if cycles == nil {
		cycles = []models.FetchCycle{}
	}
	writeJSON(w, http.StatusOK, statusResponse{
		ScorerBreakerOpen: s.Breaker != nil && s.Breaker.Open(),
		Cycles:            cycles,
	})
}

// feedStatus joins a catalog entry with its poll state.
type feedStatus struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Tier int    `json:"tier"`
	feeds.State
}

func (s *Server) feeds(w http.ResponseWriter, r *http.Request) {
	states := s.Feeds.States()
	out := make([]feedStatus, 0, len(s.Catalog))
	for _, f := range s.Catalog {
		out = append(out, feedStatus{Name: f.Name, URL: f.URL, Tier: f.Tier, State: states[f.URL]})
	}
	writeJSON(w, http.StatusOK, out)
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json", "err", err)
	}
}
