// internal/httpserver/server.go
//
// HTTP server wiring for the Defuse backend. The server is the presentation
// adapter for browser clients: it forwards "advance" and "select" inputs to a
// session and returns (or streams) the rendered view.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs, access log).
//   - Public endpoints: "/", "/health", "/rules".
//   - Game endpoints (optional auth): /game/new, /game/advance, /game/select, /game/restart,
//     GET /game/{id} and the websocket stream GET /game/{id}/ws.
//   - Daily Challenge endpoints (optional auth): mounted under /daily.
//   - Auth + profile/stat endpoints: /auth/*, /stats/me, /games/mine.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled (so cookies work).
//   - Finished games are written to the history tables on a best-effort basis;
//     a database failure never fails the game itself.

package httpserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/defuse/assets"
	"github.com/robalobadob/defuse/internal/config"
	"github.com/robalobadob/defuse/internal/daily"
	"github.com/robalobadob/defuse/internal/history"
	"github.com/robalobadob/defuse/internal/store"
)

// Server bundles router, session store, and DB-backed stores.
type Server struct {
	r        *chi.Mux
	cfg      config.Config
	store    store.Store
	db       *sql.DB
	history  *history.Store
	daily    *daily.Store
	upgrader websocket.Upgrader
	http     *http.Server

	dailyRoutes *dailyServer // kept for tests that move the clock
}

// New constructs a Server, installs middleware, and registers routes.
func New(cfg config.Config, st store.Store, db *sql.DB) *Server {
	s := &Server{
		r:       chi.NewRouter(),
		cfg:     cfg,
		store:   st,
		db:      db,
		history: history.NewStore(db),
		daily:   daily.NewStore(db),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	// --- middleware ---
	s.r.Use(chimw.RequestID)             // add X-Request-ID
	s.r.Use(chimw.RealIP)                // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(chimw.Recoverer)             // recover from panics
	s.r.Use(hlog.NewHandler(log.Logger)) // request-scoped logger
	s.r.Use(s.corsFromConfig)            // credentials-friendly CORS

	// Websocket streams are long-lived: no timeout, no access-log writer wrapping.
	s.r.With(s.withOptionalAuth()).Get("/game/{id}/ws", s.handleStream)

	s.r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(10 * time.Second)) // bound handler time
		r.Use(accessLog)
		r.Use(jsonContentType)

		// --- diagnostics ---
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"service":   "defuse-go",
				"endpoints": []string{"/health", "/rules", "POST /game/new", "POST /game/advance", "POST /game/select", "/daily/*", "/auth/*"},
			})
		})
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		})
		r.Get("/rules", handleRules)

		// Game endpoints: OPTIONAL AUTH (guests can play)
		r.Group(func(r chi.Router) {
			r.Use(s.withOptionalAuth())
			s.mountGame(r)
			s.mountDaily(r)
		})

		// Auth + profile/stats
		s.mountAuthRoutes(r)

		// JSON 404 for easier debugging
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, "not_found")
		})
	})

	return s
}

// Start begins serving HTTP on addr. It returns nil after Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// accessLog writes one structured line per request.
var accessLog = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("reqId", chimw.GetReqID(r.Context())).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request")
})

// corsFromConfig enables credentialed CORS for the configured client origin.
func (s *Server) corsFromConfig(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.ClientOrigin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkOrigin lets websocket upgrades through for same-origin tools and the configured client.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || origin == s.cfg.ClientOrigin
}

// handleRules serves the rules screen text.
func handleRules(w http.ResponseWriter, r *http.Request) {
	lines, err := assets.RulesLines()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "rules_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": lines})
}

// ------------------------------- small util --------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
