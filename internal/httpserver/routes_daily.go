// internal/httpserver/routes_daily.go
//
// HTTP routes for the "Daily Challenge" mode.
// Exposes two endpoints under /daily:
//   - POST /daily/new         → start today's game (creates or reuses the session)
//   - GET  /daily/leaderboard → fastest wins for today (or ?date=YYYY-MM-DD)
//
// Play itself goes through the regular /game/advance and /game/select routes.
// Each player gets one attempt per day: the DB row is written when the game
// ends (won or lost) and the live session is reused until then.
// Every player sees the same start, target and candidates: the engine is
// seeded from date + salt.

package httpserver

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/robalobadob/defuse/internal/daily"
	"github.com/robalobadob/defuse/internal/session"
	"github.com/robalobadob/defuse/internal/store"
)

// dailyServer wraps dependencies for /daily endpoints.
type dailyServer struct {
	srv      *Server
	salt     string
	mu       sync.Mutex        // guards the fields below
	day      string            // date key the sessions map belongs to
	sessions map[string]string // live session ids keyed by ownerID|date
	now      func() time.Time
}

// mountDaily registers all /daily routes.
func (s *Server) mountDaily(r chi.Router) {
	dd := &dailyServer{
		srv:      s,
		salt:     s.cfg.DailySalt,
		sessions: make(map[string]string),
		now:      time.Now,
	}
	s.dailyRoutes = dd
	r.Route("/daily", func(r chi.Router) {
		r.Post("/new", dd.handleNew)
		r.Get("/leaderboard", dd.handleLeaderboard)
	})
}

// today returns the current date key. The first call on a new day drops the
// previous day's session ids; the sessions themselves expire through the store.
// Caller holds d.mu.
func (d *dailyServer) today() string {
	date := daily.DateKey(d.now())
	if date != d.day {
		d.day = date
		clear(d.sessions)
	}
	return date
}

// newRes is returned by /daily/new.
type newRes struct {
	Date   string        `json:"date"`
	Played bool          `json:"played"`
	View   *session.View `json:"view,omitempty"`
}

// handleNew creates or reuses today's daily session.
// - If the player already has a DB row for today → Played=true, no view.
// - Otherwise return the live session, creating it if needed.
func (d *dailyServer) handleNew(w http.ResponseWriter, r *http.Request) {
	owner, _ := d.srv.ownerOf(w, r)
	d.mu.Lock()
	date := d.today()
	d.mu.Unlock()

	played, err := d.srv.daily.AlreadyPlayed(r.Context(), owner, date)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("daily lookup")
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if played {
		writeJSON(w, http.StatusOK, newRes{Date: date, Played: true})
		return
	}

	key := owner + "|" + date
	d.mu.Lock()
	defer d.mu.Unlock()
	if date != d.day {
		writeError(w, http.StatusConflict, "day_changed")
		return
	}

	if id, ok := d.sessions[key]; ok {
		sess, err := d.srv.store.Get(r.Context(), id)
		switch {
		case err == nil:
			v := sess.View()
			writeJSON(w, http.StatusOK, newRes{Date: date, View: &v})
			return
		case errors.Is(err, store.ErrNotFound):
			delete(d.sessions, key) // expired; deal again with the same seed
		default:
			writeError(w, http.StatusInternalServerError, "store_error")
			return
		}
	}

	seed1, seed2 := daily.SeedForKey(date, d.salt)
	sess, err := d.srv.openSession(w, r, session.WithDaily(date), session.WithSeed(seed1, seed2))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "save_failed")
		return
	}
	d.sessions[key] = sess.ID
	v := sess.View()
	writeJSON(w, http.StatusOK, newRes{Date: date, View: &v})
}

// lbRes is returned by /daily/leaderboard.
type lbRes struct {
	Date string        `json:"date"`
	Top  []daily.LBRow `json:"top"`
}

// handleLeaderboard returns the leaderboard for the given date (default today).
func (d *dailyServer) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		d.mu.Lock()
		date = d.today()
		d.mu.Unlock()
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "bad_date")
		return
	}
	rows, err := d.srv.daily.Leaderboard(r.Context(), date, 20)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("daily leaderboard")
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, lbRes{Date: date, Top: rows})
}
