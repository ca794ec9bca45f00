// internal/httpserver/routes_game.go
//
// Free-play game endpoints:
//   - POST /game/new      → create a session on the intro screen
//   - POST /game/advance  → intro → rules → playing (the "Enter" action)
//   - POST /game/select   → apply a candidate
//   - POST /game/restart  → start over, skipping the intro
//   - GET  /game/{id}     → current view
//
// Sessions belong to the player that created them (user id or anon cookie);
// other players get 404.

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/defuse/internal/daily"
	"github.com/robalobadob/defuse/internal/game"
	"github.com/robalobadob/defuse/internal/history"
	"github.com/robalobadob/defuse/internal/session"
	"github.com/robalobadob/defuse/internal/store"
)

// persistTimeout bounds best-effort history writes from finished games.
const persistTimeout = 5 * time.Second

func (s *Server) mountGame(r chi.Router) {
	r.Post("/game/new", s.handleNewGame)
	r.Post("/game/advance", s.handleAdvance)
	r.Post("/game/select", s.handleSelect)
	r.Post("/game/restart", s.handleRestart)
	r.Get("/game/{id}", s.handleGetGame)
}

// newGameReq is the payload for POST /game/new.
type newGameReq struct {
	Seed *uint64 `json:"seed"` // optional fixed seed (ignored in production)
}

// gameReq identifies a session.
type gameReq struct {
	GameID string `json:"gameId"`
}

// selectReq is the payload for POST /game/select.
type selectReq struct {
	GameID string `json:"gameId"`
	Number int    `json:"number"`
}

// selectRes reports the outcome of a selection.
type selectRes struct {
	Outcome game.Outcome `json:"outcome"`
	View    session.View `json:"view"`
}

func (s *Server) handleNewGame(w http.ResponseWriter, r *http.Request) {
	var req newGameReq
	_ = json.NewDecoder(r.Body).Decode(&req)

	var opts []session.Option
	if req.Seed != nil && !s.cfg.Production {
		opts = append(opts, session.WithSeed(*req.Seed, *req.Seed))
	}
	sess, err := s.openSession(w, r, opts...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "save_failed")
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// openSession creates a session owned by the requester, stores it and wires
// history recording. Extra options are applied after the defaults.
func (s *Server) openSession(w http.ResponseWriter, r *http.Request, opts ...session.Option) (*session.Session, error) {
	owner, signedIn := s.ownerOf(w, r)
	id := uuid.NewString()

	base := []session.Option{
		session.WithOwner(owner),
		session.WithTickInterval(s.cfg.TickInterval),
		session.WithLogger(log.Logger),
		session.WithOnStart(func(n int, v session.View) { s.recordStart(owner, signedIn, n, v) }),
		session.WithOnFinish(s.recordFinish),
	}
	sess := session.New(id, append(base, opts...)...)
	if err := s.store.Save(r.Context(), sess); err != nil {
		log.Error().Err(err).Str("gameId", id).Msg("save session")
		sess.Close()
		return nil, err
	}
	return sess, nil
}

// historyID names the n-th game of a session in the games table.
func historyID(gameID string, n int) string {
	if n <= 1 {
		return gameID
	}
	return fmt.Sprintf("%s.%d", gameID, n)
}

// recordStart writes the owner row when a game actually begins.
func (s *Server) recordStart(owner string, signedIn bool, n int, v session.View) {
	g := history.Game{
		ID:        historyID(v.GameID, n),
		Mode:      string(v.Mode),
		Start:     v.Current,
		Target:    v.Target,
		StartedAt: time.Now(),
	}
	if signedIn {
		g.UserID = owner
	} else {
		g.AnonID = owner
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.history.RecordStart(ctx, g); err != nil {
		log.Warn().Err(err).Str("gameId", g.ID).Msg("insert game row")
	}
}

// recordFinish is the session OnFinish hook.
func (s *Server) recordFinish(res session.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	st := history.StatusLost
	switch {
	case res.Won:
		st = history.StatusWon
	case res.Abandoned:
		st = history.StatusAbandoned
	}
	if err := s.history.RecordFinish(ctx, historyID(res.GameID, res.Game), st, res.Moves, res.ElapsedMs); err != nil {
		log.Warn().Err(err).Str("gameId", res.GameID).Msg("finish game row")
	}
	if res.Mode == session.ModeDaily {
		if err := s.daily.InsertResult(ctx, daily.Result{
			UserID: res.OwnerID, Date: res.Date, Won: res.Won, Moves: res.Moves, ElapsedMs: res.ElapsedMs,
		}); err != nil {
			log.Warn().Err(err).Str("gameId", res.GameID).Msg("insert daily result")
		}
	}
}

// sessionFor loads a session and checks the requester owns it.
// On failure it writes the error response and returns nil.
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request, id string) *session.Session {
	sess, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return nil
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return nil
	}
	if owner, _ := s.ownerOf(w, r); owner != sess.OwnerID {
		writeError(w, http.StatusNotFound, "not_found")
		return nil
	}
	return sess
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req gameReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	sess := s.sessionFor(w, r, req.GameID)
	if sess == nil {
		return
	}
	v, err := sess.Advance()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	sess := s.sessionFor(w, r, req.GameID)
	if sess == nil {
		return
	}
	out, v, err := sess.Select(req.Number)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, selectRes{Outcome: out, View: v})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	var req gameReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	sess := s.sessionFor(w, r, req.GameID)
	if sess == nil {
		return
	}
	if sess.Mode == session.ModeDaily {
		writeError(w, http.StatusConflict, "daily_no_restart")
		return
	}
	v, err := sess.Restart()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFor(w, r, chi.URLParam(r, "id"))
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// writeSessionError maps engine/session errors to HTTP statuses.
func writeSessionError(w http.ResponseWriter, err error) {
	writeError(w, sessionErrorStatus(err), sessionErrorCode(err))
}

func sessionErrorStatus(err error) int {
	switch {
	case errors.Is(err, game.ErrInvalidSelection):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrNotActive), errors.Is(err, session.ErrNotPlaying):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// sessionErrorCode is the stable error string sent to clients.
func sessionErrorCode(err error) string {
	switch {
	case errors.Is(err, game.ErrInvalidSelection):
		return "invalid_selection"
	case errors.Is(err, game.ErrNotActive):
		return "game_over"
	case errors.Is(err, session.ErrNotPlaying):
		return "not_started"
	case errors.Is(err, session.ErrClosed):
		return "expired"
	default:
		return "internal"
	}
}
