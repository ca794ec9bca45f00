package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/defuse/assets"
	"github.com/robalobadob/defuse/internal/config"
	"github.com/robalobadob/defuse/internal/daily"
	"github.com/robalobadob/defuse/internal/database"
	"github.com/robalobadob/defuse/internal/game"
	"github.com/robalobadob/defuse/internal/session"
	"github.com/robalobadob/defuse/internal/store"
)

func TestMain(m *testing.M) {
	log.Logger = zerolog.Nop()
	m.Run()
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	db, err := database.Open(database.MemoryDSN)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, assets.Migrations()))

	cfg := config.Config{
		JWTSecret:      "test_secret",
		JWTExpiresDays: 1,
		CookieName:     "defuse_token",
		ClientOrigin:   "http://localhost:5173",
		DailySalt:      "test_salt",
		TickInterval:   time.Hour,
		SessionTTL:     time.Minute,
	}
	st := store.NewMemoryStore()
	srv := New(cfg, st, db)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		_ = db.Close()
	})
	return srv, ts
}

// player is an HTTP client with its own cookie jar, i.e. its own anon id.
type player struct {
	t    *testing.T
	base string
	c    *http.Client
}

func newPlayer(t *testing.T, ts *httptest.Server) *player {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &player{t: t, base: ts.URL, c: &http.Client{Jar: jar}}
}

func (p *player) do(method, path string, body, out any) int {
	p.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(p.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, p.base+path, &buf)
	require.NoError(p.t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := p.c.Do(req)
	require.NoError(p.t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(p.t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func (p *player) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(p.base, "http") + path
}

// cookieHeader carries the jar's cookies onto a websocket handshake.
func (p *player) cookieHeader() http.Header {
	h := http.Header{}
	for _, c := range p.c.Jar.Cookies(mustURL(p.t, p.base)) {
		h.Add("Cookie", c.String())
	}
	return h
}

// start creates a game and advances it to the playing phase.
func (p *player) start(seed *uint64) session.View {
	p.t.Helper()
	var v session.View
	require.Equal(p.t, http.StatusOK, p.do(http.MethodPost, "/game/new", newGameReq{Seed: seed}, &v))
	require.Equal(p.t, http.StatusOK, p.do(http.MethodPost, "/game/advance", gameReq{GameID: v.GameID}, &v))
	require.Equal(p.t, http.StatusOK, p.do(http.MethodPost, "/game/advance", gameReq{GameID: v.GameID}, &v))
	require.Equal(p.t, session.PhasePlaying, v.Phase)
	return v
}

// winningSeed finds a seed whose first round can be won in one selection.
func winningSeed(t *testing.T) (uint64, int) {
	t.Helper()
	for seed := uint64(0); seed < 5000; seed++ {
		snap := game.New(game.WithSeed(seed, seed)).Start()
		for _, n := range snap.Candidates {
			if game.ApplyOperation(snap.Current, snap.Operator, n) == snap.Target {
				return seed, n
			}
		}
	}
	t.Fatal("no seed with a one-move win")
	return 0, 0
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func notCandidate(v session.View) int {
	for n := 1000; ; n++ {
		found := false
		for _, c := range v.Candidates {
			found = found || c == n
		}
		if !found {
			return n
		}
	}
}

func TestHealthAndRules(t *testing.T) {
	_, ts := newTestServer(t)
	p := newPlayer(t, ts)

	var health map[string]bool
	assert.Equal(t, http.StatusOK, p.do(http.MethodGet, "/health", nil, &health))
	assert.True(t, health["ok"])

	var rules struct{ Rules []string }
	assert.Equal(t, http.StatusOK, p.do(http.MethodGet, "/rules", nil, &rules))
	assert.NotEmpty(t, rules.Rules)

	var nf map[string]string
	assert.Equal(t, http.StatusNotFound, p.do(http.MethodGet, "/nope", nil, &nf))
	assert.Equal(t, "not_found", nf["error"])
}

func TestGame_IntroFlowAndSelect(t *testing.T) {
	_, ts := newTestServer(t)
	p := newPlayer(t, ts)

	var v session.View
	require.Equal(t, http.StatusOK, p.do(http.MethodPost, "/game/new", nil, &v))
	assert.Equal(t, session.PhaseIntro, v.Phase)
	assert.Equal(t, game.StatusIdle, v.Status)

	var e map[string]string
	assert.Equal(t, http.StatusConflict, p.do(http.MethodPost, "/game/select", selectReq{GameID: v.GameID, Number: 1}, &e))
	assert.Equal(t, "not_started", e["error"])

	v = p.start(nil)
	assert.True(t, v.Active)
	assert.Equal(t, game.TimeLimitMs, v.TimeRemainingMs)
	assert.Equal(t, "2:00", v.Clock)
	assert.Len(t, v.Candidates, game.CandidateCount)

	assert.Equal(t, http.StatusBadRequest,
		p.do(http.MethodPost, "/game/select", selectReq{GameID: v.GameID, Number: notCandidate(v)}, &e))
	assert.Equal(t, "invalid_selection", e["error"])

	var got session.View
	require.Equal(t, http.StatusOK, p.do(http.MethodGet, "/game/"+v.GameID, nil, &got))
	assert.Equal(t, v.Current, got.Current)
	assert.Equal(t, 0, got.Moves)
}

func TestGame_SeededWinIsRecorded(t *testing.T) {
	srv, ts := newTestServer(t)
	p := newPlayer(t, ts)

	seed, pick := winningSeed(t)
	v := p.start(&seed)

	var res selectRes
	require.Equal(t, http.StatusOK, p.do(http.MethodPost, "/game/select", selectReq{GameID: v.GameID, Number: pick}, &res))
	assert.Equal(t, game.OutcomeWin, res.Outcome)
	assert.Equal(t, game.StatusWon, res.View.Status)
	assert.False(t, res.View.Active)

	var e map[string]string
	assert.Equal(t, http.StatusConflict, p.do(http.MethodPost, "/game/select", selectReq{GameID: v.GameID, Number: pick}, &e))
	assert.Equal(t, "game_over", e["error"])

	var status string
	require.NoError(t, srv.db.QueryRow(`SELECT status FROM games WHERE id=?`, v.GameID).Scan(&status))
	assert.Equal(t, "won", status)
}

func TestGame_RestartGetsFreshHistoryRow(t *testing.T) {
	srv, ts := newTestServer(t)
	p := newPlayer(t, ts)

	v := p.start(nil)
	var r session.View
	require.Equal(t, http.StatusOK, p.do(http.MethodPost, "/game/restart", gameReq{GameID: v.GameID}, &r))
	assert.Equal(t, v.GameID, r.GameID)
	assert.True(t, r.Active)

	var n int
	require.NoError(t, srv.db.QueryRow(`SELECT COUNT(1) FROM games WHERE id IN (?, ?)`, v.GameID, v.GameID+".2").Scan(&n))
	assert.Equal(t, 2, n)

	var status string
	require.NoError(t, srv.db.QueryRow(`SELECT status FROM games WHERE id=?`, v.GameID).Scan(&status))
	assert.Equal(t, "abandoned", status)
}

func TestGame_SignedInRestartResetsStreak(t *testing.T) {
	_, ts := newTestServer(t)
	p := newPlayer(t, ts)
	require.Equal(t, http.StatusOK, p.do(http.MethodPost, "/auth/signup", credentials{Username: "quitter", Password: "hunter2hunter2"}, nil))

	seed, pick := winningSeed(t)
	v := p.start(&seed)
	require.Equal(t, http.StatusOK, p.do(http.MethodPost, "/game/select", selectReq{GameID: v.GameID, Number: pick}, nil))

	var stats map[string]float64
	require.Equal(t, http.StatusOK, p.do(http.MethodGet, "/stats/me", nil, &stats))
	assert.Equal(t, 1.0, stats["streak"])

	v = p.start(nil)
	require.Equal(t, http.StatusOK, p.do(http.MethodPost, "/game/restart", gameReq{GameID: v.GameID}, nil))

	stats = nil
	require.Equal(t, http.StatusOK, p.do(http.MethodGet, "/stats/me", nil, &stats))
	assert.Equal(t, 2.0, stats["gamesPlayed"])
	assert.Equal(t, 1.0, stats["wins"])
	assert.Equal(t, 0.0, stats["streak"])
}

func TestGame_OtherPlayerGets404(t *testing.T) {
	_, ts := newTestServer(t)
	alice, bob := newPlayer(t, ts), newPlayer(t, ts)

	v := alice.start(nil)
	var e map[string]string
	assert.Equal(t, http.StatusNotFound, bob.do(http.MethodGet, "/game/"+v.GameID, nil, &e))
	assert.Equal(t, http.StatusNotFound, bob.do(http.MethodPost, "/game/select", selectReq{GameID: v.GameID, Number: v.Candidates[0]}, &e))
	assert.Equal(t, http.StatusNotFound, alice.do(http.MethodGet, "/game/unknown", nil, &e))
}

func TestAuth_SignupStatsAndClaim(t *testing.T) {
	_, ts := newTestServer(t)
	p := newPlayer(t, ts)

	seed, pick := winningSeed(t)
	v := p.start(&seed)
	require.Equal(t, http.StatusOK, p.do(http.MethodPost, "/game/select", selectReq{GameID: v.GameID, Number: pick}, nil))

	var e map[string]string
	assert.Equal(t, http.StatusUnauthorized, p.do(http.MethodGet, "/stats/me", nil, &e))

	var me map[string]any
	require.Equal(t, http.StatusOK, p.do(http.MethodPost, "/auth/signup", credentials{Username: "defuser", Password: "hunter2hunter2"}, &me))
	assert.Equal(t, "defuser", me["username"])

	// the guest game moved to the new account
	var rows []map[string]any
	require.Equal(t, http.StatusOK, p.do(http.MethodGet, "/games/mine", nil, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, v.GameID, rows[0]["id"])

	// a signed-in win bumps the counters
	v = p.start(&seed)
	require.Equal(t, http.StatusOK, p.do(http.MethodPost, "/game/select", selectReq{GameID: v.GameID, Number: pick}, nil))
	var stats map[string]float64
	require.Equal(t, http.StatusOK, p.do(http.MethodGet, "/stats/me", nil, &stats))
	assert.Equal(t, 1.0, stats["gamesPlayed"])
	assert.Equal(t, 1.0, stats["wins"])

	assert.Equal(t, http.StatusConflict,
		newPlayer(t, ts).do(http.MethodPost, "/auth/signup", credentials{Username: "defuser", Password: "hunter2hunter2"}, &e))
}

func TestDaily_ReusesSessionAndSharesDeal(t *testing.T) {
	_, ts := newTestServer(t)
	alice, bob := newPlayer(t, ts), newPlayer(t, ts)

	var a1, a2, b newRes
	require.Equal(t, http.StatusOK, alice.do(http.MethodPost, "/daily/new", nil, &a1))
	require.Equal(t, http.StatusOK, alice.do(http.MethodPost, "/daily/new", nil, &a2))
	require.Equal(t, http.StatusOK, bob.do(http.MethodPost, "/daily/new", nil, &b))
	require.NotNil(t, a1.View)
	require.NotNil(t, a2.View)
	require.NotNil(t, b.View)

	assert.False(t, a1.Played)
	assert.Equal(t, a1.View.GameID, a2.View.GameID)
	assert.NotEqual(t, a1.View.GameID, b.View.GameID)
	assert.Equal(t, session.ModeDaily, a1.View.Mode)

	var av, bv session.View
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, alice.do(http.MethodPost, "/game/advance", gameReq{GameID: a1.View.GameID}, &av))
		require.Equal(t, http.StatusOK, bob.do(http.MethodPost, "/game/advance", gameReq{GameID: b.View.GameID}, &bv))
	}
	assert.Equal(t, av.Current, bv.Current)
	assert.Equal(t, av.Target, bv.Target)
	assert.Equal(t, av.Candidates, bv.Candidates)

	var e map[string]string
	assert.Equal(t, http.StatusConflict, alice.do(http.MethodPost, "/game/restart", gameReq{GameID: a1.View.GameID}, &e))
	assert.Equal(t, "daily_no_restart", e["error"])
}

func TestDaily_NewDayDropsOldSessions(t *testing.T) {
	srv, ts := newTestServer(t)
	p := newPlayer(t, ts)

	day := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := srv.dailyRoutes
	setNow := func(at time.Time) {
		d.mu.Lock()
		d.now = func() time.Time { return at }
		d.mu.Unlock()
	}

	setNow(day)
	var first newRes
	require.Equal(t, http.StatusOK, p.do(http.MethodPost, "/daily/new", nil, &first))
	require.NotNil(t, first.View)
	assert.Equal(t, "2026-03-01", first.Date)

	setNow(day.Add(24 * time.Hour))
	var second newRes
	require.Equal(t, http.StatusOK, p.do(http.MethodPost, "/daily/new", nil, &second))
	require.NotNil(t, second.View)
	assert.Equal(t, "2026-03-02", second.Date)
	assert.NotEqual(t, first.View.GameID, second.View.GameID)

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Len(t, d.sessions, 1)
	for key, id := range d.sessions {
		assert.True(t, strings.HasSuffix(key, "|2026-03-02"), key)
		assert.Equal(t, second.View.GameID, id)
	}
}

func TestDaily_PlayedAndLeaderboard(t *testing.T) {
	srv, ts := newTestServer(t)
	p := newPlayer(t, ts)

	var first newRes
	require.Equal(t, http.StatusOK, p.do(http.MethodPost, "/daily/new", nil, &first))
	owner := ""
	for _, c := range p.c.Jar.Cookies(mustURL(t, ts.URL)) {
		if c.Name == anonCookieName {
			owner = c.Value
		}
	}
	require.NotEmpty(t, owner)

	ctx := context.Background()
	require.NoError(t, srv.daily.InsertResult(ctx, daily.Result{UserID: owner, Date: first.Date, Won: true, Moves: 4, ElapsedMs: 9000}))
	require.NoError(t, srv.daily.InsertResult(ctx, daily.Result{UserID: "someone", Date: first.Date, Won: true, Moves: 2, ElapsedMs: 5000}))

	var again newRes
	require.Equal(t, http.StatusOK, p.do(http.MethodPost, "/daily/new", nil, &again))
	assert.True(t, again.Played)
	assert.Nil(t, again.View)

	var lb lbRes
	require.Equal(t, http.StatusOK, p.do(http.MethodGet, "/daily/leaderboard", nil, &lb))
	assert.Equal(t, first.Date, lb.Date)
	require.Len(t, lb.Top, 2)
	assert.Equal(t, "someone", lb.Top[0].UserID)

	var e map[string]string
	assert.Equal(t, http.StatusBadRequest, p.do(http.MethodGet, "/daily/leaderboard?date=yesterday", nil, &e))
}

func TestStream_AdvanceAndSelect(t *testing.T) {
	_, ts := newTestServer(t)
	p := newPlayer(t, ts)

	var v session.View
	require.Equal(t, http.StatusOK, p.do(http.MethodPost, "/game/new", nil, &v))

	conn, _, err := websocket.DefaultDialer.Dial(p.wsURL("/game/"+v.GameID+"/ws"), p.cookieHeader())
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	read := func() streamMsg {
		var m streamMsg
		require.NoError(t, conn.ReadJSON(&m))
		return m
	}

	m := read()
	require.Equal(t, "view", m.Type)
	assert.Equal(t, session.PhaseIntro, m.View.Phase)

	require.NoError(t, conn.WriteJSON(streamCmd{Type: "advance"}))
	assert.Equal(t, session.PhaseRules, read().View.Phase)

	require.NoError(t, conn.WriteJSON(streamCmd{Type: "advance"}))
	m = read()
	assert.Equal(t, session.PhasePlaying, m.View.Phase)
	assert.True(t, m.View.Active)

	require.NoError(t, conn.WriteJSON(streamCmd{Type: "select", Number: notCandidate(*m.View)}))
	m = read()
	assert.Equal(t, "error", m.Type)
	assert.Equal(t, "invalid_selection", m.Error)

	require.NoError(t, conn.WriteJSON(streamCmd{Type: "jump"}))
	assert.Equal(t, "unknown_type", read().Error)
}

func TestStream_RejectsOtherPlayer(t *testing.T) {
	_, ts := newTestServer(t)
	alice, bob := newPlayer(t, ts), newPlayer(t, ts)

	var v session.View
	require.Equal(t, http.StatusOK, alice.do(http.MethodPost, "/game/new", nil, &v))
	// bob needs an anon cookie before dialing
	require.Equal(t, http.StatusOK, bob.do(http.MethodPost, "/game/new", nil, nil))

	_, res, err := websocket.DefaultDialer.Dial(bob.wsURL("/game/"+v.GameID+"/ws"), bob.cookieHeader())
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
