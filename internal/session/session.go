// internal/session/session.go
//
// A Session wraps one game.Engine for adapters that receive events from many
// goroutines (HTTP handlers, websocket readers, the tick timer).
// Responsibilities:
//   - Intro flow: intro → rules → playing, driven by Advance (the "confirm" action).
//   - Serialise Select/Tick/Restart on the engine behind a mutex.
//   - Own the repeating tick timer; stop it on win, loss, restart and Close.
//   - Fan out views to subscribers (websocket streams) without blocking the engine.
//   - Report started and finished games through hooks called outside the lock;
//     a game replaced by Restart or cut short by Close counts as abandoned.

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/defuse/internal/clock"
	"github.com/robalobadob/defuse/internal/game"
)

// Phase is the presentation flow position of a session.
type Phase string

const (
	PhaseIntro   Phase = "intro"
	PhaseRules   Phase = "rules"
	PhasePlaying Phase = "playing"
)

// Mode distinguishes free play from the seeded daily challenge.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeDaily  Mode = "daily"
)

var (
	// ErrNotPlaying is returned by Select before the rules screen has been confirmed.
	ErrNotPlaying = errors.New("game not in play")
	// ErrClosed is returned once the session has been closed.
	ErrClosed = errors.New("session closed")
)

// View is what adapters render: the engine snapshot plus flow and clock details.
type View struct {
	GameID string `json:"gameId"`
	Mode   Mode   `json:"mode"`
	Phase  Phase  `json:"phase"`
	game.Snapshot
	Clock   string `json:"clock"`
	Warning bool   `json:"warning"`
}

// Result describes a finished game.
type Result struct {
	GameID    string
	Game      int // 1 for the first game of the session, incremented by Restart
	OwnerID   string
	Mode      Mode
	Date      string
	Won       bool
	Abandoned bool // ended by Restart or Close while still active
	Moves     int
	ElapsedMs int
	Start     int
	Target    int
}

// Session holds one game and its timer.
type Session struct {
	ID        string
	OwnerID   string
	Mode      Mode
	Date      string
	CreatedAt time.Time

	mu         sync.Mutex // guards everything below and the engine
	engine     *game.Engine
	phase      Phase
	timer      *Timer
	interval   time.Duration
	start      int
	games      int
	pending    *Result
	started    *View
	lastActive time.Time
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc

	subMu      sync.Mutex // guards the three fields below
	subs       map[int]chan View
	nextSub    int
	subsClosed bool

	onStart  func(game int, v View)
	onFinish func(Result)
	log      zerolog.Logger
}

// Option configures a Session.
type Option func(*Session, *[]game.Option)

// WithTickInterval overrides the real-time interval between ticks (default 1s).
func WithTickInterval(d time.Duration) Option {
	return func(s *Session, _ *[]game.Option) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSeed makes the game reproducible.
func WithSeed(seed1, seed2 uint64) Option {
	return func(_ *Session, eo *[]game.Option) {
		*eo = append(*eo, game.WithSeed(seed1, seed2))
	}
}

// WithDaily marks the session as the daily challenge for date.
func WithDaily(date string) Option {
	return func(s *Session, _ *[]game.Option) {
		s.Mode = ModeDaily
		s.Date = date
	}
}

// WithOwner records the user or anonymous id that started the session.
func WithOwner(id string) Option {
	return func(s *Session, _ *[]game.Option) { s.OwnerID = id }
}

// WithOnStart registers a hook called each time a game begins, with the
// 1-based game number within the session.
func WithOnStart(fn func(game int, v View)) Option {
	return func(s *Session, _ *[]game.Option) { s.onStart = fn }
}

// WithOnFinish registers a hook for finished games.
func WithOnFinish(fn func(Result)) Option {
	return func(s *Session, _ *[]game.Option) { s.onFinish = fn }
}

// WithLogger replaces the global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session, _ *[]game.Option) { s.log = l }
}

// New creates a session in the intro phase.
func New(id string, opts ...Option) *Session {
	now := time.Now()
	s := &Session{
		ID:         id,
		Mode:       ModeNormal,
		CreatedAt:  now,
		phase:      PhaseIntro,
		interval:   time.Second,
		lastActive: now,
		subs:       make(map[int]chan View),
		log:        log.Logger,
	}
	var engineOpts []game.Option
	for _, opt := range opts {
		opt(s, &engineOpts)
	}
	engineOpts = append(engineOpts, game.WithObserver(observer{s}))
	s.engine = game.New(engineOpts...)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.log = s.log.With().Str("gameId", id).Str("mode", string(s.Mode)).Logger()
	return s
}

// Advance moves intro → rules → playing. While playing it is a no-op.
func (s *Session) Advance() (View, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return View{}, ErrClosed
	}
	s.lastActive = time.Now()
	switch s.phase {
	case PhaseIntro:
		s.phase = PhaseRules
		s.publish(s.view())
	case PhaseRules:
		s.begin()
	}
	v := s.view()
	s.unlockAndFlush()
	return v, nil
}

// Select forwards a candidate choice to the engine.
func (s *Session) Select(n int) (game.Outcome, View, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return game.OutcomeContinue, View{}, ErrClosed
	}
	if s.phase != PhasePlaying {
		v := s.view()
		s.mu.Unlock()
		return game.OutcomeContinue, v, ErrNotPlaying
	}
	s.lastActive = time.Now()
	out, err := s.engine.Select(n)
	v := s.view()
	s.unlockAndFlush()
	return out, v, err
}

// Restart starts a fresh game, skipping the intro screens.
func (s *Session) Restart() (View, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return View{}, ErrClosed
	}
	s.lastActive = time.Now()
	s.begin()
	v := s.view()
	s.unlockAndFlush()
	return v, nil
}

// View returns the current view.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

// Finished reports whether the game has been won or lost.
func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.engine.Status()
	return st == game.StatusWon || st == game.StatusLost
}

// LastActive is the time of the last player action.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Close stops the timer and ends all subscriptions. A game still in play is
// reported to OnFinish as abandoned. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.abandon()
	s.timer.Stop()
	s.cancel()
	s.unlockAndFlush()

	s.subMu.Lock()
	s.subsClosed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()
}

// Subscribe returns a channel receiving every view change.
// Slow readers miss frames; the channel is closed by cancel or Close.
func (s *Session) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 8)

	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subsClosed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if c, ok := s.subs[id]; ok {
				close(c)
				delete(s.subs, id)
			}
		})
	}
}

// begin starts a new game and a new timer, abandoning any game in play.
// Caller holds s.mu.
func (s *Session) begin() {
	s.abandon()
	s.timer.Stop()
	s.phase = PhasePlaying
	snap := s.engine.Start()
	s.start = snap.Current
	s.games++
	s.timer = startTimer(s.ctx, s.interval, s.tick)
	v := s.viewOf(snap)
	s.started = &v
	s.log.Info().Int("start", snap.Current).Int("target", snap.Target).Msg("game started")
}

// tick is the timer callback. Ticks from a replaced or stopped timer are dropped.
func (s *Session) tick(t *Timer) {
	s.mu.Lock()
	if s.closed || t != s.timer || t.Stopped() {
		s.mu.Unlock()
		return
	}
	// A loss reaches OnFinish through the observer; the guard above rules out ErrNotActive.
	if _, err := s.engine.Tick(); err != nil {
		s.log.Warn().Err(err).Msg("tick")
	}
	s.unlockAndFlush()
}

// abandon queues an abandoned, lost Result for a game still in play. Caller holds s.mu.
func (s *Session) abandon() {
	if !s.engine.Active() {
		return
	}
	snap := s.engine.Snapshot()
	s.pending = s.result(snap, false)
	s.pending.Abandoned = true
	s.log.Info().Int("moves", snap.Moves).Msg("game abandoned")
}

// unlockAndFlush releases s.mu and then runs the finish/start hooks queued while it was held.
// A game abandoned by Restart is finished before its replacement starts.
func (s *Session) unlockAndFlush() {
	started, n := s.started, s.games
	r := s.pending
	s.started, s.pending = nil, nil
	s.mu.Unlock()
	if r != nil && s.onFinish != nil {
		s.onFinish(*r)
	}
	if started != nil && s.onStart != nil {
		s.onStart(n, *started)
	}
}

// view builds a View. Caller holds s.mu.
func (s *Session) view() View {
	return s.viewOf(s.engine.Snapshot())
}

func (s *Session) viewOf(snap game.Snapshot) View {
	return View{
		GameID:   s.ID,
		Mode:     s.Mode,
		Phase:    s.phase,
		Snapshot: snap,
		Clock:    clock.Format(snap.TimeRemainingMs),
		Warning:  snap.Active && clock.Warning(snap.TimeRemainingMs),
	}
}

// publish sends v to every subscriber without blocking.
func (s *Session) publish(v View) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// observer adapts engine notifications to the session. It runs with s.mu held.
type observer struct{ s *Session }

func (o observer) Render(snap game.Snapshot) {
	o.s.publish(o.s.viewOf(snap))
}

func (o observer) GameOver(out game.Outcome, snap game.Snapshot) {
	s := o.s
	s.timer.Stop()
	s.pending = s.result(snap, out == game.OutcomeWin)
	s.log.Info().Str("outcome", string(out)).Int("moves", snap.Moves).Int("elapsedMs", s.pending.ElapsedMs).Msg("game finished")
}

// result summarises the current game. Caller holds s.mu.
func (s *Session) result(snap game.Snapshot, won bool) *Result {
	return &Result{
		GameID:    s.ID,
		Game:      s.games,
		OwnerID:   s.OwnerID,
		Mode:      s.Mode,
		Date:      s.Date,
		Won:       won,
		Moves:     snap.Moves,
		ElapsedMs: game.TimeLimitMs - snap.TimeRemainingMs,
		Start:     s.start,
		Target:    snap.Target,
	}
}
