// internal/game/engine.go
//
// Core round engine for a single Defuse game.
// Responsibilities:
//   - Start new games (random current/target numbers, full timer, first round).
//   - Validate and apply selections, rolling the operator preview forward.
//   - Count down the timer one tick at a time.
//   - Track state transitions: idle → active → won/lost.
//
// Notes:
//   - The engine is not safe for concurrent use; adapters serialise calls.
//   - Randomness comes from an injectable math/rand/v2 source so that games
//     can be replayed from a seed (tests, daily challenge).
//   - Observers are notified synchronously after each state change.
package game

import (
	"fmt"
	"math/rand/v2"
	"slices"
)

// Engine owns the state of one game.
type Engine struct {
	rng      *rand.Rand
	observer Observer

	status     Status
	current    int
	target     int
	op         Operator
	nextOp     Operator
	remaining  int
	candidates []int
	round      int
	moves      int
}

// Option configures an Engine.
type Option func(*Engine)

// WithRand sets the random source. Use a seeded source for reproducible games.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithSeed seeds a PCG source with the given pair.
func WithSeed(seed1, seed2 uint64) Option {
	return WithRand(rand.New(rand.NewPCG(seed1, seed2)))
}

// WithObserver registers the render/game-over observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// New constructs an idle engine. Call Start to begin a game.
func New(opts ...Option) *Engine {
	e := &Engine{observer: nopObserver{}, status: StatusIdle}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return e
}

// Start begins a new game, discarding any previous state.
//
// The current number is drawn from [1, StartMax], the target from
// [1, TargetMax] until it differs from the current number.
func (e *Engine) Start() Snapshot {
	e.current = e.rng.IntN(StartMax) + 1
	e.target = e.rng.IntN(TargetMax) + 1
	for e.target == e.current {
		e.target = e.rng.IntN(TargetMax) + 1
	}
	e.remaining = TimeLimitMs
	e.status = StatusActive
	e.round = 0
	e.moves = 0
	e.op = ChooseOperator(e.rng, e.current, e.target)
	e.startRound()

	s := e.Snapshot()
	e.observer.Render(s)
	return s
}

// startRound regenerates the candidates for (current, op) and computes the next preview.
func (e *Engine) startRound() {
	e.round++
	e.candidates = GenerateCandidates(e.rng, e.current, e.op, e.target)
	e.nextOp = PreviewOperator(e.rng, e.current, e.op, e.candidates, e.target)
}

// Tick removes TickMs from the clock. When the clock reaches zero the game is lost.
// Returns ErrNotActive without touching state once the game is over.
func (e *Engine) Tick() (Outcome, error) {
	if e.status != StatusActive {
		return e.outcome(), ErrNotActive
	}
	e.remaining -= TickMs
	if e.remaining <= 0 {
		e.remaining = 0
		return e.finish(StatusLost), nil
	}
	e.observer.Render(e.Snapshot())
	return OutcomeContinue, nil
}

// Select applies the current operator with n.
//
// Validation rules:
//   - The game must be active.
//   - n must be one of the current round's candidates.
//
// Reaching the target wins the game; otherwise the preview operator becomes
// current and a new round is generated.
func (e *Engine) Select(n int) (Outcome, error) {
	if e.status != StatusActive {
		return e.outcome(), ErrNotActive
	}
	if !slices.Contains(e.candidates, n) {
		return OutcomeContinue, fmt.Errorf("%w: %d is not a candidate", ErrInvalidSelection, n)
	}

	e.current = ApplyOperation(e.current, e.op, n)
	e.moves++
	if e.current == e.target {
		return e.finish(StatusWon), nil
	}

	e.op = e.nextOp
	e.startRound()
	e.observer.Render(e.Snapshot())
	return OutcomeContinue, nil
}

// finish moves the engine into a terminal status and notifies the observer.
func (e *Engine) finish(st Status) Outcome {
	e.status = st
	s := e.Snapshot()
	out := e.outcome()
	e.observer.Render(s)
	e.observer.GameOver(out, s)
	return out
}

// outcome maps the status to the outcome reported to callers.
func (e *Engine) outcome() Outcome {
	switch e.status {
	case StatusWon:
		return OutcomeWin
	case StatusLost:
		return OutcomeLoss
	default:
		return OutcomeContinue
	}
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Status:          e.status,
		Active:          e.status == StatusActive,
		Current:         e.current,
		Target:          e.target,
		Operator:        e.op,
		NextOperator:    e.nextOp,
		TimeRemainingMs: e.remaining,
		Candidates:      slices.Clone(e.candidates),
		Round:           e.round,
		Moves:           e.moves,
	}
}

// Status reports the engine's state machine position.
func (e *Engine) Status() Status { return e.status }

// Active reports whether the game accepts selections and ticks.
func (e *Engine) Active() bool { return e.status == StatusActive }

// ElapsedMs is the time consumed so far.
func (e *Engine) ElapsedMs() int {
	if e.status == StatusIdle {
		return 0
	}
	return TimeLimitMs - e.remaining
}
