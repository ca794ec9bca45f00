// internal/game/types.go
//
// Core type definitions for the Defuse round engine.
// Defines:
//   - Operator: the arithmetic operator applied to the current number.
//   - Outcome:  result of a selection or tick (continue/win/loss).
//   - Status:   coarse engine state (idle/active/won/lost).
//   - Snapshot: immutable copy of the game state handed to renderers.
//   - Observer: the render/game-over contract a presentation layer implements.

package game

import "errors"

// Operator is one of the four arithmetic operators shown to the player.
type Operator string

const (
	OpAdd Operator = "+"
	OpSub Operator = "-"
	OpMul Operator = "*"
	OpDiv Operator = "/"
)

// allOperators is the selection order used by every operator picker.
var allOperators = []Operator{OpAdd, OpSub, OpMul, OpDiv}

// fallbackOperators is offered when no operator passes the safety predicate.
var fallbackOperators = []Operator{OpAdd, OpSub}

// Valid reports whether op is one of the four known operators.
func (op Operator) Valid() bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv:
		return true
	}
	return false
}

// Outcome is reported by Select and Tick.
type Outcome string

const (
	OutcomeContinue Outcome = "continue"
	OutcomeWin      Outcome = "win"
	OutcomeLoss     Outcome = "loss"
)

// Status is the engine-level state machine:
//
//	idle → active (Start) → won | lost (Select / Tick)
//
// Terminal states need another Start to become active again.
type Status string

const (
	StatusIdle   Status = "idle"
	StatusActive Status = "active"
	StatusWon    Status = "won"
	StatusLost   Status = "lost"
)

// Ruleset constants.
const (
	TimeLimitMs    = 120000 // total time per game
	TickMs         = 1000   // time removed by a single Tick
	CandidateCount = 5      // candidates offered per round
	MaxDistance    = 100    // allowed |result - target| for candidate pools
	StartMax       = 50     // current number is drawn from [1, StartMax]
	TargetMax      = 99     // target number is drawn from [1, TargetMax]
	AddPoolMax     = 50     // "+" operands are drawn from [1, AddPoolMax]
	MulPoolMax     = 10     // "*" operands are drawn from [1, MulPoolMax]
	MinDivFactors  = 5      // "/" needs at least this many divisors
)

var (
	// ErrNotActive is returned when an operation needs an active game.
	ErrNotActive = errors.New("game not active")
	// ErrInvalidSelection is returned when the selected number is not a candidate of the current round.
	ErrInvalidSelection = errors.New("invalid selection")
)

// Snapshot is a read-only copy of the engine state.
// Candidates is a fresh slice; mutating it does not affect the engine.
type Snapshot struct {
	Status          Status   `json:"status"`
	Active          bool     `json:"active"`
	Current         int      `json:"current"`
	Target          int      `json:"target"`
	Operator        Operator `json:"operator"`
	NextOperator    Operator `json:"nextOperator"`
	TimeRemainingMs int      `json:"timeRemainingMs"`
	Candidates      []int    `json:"candidates"`
	Round           int      `json:"round"` // 1-based round counter, 0 while idle
	Moves           int      `json:"moves"` // accepted selections so far
}

// Observer receives state changes from an Engine.
// Both methods are called synchronously from within the engine operation
// that caused the change; implementations must not call back into the engine.
type Observer interface {
	// Render is called after every state change, including the final one.
	Render(s Snapshot)
	// GameOver is called once when the game ends, with OutcomeWin or OutcomeLoss.
	GameOver(outcome Outcome, s Snapshot)
}

// nopObserver discards all notifications.
type nopObserver struct{}

func (nopObserver) Render(Snapshot)            {}
func (nopObserver) GameOver(Outcome, Snapshot) {}
