// Package tui is the terminal front end: a Bubble Tea model that drives one
// game.Engine directly. Bubble Tea delivers key presses and ticks on a single
// goroutine, so the engine needs no locking here.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/defuse/internal/clock"
	"github.com/robalobadob/defuse/internal/game"
)

type screen int

const (
	screenIntro screen = iota
	screenRules
	screenPlaying
)

// tickMsg carries the generation of the timer that produced it.
type tickMsg struct{ gen int }

func tickCmd(interval time.Duration, gen int) tea.Cmd {
	return tea.Tick(interval, func(time.Time) tea.Msg {
		return tickMsg{gen: gen}
	})
}

// Model implements tea.Model.
type Model struct {
	engine   *game.Engine
	screen   screen
	rules    []string
	interval time.Duration

	gen     int // bumped whenever the running timer must be abandoned
	outcome game.Outcome
	notice  string
}

// Option configures a Model.
type Option func(*Model, *[]game.Option)

// WithSeed fixes the engine's random source.
func WithSeed(seed1, seed2 uint64) Option {
	return func(_ *Model, eo *[]game.Option) {
		*eo = append(*eo, game.WithSeed(seed1, seed2))
	}
}

// WithTickInterval overrides the one second tick.
func WithTickInterval(d time.Duration) Option {
	return func(m *Model, _ *[]game.Option) { m.interval = d }
}

// WithRules sets the text shown on the rules screen.
func WithRules(lines []string) Option {
	return func(m *Model, _ *[]game.Option) { m.rules = lines }
}

// New builds a model on the intro screen.
func New(opts ...Option) *Model {
	m := &Model{interval: time.Second, outcome: game.OutcomeContinue}
	var eo []game.Option
	for _, opt := range opts {
		opt(m, &eo)
	}
	eo = append(eo, game.WithObserver(m))
	m.engine = game.New(eo...)
	return m
}

func (m *Model) Init() tea.Cmd { return nil }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKey(msg)
	case tickMsg:
		if msg.gen != m.gen || !m.engine.Active() {
			return m, nil
		}
		if out, _ := m.engine.Tick(); out != game.OutcomeContinue {
			return m, nil
		}
		return m, tickCmd(m.interval, m.gen)
	}
	return m, nil
}

func (m *Model) handleKey(k tea.KeyMsg) tea.Cmd {
	switch k.String() {
	case "ctrl+c", "q":
		return tea.Quit
	case "enter", " ":
		switch m.screen {
		case screenIntro:
			m.screen = screenRules
		case screenRules:
			return m.start()
		}
	case "r":
		if m.screen == screenPlaying {
			return m.start()
		}
	case "1", "2", "3", "4", "5":
		return m.pick(int(k.String()[0] - '1'))
	}
	return nil
}

// start deals a fresh game and its timer.
func (m *Model) start() tea.Cmd {
	m.screen = screenPlaying
	m.outcome = game.OutcomeContinue
	m.notice = ""
	m.gen++
	m.engine.Start()
	return tickCmd(m.interval, m.gen)
}

// pick selects the i-th candidate on screen.
func (m *Model) pick(i int) tea.Cmd {
	if m.screen != screenPlaying || !m.engine.Active() {
		return nil
	}
	snap := m.engine.Snapshot()
	if i >= len(snap.Candidates) {
		m.notice = fmt.Sprintf("only %d choices this round", len(snap.Candidates))
		return nil
	}
	m.notice = ""
	if _, err := m.engine.Select(snap.Candidates[i]); err != nil {
		log.Warn().Err(err).Msg("select")
	}
	return nil
}

// Render is part of game.Observer; the view reads the engine directly.
func (m *Model) Render(game.Snapshot) {}

// GameOver is part of game.Observer.
func (m *Model) GameOver(out game.Outcome, snap game.Snapshot) {
	m.outcome = out
	m.gen++
	log.Info().Str("outcome", string(out)).Int("moves", snap.Moves).Msg("game finished")
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString("DEFUSE\n\n")
	switch m.screen {
	case screenIntro:
		b.WriteString("A bomb is ticking. Reach the target number before the clock runs out.\n\n")
		b.WriteString("enter: continue • q: quit\n")
	case screenRules:
		for _, l := range m.rules {
			b.WriteString(l)
			b.WriteString("\n")
		}
		b.WriteString("\nenter: start • q: quit\n")
	case screenPlaying:
		m.viewGame(&b)
	}
	return b.String()
}

func (m *Model) viewGame(b *strings.Builder) {
	s := m.engine.Snapshot()
	left := clock.Format(s.TimeRemainingMs)
	if s.Active && clock.Warning(s.TimeRemainingMs) {
		left += " !"
	}
	fmt.Fprintf(b, "time    %s\n", left)
	fmt.Fprintf(b, "current %d\n", s.Current)
	fmt.Fprintf(b, "target  %d\n\n", s.Target)

	switch m.outcome {
	case game.OutcomeWin:
		fmt.Fprintf(b, "DEFUSED in %d moves with %s left.\n\n", s.Moves, left)
		b.WriteString("r: play again • q: quit\n")
		return
	case game.OutcomeLoss:
		fmt.Fprintf(b, "BOOM. You were %d away from %d.\n\n", abs(s.Target-s.Current), s.Target)
		b.WriteString("r: play again • q: quit\n")
		return
	}

	fmt.Fprintf(b, "operator %s   next %s\n\n", s.Operator, s.NextOperator)
	for i, n := range s.Candidates {
		fmt.Fprintf(b, "[%d] %s%d  ", i+1, s.Operator, n)
	}
	b.WriteString("\n\n")
	if m.notice != "" {
		b.WriteString(m.notice + "\n")
	}
	fmt.Fprintf(b, "moves %d • 1-%d: choose • r: restart • q: quit\n", s.Moves, len(s.Candidates))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
