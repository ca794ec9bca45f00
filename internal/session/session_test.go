package session

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/defuse/internal/game"
)

func quiet() Option { return WithLogger(zerolog.Nop()) }

// playing returns a session already past the intro and rules screens.
func playing(t *testing.T, opts ...Option) *Session {
	t.Helper()
	s := New("g1", append([]Option{quiet()}, opts...)...)
	t.Cleanup(s.Close)
	_, err := s.Advance()
	require.NoError(t, err)
	v, err := s.Advance()
	require.NoError(t, err)
	require.Equal(t, PhasePlaying, v.Phase)
	return s
}

// winningMove searches seeds for a first round that can be won in one selection.
func winningMove(t *testing.T) (seed uint64, pick int) {
	t.Helper()
	for seed = 0; seed < 5000; seed++ {
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

func TestAdvance_IntroFlow(t *testing.T) {
	s := New("g1", quiet(), WithTickInterval(time.Hour))
	defer s.Close()

	assert.Equal(t, PhaseIntro, s.View().Phase)
	assert.Equal(t, game.StatusIdle, s.View().Status)

	v, err := s.Advance()
	require.NoError(t, err)
	assert.Equal(t, PhaseRules, v.Phase)
	assert.False(t, v.Active)

	v, err = s.Advance()
	require.NoError(t, err)
	assert.Equal(t, PhasePlaying, v.Phase)
	assert.True(t, v.Active)
	assert.Equal(t, "2:00", v.Clock)
	assert.False(t, v.Warning)

	again, err := s.Advance()
	require.NoError(t, err)
	assert.Equal(t, v.Snapshot, again.Snapshot)
}

func TestSelect_BeforePlaying(t *testing.T) {
	s := New("g1", quiet())
	defer s.Close()
	_, _, err := s.Select(1)
	assert.ErrorIs(t, err, ErrNotPlaying)
}

func TestSelect_InvalidCandidate(t *testing.T) {
	s := playing(t, WithTickInterval(time.Hour))
	_, _, err := s.Select(-5)
	assert.ErrorIs(t, err, game.ErrInvalidSelection)
}

func TestSelect_WinReportsResult(t *testing.T) {
	seed, pick := winningMove(t)
	results := make(chan Result, 2)
	s := playing(t, WithSeed(seed, seed), WithTickInterval(time.Hour), WithOwner("u1"),
		WithOnFinish(func(r Result) { results <- r }))

	out, v, err := s.Select(pick)
	require.NoError(t, err)
	assert.Equal(t, game.OutcomeWin, out)
	assert.Equal(t, game.StatusWon, v.Status)
	assert.True(t, s.Finished())

	r := <-results
	assert.True(t, r.Won)
	assert.Equal(t, "g1", r.GameID)
	assert.Equal(t, "u1", r.OwnerID)
	assert.Equal(t, 1, r.Moves)
	assert.Equal(t, v.Target, r.Target)
	assert.Zero(t, r.ElapsedMs)

	_, _, err = s.Select(pick)
	assert.ErrorIs(t, err, game.ErrNotActive)
	assert.Empty(t, results)
}

func TestTimer_RunsOutOnce(t *testing.T) {
	results := make(chan Result, 2)
	s := playing(t, WithTickInterval(time.Millisecond), WithOnFinish(func(r Result) { results <- r }))

	var r Result
	select {
	case r = <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("timer never expired")
	}
	assert.False(t, r.Won)
	assert.Equal(t, game.TimeLimitMs, r.ElapsedMs)

	v := s.View()
	assert.Equal(t, game.StatusLost, v.Status)
	assert.Zero(t, v.TimeRemainingMs)
	assert.Equal(t, "0:00", v.Clock)

	s.mu.Lock()
	timer := s.timer
	s.mu.Unlock()
	select {
	case <-timer.Done():
	case <-time.After(time.Second):
		t.Fatal("timer goroutine still running after loss")
	}
	assert.Empty(t, results)
}

func TestRestart_ReplacesTimer(t *testing.T) {
	s := playing(t, WithTickInterval(time.Millisecond))
	require.Eventually(t, func() bool {
		return s.View().TimeRemainingMs < game.TimeLimitMs
	}, 2*time.Second, time.Millisecond)

	s.mu.Lock()
	old := s.timer
	s.mu.Unlock()

	v, err := s.Restart()
	require.NoError(t, err)
	assert.Equal(t, PhasePlaying, v.Phase)
	assert.True(t, v.Active)
	assert.Equal(t, 0, v.Moves)
	assert.True(t, old.Stopped())
	select {
	case <-old.Done():
	case <-time.After(time.Second):
		t.Fatal("old timer still running")
	}
}

func TestSubscribe_ReceivesViews(t *testing.T) {
	s := New("g1", quiet(), WithTickInterval(time.Hour))
	defer s.Close()

	ch, cancel := s.Subscribe()
	_, err := s.Advance()
	require.NoError(t, err)

	v := <-ch
	assert.Equal(t, PhaseRules, v.Phase)

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestClose(t *testing.T) {
	s := New("g1", quiet())
	ch, _ := s.Subscribe()
	s.Close()
	s.Close()

	_, ok := <-ch
	assert.False(t, ok)

	_, err := s.Advance()
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = s.Select(1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Restart()
	assert.ErrorIs(t, err, ErrClosed)

	late, _ := s.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}

func TestOnStart_CountsGames(t *testing.T) {
	type start struct {
		n int
		v View
	}
	starts := make(chan start, 4)
	s := playing(t, WithTickInterval(time.Hour), WithOnStart(func(n int, v View) { starts <- start{n, v} }))

	first := <-starts
	assert.Equal(t, 1, first.n)
	assert.Equal(t, "g1", first.v.GameID)
	assert.True(t, first.v.Active)

	_, err := s.Restart()
	require.NoError(t, err)
	assert.Equal(t, 2, (<-starts).n)

	_, err = s.Advance()
	require.NoError(t, err)
	assert.Empty(t, starts, "advance while playing starts nothing")
}

func TestRestart_AbandonsActiveGame(t *testing.T) {
	var order []string
	var results []Result
	s := playing(t, WithTickInterval(time.Hour),
		WithOnStart(func(int, View) { order = append(order, "start") }),
		WithOnFinish(func(r Result) {
			order = append(order, "finish")
			results = append(results, r)
		}))
	order = nil

	_, err := s.Restart()
	require.NoError(t, err)
	_, err = s.Restart()
	require.NoError(t, err)
	s.Close()

	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i+1, r.Game)
		assert.False(t, r.Won)
		assert.True(t, r.Abandoned)
	}
	assert.Equal(t, []string{"finish", "start", "finish", "start", "finish"}, order)
}

func TestClose_FinishedGameNotReportedTwice(t *testing.T) {
	seed, pick := winningMove(t)
	results := make(chan Result, 2)
	s := playing(t, WithSeed(seed, seed), WithTickInterval(time.Hour),
		WithOnFinish(func(r Result) { results <- r }))

	_, _, err := s.Select(pick)
	require.NoError(t, err)
	s.Close()

	r := <-results
	assert.True(t, r.Won)
	assert.False(t, r.Abandoned)
	assert.Empty(t, results)
}

func TestClose_IntroReportsNothing(t *testing.T) {
	finished := 0
	s := New("g1", quiet(), WithOnFinish(func(Result) { finished++ }))
	_, err := s.Advance()
	require.NoError(t, err)
	s.Close()
	assert.Zero(t, finished)
}

func TestSubscribe_ConcurrentCloseAlwaysEnds(t *testing.T) {
	for i := 0; i < 200; i++ {
		s := New("g1", quiet())
		got := make(chan (<-chan View), 1)
		go func() {
			ch, _ := s.Subscribe()
			got <- ch
		}()
		s.Close()
		ch := <-got

		select {
		case _, ok := <-ch:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatalf("iteration %d: subscription outlived Close", i)
		}
	}
}
