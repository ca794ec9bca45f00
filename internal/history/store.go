// internal/history/store.go
//
// Game log and per-user statistics.
// Only game summaries are written (who played, start/target, outcome);
// in-progress engine state never leaves the process.

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Status is the games.status column.
type Status string

const (
	StatusPlaying   Status = "playing"
	StatusWon       Status = "won"
	StatusLost      Status = "lost"
	StatusAbandoned Status = "abandoned" // restarted or expired mid-game; counts as a loss
)

// Game is the row written when a game starts.
type Game struct {
	ID        string
	UserID    string // empty for guests
	AnonID    string // set for guests
	Mode      string
	Start     int
	Target    int
	StartedAt time.Time
}

// Row is a game as listed for its owner.
type Row struct {
	ID         string `json:"id"`
	Mode       string `json:"mode"`
	Status     string `json:"status"`
	Start      int    `json:"start"`
	Target     int    `json:"target"`
	Moves      int    `json:"moves"`
	ElapsedMs  int    `json:"elapsedMs"`
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt,omitempty"`
}

// Stats are the aggregate counters kept on the users table.
type Stats struct {
	GamesPlayed int `json:"gamesPlayed"`
	Wins        int `json:"wins"`
	Streak      int `json:"streak"`
	BestMs      int `json:"bestMs,omitempty"` // fastest win, 0 if none
}

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// RecordStart inserts the owner row for a new game.
func (s *Store) RecordStart(ctx context.Context, g Game) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO games (id, user_id, anonymous_id, mode, start_number, target, status, started_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, nullable(g.UserID), nullable(g.AnonID), g.Mode, g.Start, g.Target, string(StatusPlaying),
		g.StartedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// RecordFinish moves a game out of playing and, for signed-in owners, bumps their stats.
// Games already finished are left untouched.
func (s *Store) RecordFinish(ctx context.Context, gameID string, st Status, moves, elapsedMs int) error {
	if st == StatusPlaying || st == "" {
		return fmt.Errorf("record finish %s: status %q is not final", gameID, st)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var userID sql.NullString
	var status string
	err = tx.QueryRowContext(ctx, `SELECT user_id, status FROM games WHERE id=?`, gameID).Scan(&userID, &status)
	if err != nil {
		return err
	}
	if Status(status) != StatusPlaying {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE games SET status=?, moves=?, elapsed_ms=?, finished_at=? WHERE id=?`,
		string(st), moves, elapsedMs, time.Now().UTC().Format(time.RFC3339), gameID); err != nil {
		return err
	}
	if userID.Valid {
		if err := bumpStats(ctx, tx, userID.String, st == StatusWon, elapsedMs); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// bumpStats increments games played; updates wins, streak and best time (within tx).
func bumpStats(ctx context.Context, tx *sql.Tx, userID string, won bool, elapsedMs int) error {
	var gp, wins, streak int
	var best sql.NullInt64
	row := tx.QueryRowContext(ctx, `SELECT games_played, wins, streak, best_ms FROM users WHERE id=?`, userID)
	if err := row.Scan(&gp, &wins, &streak, &best); err != nil {
		return err
	}
	gp++
	if won {
		wins++
		streak++
		if !best.Valid || int64(elapsedMs) < best.Int64 {
			best = sql.NullInt64{Int64: int64(elapsedMs), Valid: true}
		}
	} else {
		streak = 0
	}
	_, err := tx.ExecContext(ctx, `UPDATE users SET games_played=?, wins=?, streak=?, best_ms=? WHERE id=?`,
		gp, wins, streak, best, userID)
	return err
}

// UserStats loads the counters for userID.
func (s *Store) UserStats(ctx context.Context, userID string) (Stats, error) {
	var st Stats
	var best sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT games_played, wins, streak, best_ms FROM users WHERE id=?`, userID,
	).Scan(&st.GamesPlayed, &st.Wins, &st.Streak, &best)
	if errors.Is(err, sql.ErrNoRows) {
		return st, err
	}
	st.BestMs = int(best.Int64)
	return st, err
}

// Recent lists the user's latest games, newest first.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, mode, status, COALESCE(start_number, 0), COALESCE(target, 0), moves,
               COALESCE(elapsed_ms, 0), started_at, COALESCE(finished_at, '')
        FROM games WHERE user_id=? ORDER BY started_at DESC, rowid DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Mode, &r.Status, &r.Start, &r.Target, &r.Moves,
			&r.ElapsedMs, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ClaimAnon transfers a guest's games to a user account after sign-in.
func (s *Store) ClaimAnon(ctx context.Context, anonID, userID string) error {
	if anonID == "" || userID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE games SET user_id=?, anonymous_id=NULL WHERE anonymous_id=?`, userID, anonID)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
