// Command defuse-tui plays Defuse in the terminal.
//
// Environment:
//
//	DEFUSE_LOG    append zerolog JSON lines to this file (logging is off otherwise)
//	LOG_LEVEL     as for the server
//	DAILY_SALT    with DEFUSE_DAILY=1, deal today's daily challenge
package main

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/defuse/assets"
	"github.com/robalobadob/defuse/internal/config"
	"github.com/robalobadob/defuse/internal/daily"
	"github.com/robalobadob/defuse/internal/tui"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	// The terminal belongs to the UI; logs go to a file or nowhere.
	log.Logger = zerolog.Nop()
	if path := os.Getenv("DEFUSE_LOG"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open log:", err)
			os.Exit(1)
		}
		defer f.Close()
		zerolog.SetGlobalLevel(cfg.LogLevel)
		log.Logger = zerolog.New(f).With().Timestamp().Logger()
	}

	rules, err := assets.RulesLines()
	if err != nil {
		log.Warn().Err(err).Msg("load rules")
	}
	opts := []tui.Option{tui.WithRules(rules)}
	if os.Getenv("DEFUSE_DAILY") == "1" {
		s1, s2 := daily.Seed(time.Now(), cfg.DailySalt)
		opts = append(opts, tui.WithSeed(s1, s2))
	}

	if _, err := tea.NewProgram(tui.New(opts...), tea.WithAltScreen()).Run(); err != nil {
		log.Error().Err(err).Msg("tui exited")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
