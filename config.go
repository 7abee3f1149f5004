// config.go
//
// Process configuration, read from the environment (and .env via godotenv).
// Durations use Go syntax ("90s", "3m").

package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/robalobadob/mafia/server/internal/game"
)

// Config is the server configuration.
type Config struct {
	Port         string `env:"PORT"          envDefault:"5175"`
	LogLevel     string `env:"LOG_LEVEL"     envDefault:"info"`
	ClientOrigin string `env:"CLIENT_ORIGIN" envDefault:"http://localhost:5173"`
	// DBPath enables the SQLite archive; empty disables it.
	DBPath string `env:"DB_PATH" envDefault:"./data/mafia.db"`

	SeatSecret string        `env:"SEAT_SECRET" envDefault:"dev_secret_change_me"`
	SeatTTL    time.Duration `env:"SEAT_TTL"    envDefault:"12h"`

	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"1s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT"  envDefault:"30m"`

	DayDuration              time.Duration `env:"DAY_DURATION"                envDefault:"180s"`
	DayJitter                time.Duration `env:"DAY_JITTER"                  envDefault:"120s"`
	DefenseDuration          time.Duration `env:"DEFENSE_DURATION"            envDefault:"60s"`
	NightDuration            time.Duration `env:"NIGHT_DURATION"              envDefault:"60s"`
	MinPlayers               int           `env:"MIN_PLAYERS"                 envDefault:"5"`
	MaxPlayers               int           `env:"MAX_PLAYERS"                 envDefault:"16"`
	HostOnlyStart            bool          `env:"HOST_ONLY_START"             envDefault:"true"`
	AllowConsecutiveSelfSave bool          `env:"ALLOW_CONSECUTIVE_SELF_SAVE" envDefault:"true"`
	TieBreak                 string        `env:"TIE_BREAK"                   envDefault:"none"`
	SheriffRecheck           bool          `env:"SHERIFF_RECHECK"             envDefault:"false"`
}

// loadConfig parses the environment into a Config and the game rules it
// describes.
func loadConfig() (Config, game.Rules, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, game.Rules{}, fmt.Errorf("parse env: %w", err)
	}
	rules, err := c.Rules()
	if err != nil {
		return Config{}, game.Rules{}, err
	}
	return c, rules, nil
}

// Rules converts the game settings into engine rules.
func (c Config) Rules() (game.Rules, error) {
	tb := game.TieBreak(c.TieBreak)
	if tb != game.TieNoElimination && tb != game.TieRandom {
		return game.Rules{}, fmt.Errorf("TIE_BREAK must be %q or %q, got %q", game.TieNoElimination, game.TieRandom, c.TieBreak)
	}
	if c.MaxPlayers > 0 && c.MaxPlayers < c.MinPlayers {
		return game.Rules{}, fmt.Errorf("MAX_PLAYERS (%d) is below MIN_PLAYERS (%d)", c.MaxPlayers, c.MinPlayers)
	}
	for name, d := range map[string]time.Duration{
		"DAY_DURATION":     c.DayDuration,
		"DEFENSE_DURATION": c.DefenseDuration,
		"NIGHT_DURATION":   c.NightDuration,
	} {
		if d <= 0 {
			return game.Rules{}, fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.DayJitter < 0 {
		return game.Rules{}, fmt.Errorf("DAY_JITTER must not be negative, got %s", c.DayJitter)
	}
	return game.Rules{
		MinPlayers:               c.MinPlayers,
		MaxPlayers:               c.MaxPlayers,
		DayDuration:              c.DayDuration,
		DayJitter:                c.DayJitter,
		DefenseDuration:          c.DefenseDuration,
		NightDuration:            c.NightDuration,
		TieBreak:                 tb,
		HostOnlyStart:            c.HostOnlyStart,
		AllowConsecutiveSelfSave: c.AllowConsecutiveSelfSave,
		SheriffRecheck:           c.SheriffRecheck,
	}, nil
}
