// internal/game/types.go
//
// Core type definitions for the Mafia game engine.
// Defines:
//   - Role, Phase, Winner, NightAction: small string enums.
//   - PlayerState: per-player state inside a session.
//   - Session: the aggregate for a single game instance.
//   - Rules: timing and policy knobs shared by all sessions of a server.

package game

import (
	"time"
)

// Role is a hidden role dealt at game start.
type Role string

const (
	RoleNone     Role = ""
	RoleMafia    Role = "mafia"
	RoleDoctor   Role = "doctor"
	RoleSheriff  Role = "sheriff"
	RoleVillager Role = "villager"
)

// Phase is the coarse state of a session.
type Phase string

const (
	PhaseLobby   Phase = "lobby"
	PhaseDay     Phase = "day"
	PhaseDefense Phase = "defense"
	PhaseNight   Phase = "night"
	PhaseEnded   Phase = "ended"
)

// Active reports whether the phase is timed.
func (p Phase) Active() bool {
	return p == PhaseDay || p == PhaseDefense || p == PhaseNight
}

// Winner names the faction that won, or WinnerNone while the game continues.
type Winner string

const (
	WinnerNone      Winner = ""
	WinnerMafia     Winner = "mafia"
	WinnerVillagers Winner = "villagers"
)

// NightAction is the verb a role may submit during the night.
type NightAction string

const (
	ActionEliminate NightAction = "eliminate"
	ActionSave      NightAction = "save"
	ActionCheck     NightAction = "check"
)

// actionFor maps each special role to the only night action it may take.
var actionFor = map[Role]NightAction{
	RoleMafia:   ActionEliminate,
	RoleDoctor:  ActionSave,
	RoleSheriff: ActionCheck,
}

// TieBreak selects how a tied vote is resolved.
type TieBreak string

const (
	TieNoElimination TieBreak = "none"
	TieRandom        TieBreak = "random"
)

// PlayerState holds a single player's state within a session.
type PlayerState struct {
	Alive              bool `json:"alive"`
	Role               Role `json:"role,omitempty"`
	SelfSavedLastNight bool `json:"selfSavedLastNight,omitempty"`
}

// MafiaVote is one mafia member's chosen night target.
type MafiaVote struct {
	Actor  string `json:"actor"`
	Target string `json:"target"`
}

// NightActions collects submissions for the current night.
type NightActions struct {
	Mafia   []MafiaVote `json:"mafia,omitempty"`
	Doctor  string      `json:"doctor,omitempty"`
	Sheriff string      `json:"sheriff,omitempty"`
}

// Session is one game instance. It is not safe for concurrent use; the
// store serializes access per session.
type Session struct {
	Code       string                  `json:"code"`
	Phase      Phase                   `json:"phase"`
	Host       string                  `json:"host"`
	Players    map[string]*PlayerState `json:"players"`
	Order      []string                `json:"order"` // join order
	Votes      map[string]string       `json:"votes,omitempty"`
	Night      NightActions            `json:"night"`
	Deadline   time.Time               `json:"deadline,omitempty"`
	Winner     Winner                  `json:"winner,omitempty"`
	GameNumber int                     `json:"gameNumber"`
	Revision   int64                   `json:"revision"`
	CreatedAt  time.Time               `json:"createdAt"`
}

// NewSession returns an empty lobby with the given code.
func NewSession(code string, now time.Time) *Session {
	return &Session{
		Code:      code,
		Phase:     PhaseLobby,
		Players:   make(map[string]*PlayerState),
		Votes:     make(map[string]string),
		CreatedAt: now.UTC(),
	}
}

// alive reports whether name is a player who is still alive.
func (s *Session) alive(name string) bool {
	p, ok := s.Players[name]
	return ok && p.Alive
}

// aliveCounts returns alive mafia and alive non-mafia counts.
func (s *Session) aliveCounts() (mafia, others int) {
	for _, p := range s.Players {
		if !p.Alive {
			continue
		}
		if p.Role == RoleMafia {
			mafia++
		} else {
			others++
		}
	}
	return mafia, others
}

// Rules are the policy and timing knobs applied by an Engine.
type Rules struct {
	MinPlayers int
	MaxPlayers int

	DayDuration     time.Duration
	DayJitter       time.Duration // extra random time added to each day, [0, DayJitter)
	DefenseDuration time.Duration
	NightDuration   time.Duration

	TieBreak                 TieBreak
	HostOnlyStart            bool
	AllowConsecutiveSelfSave bool
	SheriffRecheck           bool // a later check replaces the night's earlier one
}

// DefaultRules are the classic party-game timings: a three to five minute day,
// one minute each for defense and night.
func DefaultRules() Rules {
	return Rules{
		MinPlayers:               5,
		MaxPlayers:               16,
		DayDuration:              180 * time.Second,
		DayJitter:                120 * time.Second,
		DefenseDuration:          60 * time.Second,
		NightDuration:            60 * time.Second,
		TieBreak:                 TieNoElimination,
		HostOnlyStart:            true,
		AllowConsecutiveSelfSave: true,
	}
}
