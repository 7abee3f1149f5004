package game

import (
	"time"
)

// Event names emitted to the real-time channel.
const (
	EventGameState     = "game_state"
	EventPrivateRole   = "private_role"
	EventActionResult  = "action_result"
	EventElimination   = "elimination"
	EventNoElimination = "no_elimination"
	EventTimer         = "timer"
	EventGameEnded     = "game_ended"
)

// Event is a state change produced by the engine. An empty To means the event
// goes to every connection in the session; otherwise only to that player.
type Event struct {
	Name    string `json:"event"`
	To      string `json:"-"`
	Payload any    `json:"payload"`
}

// RosterEntry is the public view of a player.
type RosterEntry struct {
	Name  string `json:"name"`
	Alive bool   `json:"alive"`
	Role  Role   `json:"role,omitempty"` // revealed once dead or after the game
}

// State is the public snapshot broadcast on every transition and join.
type State struct {
	Code       string        `json:"code"`
	Phase      Phase         `json:"phase"`
	Host       string        `json:"host"`
	Roster     []RosterEntry `json:"roster"`
	Deadline   *time.Time    `json:"deadline,omitempty"`
	Winner     Winner        `json:"winner,omitempty"`
	GameNumber int           `json:"gameNumber"`
}

// PrivateRole is sent to a single player at game start.
type PrivateRole struct {
	Role Role `json:"role"`
}

// ActionResult acknowledges a night action to the acting player.
type ActionResult struct {
	Action NightAction `json:"action"`
	Target string      `json:"target"`
	Result string      `json:"result"` // "voted" | "saved" | "mafia" | "not_mafia"
}

// Elimination announces a death and reveals the role.
type Elimination struct {
	Player string `json:"player"`
	Role   Role   `json:"role"`
	Phase  Phase  `json:"phase"`
}

// NoElimination reports a resolution step where nobody died.
type NoElimination struct {
	Phase  Phase  `json:"phase"`
	Reason string `json:"reason"` // "no_votes" | "tie" | "saved"
}

// TimerTick carries the remaining time of the current phase.
type TimerTick struct {
	Phase            Phase `json:"phase"`
	SecondsRemaining int   `json:"secondsRemaining"`
}

// GameEnded is the terminal broadcast.
type GameEnded struct {
	Winner Winner `json:"winner"`
}

// Snapshot builds the public state of s.
func Snapshot(s *Session) State {
	st := State{
		Code:       s.Code,
		Phase:      s.Phase,
		Host:       s.Host,
		Roster:     make([]RosterEntry, 0, len(s.Order)),
		Winner:     s.Winner,
		GameNumber: s.GameNumber,
	}
	if !s.Deadline.IsZero() {
		d := s.Deadline
		st.Deadline = &d
	}
	for _, name := range s.Order {
		p := s.Players[name]
		e := RosterEntry{Name: name, Alive: p.Alive}
		if !p.Alive || s.Phase == PhaseEnded {
			e.Role = p.Role
		}
		st.Roster = append(st.Roster, e)
	}
	return st
}

func stateEvent(s *Session) Event {
	return Event{Name: EventGameState, Payload: Snapshot(s)}
}
