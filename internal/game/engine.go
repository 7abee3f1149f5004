// internal/game/engine.go
//
// Phase engine for a single Mafia session.
// Responsibilities:
//   - Lobby management: joins, start preconditions, role deal.
//   - Validate and apply votes (defense) and night actions (night).
//   - Timer-driven transitions: day → defense → night → day.
//   - Resolve day and night eliminations and decide the winner.
//
// Notes:
//   - The engine never locks and never performs I/O. The caller serializes
//     access per session and delivers the returned events after unlocking.
//   - Every method either applies the whole change or returns an error and
//     leaves the session exactly as it was.
//   - Transitions are driven by comparing now with Session.Deadline, so a
//     repeated tick for a deadline that was already crossed is a no-op.
package game

import (
	"fmt"
	"math"
	"time"
)

// Engine drives one Session through its phases.
type Engine struct {
	s     *Session
	rules Rules
	rng   Rand
}

// NewEngine wraps s. rng is used for role deals, day jitter and random
// tie-breaks; it must not be shared with another goroutine.
func NewEngine(s *Session, rules Rules, rng Rand) *Engine {
	return &Engine{s: s, rules: rules, rng: rng}
}

// Session exposes the underlying aggregate (read it under the caller's lock).
func (e *Engine) Session() *Session { return e.s }

// Rules returns the rules this engine applies.
func (e *Engine) Rules() Rules { return e.rules }

// Join adds a player to the lobby. The first player becomes host.
func (e *Engine) Join(name string) ([]Event, error) {
	s := e.s
	if s.Phase != PhaseLobby {
		return nil, ErrGameAlreadyStarted
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty player name", ErrInvalidAction)
	}
	if _, ok := s.Players[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicatePlayerName, name)
	}
	if e.rules.MaxPlayers > 0 && len(s.Order) >= e.rules.MaxPlayers {
		return nil, fmt.Errorf("%w: %d players", ErrSessionFull, e.rules.MaxPlayers)
	}

	s.Players[name] = &PlayerState{Alive: true}
	s.Order = append(s.Order, name)
	if s.Host == "" {
		s.Host = name
	}
	s.Revision++
	return []Event{stateEvent(s)}, nil
}

// Start deals roles and opens the first day.
func (e *Engine) Start(by string, now time.Time) ([]Event, error) {
	s := e.s
	switch s.Phase {
	case PhaseLobby:
	case PhaseEnded:
		return nil, fmt.Errorf("%w: restart the session first", ErrGameNotInLobby)
	default:
		return nil, ErrGameAlreadyStarted
	}
	if _, ok := s.Players[by]; !ok {
		return nil, fmt.Errorf("%w: %q is not in this session", ErrInvalidAction, by)
	}
	if e.rules.HostOnlyStart && by != s.Host {
		return nil, ErrNotHost
	}
	n := len(s.Order)
	if need := max(e.rules.MinPlayers, specialRolesFrom); n < need {
		return nil, fmt.Errorf("%w: need at least %d players, have %d", ErrInvalidPlayerCount, need, n)
	}

	roles, err := AssignRoles(n, e.rng)
	if err != nil {
		return nil, err
	}
	if len(roles) != n || len(s.Players) != n {
		return nil, fmt.Errorf("%w: roster out of sync (%d seats, %d players, %d roles)",
			ErrInvalidPlayerCount, n, len(s.Players), len(roles))
	}
	for _, name := range s.Order {
		if s.Players[name] == nil {
			return nil, fmt.Errorf("%w: missing player state for %q", ErrInvalidAction, name)
		}
	}

	for i, name := range s.Order {
		*s.Players[name] = PlayerState{Alive: true, Role: roles[i]}
	}
	s.Winner = WinnerNone
	s.GameNumber++
	e.enter(PhaseDay, now)

	events := []Event{stateEvent(s)}
	for _, name := range s.Order {
		events = append(events, Event{
			Name:    EventPrivateRole,
			To:      name,
			Payload: PrivateRole{Role: s.Players[name].Role},
		})
	}
	return events, nil
}

// Vote records voter's choice during defense. The last vote wins.
func (e *Engine) Vote(voter, target string) ([]Event, error) {
	s := e.s
	if s.Phase != PhaseDefense {
		return nil, fmt.Errorf("%w: voting is closed during %s", ErrInvalidAction, s.Phase)
	}
	if !s.alive(voter) {
		return nil, fmt.Errorf("%w: %q cannot vote", ErrInvalidAction, voter)
	}
	if !s.alive(target) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	s.Votes[voter] = target
	s.Revision++
	return nil, nil
}

// NightAction records a role's night submission. The sheriff's verdict is
// returned immediately and addressed only to the sheriff.
func (e *Engine) NightAction(actor string, action NightAction, target string) (ActionResult, []Event, error) {
	s := e.s
	if s.Phase != PhaseNight {
		return ActionResult{}, nil, fmt.Errorf("%w: night actions are closed during %s", ErrInvalidAction, s.Phase)
	}
	if !s.alive(actor) {
		return ActionResult{}, nil, fmt.Errorf("%w: %q cannot act", ErrInvalidAction, actor)
	}
	p := s.Players[actor]
	if want, ok := actionFor[p.Role]; !ok || want != action {
		return ActionResult{}, nil, fmt.Errorf("%w: %s cannot %s", ErrInvalidAction, p.Role, action)
	}
	if !s.alive(target) {
		return ActionResult{}, nil, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}

	res := ActionResult{Action: action, Target: target}
	switch action {
	case ActionEliminate:
		s.Night.Mafia = upsertMafiaVote(s.Night.Mafia, MafiaVote{Actor: actor, Target: target})
		res.Result = "voted"
	case ActionSave:
		if target == actor && p.SelfSavedLastNight && !e.rules.AllowConsecutiveSelfSave {
			return ActionResult{}, nil, fmt.Errorf("%w: cannot save yourself two nights in a row", ErrInvalidAction)
		}
		s.Night.Doctor = target
		res.Result = "saved"
	case ActionCheck:
		if target == actor {
			return ActionResult{}, nil, fmt.Errorf("%w: cannot check yourself", ErrInvalidTarget)
		}
		if s.Night.Sheriff != "" && !e.rules.SheriffRecheck {
			return ActionResult{}, nil, fmt.Errorf("%w: already checked %q tonight", ErrInvalidAction, s.Night.Sheriff)
		}
		s.Night.Sheriff = target
		res.Result = "not_mafia"
		if s.Players[target].Role == RoleMafia {
			res.Result = "mafia"
		}
	}
	s.Revision++
	return res, []Event{{Name: EventActionResult, To: actor, Payload: res}}, nil
}

func upsertMafiaVote(votes []MafiaVote, v MafiaVote) []MafiaVote {
	for i := range votes {
		if votes[i].Actor == v.Actor {
			votes[i].Target = v.Target
			return votes
		}
	}
	return append(votes, v)
}

// Tick is the timer-driven step. Before the deadline it reports the time
// left; at or after it, it performs exactly one transition.
func (e *Engine) Tick(now time.Time) []Event {
	s := e.s
	if !s.Phase.Active() {
		return nil
	}
	if remaining := s.Deadline.Sub(now); remaining > 0 {
		return []Event{{Name: EventTimer, Payload: TimerTick{
			Phase:            s.Phase,
			SecondsRemaining: int(math.Ceil(remaining.Seconds())),
		}}}
	}

	var events []Event
	switch s.Phase {
	case PhaseDay:
		e.enter(PhaseDefense, now)
	case PhaseDefense:
		events = e.resolveDay()
		if s.Phase != PhaseEnded {
			e.enter(PhaseNight, now)
		}
	case PhaseNight:
		events = e.resolveNight()
		if s.Phase != PhaseEnded {
			e.enter(PhaseDay, now)
		}
	}
	s.Revision++
	return append(events, stateEvent(s))
}

// Restart sends an in-progress or finished game back to the lobby, keeping
// the roster. Only the host may restart.
func (e *Engine) Restart(by string) ([]Event, error) {
	s := e.s
	if _, ok := s.Players[by]; !ok {
		return nil, fmt.Errorf("%w: %q is not in this session", ErrInvalidAction, by)
	}
	if by != s.Host {
		return nil, ErrNotHost
	}
	if s.Phase == PhaseLobby {
		return nil, fmt.Errorf("%w: nothing to restart", ErrInvalidAction)
	}
	for _, p := range s.Players {
		*p = PlayerState{Alive: true}
	}
	s.Phase = PhaseLobby
	s.Votes = make(map[string]string)
	s.Night = NightActions{}
	s.Deadline = time.Time{}
	s.Winner = WinnerNone
	s.Revision++
	return []Event{stateEvent(s)}, nil
}

// enter switches to phase p and resets the per-phase state.
func (e *Engine) enter(p Phase, now time.Time) {
	s := e.s
	s.Phase = p
	s.Votes = make(map[string]string)
	s.Night = NightActions{}
	s.Deadline = now.Add(e.budget(p))
}

func (e *Engine) budget(p Phase) time.Duration {
	switch p {
	case PhaseDay:
		d := e.rules.DayDuration
		if e.rules.DayJitter > 0 {
			d += time.Duration(e.rng.IntN(int(e.rules.DayJitter)))
		}
		return d
	case PhaseDefense:
		return e.rules.DefenseDuration
	case PhaseNight:
		return e.rules.NightDuration
	}
	return 0
}

// resolveDay eliminates the most voted player, if there is exactly one.
func (e *Engine) resolveDay() []Event {
	s := e.s
	if len(s.Votes) == 0 {
		return []Event{noElimination(PhaseDefense, "no_votes")}
	}
	targets := make([]string, 0, len(s.Votes))
	for _, target := range s.Votes {
		targets = append(targets, target)
	}
	t := CountTargets(targets, e.rules.TieBreak, e.rng)
	if t.Target == "" {
		return []Event{noElimination(PhaseDefense, "tie")}
	}
	return e.eliminate(t.Target, PhaseDefense)
}

// resolveNight applies the mafia's choice unless the doctor saved the target.
func (e *Engine) resolveNight() []Event {
	s := e.s
	doctor := s.Night.Doctor
	for name, p := range s.Players {
		if p.Role == RoleDoctor {
			p.SelfSavedLastNight = doctor != "" && doctor == name
		}
	}
	defer func() { s.Night = NightActions{} }()

	if len(s.Night.Mafia) == 0 {
		return []Event{noElimination(PhaseNight, "no_votes")}
	}
	targets := make([]string, 0, len(s.Night.Mafia))
	for _, v := range s.Night.Mafia {
		targets = append(targets, v.Target)
	}
	t := CountTargets(targets, e.rules.TieBreak, e.rng)
	switch {
	case t.Target == "":
		return []Event{noElimination(PhaseNight, "tie")}
	case t.Target == doctor:
		return []Event{noElimination(PhaseNight, "saved")}
	}
	return e.eliminate(t.Target, PhaseNight)
}

// eliminate kills name (a no-op when already dead) and checks for a winner.
func (e *Engine) eliminate(name string, during Phase) []Event {
	s := e.s
	p, ok := s.Players[name]
	if !ok || !p.Alive {
		return nil
	}
	p.Alive = false
	events := []Event{{Name: EventElimination, Payload: Elimination{Player: name, Role: p.Role, Phase: during}}}

	if w := EvaluateWinner(s.aliveCounts()); w != WinnerNone {
		s.Phase = PhaseEnded
		s.Winner = w
		s.Deadline = time.Time{}
		s.Votes = make(map[string]string)
		s.Night = NightActions{}
		events = append(events, Event{Name: EventGameEnded, Payload: GameEnded{Winner: w}})
	}
	return events
}

func noElimination(p Phase, reason string) Event {
	return Event{Name: EventNoElimination, Payload: NoElimination{Phase: p, Reason: reason}}
}
