// internal/store/memory.go
//
// In-memory registry of live game sessions.
// This is the single mutation surface for session state.
//
// Characteristics:
//   - Sessions are keyed by their shareable code in a map guarded by RWMutex.
//   - Each session has its own mutex; actions on different sessions never
//     wait on each other.
//   - Player actions and timer ticks both go through the session mutex, so a
//     tick and an action arriving together are applied one after the other.
//   - Events are published under the session mutex, so clients see them in
//     the order the changes were applied. Publishing only queues; checkpoints
//     are written after the mutex is released and no network or disk I/O
//     happens under it.
//   - State is lost when the process restarts (the archive keeps checkpoints
//     for lookup only).

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/robalobadob/mafia/server/internal/game"
	"github.com/robalobadob/mafia/server/internal/timer"
)

// Broadcaster receives the events produced by session changes. Publish is
// called with the session locked; it must not block or call back into the
// Store.
type Broadcaster interface {
	Publish(code string, events []game.Event)
}

// Checkpoint is an encoded session at a given revision.
type Checkpoint struct {
	Code       string
	CreatedAt  time.Time // with Code, identifies the session
	Revision   int64
	GameNumber int
	Phase      game.Phase
	Winner     game.Winner
	Players    int
	Data       []byte
	At         time.Time
}

// Archive persists checkpoints. Implementations must tolerate checkpoints
// arriving out of revision order.
type Archive interface {
	Checkpoint(ctx context.Context, cp Checkpoint) error
}

// entry is a live session plus its timer.
type entry struct {
	mu       sync.Mutex
	eng      *game.Engine
	timer    *timer.Timer
	gen      int // bumped whenever the timer is replaced; stale timers exit
	removed  bool
	lastSeen time.Time
}

// Store is the session registry.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	rules   game.Rules
	tick    time.Duration
	now     func() time.Time
	newRand func() game.Rand
	newCode func() string
	bc      Broadcaster
	archive Archive
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithRand sets the per-session random source factory.
func WithRand(f func() game.Rand) Option { return func(s *Store) { s.newRand = f } }

// WithCodes replaces the session code generator.
func WithCodes(f func() string) Option { return func(s *Store) { s.newCode = f } }

// WithBroadcaster sets the event sink.
func WithBroadcaster(b Broadcaster) Option { return func(s *Store) { s.bc = b } }

// WithArchive enables checkpointing.
func WithArchive(a Archive) Option { return func(s *Store) { s.archive = a } }

// WithTickInterval sets the timer interval. Zero disables timers; phases then
// only advance through Advance.
func WithTickInterval(d time.Duration) Option { return func(s *Store) { s.tick = d } }

// New constructs an empty Store.
func New(rules game.Rules, opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*entry),
		rules:    rules,
		tick:     time.Second,
		now:      time.Now,
		newRand:  defaultRand,
		newCode:  GenerateCode,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func defaultRand() game.Rand {
	r, err := game.NewRand()
	if err != nil {
		log.Warn().Err(err).Msg("crypto seed unavailable, seeding from clock")
		return game.NewSeededRand(uint64(time.Now().UnixNano()))
	}
	return r
}

// Create opens a new lobby with host as its first player.
func (s *Store) Create(ctx context.Context, host string) (string, game.State, error) {
	now := s.now()

	s.mu.Lock()
	code := s.newCode()
	for s.sessions[code] != nil {
		code = s.newCode()
	}
	eng := game.NewEngine(game.NewSession(code, now), s.rules, s.newRand())
	events, err := eng.Join(host)
	if err != nil {
		s.mu.Unlock()
		return "", game.State{}, err
	}
	e := &entry{eng: eng, lastSeen: now}
	e.mu.Lock()
	s.sessions[code] = e
	s.mu.Unlock()

	state := game.Snapshot(eng.Session())
	cp := s.checkpoint(e)
	s.publish(code, events)
	e.mu.Unlock()

	log.Info().Str("code", code).Str("host", host).Msg("session created")
	s.persist(ctx, code, cp)
	return code, state, nil
}

// Join adds name to the lobby of code and returns the updated state.
func (s *Store) Join(ctx context.Context, code, name string) (game.State, error) {
	var state game.State
	err := s.mutate(ctx, code, func(eng *game.Engine) ([]game.Event, error) {
		events, err := eng.Join(name)
		state = game.Snapshot(eng.Session())
		return events, err
	})
	return state, err
}

// Start deals roles and starts the session's timer.
func (s *Store) Start(ctx context.Context, code, by string) error {
	return s.mutate(ctx, code, func(eng *game.Engine) ([]game.Event, error) {
		return eng.Start(by, s.now())
	})
}

// Vote records a defense-phase vote.
func (s *Store) Vote(ctx context.Context, code, voter, target string) error {
	return s.mutate(ctx, code, func(eng *game.Engine) ([]game.Event, error) {
		return eng.Vote(voter, target)
	})
}

// NightAction records a night submission and returns the actor's result.
func (s *Store) NightAction(ctx context.Context, code, actor string, action game.NightAction, target string) (game.ActionResult, error) {
	var res game.ActionResult
	err := s.mutate(ctx, code, func(eng *game.Engine) ([]game.Event, error) {
		r, events, err := eng.NightAction(actor, action, target)
		res = r
		return events, err
	})
	return res, err
}

// Restart returns the session to its lobby.
func (s *Store) Restart(ctx context.Context, code, by string) error {
	return s.mutate(ctx, code, func(eng *game.Engine) ([]game.Event, error) {
		return eng.Restart(by)
	})
}

// Advance runs one timer step now, as the session timer would.
func (s *Store) Advance(ctx context.Context, code string) error {
	return s.mutate(ctx, code, func(eng *game.Engine) ([]game.Event, error) {
		return eng.Tick(s.now()), nil
	})
}

// State returns the public snapshot of code.
func (s *Store) State(ctx context.Context, code string) (game.State, error) {
	e, err := s.lookup(code)
	if err != nil {
		return game.State{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return game.State{}, fmt.Errorf("%w: %s", game.ErrSessionNotFound, code)
	}
	return game.Snapshot(e.eng.Session()), nil
}

// Member reports whether name has a seat in code.
func (s *Store) Member(ctx context.Context, code, name string) (bool, error) {
	e, err := s.lookup(code)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.eng.Session().Players[name]
	return ok && !e.removed, nil
}

// Remove deletes code and waits for its timer to exit.
func (s *Store) Remove(ctx context.Context, code string) error {
	s.mu.Lock()
	e, ok := s.sessions[code]
	delete(s.sessions, code)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", game.ErrSessionNotFound, code)
	}
	s.teardown(e)
	log.Info().Str("code", code).Msg("session removed")
	return nil
}

// Prune removes sessions that sit in the lobby or have ended and have not
// been touched for idle. It returns the removed codes.
func (s *Store) Prune(ctx context.Context, idle time.Duration) []string {
	cutoff := s.now().Add(-idle)

	s.mu.Lock()
	var victims []*entry
	var codes []string
	for code, e := range s.sessions {
		e.mu.Lock()
		phase := e.eng.Session().Phase
		stale := !phase.Active() && e.lastSeen.Before(cutoff)
		e.mu.Unlock()
		if stale {
			delete(s.sessions, code)
			victims = append(victims, e)
			codes = append(codes, code)
		}
	}
	s.mu.Unlock()

	for _, e := range victims {
		s.teardown(e)
	}
	if len(codes) > 0 {
		log.Info().Strs("codes", codes).Msg("pruned idle sessions")
	}
	return codes
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close removes every session and waits for all timers.
func (s *Store) Close() {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*entry)
	s.mu.Unlock()
	for _, e := range all {
		s.teardown(e)
	}
}

func (s *Store) teardown(e *entry) {
	e.mu.Lock()
	e.removed = true
	t := e.timer
	e.timer = nil
	e.gen++
	e.mu.Unlock()
	if t != nil {
		t.Stop()
		t.Wait()
	}
}

func (s *Store) lookup(code string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.sessions[code]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", game.ErrSessionNotFound, code)
	}
	return e, nil
}

// mutate applies fn under the session lock, keeps the timer in step with the
// new phase and publishes the events, then writes the checkpoint.
func (s *Store) mutate(ctx context.Context, code string, fn func(*game.Engine) ([]game.Event, error)) error {
	e, err := s.lookup(code)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", game.ErrSessionNotFound, code)
	}
	rev := e.eng.Session().Revision
	events, err := fn(e.eng)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	var cp *Checkpoint
	if e.eng.Session().Revision != rev {
		e.lastSeen = s.now()
		cp = s.checkpoint(e)
	}
	stale := s.syncTimer(code, e)
	s.publish(code, events)
	e.mu.Unlock()

	if stale != nil {
		stale.Wait()
	}
	s.persist(ctx, code, cp)
	return nil
}

// syncTimer starts a timer when the session enters a timed phase and stops it
// when it leaves one. Caller holds e.mu. The returned timer, if any, has been
// stopped and should be waited on after unlocking.
func (s *Store) syncTimer(code string, e *entry) *timer.Timer {
	active := e.eng.Session().Phase.Active()
	switch {
	case active && e.timer == nil && s.tick > 0:
		e.gen++
		gen := e.gen
		e.timer = timer.Start(s.tick, func(time.Time) bool { return s.onTick(code, e, gen) })
		log.Debug().Str("code", code).Dur("interval", s.tick).Msg("session timer started")
	case !active && e.timer != nil:
		t := e.timer
		e.timer = nil
		e.gen++
		t.Stop()
		return t
	}
	return nil
}

// onTick is the body of a session timer. It returns false once the timer is
// no longer wanted.
func (s *Store) onTick(code string, e *entry, gen int) bool {
	e.mu.Lock()
	if e.removed || e.gen != gen {
		e.mu.Unlock()
		return false
	}
	sess := e.eng.Session()
	rev, from := sess.Revision, sess.Phase
	events := e.eng.Tick(s.now())

	var cp *Checkpoint
	if sess.Revision != rev {
		e.lastSeen = s.now()
		cp = s.checkpoint(e)
		log.Debug().Str("code", code).Str("from", string(from)).Str("to", string(sess.Phase)).Msg("phase advanced")
	}
	keep := sess.Phase.Active()
	if !keep {
		// The handle stays in e.timer so teardown and the next Restart wait
		// for this goroutine's checkpoint.
		e.gen++
		log.Info().Str("code", code).Str("winner", string(sess.Winner)).Msg("session ended")
	}
	s.publish(code, events)
	e.mu.Unlock()

	s.persist(context.Background(), code, cp)
	return keep
}

// checkpoint encodes the session. Caller holds e.mu.
func (s *Store) checkpoint(e *entry) *Checkpoint {
	if s.archive == nil {
		return nil
	}
	sess := e.eng.Session()
	data, err := game.EncodeSession(sess)
	if err != nil {
		log.Error().Err(err).Str("code", sess.Code).Msg("encode checkpoint")
		return nil
	}
	return &Checkpoint{
		Code:       sess.Code,
		CreatedAt:  sess.CreatedAt,
		Revision:   sess.Revision,
		GameNumber: sess.GameNumber,
		Phase:      sess.Phase,
		Winner:     sess.Winner,
		Players:    len(sess.Order),
		Data:       data,
		At:         s.now().UTC(),
	}
}

// publish hands events to the broadcaster. Caller holds e.mu.
func (s *Store) publish(code string, events []game.Event) {
	if s.bc != nil && len(events) > 0 {
		s.bc.Publish(code, events)
	}
}

func (s *Store) persist(ctx context.Context, code string, cp *Checkpoint) {
	if cp != nil {
		// A client hanging up must not drop the checkpoint.
		if err := s.archive.Checkpoint(context.WithoutCancel(ctx), *cp); err != nil {
			log.Warn().Err(err).Str("code", code).Int64("revision", cp.Revision).Msg("checkpoint failed")
		}
	}
}
