package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/mafia/server/internal/game"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recorder struct {
	mu     sync.Mutex
	events map[string][]game.Event
}

func newRecorder() *recorder { return &recorder{events: make(map[string][]game.Event)} }

func (r *recorder) Publish(code string, events []game.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[code] = append(r.events[code], events...)
}

func (r *recorder) named(code, name string) []game.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []game.Event
	for _, ev := range r.events[code] {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type memArchive struct {
	mu  sync.Mutex
	cps []Checkpoint
}

func (a *memArchive) Checkpoint(ctx context.Context, cp Checkpoint) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cps = append(a.cps, cp)
	return nil
}

var t0 = time.Date(2026, 3, 4, 21, 0, 0, 0, time.UTC)

func testRules() game.Rules {
	r := game.DefaultRules()
	r.DayJitter = 0
	return r
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *fakeClock, *recorder) {
	t.Helper()
	clock := &fakeClock{now: t0}
	rec := newRecorder()
	var seed uint64
	base := []Option{
		WithClock(clock.Now),
		WithBroadcaster(rec),
		WithTickInterval(0),
		WithRand(func() game.Rand { seed++; return game.NewSeededRand(seed) }),
	}
	s := New(testRules(), append(base, opts...)...)
	t.Cleanup(s.Close)
	return s, clock, rec
}

func openTable(t *testing.T, s *Store, n int) (string, []string) {
	t.Helper()
	ctx := context.Background()
	names := []string{"p1"}
	code, _, err := s.Create(ctx, "p1")
	require.NoError(t, err)
	for i := 2; i <= n; i++ {
		name := fmt.Sprintf("p%d", i)
		_, err := s.Join(ctx, code, name)
		require.NoError(t, err)
		names = append(names, name)
	}
	return code, names
}

func TestCreateAndJoin(t *testing.T) {
	s, _, rec := newTestStore(t)
	ctx := context.Background()

	code, state, err := s.Create(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, code, CodeLength)
	assert.Equal(t, "alice", state.Host)
	assert.Equal(t, game.PhaseLobby, state.Phase)

	state, err = s.Join(ctx, code, "bob")
	require.NoError(t, err)
	require.Len(t, state.Roster, 2)
	assert.Equal(t, "bob", state.Roster[1].Name)

	_, err = s.Join(ctx, code, "bob")
	assert.ErrorIs(t, err, game.ErrDuplicatePlayerName)

	_, err = s.Join(ctx, "NOPE00", "carol")
	assert.ErrorIs(t, err, game.ErrSessionNotFound)

	assert.Len(t, rec.named(code, game.EventGameState), 2)

	ok, err := s.Member(ctx, code, "bob")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateRejectsEmptyHost(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, _, err := s.Create(context.Background(), "")
	assert.ErrorIs(t, err, game.ErrInvalidAction)
	assert.Zero(t, s.Len())
}

func TestCodesAreUniqueAmongLiveSessions(t *testing.T) {
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	i := 0
	s, _, _ := newTestStore(t, WithCodes(func() string { c := codes[i]; i++; return c }))
	ctx := context.Background()

	a, _, err := s.Create(ctx, "x")
	require.NoError(t, err)
	b, _, err := s.Create(ctx, "y")
	require.NoError(t, err)
	assert.Equal(t, "AAAAAA", a)
	assert.Equal(t, "BBBBBB", b)
}

func TestUnknownSession(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.Start(ctx, "NOPE00", "x"), game.ErrSessionNotFound)
	assert.ErrorIs(t, s.Vote(ctx, "NOPE00", "x", "y"), game.ErrSessionNotFound)
	_, err := s.NightAction(ctx, "NOPE00", "x", game.ActionSave, "y")
	assert.ErrorIs(t, err, game.ErrSessionNotFound)
	_, err = s.State(ctx, "NOPE00")
	assert.ErrorIs(t, err, game.ErrSessionNotFound)
	assert.ErrorIs(t, s.Remove(ctx, "NOPE00"), game.ErrSessionNotFound)
}

func TestSixPlayerGameFlow(t *testing.T) {
	s, clock, rec := newTestStore(t)
	ctx := context.Background()
	code, names := openTable(t, s, 6)

	require.NoError(t, s.Start(ctx, code, "p1"))
	state, err := s.State(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, game.PhaseDay, state.Phase)
	require.NotNil(t, state.Deadline)
	assert.Equal(t, t0.Add(180*time.Second), *state.Deadline)
	assert.Len(t, rec.named(code, game.EventPrivateRole), 6)

	// Before the deadline a tick only reports time.
	clock.Set(t0.Add(100 * time.Second))
	require.NoError(t, s.Advance(ctx, code))
	timers := rec.named(code, game.EventTimer)
	require.Len(t, timers, 1)
	assert.Equal(t, 80, timers[0].Payload.(game.TimerTick).SecondsRemaining)

	clock.Set(*state.Deadline)
	require.NoError(t, s.Advance(ctx, code))
	state, err = s.State(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, game.PhaseDefense, state.Phase)

	target := names[5]
	for _, voter := range names[:4] {
		require.NoError(t, s.Vote(ctx, code, voter, target))
	}
	clock.Set(*state.Deadline)
	require.NoError(t, s.Advance(ctx, code))

	state, err = s.State(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, game.PhaseNight, state.Phase)
	elim := rec.named(code, game.EventElimination)
	require.Len(t, elim, 1)
	assert.Equal(t, target, elim[0].Payload.(game.Elimination).Player)
	assert.False(t, state.Roster[5].Alive)
	assert.NotEmpty(t, state.Roster[5].Role)

	// A repeated step for the same deadline changes nothing.
	require.NoError(t, s.Advance(ctx, code))
	assert.Len(t, rec.named(code, game.EventElimination), 1)
	again, err := s.State(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, game.PhaseNight, again.Phase)
}

func TestRejectedActionsThroughStore(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	code, names := openTable(t, s, 5)

	assert.ErrorIs(t, s.Start(ctx, code, names[1]), game.ErrNotHost)
	require.NoError(t, s.Start(ctx, code, names[0]))
	assert.ErrorIs(t, s.Start(ctx, code, names[0]), game.ErrGameAlreadyStarted)

	_, err := s.NightAction(ctx, code, names[0], game.ActionEliminate, names[1])
	assert.ErrorIs(t, err, game.ErrInvalidAction)
	assert.ErrorIs(t, s.Vote(ctx, code, names[0], names[1]), game.ErrInvalidAction)

	_, err = s.Join(ctx, code, "late")
	assert.ErrorIs(t, err, game.ErrGameAlreadyStarted)
}

func TestCheckpointsFollowRevisions(t *testing.T) {
	arch := &memArchive{}
	s, clock, _ := newTestStore(t, WithArchive(arch))
	ctx := context.Background()
	code, _ := openTable(t, s, 5)
	require.NoError(t, s.Start(ctx, code, "p1"))

	clock.Set(t0.Add(time.Second))
	require.NoError(t, s.Advance(ctx, code)) // timer report only

	arch.mu.Lock()
	defer arch.mu.Unlock()
	require.Len(t, arch.cps, 6) // create, 4 joins, start
	last := arch.cps[len(arch.cps)-1]
	assert.Equal(t, game.PhaseDay, last.Phase)
	assert.Equal(t, 1, last.GameNumber)

	sess, err := game.DecodeSession(last.Data)
	require.NoError(t, err)
	assert.Equal(t, last.Revision, sess.Revision)
	assert.Equal(t, code, sess.Code)
}

func TestConcurrentActionsAndTicks(t *testing.T) {
	s, clock, _ := newTestStore(t)
	ctx := context.Background()

	const tables = 8
	codes := make([]string, tables)
	var names []string
	for i := range codes {
		codes[i], names = openTable(t, s, 8)
		require.NoError(t, s.Start(ctx, codes[i], "p1"))
	}
	clock.Set(t0.Add(time.Hour))
	for _, code := range codes {
		require.NoError(t, s.Advance(ctx, code)) // into defense
	}
	clock.Set(t0.Add(2 * time.Hour)) // past every defense deadline

	var wg sync.WaitGroup
	for _, code := range codes {
		for _, voter := range names {
			wg.Add(1)
			go func(code, voter string) {
				defer wg.Done()
				for i := 0; i < 20; i++ {
					_ = s.Vote(ctx, code, voter, names[i%len(names)])
				}
			}(code, voter)
		}
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				_ = s.Advance(ctx, code)
				_, _ = s.State(ctx, code)
			}
		}(code)
	}
	wg.Wait()

	for _, code := range codes {
		state, err := s.State(ctx, code)
		require.NoError(t, err)
		dead := 0
		for _, r := range state.Roster {
			if !r.Alive {
				dead++
			}
		}
		// Only the first step crosses the defense deadline; the night
		// deadline lies ahead of the frozen clock.
		assert.LessOrEqual(t, dead, 1, code)
		assert.Contains(t, []game.Phase{game.PhaseNight, game.PhaseEnded}, state.Phase)
	}
}

func TestTimerDrivesPhasesAndStopsOnRemove(t *testing.T) {
	rules := testRules()
	rules.DayDuration = 20 * time.Millisecond
	rules.DefenseDuration = 20 * time.Millisecond
	rules.NightDuration = 20 * time.Millisecond
	rec := newRecorder()
	s := New(rules, WithBroadcaster(rec), WithTickInterval(2*time.Millisecond),
		WithRand(func() game.Rand { return game.NewSeededRand(3) }))
	defer s.Close()
	ctx := context.Background()
	code, _ := openTable(t, s, 5)
	require.NoError(t, s.Start(ctx, code, "p1"))

	require.Eventually(t, func() bool {
		for _, ev := range rec.named(code, game.EventGameState) {
			if ev.Payload.(game.State).Phase == game.PhaseNight {
				return true
			}
		}
		return false
	}, 2*time.Second, 2*time.Millisecond)

	require.NoError(t, s.Remove(ctx, code))
	n := len(rec.named(code, game.EventTimer)) + len(rec.named(code, game.EventGameState))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, len(rec.named(code, game.EventTimer))+len(rec.named(code, game.EventGameState)),
		"no events after removal")

	_, err := s.State(ctx, code)
	assert.ErrorIs(t, err, game.ErrSessionNotFound)
}

func TestRestartStopsTimer(t *testing.T) {
	rules := testRules()
	rules.DayDuration = time.Hour
	s := New(rules, WithTickInterval(time.Millisecond), WithRand(func() game.Rand { return game.NewSeededRand(3) }))
	defer s.Close()
	ctx := context.Background()
	code, _ := openTable(t, s, 5)

	require.NoError(t, s.Start(ctx, code, "p1"))
	require.NoError(t, s.Restart(ctx, code, "p1"))

	e, err := s.lookup(code)
	require.NoError(t, err)
	e.mu.Lock()
	assert.Nil(t, e.timer)
	assert.Equal(t, game.PhaseLobby, e.eng.Session().Phase)
	e.mu.Unlock()

	require.NoError(t, s.Start(ctx, code, "p1"))
	e.mu.Lock()
	assert.NotNil(t, e.timer)
	assert.Equal(t, 2, e.eng.Session().GameNumber)
	e.mu.Unlock()
}

func TestPrune(t *testing.T) {
	s, clock, _ := newTestStore(t)
	ctx := context.Background()
	idle, _ := openTable(t, s, 2)
	busy, _ := openTable(t, s, 5)
	require.NoError(t, s.Start(ctx, busy, "p1"))

	clock.Set(t0.Add(3 * time.Hour))
	removed := s.Prune(ctx, 2*time.Hour)
	assert.Equal(t, []string{idle}, removed)
	assert.Equal(t, 1, s.Len())
}

// slowRecorder stalls the publish of any game_state matching slow.
type slowRecorder struct {
	*recorder
	slow func(game.State) bool
}

func (r *slowRecorder) Publish(code string, events []game.Event) {
	for _, ev := range events {
		if st, ok := ev.Payload.(game.State); ok && ev.Name == game.EventGameState && r.slow(st) {
			time.Sleep(30 * time.Millisecond)
		}
	}
	r.recorder.Publish(code, events)
}

func lastState(t *testing.T, rec *recorder, code string) game.State {
	t.Helper()
	states := rec.named(code, game.EventGameState)
	require.NotEmpty(t, states)
	return states[len(states)-1].Payload.(game.State)
}

func TestBroadcastsFollowApplyOrder(t *testing.T) {
	t.Run("join racing start", func(t *testing.T) {
		rec := &slowRecorder{recorder: newRecorder(), slow: func(st game.State) bool {
			return st.Phase == game.PhaseLobby && len(st.Roster) == 6
		}}
		s, _, _ := newTestStore(t, WithBroadcaster(rec))
		ctx := context.Background()
		code, _ := openTable(t, s, 5)

		joined := make(chan error, 1)
		go func() {
			_, err := s.Join(ctx, code, "p6")
			joined <- err
		}()
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, s.Start(ctx, code, "p1"))
		if err := <-joined; err != nil {
			assert.ErrorIs(t, err, game.ErrGameAlreadyStarted)
		}

		state, err := s.State(ctx, code)
		require.NoError(t, err)
		got := lastState(t, rec.recorder, code)
		assert.Equal(t, state.Phase, got.Phase)
		assert.Equal(t, state.Roster, got.Roster)
	})

	t.Run("restart racing advance", func(t *testing.T) {
		rec := &slowRecorder{recorder: newRecorder(), slow: func(st game.State) bool {
			return st.Phase == game.PhaseDefense
		}}
		s, clock, _ := newTestStore(t, WithBroadcaster(rec))
		ctx := context.Background()
		code, _ := openTable(t, s, 5)
		require.NoError(t, s.Start(ctx, code, "p1"))
		clock.Set(t0.Add(time.Hour))

		advanced := make(chan error, 1)
		go func() { advanced <- s.Advance(ctx, code) }()
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, s.Restart(ctx, code, "p1"))
		require.NoError(t, <-advanced)

		state, err := s.State(ctx, code)
		require.NoError(t, err)
		assert.Equal(t, game.PhaseLobby, state.Phase)
		assert.Equal(t, state.Phase, lastState(t, rec.recorder, code).Phase)
	})
}

func TestEndingTickKeepsTimerForTeardown(t *testing.T) {
	arch := &memArchive{}
	clock := &fakeClock{now: t0}
	s := New(testRules(), WithClock(clock.Now), WithArchive(arch), WithTickInterval(time.Hour),
		WithRand(func() game.Rand { return game.NewSeededRand(5) }))
	ctx := context.Background()
	code, names := openTable(t, s, 5)
	require.NoError(t, s.Start(ctx, code, "p1"))
	clock.Set(t0.Add(time.Hour))
	require.NoError(t, s.Advance(ctx, code)) // into defense

	e, err := s.lookup(code)
	require.NoError(t, err)
	e.mu.Lock()
	var target string
	for _, n := range names {
		if e.eng.Session().Players[n].Role != game.RoleMafia {
			target = n
			break
		}
	}
	gen := e.gen
	e.mu.Unlock()
	for _, voter := range names {
		if voter != target {
			require.NoError(t, s.Vote(ctx, code, voter, target))
		}
	}
	clock.Set(t0.Add(2 * time.Hour))

	// Two mafia against two others after the vote: the tick ends the game.
	assert.False(t, s.onTick(code, e, gen))
	e.mu.Lock()
	assert.Equal(t, game.PhaseEnded, e.eng.Session().Phase)
	assert.NotNil(t, e.timer, "teardown must still be able to wait on it")
	e.mu.Unlock()

	s.Close()
	arch.mu.Lock()
	defer arch.mu.Unlock()
	last := arch.cps[len(arch.cps)-1]
	assert.Equal(t, game.WinnerMafia, last.Winner)
}
