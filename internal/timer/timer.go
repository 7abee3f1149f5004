// internal/timer/timer.go
//
// Per-session scheduled ticking.
//
// A Timer owns one goroutine and one time.Ticker. Each tick calls fn with the
// tick time; fn returns false to end the timer. Ticks that arrive while fn is
// still running are dropped by the ticker, so fn never runs concurrently with
// itself. Whether a tick actually advances a phase is decided by the caller
// under its own lock.

package timer

import (
	"sync"
	"time"
)

// Timer is a cancellable ticking goroutine.
type Timer struct {
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// Start launches fn every interval until fn returns false or Stop is called.
func Start(interval time.Duration, fn func(now time.Time) bool) *Timer {
	t := &Timer{
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go t.run(interval, fn)
	return t
}

func (t *Timer) run(interval time.Duration, fn func(time.Time) bool) {
	defer close(t.done)
	tk := time.NewTicker(interval)
	defer tk.Stop()
	for {
		select {
		case <-t.quit:
			return
		case now := <-tk.C:
			// Stop may have raced with the tick; quit wins.
			select {
			case <-t.quit:
				return
			default:
			}
			if !fn(now) {
				return
			}
		}
	}
}

// Stop asks the goroutine to exit. It never blocks and is safe to call more
// than once, including from inside fn.
func (t *Timer) Stop() {
	t.once.Do(func() { close(t.quit) })
}

// Wait blocks until the goroutine has exited. Do not call it from fn.
func (t *Timer) Wait() {
	<-t.done
}

// Done is closed once the goroutine has exited.
func (t *Timer) Done() <-chan struct{} {
	return t.done
}
