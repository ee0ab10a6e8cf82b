// Package timer implements the two timer abstractions named in §6 as
// external collaborators: the retransmit-timer contract (`set`,
// `stop`, `random` for jitter) used by the DAO retransmission state
// machine, and a trickle timer (`reset`/`suspend` only) used by DIO
// scheduling.
package timer

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Handle identifies one scheduled callback, returned by Scheduler.Set
// and passed back to Scheduler.Stop.
type Handle uint64

// Scheduler is the `set(handle, delay, callback, arg)` /
// `stop(handle)` / `random()` timer contract §6 names for the DAO
// retransmission state machine. It is driven by time.AfterFunc rather
// than a single ticker goroutine, matching the "handlers run to
// completion, callbacks fire at subsequent ticks" scheduling model
// §5 describes — each callback runs on its own goroutine and must not
// block.
type Scheduler struct {
	mu      sync.Mutex
	next    Handle
	pending map[Handle]*time.Timer
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{pending: make(map[Handle]*time.Timer)}
}

// Set arms a new timer, invoking fn after delay, and returns its
// handle. The caller's fn runs on its own goroutine; it must not
// retain the scheduler's lock or assume any particular goroutine.
func (s *Scheduler) Set(delay time.Duration, fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	h := s.next
	s.pending[h] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.pending, h)
		s.mu.Unlock()
		fn()
	})
	return h
}

// Stop cancels a scheduled callback; stopping an unknown or already
// fired handle is a no-op.
func (s *Scheduler) Stop(h Handle) {
	s.mu.Lock()
	t, ok := s.pending[h]
	if ok {
		delete(s.pending, h)
	}
	s.mu.Unlock()
	if ok {
		t.Stop()
	}
}

// Random returns a jitter source for the `rand(0, T/2)` term the DAO
// retransmission timeout computation (§4.8) calls for.
func Random(n time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(n)))
}

// RetransmitDelay computes the jittered retransmit delay the
// reference implementation uses both for the first DAO transmission
// and for every subsequent retransmit tick: half the configured
// timeout, plus uniform jitter over the other half.
func RetransmitDelay(timeout time.Duration) time.Duration {
	half := timeout / 2
	return half + Random(half)
}

// Trickle is the adaptive timer governing DIO scheduling (RFC 6206),
// exposed here only through the reset/suspend interface §1 scopes it
// to: package rpl never reads or sets Imin/Imax/k directly, it only
// reacts to consistency/inconsistency events.
type Trickle struct {
	imin, imax time.Duration
	redundancy int

	mu        sync.Mutex
	interval  time.Duration
	count     int
	suspended bool
	callback  func()

	cancel context.CancelFunc
}

// NewTrickle constructs a trickle timer from its three RFC 6206
// parameters (Imin, doublings giving Imax = Imin*2^doublings, and the
// redundancy constant k) and the callback to invoke when an interval
// elapses without being reset ("transmit" in RFC 6206 terms).
func NewTrickle(imin time.Duration, doublings uint8, redundancy int, callback func()) *Trickle {
	imax := imin << doublings
	return &Trickle{imin: imin, imax: imax, redundancy: redundancy, callback: callback}
}

// Reset restarts the trickle algorithm at Imin, as required whenever
// the DIO handler observes an inconsistency (e.g. a lower rank than
// previously advertised). It is also how the multicast DIS and DIO
// handlers trigger a fresh round.
func (t *Trickle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	t.interval = t.imin
	t.count = 0
	t.suspended = false
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.run(ctx)
}

// Suspend stops the timer from firing again until the next Reset.
// Package rpl does not call it: leaf-mode multicast DIS handling simply
// skips Reset.
func (t *Trickle) Suspend() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.suspended = true
	if t.cancel != nil {
		t.cancel()
	}
}

// Heard records a consistent transmission (a DIO matching our own
// view), incrementing the redundancy counter per RFC 6206 §4.2.
func (t *Trickle) Heard() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
}

func (t *Trickle) run(ctx context.Context) {
	for {
		t.mu.Lock()
		interval := t.interval
		t.mu.Unlock()

		// Fire at a uniformly random point in [I/2, I), as RFC 6206
		// specifies, not at the interval boundary itself.
		fireAt := interval/2 + Random(interval/2)
		select {
		case <-ctx.Done():
			return
		case <-time.After(fireAt):
		}

		t.mu.Lock()
		if t.suspended {
			t.mu.Unlock()
			return
		}
		fire := t.count < t.redundancy
		cb := t.callback
		t.mu.Unlock()
		if fire && cb != nil {
			cb()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval - fireAt):
		}

		t.mu.Lock()
		if t.suspended {
			t.mu.Unlock()
			return
		}
		t.count = 0
		if t.interval < t.imax {
			t.interval *= 2
			if t.interval > t.imax {
				t.interval = t.imax
			}
		}
		t.mu.Unlock()
	}
}
