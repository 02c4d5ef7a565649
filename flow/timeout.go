package flow

import (
	"sync"
	"time"
)

// Timer is the cancellable handle returned by a Clock.
type Timer interface {
	Stop() bool
}

// Clock schedules single-shot callbacks. It exists so tests can advance
// virtual time instead of sleeping on wall-clock deadlines.
type Clock interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// NewRealClock returns a Clock backed by time.AfterFunc.
func NewRealClock() Clock {
	return realClock{}
}

// Timeouts keeps at most one pending deadline per conversation. Every Arm
// supersedes the previous deadline. A timer may fire concurrently with the
// Arm or Cancel that supersedes it, so a firing proves it is still current
// by claiming its generation before acting.
type Timeouts struct {
	mu      sync.Mutex
	clock   Clock
	seq     uint64
	pending map[int64]deadline
}

type deadline struct {
	timer Timer
	gen   uint64
}

// NewTimeouts constructs a Timeouts manager on the given clock.
func NewTimeouts(clock Clock) *Timeouts {
	if clock == nil {
		clock = realClock{}
	}
	return &Timeouts{
		clock:   clock,
		pending: make(map[int64]deadline),
	}
}

// Arm schedules onExpire after d, replacing any deadline already pending for
// the conversation. The generation passed to onExpire identifies this arming;
// the callback hands it back to Claim to prove no later Arm superseded it.
func (t *Timeouts) Arm(conversation int64, d time.Duration, onExpire func(gen uint64)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.pending[conversation]; ok {
		prev.timer.Stop()
	}
	t.seq++
	gen := t.seq
	t.pending[conversation] = deadline{
		timer: t.clock.AfterFunc(d, func() { onExpire(gen) }),
		gen:   gen,
	}
}

// Claim reports whether gen is still the conversation's current deadline and
// removes it when it is. A firing that was superseded by a later Arm, or
// disarmed by Cancel, gets false and must not act.
func (t *Timeouts) Claim(conversation int64, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[conversation]
	if !ok || p.gen != gen {
		return false
	}
	delete(t.pending, conversation)
	return true
}

// Cancel disarms the conversation's deadline without firing it. The expiry
// callback may already be running; its Claim will fail.
func (t *Timeouts) Cancel(conversation int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.pending[conversation]; ok {
		prev.timer.Stop()
		delete(t.pending, conversation)
	}
}

// Pending reports whether a deadline is currently armed.
func (t *Timeouts) Pending(conversation int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[conversation]
	return ok
}
