package flow

import (
	"sync"
	"testing"
	"time"
)

type fakeTimer struct {
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := t.stopped
	t.stopped = true
	return !was
}

// fakeClock hands out timers that fire only when the test says so.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	tm := &fakeTimer{fn: fn}
	c.timers = append(c.timers, tm)
	return tm
}

// fire runs the most recently armed timer that is still live and reports
// whether one was found.
func (c *fakeClock) fire() bool {
	c.mu.Lock()
	var target *fakeTimer
	for i := len(c.timers) - 1; i >= 0; i-- {
		if !c.timers[i].stopped {
			target = c.timers[i]
			break
		}
	}
	if target != nil {
		target.stopped = true
	}
	c.mu.Unlock()
	if target == nil {
		return false
	}
	target.fn()
	return true
}

// latest returns the most recently armed timer regardless of its state, so
// tests can model a firing that raced the Stop of a re-arm or cancel.
func (c *fakeClock) latest() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

func TestTimeoutsArmFireClaim(t *testing.T) {
	clock := &fakeClock{}
	timeouts := NewTimeouts(clock)

	var fired []uint64
	timeouts.Arm(1, time.Minute, func(gen uint64) { fired = append(fired, gen) })
	if !timeouts.Pending(1) {
		t.Fatal("expected pending deadline")
	}

	if !clock.fire() {
		t.Fatal("expected a live timer")
	}
	if len(fired) != 1 {
		t.Fatalf("callback fired %d times, expected 1", len(fired))
	}

	if !timeouts.Claim(1, fired[0]) {
		t.Fatal("expected the firing to claim its deadline")
	}
	if timeouts.Pending(1) {
		t.Fatal("claim must clear the pending deadline")
	}
	if timeouts.Claim(1, fired[0]) {
		t.Fatal("a deadline must be claimable once")
	}
}

func TestTimeoutsReArmSupersedes(t *testing.T) {
	clock := &fakeClock{}
	timeouts := NewTimeouts(clock)

	var fired []uint64
	record := func(gen uint64) { fired = append(fired, gen) }
	timeouts.Arm(1, time.Minute, record)
	stale := clock.latest()
	timeouts.Arm(1, time.Minute, record)

	if len(clock.timers) != 2 {
		t.Fatalf("expected 2 scheduled timers, got %d", len(clock.timers))
	}
	if !stale.stopped {
		t.Fatal("expected the first timer stopped on re-arm")
	}

	// The first timer fired anyway, racing the Stop.
	stale.fn()
	if len(fired) != 1 {
		t.Fatalf("callback fired %d times, expected 1", len(fired))
	}
	if timeouts.Claim(1, fired[0]) {
		t.Fatal("a superseded deadline must not claim")
	}
	if !timeouts.Pending(1) {
		t.Fatal("the fresh deadline must stay pending")
	}

	// The replacement is still claimable.
	clock.fire()
	if len(fired) != 2 {
		t.Fatalf("callback fired %d times, expected 2", len(fired))
	}
	if !timeouts.Claim(1, fired[1]) {
		t.Fatal("expected the fresh deadline to claim")
	}
}

func TestTimeoutsCancel(t *testing.T) {
	clock := &fakeClock{}
	timeouts := NewTimeouts(clock)

	var fired []uint64
	timeouts.Arm(1, time.Minute, func(gen uint64) { fired = append(fired, gen) })
	stale := clock.latest()
	timeouts.Cancel(1)

	if timeouts.Pending(1) {
		t.Fatal("expected no pending deadline after cancel")
	}
	if clock.fire() {
		t.Fatal("expected no live timer after cancel")
	}

	// A firing that raced the cancel must not claim.
	stale.fn()
	if len(fired) != 1 {
		t.Fatalf("callback fired %d times, expected 1", len(fired))
	}
	if timeouts.Claim(1, fired[0]) {
		t.Fatal("a cancelled deadline must not claim")
	}
}

func TestTimeoutsPerConversation(t *testing.T) {
	clock := &fakeClock{}
	timeouts := NewTimeouts(clock)

	timeouts.Arm(1, time.Minute, func(uint64) {})
	timeouts.Arm(2, time.Minute, func(uint64) {})
	timeouts.Cancel(1)

	if timeouts.Pending(1) {
		t.Fatal("conversation 1 should be disarmed")
	}
	if !timeouts.Pending(2) {
		t.Fatal("conversation 2 should stay armed")
	}
}
