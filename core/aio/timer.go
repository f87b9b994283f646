// File: core/aio/timer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One-shot timer bound to the fsm event plane. Start arms it; expiry
// posts TimerTimeout to the owner. Stop guarantees a single later
// TimerStopped and suppresses an unfired timeout, so a machine that has
// requested a stop can treat TimerStopped as the sole unblocking signal
// even if a timeout raced the stop request.

package aio

import (
	"sync"
	"time"

	"github.com/momentics/spws/api"
	"github.com/momentics/spws/core/fsm"
)

// Timer delivers TimerTimeout / TimerStopped events to a fixed owner.
type Timer struct {
	ctx   *fsm.Ctx
	owner api.Handler
	src   int

	mu         sync.Mutex
	t          *time.Timer
	active     bool
	stopPosted bool
}

// NewTimer returns an idle timer owned by owner under source id src.
func NewTimer(ctx *fsm.Ctx, owner api.Handler, src int) *Timer {
	return &Timer{ctx: ctx, owner: owner, src: src}
}

// Start arms the timer for d. Starting an active timer is a caller bug.
func (t *Timer) Start(d time.Duration) {
	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		panic("aio: timer already active")
	}
	t.active = true
	t.stopPosted = false
	t.t = time.AfterFunc(d, t.fire)
	t.mu.Unlock()
}

// Stop disarms the timer and posts TimerStopped. A timeout that has not
// yet fired when Stop is called is suppressed; one that already fired
// is still delivered, ahead of TimerStopped. Stop is idempotent while
// the TimerStopped event is undelivered.
func (t *Timer) Stop() {
	t.mu.Lock()
	if t.stopPosted {
		t.mu.Unlock()
		return
	}
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	t.active = false
	t.stopPosted = true
	t.mu.Unlock()
	t.ctx.Post(t.owner, t.src, api.TimerStopped)
}

// Idle reports whether the timer is disarmed. It reports true as soon
// as Stop returns, before TimerStopped has been delivered.
func (t *Timer) Idle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.active
}

func (t *Timer) fire() {
	t.mu.Lock()
	if !t.active {
		// Lost the race against Stop; the timeout is preempted.
		t.mu.Unlock()
		return
	}
	t.active = false
	t.t = nil
	t.mu.Unlock()
	t.ctx.Post(t.owner, t.src, api.TimerTimeout)
}
