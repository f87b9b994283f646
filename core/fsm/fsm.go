// File: core/fsm/fsm.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Event plane for cooperative state machines. A Ctx serializes events
// for the machines attached to one connection: collaborator goroutines
// (socket readers, timers) post into a shared queue, and whichever
// goroutine finds the queue idle drains it to completion. Handlers
// therefore never run concurrently and never observe a half-dispatched
// event, which is the execution model the handshake machine assumes.

package fsm

import (
	"fmt"
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/spws/api"
)

// Well-known event source and action types for machine-internal events.
// Subordinate objects (sockets, timers) use positive src ids assigned
// by their owner; SrcAction is reserved for the machine's own actions.
const (
	SrcAction = -2

	TypeStart = 1
	TypeStop  = 2
)

type pending struct {
	h   api.Handler
	src int
	typ int
}

// Ctx is the per-connection event plane. The zero value is not usable;
// construct with NewCtx.
type Ctx struct {
	mu       sync.Mutex
	q        *queue.Queue
	draining bool
}

// NewCtx returns an empty event plane.
func NewCtx() *Ctx {
	return &Ctx{q: queue.New()}
}

// Post enqueues event (src, typ) for h. If no drain is in progress the
// calling goroutine becomes the drainer and dispatches queued events,
// including any posted by the handlers it invokes, until the queue is
// empty. Posts made while a drain is running return immediately; the
// active drainer picks the event up in order.
func (c *Ctx) Post(h api.Handler, src, typ int) {
	c.mu.Lock()
	c.q.Add(pending{h, src, typ})
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for c.q.Length() > 0 {
		p := c.q.Remove().(pending)
		c.mu.Unlock()
		p.h.Handle(p.src, p.typ)
		c.mu.Lock()
	}
	c.draining = false
	c.mu.Unlock()
}

// Pending returns the number of queued, not yet dispatched events.
func (c *Ctx) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.q.Length()
}

// BadState aborts on an event arriving in a state that cannot occur if
// callers uphold their contracts.
func BadState(state, src, typ int) {
	panic(fmt.Sprintf("fsm: unexpected state %d (src %d, type %d)", state, src, typ))
}

// BadSource aborts on an event from a source the current state does not
// listen to.
func BadSource(state, src, typ int) {
	panic(fmt.Sprintf("fsm: unexpected source %d in state %d (type %d)", src, state, typ))
}

// BadAction aborts on an event type the current state does not accept
// from this source.
func BadAction(state, src, typ int) {
	panic(fmt.Sprintf("fsm: unexpected type %d in state %d (src %d)", typ, state, src))
}
