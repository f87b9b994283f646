// File: core/aio/usock.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// USock adapts a net.Conn to the api.Sock contract: exact-length
// asynchronous reads and vectored writes whose completions are posted
// through the fsm event plane to whichever handler currently owns the
// socket. Ownership moves with SwapOwner, so a bootstrap object such as
// the opening handshake can borrow the socket and hand it back.

package aio

import (
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/momentics/spws/api"
	"github.com/momentics/spws/core/fsm"
)

// USock is a net.Conn-backed asynchronous socket. At most one receive
// and one send may be outstanding; a second concurrent operation is a
// caller bug and panics.
type USock struct {
	ctx  *fsm.Ctx
	conn net.Conn

	mu    sync.Mutex
	owner api.Handler
	src   int

	recvBusy atomic.Bool
	sendBusy atomic.Bool
}

// NewUSock wraps conn. Events are delivered to owner under src until
// the owner is swapped.
func NewUSock(ctx *fsm.Ctx, conn net.Conn, owner api.Handler, src int) *USock {
	return &USock{ctx: ctx, conn: conn, owner: owner, src: src}
}

// SwapOwner redirects event delivery and returns the previous routing.
func (s *USock) SwapOwner(h api.Handler, src int) (api.Handler, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prevH, prevSrc := s.owner, s.src
	s.owner, s.src = h, src
	return prevH, prevSrc
}

// Conn exposes the underlying connection, e.g. for closing it after a
// failed bootstrap or for layering frame I/O on top after a successful
// one.
func (s *USock) Conn() net.Conn {
	return s.conn
}

// Recv schedules a read of exactly len(buf) bytes.
func (s *USock) Recv(buf []byte) {
	if !s.recvBusy.CompareAndSwap(false, true) {
		panic("aio: receive already in flight")
	}
	go func() {
		_, err := io.ReadFull(s.conn, buf)
		s.recvBusy.Store(false)
		switch err {
		case nil:
			s.post(api.SockReceived)
		case io.EOF, io.ErrUnexpectedEOF:
			// Peer closed; owners typically ignore the shutdown
			// notification and act on the error that follows.
			s.post(api.SockShutdown)
			s.post(api.SockError)
		default:
			s.post(api.SockError)
		}
	}()
}

// Send schedules a vectored write of iov.
func (s *USock) Send(iov ...[]byte) {
	if !s.sendBusy.CompareAndSwap(false, true) {
		panic("aio: send already in flight")
	}
	bufs := make(net.Buffers, len(iov))
	copy(bufs, iov)
	go func() {
		_, err := bufs.WriteTo(s.conn)
		s.sendBusy.Store(false)
		if err != nil {
			s.post(api.SockError)
			return
		}
		s.post(api.SockSent)
	}()
}

func (s *USock) post(typ int) {
	s.mu.Lock()
	h, src := s.owner, s.src
	s.mu.Unlock()
	s.ctx.Post(h, src, typ)
}
