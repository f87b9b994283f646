// File: protocol/handshake.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The opening-handshake state machine. It borrows the byte-stream
// socket for the duration of the exchange, drives it with exact-length
// reads so that not a single byte past the CRLF CRLF terminator is
// consumed, and hands the socket back to its previous owner with a
// single OK or ERROR completion. All work happens on the fsm event
// plane; no method blocks.

package protocol

import (
	"fmt"
	"time"

	"github.com/momentics/spws/api"
	"github.com/momentics/spws/core/aio"
	"github.com/momentics/spws/core/fsm"
)

// Mode selects which side of the exchange this instance plays.
type Mode int

const (
	ModeClient Mode = iota + 1
	ModeServer
)

// Completion event types raised to the owner.
const (
	HandshakeOK = iota + 1
	HandshakeError
	HandshakeStopped
)

// DefaultTimeout bounds the whole exchange unless overridden.
const DefaultTimeout = 5 * time.Second

const magicGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// acceptKeyLen is the Base64 length of a SHA-1 digest: 28 bytes
// including one '=' pad.
const acceptKeyLen = 28

const (
	openingBufSize  = 4096
	responseBufSize = 4096
)

// Subordinate event sources within the handshake.
const (
	srcSock = iota + 1
	srcTimer
)

// Machine states.
const (
	stateIdle = iota + 1
	stateServerRecv
	stateServerReply
	stateClientSend
	stateClientRecv
	stateHandshakeSent
	stateStoppingTimerError
	stateStoppingTimerDone
	stateDone
	stateStopping
)

// Shortest syntactically possible messages; the initial read length.
// Polling for the remainder proceeds in terminator-sized chunks, so
// front-loading the minimum keeps the read count down.
const minClientOpening = "GET x HTTP/1.1\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Host: x\r\n" +
	"Sec-WebSocket-Key: xxxxxxxxxxxxxxxxxxxxxxxx\r\n" +
	"Sec-WebSocket-Version: xx\r\n\r\n"

const minServerResponse = "HTTP/1.1 xxx\r\n\r\n"

// Handshake performs one RFC 6455 opening handshake over a borrowed
// socket. An instance is single-use per Start but returns to idle after
// Stop and may then be started again.
type Handshake struct {
	ctx   *fsm.Ctx
	src   int
	owner api.Handler

	timer *aio.Timer

	// Timeout bounds the exchange; expiry maps to an ERROR completion.
	// Adjust before Start.
	Timeout time.Duration

	// Entropy supplies the Sec-WebSocket-Key nonce. Defaults to the
	// system CSPRNG.
	Entropy api.Entropy

	state int
	mode  Mode

	sock      api.Sock
	prevOwner api.Handler
	prevSrc   int
	pipe      api.PipeBase

	resource   string
	remoteHost string

	// opening holds the client request (built locally in client mode,
	// received in server mode); response holds the server reply. Both
	// always retain at least one NUL so the parser can treat them as
	// NUL-delimited strings.
	opening  [openingBufSize]byte
	response [responseBufSize]byte

	recvPos int
	recvLen int
	retries int

	responseCode responseCode

	expectedAcceptKey [acceptKeyLen + 1]byte

	// Parsed header views into the receive buffer. Valid only until
	// the buffer is reused.
	host, origin, key, upgrade, conn, version, protocol, extensions, uri []byte
	statusCode, reasonPhrase, server, acceptKey                          []byte
}

// New constructs an idle handshake. Completion events are posted to
// owner under source id src on ctx.
func New(ctx *fsm.Ctx, src int, owner api.Handler) *Handshake {
	hs := &Handshake{
		ctx:     ctx,
		src:     src,
		owner:   owner,
		state:   stateIdle,
		Timeout: DefaultTimeout,
		Entropy: aio.SystemEntropy{},
	}
	hs.timer = aio.NewTimer(ctx, hs, srcTimer)
	return hs
}

// Term tears the instance down. The handshake must be idle.
func (hs *Handshake) Term() {
	if hs.state != stateIdle {
		panic(fmt.Sprintf("protocol: terminating handshake in state %d", hs.state))
	}
}

// IsIdle reports whether the machine is in its idle state.
func (hs *Handshake) IsIdle() bool {
	return hs.state == stateIdle
}

// Start takes ownership of sock and launches the exchange. resource
// must be non-empty in client mode. pipe supplies the local SP socket
// type and its peer-compatibility predicate.
func (hs *Handshake) Start(sock api.Sock, pipe api.PipeBase, mode Mode, resource, host string) {
	if mode == ModeClient && len(resource) < 1 {
		panic("protocol: client handshake requires a resource path")
	}
	if hs.sock != nil {
		panic("protocol: handshake already owns a socket")
	}

	hs.prevOwner, hs.prevSrc = sock.SwapOwner(hs, srcSock)
	hs.sock = sock
	hs.pipe = pipe
	hs.mode = mode
	hs.resource = resource
	hs.remoteHost = host

	hs.opening = [openingBufSize]byte{}
	hs.response = [responseBufSize]byte{}
	hs.recvPos = 0
	hs.retries = 0

	switch mode {
	case ModeServer:
		hs.recvLen = len(minClientOpening)
	case ModeClient:
		hs.recvLen = len(minServerResponse)
	default:
		panic("protocol: unexpected handshake mode")
	}

	hs.ctx.Post(hs, fsm.SrcAction, fsm.TypeStart)
}

// Stop initiates the shutdown protocol. The owner receives a Stopped
// completion once the timer has wound down; the instance is then idle
// and reusable.
func (hs *Handshake) Stop() {
	if hs.state == stateIdle {
		panic("protocol: stopping idle handshake")
	}
	hs.ctx.Post(hs, fsm.SrcAction, fsm.TypeStop)
}

// Handle dispatches one serialized event into the machine.
func (hs *Handshake) Handle(src, typ int) {
	if src == fsm.SrcAction && typ == fsm.TypeStop {
		if hs.state == stateDone {
			// The timer already wound down during the terminal
			// transition; nothing to wait for.
			hs.state = stateIdle
			hs.raise(HandshakeStopped)
			return
		}
		hs.timer.Stop()
		hs.state = stateStopping
		return
	}
	if hs.state == stateStopping {
		hs.handleStopping(src, typ)
		return
	}

	switch hs.state {

	case stateIdle:
		if src != fsm.SrcAction {
			fsm.BadSource(hs.state, src, typ)
		}
		if typ != fsm.TypeStart {
			fsm.BadAction(hs.state, src, typ)
		}
		hs.timer.Start(hs.Timeout)
		switch hs.mode {
		case ModeClient:
			hs.state = stateClientSend
			hs.clientRequest()
		case ModeServer:
			hs.state = stateServerRecv
			hs.sock.Recv(hs.opening[:hs.recvLen])
		default:
			panic("protocol: unexpected handshake mode")
		}

	case stateServerRecv:
		switch src {
		case srcSock:
			switch typ {
			case api.SockReceived:
				switch hs.parseClientOpening() {
				case hsValid, hsInvalid:
					// Fully parsed; answer the client either way.
					hs.state = stateServerReply
					hs.serverReply()
				case hsRecvMore:
					hs.serverRecvMore()
				}
			case api.SockShutdown:
				// Wait for the error event that follows.
			case api.SockError:
				hs.timer.Stop()
				hs.state = stateStoppingTimerError
			default:
				fsm.BadAction(hs.state, src, typ)
			}
		case srcTimer:
			hs.timerEvent(typ)
		default:
			fsm.BadSource(hs.state, src, typ)
		}

	case stateServerReply, stateHandshakeSent:
		switch src {
		case srcSock:
			switch typ {
			case api.SockSent:
				// Per RFC 6455 4.2.2 the connection is ready for
				// frame traffic the moment a 101 reply is on the wire;
				// a 400 reply ends the exchange as a failure.
				hs.timer.Stop()
				if hs.responseCode == responseOK {
					hs.state = stateStoppingTimerDone
				} else {
					hs.state = stateStoppingTimerError
				}
			case api.SockShutdown:
			case api.SockError:
				hs.timer.Stop()
				hs.state = stateStoppingTimerError
			default:
				fsm.BadAction(hs.state, src, typ)
			}
		case srcTimer:
			hs.timerEvent(typ)
		default:
			fsm.BadSource(hs.state, src, typ)
		}

	case stateClientSend:
		switch src {
		case srcSock:
			switch typ {
			case api.SockSent:
				hs.state = stateClientRecv
				hs.sock.Recv(hs.response[:hs.recvLen])
			case api.SockShutdown:
			case api.SockError:
				hs.timer.Stop()
				hs.state = stateStoppingTimerError
			default:
				fsm.BadAction(hs.state, src, typ)
			}
		case srcTimer:
			hs.timerEvent(typ)
		default:
			fsm.BadSource(hs.state, src, typ)
		}

	case stateClientRecv:
		switch src {
		case srcSock:
			switch typ {
			case api.SockReceived:
				switch hs.parseServerResponse() {
				case hsValid:
					hs.timer.Stop()
					hs.state = stateStoppingTimerDone
				case hsInvalid:
					hs.timer.Stop()
					hs.state = stateStoppingTimerError
				case hsRecvMore:
					hs.clientRecvMore()
				}
			case api.SockShutdown:
			case api.SockError:
				hs.timer.Stop()
				hs.state = stateStoppingTimerError
			default:
				fsm.BadAction(hs.state, src, typ)
			}
		case srcTimer:
			hs.timerEvent(typ)
		default:
			fsm.BadSource(hs.state, src, typ)
		}

	case stateStoppingTimerError:
		switch src {
		case srcSock:
			// Late socket activity; the socket will error out on its
			// own once the owner closes it.
		case srcTimer:
			switch typ {
			case api.TimerStopped:
				hs.leave(HandshakeError)
			case api.TimerTimeout:
				// Preempted by the stop already requested.
			default:
				fsm.BadAction(hs.state, src, typ)
			}
		default:
			fsm.BadSource(hs.state, src, typ)
		}

	case stateStoppingTimerDone:
		switch src {
		case srcSock:
		case srcTimer:
			switch typ {
			case api.TimerStopped:
				hs.leave(HandshakeOK)
			case api.TimerTimeout:
			default:
				fsm.BadAction(hs.state, src, typ)
			}
		default:
			fsm.BadSource(hs.state, src, typ)
		}

	case stateDone:
		fsm.BadSource(hs.state, src, typ)

	default:
		fsm.BadState(hs.state, src, typ)
	}
}

// handleStopping completes the shutdown protocol: the sole unblocking
// signal is the timer acknowledging its stop.
func (hs *Handshake) handleStopping(src, typ int) {
	switch src {
	case srcTimer:
		switch typ {
		case api.TimerStopped:
			if hs.sock != nil {
				hs.sock.SwapOwner(hs.prevOwner, hs.prevSrc)
				hs.sock = nil
				hs.prevOwner = nil
				hs.prevSrc = 0
			}
			hs.state = stateIdle
			hs.raise(HandshakeStopped)
		case api.TimerTimeout:
			// Preempted by the stop request.
		default:
			fsm.BadAction(hs.state, src, typ)
		}
	case srcSock:
		// Stray socket activity during shutdown.
	default:
		fsm.BadSource(hs.state, src, typ)
	}
}

// timerEvent handles the timer while an exchange is in flight: expiry
// is the only legal event and it fails the handshake.
func (hs *Handshake) timerEvent(typ int) {
	if typ != api.TimerTimeout {
		fsm.BadAction(hs.state, srcTimer, typ)
	}
	hs.timer.Stop()
	hs.state = stateStoppingTimerError
}

// serverRecvMore advances the receive window after a partial opening
// request and schedules the next exact-length read, or fails the client
// with TOO_BIG when the request cannot fit.
func (hs *Handshake) serverRecvMore() {
	hs.recvPos += hs.recvLen

	hs.recvLen = nextRecvLen(hs.opening[:], hs.recvPos)

	// The last byte stays NUL so the parser can rely on a terminator.
	if hs.recvPos+hs.recvLen > len(hs.opening)-1 {
		hs.responseCode = responseTooBig
		hs.state = stateServerReply
		hs.serverReply()
		return
	}

	hs.retries++
	hs.sock.Recv(hs.opening[hs.recvPos : hs.recvPos+hs.recvLen])
}

// clientRecvMore is the client-side counterpart; an oversized server
// response simply fails the connection.
func (hs *Handshake) clientRecvMore() {
	hs.recvPos += hs.recvLen

	hs.recvLen = nextRecvLen(hs.response[:], hs.recvPos)

	if hs.recvPos+hs.recvLen > len(hs.response)-1 {
		hs.timer.Stop()
		hs.state = stateStoppingTimerError
		return
	}

	hs.retries++
	hs.sock.Recv(hs.response[hs.recvPos : hs.recvPos+hs.recvLen])
}

// nextRecvLen inspects the tail of the buffered data, finds the longest
// suffix that is a prefix of the CRLF CRLF terminator, and returns how
// many bytes would complete it. The result is always in [1, 4], so the
// next read can never consume a byte past the terminator.
func nextRecvLen(buf []byte, pos int) int {
	for i := len(termSeq); i >= 0; i-- {
		if i > pos {
			continue
		}
		if string(buf[pos-i:pos]) == termSeq[:i] {
			if i == len(termSeq) {
				// The parser reported recvMore with the terminator
				// fully buffered; that is a parser bug.
				panic("protocol: terminator already received")
			}
			return len(termSeq) - i
		}
	}
	panic("protocol: unreachable")
}

// leave returns the socket to its previous owner, marks the exchange
// settled, and raises the completion event.
func (hs *Handshake) leave(rc int) {
	hs.sock.SwapOwner(hs.prevOwner, hs.prevSrc)
	hs.sock = nil
	hs.prevOwner = nil
	hs.prevSrc = 0
	hs.state = stateDone
	hs.raise(rc)
}

func (hs *Handshake) raise(typ int) {
	hs.ctx.Post(hs.owner, hs.src, typ)
}

// clientRequest builds and sends the opening request: a fresh 16-byte
// nonce as the key, the expected accept value precomputed for the
// response check, and the sub-protocol token for the local socket type.
func (hs *Handshake) clientRequest() {
	var randKey [16]byte
	hs.Entropy.Generate(randKey[:])

	var encodedKey [24 + 1]byte
	n, err := base64Encode(randKey[:], encodedKey[:])
	if err != nil || n != len(encodedKey)-1 {
		panic("protocol: key encoding failed")
	}

	if hashKey(encodedKey[:n], hs.expectedAcceptKey[:]) != acceptKeyLen {
		panic("protocol: accept key derivation failed")
	}

	token, found := spTokenByProto(hs.pipe.LocalProtocol())
	if !found {
		// The local socket was configured with a type outside the SP
		// map; that is a caller bug, not a peer problem.
		panic("protocol: local socket type has no sub-protocol token")
	}

	msg := fmt.Sprintf("GET %s HTTP/1.1\r\n"+
		"Host: %s\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Key: %s\r\n"+
		"Sec-WebSocket-Version: 13\r\n"+
		"Sec-WebSocket-Protocol: %s\r\n\r\n",
		hs.resource, hs.remoteHost, encodedKey[:n], token)

	used := copy(hs.opening[:len(hs.opening)-1], msg)
	hs.sock.Send(hs.opening[:used])
}

// serverReply formats and sends the reply selected by responseCode:
// the 101 upgrade echoing the client's sub-protocol, or a 400 with a
// human-readable hint and the client's version echoed back per RFC
// 6455 4.4.
func (hs *Handshake) serverReply() {
	hs.response = [responseBufSize]byte{}

	var msg string
	if hs.responseCode == responseOK {
		var accept [acceptKeyLen + 1]byte
		if hashKey(hs.key, accept[:]) != acceptKeyLen {
			panic("protocol: accept key derivation failed")
		}

		msg = fmt.Sprintf("HTTP/1.1 101 Switching Protocols\r\n"+
			"Upgrade: websocket\r\n"+
			"Connection: Upgrade\r\n"+
			"Sec-WebSocket-Accept: %s\r\n"+
			"Sec-WebSocket-Protocol: %s\r\n\r\n",
			accept[:acceptKeyLen], hs.protocol)
	} else {
		var reason string
		switch hs.responseCode {
		case responseTooBig:
			reason = "400 Opening Handshake Too Long"
		case responseWSProto:
			reason = "400 Cannot Have Body"
		case responseWSVersion:
			reason = "400 Unsupported WebSocket Version"
		case responseNNProto:
			reason = "400 Missing nanomsg Required Headers"
		case responseNotPeer:
			reason = "400 Incompatible Socket Type"
		case responseUnknownType:
			reason = "400 Unrecognized Socket Type"
		default:
			panic(fmt.Sprintf("protocol: unexpected response code %d", hs.responseCode))
		}

		msg = fmt.Sprintf("HTTP/1.1 %s\r\n"+
			"Sec-WebSocket-Version: %s\r\n",
			reason, hs.version)
	}

	used := copy(hs.response[:len(hs.response)-1], msg)
	hs.sock.Send(hs.response[:used])
}

// hashKey derives the accept value for a Sec-WebSocket-Key: the raw
// Base64 key text, not decoded, concatenated with the magic GUID,
// hashed, and Base64-encoded into out. Returns the encoded length.
func hashKey(key, out []byte) int {
	var h sha1Hash
	h.init()
	h.hashBytes(key)
	h.hashBytes([]byte(magicGUID))
	n, err := base64Encode(h.result(), out)
	if err != nil {
		panic("protocol: accept key buffer too small")
	}
	return n
}
