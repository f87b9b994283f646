// File: api/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Asynchronous byte-stream socket abstraction. Completion is signaled
// by posting Sock* events to the current owner; no call ever blocks.

package api

// Sock is a full-duplex byte-stream socket driven through the fsm event
// plane. At most one receive and one send may be outstanding at a time.
type Sock interface {
	// Recv schedules a read of exactly len(buf) bytes into buf. On
	// completion the current owner receives SockReceived; on failure
	// SockError (preceded by SockShutdown when the peer closed).
	Recv(buf []byte)

	// Send schedules a vectored write of the given buffers. The owner
	// receives SockSent once every byte is on the wire.
	Send(iov ...[]byte)

	// SwapOwner atomically redirects event delivery to h under source
	// id src, returning the previous owner so it can be restored.
	SwapOwner(h Handler, src int) (Handler, int)
}
