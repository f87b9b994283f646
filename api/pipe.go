// File: api/pipe.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// PipeBase is the slice of the upper SP pipe visible to a transport
// bootstrap: the local socket's protocol number and its compatibility
// predicate. Protocol numbers follow the SP RFC registry, as exposed by
// go.nanomsg.org/mangos/v3/protocol.
type PipeBase interface {
	// LocalProtocol returns the SP protocol number of the local socket.
	LocalProtocol() uint16

	// IsPeer reports whether a remote socket of the given SP protocol
	// number may interoperate with the local socket.
	IsPeer(proto uint16) bool
}
