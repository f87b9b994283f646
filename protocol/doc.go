// File: protocol/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package protocol implements the RFC 6455 opening handshake that
// bootstraps SP message streams over WebSocket connections. Given an
// already-connected byte-stream socket, a Handshake performs the
// client- or server-side upgrade exchange, negotiates the
// x-nanomsg-<role> sub-protocol against the local SP socket type, and
// returns the socket to its previous owner either ready for framed
// traffic or failed.
//
// The SHA-1 and Base64 routines are deliberately in-tree: the accept
// key derivation depends on their exact single-message semantics, and
// per RFC 6455 10.8 the construction does not rely on any security
// property of SHA-1. Do not reuse them elsewhere.
package protocol
