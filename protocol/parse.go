// File: protocol/parse.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Incremental parsing of the opening handshake. Both entry points are
// re-run from the top of the receive buffer after every read
// completion: they report recvMore until the CRLF CRLF terminator has
// arrived, then settle the exchange in a single pass. Header values are
// captured as slices into the receive buffer; they stay valid only
// while the buffer is untouched.
//
// This is not a general-purpose HTTP parser. It recognizes exactly the
// fields the handshake needs and skips everything else line by line.
// The server response parser matches the Sec-WebSocket-Version-Server
// and Sec-WebSocket-Protocol-Server field names; that is not what RFC
// 6455 calls them, but it is what extant SP peers send, so it stays.

package protocol

import (
	"bytes"

	mproto "go.nanomsg.org/mangos/v3/protocol"
)

// Parse outcomes.
const (
	hsValid    = 0
	hsRecvMore = 1
	hsInvalid  = -1
)

const (
	crlf    = "\r\n"
	termSeq = "\r\n\r\n"
)

// Server-side failure replies, selected by the parse outcome.
type responseCode int

const (
	responseNull responseCode = iota - 1
	responseOK
	responseTooBig
	responseUnused2
	responseWSProto
	responseWSVersion
	responseNNProto // reserved; no parse path assigns it
	responseNotPeer
	responseUnknownType
)

// parseClientOpening analyzes the client's opening request accumulated
// in the opening buffer. On hsInvalid, responseCode selects the failure
// reply; on hsValid it is responseOK.
func (hs *Handshake) parseClientOpening() int {
	buf := hs.opening[:]

	// The receive path always leaves room for a terminator, so the
	// buffer can be treated as a NUL-delimited string.
	if bytes.IndexByte(buf, 0) < 0 {
		panic("protocol: receive buffer not NUL-terminated")
	}

	c := newCursor(buf)

	if c.find(termSeq) < 0 {
		return hsRecvMore
	}

	hs.host = nil
	hs.origin = nil
	hs.key = nil
	hs.upgrade = nil
	hs.conn = nil
	hs.version = nil
	hs.protocol = nil
	hs.extensions = nil
	hs.uri = nil

	hs.responseCode = responseNull

	// Request line per RFC 7230 3.1.1: method and version are case
	// sensitive, single spaces only. The message is fully buffered at
	// this point, so a malformed request line is a rejection, not a
	// request for more bytes.
	if !matchToken("GET\x20", c, false, false) {
		hs.responseCode = responseWSProto
		return hsInvalid
	}

	var ok bool
	if hs.uri, ok = matchValue("\x20", c, false, false); !ok {
		hs.responseCode = responseWSProto
		return hsInvalid
	}

	if !matchToken("HTTP/1.1", c, false, false) ||
		!matchToken(crlf, c, false, false) {
		hs.responseCode = responseWSProto
		return hsInvalid
	}

	// Header fields, one line at a time, until the bare CRLF.
loop:
	for c.peek() != 0 {
		switch {
		case matchToken("Host:", c, true, false):
			hs.host, ok = matchValue(crlf, c, true, true)
		case matchToken("Origin:", c, true, false):
			hs.origin, ok = matchValue(crlf, c, true, true)
		case matchToken("Sec-WebSocket-Key:", c, true, false):
			hs.key, ok = matchValue(crlf, c, true, true)
		case matchToken("Upgrade:", c, true, false):
			hs.upgrade, ok = matchValue(crlf, c, true, true)
		case matchToken("Connection:", c, true, false):
			hs.conn, ok = matchValue(crlf, c, true, true)
		case matchToken("Sec-WebSocket-Version:", c, true, false):
			hs.version, ok = matchValue(crlf, c, true, true)
		case matchToken("Sec-WebSocket-Protocol:", c, true, false):
			hs.protocol, ok = matchValue(crlf, c, true, true)
		case matchToken("Sec-WebSocket-Extensions:", c, true, false):
			hs.extensions, ok = matchValue(crlf, c, true, true)
		case matchToken(crlf, c, true, false):
			break loop
		default:
			// Unknown header; skip the line.
			_, ok = matchValue(crlf, c, true, true)
		}

		if !ok {
			return hsRecvMore
		}
	}

	// Required fields per RFC 6455 4.1.
	if hs.host == nil || hs.upgrade == nil || hs.conn == nil ||
		hs.key == nil || hs.version == nil {
		hs.responseCode = responseWSProto
		return hsInvalid
	}

	// RFC 6455 4.2.1.6.
	if !validateValue("13", hs.version, true) {
		hs.responseCode = responseWSVersion
		return hsInvalid
	}

	// RFC 6455 4.2.1.3.
	if !validateValue("websocket", hs.upgrade, true) {
		hs.responseCode = responseWSProto
		return hsInvalid
	}

	// RFC 6455 4.2.1.4.
	if !validateValue("Upgrade", hs.conn, true) {
		hs.responseCode = responseWSProto
		return hsInvalid
	}

	// RFC 6455 compliance established; now the SP compatibility gate.
	if hs.protocol != nil {
		proto, found := spProtoByToken(hs.protocol)
		if !found {
			hs.responseCode = responseUnknownType
			return hsInvalid
		}
		if !hs.pipe.IsPeer(proto) {
			hs.responseCode = responseNotPeer
			return hsInvalid
		}
		hs.responseCode = responseOK
		return hsValid
	}

	// No sub-protocol declared: presume PAIR. This keeps non-SP peers
	// interoperable with a local PAIR socket; any other local type
	// rejects the connection as incompatible.
	if !hs.pipe.IsPeer(mproto.ProtoPair) {
		hs.responseCode = responseNotPeer
		return hsInvalid
	}
	hs.responseCode = responseOK
	return hsValid
}

// parseServerResponse analyzes the server's reply accumulated in the
// response buffer. The client sends nothing further on hsInvalid, so no
// response code is produced.
func (hs *Handshake) parseServerResponse() int {
	buf := hs.response[:]

	if bytes.IndexByte(buf, 0) < 0 {
		panic("protocol: receive buffer not NUL-terminated")
	}

	c := newCursor(buf)

	if c.find(termSeq) < 0 {
		return hsRecvMore
	}

	hs.statusCode = nil
	hs.reasonPhrase = nil
	hs.server = nil
	hs.acceptKey = nil
	hs.upgrade = nil
	hs.conn = nil
	hs.version = nil
	hs.protocol = nil
	hs.extensions = nil

	// Status line per RFC 7230 3.1.2.
	if !matchToken("HTTP/1.1\x20", c, false, false) {
		return hsInvalid
	}

	var ok bool
	if hs.statusCode, ok = matchValue("\x20", c, false, false); !ok {
		return hsInvalid
	}

	if hs.reasonPhrase, ok = matchValue(crlf, c, false, false); !ok {
		return hsInvalid
	}

loop:
	for c.peek() != 0 {
		switch {
		case matchToken("Server:", c, true, false):
			hs.server, ok = matchValue(crlf, c, true, true)
		case matchToken("Sec-WebSocket-Accept:", c, true, false):
			hs.acceptKey, ok = matchValue(crlf, c, true, true)
		case matchToken("Upgrade:", c, true, false):
			hs.upgrade, ok = matchValue(crlf, c, true, true)
		case matchToken("Connection:", c, true, false):
			hs.conn, ok = matchValue(crlf, c, true, true)
		case matchToken("Sec-WebSocket-Version-Server:", c, true, false):
			hs.version, ok = matchValue(crlf, c, true, true)
		case matchToken("Sec-WebSocket-Protocol-Server:", c, true, false):
			hs.protocol, ok = matchValue(crlf, c, true, true)
		case matchToken("Sec-WebSocket-Extensions:", c, true, false):
			hs.extensions, ok = matchValue(crlf, c, true, true)
		case matchToken(crlf, c, true, false):
			break loop
		default:
			_, ok = matchValue(crlf, c, true, true)
		}

		if !ok {
			return hsRecvMore
		}
	}

	// Required fields per RFC 6455 4.2.2.
	if hs.statusCode == nil || hs.upgrade == nil || hs.conn == nil ||
		hs.acceptKey == nil {
		return hsInvalid
	}

	// Only a successful upgrade is accepted; redirects and auth
	// challenges fail the connection.
	if !validateValue("101", hs.statusCode, true) {
		return hsInvalid
	}

	// RFC 6455 4.2.2.5.2.
	if !validateValue("websocket", hs.upgrade, true) {
		return hsInvalid
	}

	// RFC 6455 4.2.2.5.3.
	if !validateValue("Upgrade", hs.conn, true) {
		return hsInvalid
	}

	// RFC 6455 4.2.2.5.4.
	if !validateValue(string(hs.expectedAcceptKey[:acceptKeyLen]), hs.acceptKey, true) {
		return hsInvalid
	}

	return hsValid
}
