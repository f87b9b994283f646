// File: protocol/spmap.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The closed table binding SP protocol numbers to the WebSocket
// sub-protocol tokens this transport negotiates. Protocol numbers come
// from the SP registry as published by mangos, so the tokens line up
// with what other SP stacks put on the wire. Lookups are linear; the
// set is ten entries and never grows at runtime.

package protocol

import mproto "go.nanomsg.org/mangos/v3/protocol"

type spMapping struct {
	proto uint16
	token string
}

var spMap = [...]spMapping{
	{mproto.ProtoPair, "x-nanomsg-pair"},
	{mproto.ProtoReq, "x-nanomsg-req"},
	{mproto.ProtoRep, "x-nanomsg-rep"},
	{mproto.ProtoPub, "x-nanomsg-pub"},
	{mproto.ProtoSub, "x-nanomsg-sub"},
	{mproto.ProtoSurveyor, "x-nanomsg-surveyor"},
	{mproto.ProtoRespondent, "x-nanomsg-respondent"},
	{mproto.ProtoPush, "x-nanomsg-push"},
	{mproto.ProtoPull, "x-nanomsg-pull"},
	{mproto.ProtoBus, "x-nanomsg-bus"},
}

// spTokenByProto returns the sub-protocol token for an SP protocol
// number. Used when building the client request.
func spTokenByProto(proto uint16) (string, bool) {
	for _, m := range spMap {
		if m.proto == proto {
			return m.token, true
		}
	}
	return "", false
}

// spProtoByToken resolves a sub-protocol token from the wire, folding
// ASCII case. Used when parsing the client's opening request.
func spProtoByToken(token []byte) (uint16, bool) {
	for _, m := range spMap {
		if validateValue(m.token, token, true) {
			return m.proto, true
		}
	}
	return 0, false
}
