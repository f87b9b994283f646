// File: protocol/parse_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"strings"
	"testing"

	mproto "go.nanomsg.org/mangos/v3/protocol"
)

// pipeStub satisfies api.PipeBase for tests.
type pipeStub struct {
	local uint16
	peers []uint16
}

func (p pipeStub) LocalProtocol() uint16 { return p.local }

func (p pipeStub) IsPeer(proto uint16) bool {
	for _, pp := range p.peers {
		if pp == proto {
			return true
		}
	}
	return false
}

// repPipe is a REP socket: it accepts REQ peers.
var repPipe = pipeStub{local: mproto.ProtoRep, peers: []uint16{mproto.ProtoReq}}

// pairPipe accepts PAIR peers.
var pairPipe = pipeStub{local: mproto.ProtoPair, peers: []uint16{mproto.ProtoPair}}

const sampleRequest = "GET /chan HTTP/1.1\r\n" +
	"Host: server.example.com\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n" +
	"Sec-WebSocket-Protocol: x-nanomsg-req\r\n\r\n"

func serverParseOf(t *testing.T, request string, pipe pipeStub) (*Handshake, int) {
	t.Helper()
	hs := &Handshake{pipe: pipe}
	if len(request) > len(hs.opening)-1 {
		t.Fatalf("request of %d bytes does not fit the receive buffer", len(request))
	}
	copy(hs.opening[:], request)
	return hs, hs.parseClientOpening()
}

func TestParseClientOpeningValid(t *testing.T) {
	hs, rc := serverParseOf(t, sampleRequest, repPipe)
	if rc != hsValid {
		t.Fatalf("rc = %d, want valid", rc)
	}
	if hs.responseCode != responseOK {
		t.Errorf("responseCode = %d, want OK", hs.responseCode)
	}
	if string(hs.uri) != "/chan" {
		t.Errorf("uri = %q", hs.uri)
	}
	if string(hs.host) != "server.example.com" {
		t.Errorf("host = %q", hs.host)
	}
	if string(hs.key) != "dGhlIHNhbXBsZSBub25jZQ==" {
		t.Errorf("key = %q", hs.key)
	}
	if string(hs.protocol) != "x-nanomsg-req" {
		t.Errorf("protocol = %q", hs.protocol)
	}
}

func TestParseClientOpeningBytewise(t *testing.T) {
	// Every proper prefix must come back as recvMore; the full message
	// settles in one step.
	for n := 0; n < len(sampleRequest); n++ {
		_, rc := serverParseOf(t, sampleRequest[:n], repPipe)
		if rc != hsRecvMore {
			t.Fatalf("prefix of %d bytes: rc = %d, want recvMore", n, rc)
		}
	}
	if _, rc := serverParseOf(t, sampleRequest, repPipe); rc != hsValid {
		t.Fatal("full request did not parse valid")
	}
}

func TestParseClientOpeningMissingRequired(t *testing.T) {
	required := []string{
		"Host:", "Upgrade:", "Connection:",
		"Sec-WebSocket-Key:", "Sec-WebSocket-Version:",
	}
	for _, field := range required {
		var lines []string
		for _, line := range strings.Split(sampleRequest, crlf) {
			if strings.HasPrefix(line, field) {
				continue
			}
			lines = append(lines, line)
		}
		req := strings.Join(lines, crlf)
		hs, rc := serverParseOf(t, req, repPipe)
		if rc != hsInvalid || hs.responseCode != responseWSProto {
			t.Errorf("dropping %q: rc = %d code = %d, want invalid/WSPROTO",
				field, rc, hs.responseCode)
		}
	}
}

func TestParseClientOpeningVersionMismatch(t *testing.T) {
	req := strings.Replace(sampleRequest, "Version: 13", "Version: 8", 1)
	hs, rc := serverParseOf(t, req, repPipe)
	if rc != hsInvalid || hs.responseCode != responseWSVersion {
		t.Fatalf("rc = %d code = %d, want invalid/WSVERSION", rc, hs.responseCode)
	}
	if string(hs.version) != "8" {
		t.Errorf("version = %q, want 8", hs.version)
	}
}

func TestParseClientOpeningBadUpgrade(t *testing.T) {
	req := strings.Replace(sampleRequest, "Upgrade: websocket", "Upgrade: h2c", 1)
	hs, rc := serverParseOf(t, req, repPipe)
	if rc != hsInvalid || hs.responseCode != responseWSProto {
		t.Fatalf("rc = %d code = %d, want invalid/WSPROTO", rc, hs.responseCode)
	}
}

func TestParseClientOpeningUnknownProtocol(t *testing.T) {
	req := strings.Replace(sampleRequest, "x-nanomsg-req", "x-nanomsg-chat", 1)
	hs, rc := serverParseOf(t, req, repPipe)
	if rc != hsInvalid || hs.responseCode != responseUnknownType {
		t.Fatalf("rc = %d code = %d, want invalid/UNKNOWNTYPE", rc, hs.responseCode)
	}
}

func TestParseClientOpeningIncompatiblePeer(t *testing.T) {
	req := strings.Replace(sampleRequest, "x-nanomsg-req", "x-nanomsg-pub", 1)
	hs, rc := serverParseOf(t, req, repPipe)
	if rc != hsInvalid || hs.responseCode != responseNotPeer {
		t.Fatalf("rc = %d code = %d, want invalid/NOTPEER", rc, hs.responseCode)
	}
}

func TestParseClientOpeningAbsentProtocol(t *testing.T) {
	req := strings.Replace(sampleRequest,
		"Sec-WebSocket-Protocol: x-nanomsg-req\r\n", "", 1)

	// PAIR is presumed when no sub-protocol is declared.
	hs, rc := serverParseOf(t, req, pairPipe)
	if rc != hsValid || hs.responseCode != responseOK {
		t.Fatalf("pair local: rc = %d code = %d, want valid/OK", rc, hs.responseCode)
	}

	hs, rc = serverParseOf(t, req, repPipe)
	if rc != hsInvalid || hs.responseCode != responseNotPeer {
		t.Fatalf("rep local: rc = %d code = %d, want invalid/NOTPEER", rc, hs.responseCode)
	}
}

func TestParseClientOpeningSkipsUnknownHeaders(t *testing.T) {
	req := strings.Replace(sampleRequest, "Host:",
		"X-Forwarded-For: 10.0.0.1\r\nAccept-Language: en\r\nHost:", 1)
	_, rc := serverParseOf(t, req, repPipe)
	if rc != hsValid {
		t.Fatalf("rc = %d, want valid", rc)
	}
}

func TestParseClientOpeningFoldsHeaderCase(t *testing.T) {
	req := strings.NewReplacer(
		"Host:", "HOST:",
		"Upgrade: websocket", "upgrade: WebSocket",
		"Connection: Upgrade", "CONNECTION: upgrade",
		"Sec-WebSocket-Key:", "sec-websocket-key:",
		"Sec-WebSocket-Version:", "SEC-WEBSOCKET-VERSION:",
		"Sec-WebSocket-Protocol:", "sec-websocket-protocol:",
	).Replace(sampleRequest)
	_, rc := serverParseOf(t, req, repPipe)
	if rc != hsValid {
		t.Fatalf("rc = %d, want valid", rc)
	}
}

func TestParseClientOpeningMalformedRequestLine(t *testing.T) {
	// The terminator is present, so the parse settles instead of
	// asking for more bytes it could never use.
	hs, rc := serverParseOf(t, "POST /chan HTTP/1.1\r\n\r\n", repPipe)
	if rc != hsInvalid || hs.responseCode != responseWSProto {
		t.Fatalf("rc = %d code = %d, want invalid/WSPROTO", rc, hs.responseCode)
	}
}

func clientParseOf(t *testing.T, response, expectedAccept string) (*Handshake, int) {
	t.Helper()
	hs := &Handshake{}
	copy(hs.expectedAcceptKey[:], expectedAccept)
	if len(response) > len(hs.response)-1 {
		t.Fatalf("response of %d bytes does not fit the receive buffer", len(response))
	}
	copy(hs.response[:], response)
	return hs, hs.parseServerResponse()
}

const sampleAccept = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="

const sampleResponse = "HTTP/1.1 101 Switching Protocols\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Accept: " + sampleAccept + "\r\n" +
	"Sec-WebSocket-Protocol-Server: x-nanomsg-rep\r\n" +
	"Sec-WebSocket-Version-Server: 13\r\n\r\n"

func TestParseServerResponseValid(t *testing.T) {
	hs, rc := clientParseOf(t, sampleResponse, sampleAccept)
	if rc != hsValid {
		t.Fatalf("rc = %d, want valid", rc)
	}
	if string(hs.statusCode) != "101" {
		t.Errorf("status = %q", hs.statusCode)
	}
	if string(hs.reasonPhrase) != "Switching Protocols" {
		t.Errorf("reason = %q", hs.reasonPhrase)
	}
	// The -Server suffixed names are the ones this parser honors.
	if string(hs.protocol) != "x-nanomsg-rep" {
		t.Errorf("protocol = %q", hs.protocol)
	}
	if string(hs.version) != "13" {
		t.Errorf("version = %q", hs.version)
	}
}

func TestParseServerResponseBytewise(t *testing.T) {
	for n := 0; n < len(sampleResponse); n++ {
		_, rc := clientParseOf(t, sampleResponse[:n], sampleAccept)
		if rc != hsRecvMore {
			t.Fatalf("prefix of %d bytes: rc = %d, want recvMore", n, rc)
		}
	}
}

func TestParseServerResponseAcceptMismatch(t *testing.T) {
	_, rc := clientParseOf(t, sampleResponse, "AAAAAAAAAAAAAAAAAAAAAAAAAAA=")
	if rc != hsInvalid {
		t.Fatalf("rc = %d, want invalid", rc)
	}
}

func TestParseServerResponseRejectsNon101(t *testing.T) {
	resp := strings.Replace(sampleResponse, "101 Switching Protocols",
		"302 Found", 1)
	if _, rc := clientParseOf(t, resp, sampleAccept); rc != hsInvalid {
		t.Fatalf("rc = %d, want invalid", rc)
	}
}

func TestParseServerResponseMissingAccept(t *testing.T) {
	resp := strings.Replace(sampleResponse,
		"Sec-WebSocket-Accept: "+sampleAccept+"\r\n", "", 1)
	if _, rc := clientParseOf(t, resp, sampleAccept); rc != hsInvalid {
		t.Fatalf("rc = %d, want invalid", rc)
	}
}

func TestParseServerResponseIgnoresStandardProtocolHeader(t *testing.T) {
	// A plain Sec-WebSocket-Protocol line is an unknown header to this
	// parser and must be skipped, not captured.
	resp := strings.Replace(sampleResponse,
		"Sec-WebSocket-Protocol-Server: x-nanomsg-rep\r\n",
		"Sec-WebSocket-Protocol: x-nanomsg-rep\r\n", 1)
	hs, rc := clientParseOf(t, resp, sampleAccept)
	if rc != hsValid {
		t.Fatalf("rc = %d, want valid", rc)
	}
	if hs.protocol != nil {
		t.Errorf("protocol = %q, want absent", hs.protocol)
	}
}

func TestHashKeySampleNonce(t *testing.T) {
	var out [acceptKeyLen + 1]byte
	n := hashKey([]byte("dGhlIHNhbXBsZSBub25jZQ=="), out[:])
	if n != acceptKeyLen {
		t.Fatalf("length = %d, want %d", n, acceptKeyLen)
	}
	if got := string(out[:n]); got != sampleAccept {
		t.Errorf("accept = %q, want %q", got, sampleAccept)
	}
}
