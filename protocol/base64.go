// File: protocol/base64.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RFC 2045 Base64 for the handshake key exchange. The encoder pads with
// '=' to a multiple of four and NUL-terminates so the result can live
// inside the NUL-delimited handshake buffers; the decoder tolerates
// interspersed ASCII whitespace and stops at '=' or the first byte
// outside the alphabet.

package protocol

import "github.com/momentics/spws/api"

const base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"abcdefghijklmnopqrstuvwxyz" +
	"0123456789+/"

var base64DecodeMap = func() (m [256]byte) {
	for i := range m {
		m[i] = 0xFF
	}
	for i := 0; i < len(base64Alphabet); i++ {
		m[base64Alphabet[i]] = byte(i)
	}
	return
}()

// base64Encode writes the encoding of in into out, NUL-terminated.
// Returns the encoded length excluding the terminator. If out cannot
// hold the full encoding plus the terminator, api.ErrNoBufs is returned
// and out is left untouched.
func base64Encode(in, out []byte) (int, error) {
	need := (len(in)+2)/3*4 + 1
	if len(out) < need {
		return 0, api.ErrNoBufs
	}

	io := 0
	v := uint32(0)
	rem := uint(0)
	for _, ch := range in {
		v = v<<8 | uint32(ch)
		rem += 8
		for rem >= 6 {
			rem -= 6
			out[io] = base64Alphabet[v>>rem&63]
			io++
		}
	}

	if rem > 0 {
		v <<= 6 - rem
		out[io] = base64Alphabet[v&63]
		io++
	}

	for io&3 != 0 {
		out[io] = '='
		io++
	}

	out[io] = 0
	return io, nil
}

// base64Decode writes the decoding of in into out and returns the
// number of decoded bytes. Whitespace is skipped; '=' or a byte outside
// the alphabet terminates the input. api.ErrNoBufs is returned when out
// overflows.
func base64Decode(in, out []byte) (int, error) {
	io := 0
	v := uint32(0)
	rem := uint(0)
	for _, ch := range in {
		if ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n' {
			continue
		}
		if ch == '=' {
			break
		}
		b := base64DecodeMap[ch]
		if b == 0xFF {
			break
		}
		v = v<<6 | uint32(b)
		rem += 6
		if rem >= 8 {
			rem -= 8
			if io >= len(out) {
				return 0, api.ErrNoBufs
			}
			out[io] = byte(v >> rem)
			io++
		}
	}
	if rem >= 8 {
		rem -= 8
		if io >= len(out) {
			return 0, api.ErrNoBufs
		}
		out[io] = byte(v >> rem)
		io++
	}
	return io, nil
}
