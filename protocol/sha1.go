// File: protocol/sha1.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Single-purpose streaming SHA-1 (RFC 3174) for the opening handshake
// accept-key derivation. Bytes are stored straight into the 16-word
// block in big-endian order, so the compression rounds read word values
// directly on either host endianness; finalization swaps the state
// words back on little-endian hosts before the digest is read out
// byte-wise. The 32-bit byte counter is ample for the few hundred bytes
// this subsystem ever hashes.

package protocol

import (
	"unsafe"

	"golang.org/x/sys/cpu"
)

const (
	sha1HashLen  = 20
	sha1BlockLen = 64
)

type sha1Hash struct {
	block       [sha1BlockLen / 4]uint32
	state       [sha1HashLen / 4]uint32
	bytesHashed uint32
	blockOffset uint8
}

func rol32(v uint32, bits uint) uint32 {
	return v<<bits | v>>(32-bits)
}

func (s *sha1Hash) init() {
	s.state[0] = 0x67452301
	s.state[1] = 0xefcdab89
	s.state[2] = 0x98badcfe
	s.state[3] = 0x10325476
	s.state[4] = 0xc3d2e1f0
	s.bytesHashed = 0
	s.blockOffset = 0
}

// add places one byte into the block and runs the compression rounds
// when the block fills. It does not advance the message length counter;
// finalization padding goes through add directly.
func (s *sha1Hash) add(data byte) {
	buf := (*[sha1BlockLen]byte)(unsafe.Pointer(&s.block))
	if cpu.IsBigEndian {
		buf[s.blockOffset] = data
	} else {
		buf[s.blockOffset^3] = data
	}

	s.blockOffset++
	if s.blockOffset != sha1BlockLen {
		return
	}

	a := s.state[0]
	b := s.state[1]
	c := s.state[2]
	d := s.state[3]
	e := s.state[4]
	var t uint32
	for i := 0; i < 80; i++ {
		if i >= 16 {
			t = s.block[(i+13)&15] ^ s.block[(i+8)&15] ^
				s.block[(i+2)&15] ^ s.block[i&15]
			s.block[i&15] = rol32(t, 1)
		}

		if i < 20 {
			t = (d ^ (b & (c ^ d))) + 0x5A827999
		} else if i < 40 {
			t = (b ^ c ^ d) + 0x6ED9EBA1
		} else if i < 60 {
			t = ((b & c) | (d & (b | c))) + 0x8F1BBCDC
		} else {
			t = (b ^ c ^ d) + 0xCA62C1D6
		}

		t += rol32(a, 5) + e + s.block[i&15]
		e = d
		d = c
		c = rol32(b, 30)
		b = a
		a = t
	}

	s.state[0] += a
	s.state[1] += b
	s.state[2] += c
	s.state[3] += d
	s.state[4] += e

	s.blockOffset = 0
}

func (s *sha1Hash) hashByte(data byte) {
	s.bytesHashed++
	s.add(data)
}

func (s *sha1Hash) hashBytes(p []byte) {
	for _, b := range p {
		s.hashByte(b)
	}
}

// result pads the final block, appends the bit length, and returns the
// 20-byte digest. The hash must not be fed afterwards.
func (s *sha1Hash) result() []byte {
	s.add(0x80)
	for s.blockOffset != 56 {
		s.add(0x00)
	}

	// Length in bits, 64-bit big-endian; the byte counter is 32 bits
	// so the top three bytes are zero.
	s.add(0)
	s.add(0)
	s.add(0)
	s.add(byte(s.bytesHashed >> 29))
	s.add(byte(s.bytesHashed >> 21))
	s.add(byte(s.bytesHashed >> 13))
	s.add(byte(s.bytesHashed >> 5))
	s.add(byte(s.bytesHashed << 3))

	if !cpu.IsBigEndian {
		for i := range s.state {
			v := s.state[i]
			s.state[i] = v<<24&0xFF000000 | v<<8&0x00FF0000 |
				v>>8&0x0000FF00 | v>>24&0x000000FF
		}
	}

	out := (*[sha1HashLen]byte)(unsafe.Pointer(&s.state))
	return out[:]
}
