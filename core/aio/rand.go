// File: core/aio/rand.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package aio

import "crypto/rand"

// SystemEntropy implements api.Entropy over the operating system CSPRNG.
type SystemEntropy struct{}

// Generate fills p with random bytes. The system entropy source does
// not fail on any supported platform; a short read aborts the process.
func (SystemEntropy) Generate(p []byte) {
	if _, err := rand.Read(p); err != nil {
		panic("aio: system entropy unavailable: " + err.Error())
	}
}
