// File: api/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Common error values used across the library.

package api

import "fmt"

var (
	// ErrNoBufs reports that an output buffer was too small for the
	// result. The Base64 encoder leaves the buffer untouched when it
	// returns it; the decoder may already have written a prefix.
	ErrNoBufs = fmt.Errorf("insufficient buffer space")

	// ErrSockBusy reports a second outstanding operation on a Sock.
	ErrSockBusy = fmt.Errorf("socket operation already in flight")

	// ErrClosed reports use of a closed connection.
	ErrClosed = fmt.Errorf("connection is closed")
)
