// File: api/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package api defines the contracts shared across spws: the serialized
// event-handler interface, the asynchronous byte-stream socket, the
// SP pipe view, and the entropy source. Implementations live in core/
// and are consumed by the protocol package.
package api
