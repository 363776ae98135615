// Package transport defines the generic datagram transport contract the
// relay shim is polymorphic over, plus two implementations of it: a
// Berkeley-sockets adapter for real traffic and an in-memory fake for
// tests.
package transport

import "github.com/gortc/turnrelay/addr"

// Transport is a single-datagram send/recv/close contract. Implementations
// never report partial reads or writes; a datagram is delivered whole or
// not at all.
type Transport interface {
	// Send dispatches b to to. It reports false only when the
	// implementation can prove the datagram was not sent.
	Send(to addr.Endpoint, b []byte) bool
	// Recv reads one datagram into buf, returning its source and length.
	// A negative length means the read failed; no data was written to buf.
	Recv(buf []byte) (from addr.Endpoint, n int)
	// Close releases any OS resources held by the transport.
	Close() error
}
