package transport

import (
	"errors"
	"sync"

	"github.com/gortc/turnrelay/addr"
)

type fakeDatagram struct {
	from addr.Endpoint
	to   addr.Endpoint
	data []byte
}

// Fake is a deterministic in-memory Transport for tests. Inbound() pushes a
// datagram as if it had arrived from the network; Sent() drains datagrams
// dispatched via Send so tests can assert on the exact bytes placed on the
// wire.
type Fake struct {
	mux     sync.Mutex
	inbound []fakeDatagram
	sent    []fakeDatagram
	closed  bool
}

// NewFake returns an empty Fake transport.
func NewFake() *Fake {
	return &Fake{}
}

// Inbound queues a datagram to be returned by the next Recv call.
func (f *Fake) Inbound(from addr.Endpoint, data []byte) {
	f.mux.Lock()
	defer f.mux.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.inbound = append(f.inbound, fakeDatagram{from: from, data: cp})
}

// Send implements Transport.
func (f *Fake) Send(to addr.Endpoint, b []byte) bool {
	f.mux.Lock()
	defer f.mux.Unlock()
	if f.closed {
		return false
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	f.sent = append(f.sent, fakeDatagram{to: to, data: cp})
	return true
}

// Recv implements Transport.
func (f *Fake) Recv(buf []byte) (addr.Endpoint, int) {
	f.mux.Lock()
	defer f.mux.Unlock()
	if len(f.inbound) == 0 {
		return addr.Endpoint{}, -1
	}
	d := f.inbound[0]
	f.inbound = f.inbound[1:]
	n := len(d.data)
	if n > len(buf) {
		n = len(buf)
	}
	copy(buf, d.data[:n])
	return d.from, n
}

// Close implements Transport.
func (f *Fake) Close() error {
	f.mux.Lock()
	defer f.mux.Unlock()
	if f.closed {
		return errors.New("already closed")
	}
	f.closed = true
	return nil
}

// Sent returns, and clears, the datagrams dispatched via Send so far.
func (f *Fake) Sent() []Sent {
	f.mux.Lock()
	defer f.mux.Unlock()
	out := make([]Sent, len(f.sent))
	for i, d := range f.sent {
		out[i] = Sent{To: d.to, Data: d.data}
	}
	f.sent = nil
	return out
}

// Sent is one datagram observed on a Fake transport's send path.
type Sent struct {
	To   addr.Endpoint
	Data []byte
}

// Closed reports whether Close has been called.
func (f *Fake) Closed() bool {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.closed
}
