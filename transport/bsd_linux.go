//go:build linux

package transport

import (
	"errors"
	"net"

	"github.com/libp2p/go-reuseport"
	"golang.org/x/sys/unix"

	"github.com/gortc/turnrelay/addr"
)

// BSD adapts a plain UDP datagram socket to the Transport contract, the Go
// equivalent of libnice's udp-bsd.c NiceSocket implementation: Berkeley
// sockets, close-on-exec, non-blocking, with best-effort draining of the
// socket error queue so ICMP-originated errors (destination unreachable,
// etc.) never wedge a later Recv.
type BSD struct {
	fd     int
	local  addr.Endpoint
	closed bool
}

// BSDOptions configures NewBSD.
type BSDOptions struct {
	// LocalAddr binds the socket to a specific address; the zero value
	// binds to the unspecified address (any interface, ephemeral port).
	LocalAddr *net.UDPAddr
	// ReusePort requests SO_REUSEPORT via github.com/libp2p/go-reuseport
	// when available, so multiple client instances can share a port the
	// way the teacher's server does for its listener.
	ReusePort bool
}

// NewBSD opens a UDP socket per opt, the equivalent of
// nice_udp_bsd_socket_factory's socket_factory_init_socket.
func NewBSD(opt BSDOptions) (*BSD, error) {
	laddr := opt.LocalAddr
	if laddr == nil {
		laddr = &net.UDPAddr{}
	}

	if opt.ReusePort && reuseport.Available() {
		pc, err := reuseport.ListenPacket("udp", laddr.String())
		if err != nil {
			return nil, err
		}
		udpConn, ok := pc.(*net.UDPConn)
		if !ok {
			pc.Close()
			return nil, errors.New("transport: reuseport listener is not a UDP conn")
		}
		return fromUDPConn(udpConn)
	}

	family := unix.AF_INET
	if laddr.IP != nil && laddr.IP.To4() == nil {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, err
	}

	if cloexecErr := unix.SetNonblock(fd, true); cloexecErr != nil {
		unix.Close(fd)
		return nil, cloexecErr
	}
	setCloseOnExec(fd)
	enableErrQueue(fd, family)

	sa := sockaddrFromUDP(laddr, family)
	if bindErr := unix.Bind(fd, sa); bindErr != nil {
		unix.Close(fd)
		return nil, bindErr
	}

	name, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &BSD{
		fd:    fd,
		local: endpointFromSockaddr(name),
	}, nil
}

func fromUDPConn(c *net.UDPConn) (*BSD, error) {
	defer c.Close()
	f, err := c.File()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		return nil, err
	}
	if nbErr := unix.SetNonblock(fd, true); nbErr != nil {
		unix.Close(fd)
		return nil, nbErr
	}
	setCloseOnExec(fd)
	return &BSD{fd: fd, local: addr.FromUDPAddr(c.LocalAddr().(*net.UDPAddr))}, nil
}

// LocalAddr reports the bound endpoint.
func (b *BSD) LocalAddr() addr.Endpoint { return b.local }

// sockRecvErr silently dequeues one pending error message, if any, the
// equivalent of udp-bsd.c's sock_recv_err: best-effort, never surfaces an
// error of its own.
func sockRecvErr(fd int) bool {
	return drainErrQueue(fd)
}

// Recv implements Transport.
func (b *BSD) Recv(buf []byte) (addr.Endpoint, int) {
	n, from, err := unix.Recvfrom(b.fd, buf, 0)
	if err != nil {
		sockRecvErr(b.fd)
		return addr.Endpoint{}, -1
	}
	return endpointFromSockaddr(from), n
}

// Send implements Transport. A transient send failure is retried exactly
// once per drained error-queue entry, mirroring udp-bsd.c's
// `do { sent = sendto(...); } while (sent == -1 && sock_recv_err(fd));`
// loop; otherwise it is reported as a short send (byte count mismatch).
func (b *BSD) Send(to addr.Endpoint, data []byte) bool {
	sa := sockaddrFromEndpoint(to)
	for {
		n, err := unix.SendmsgN(b.fd, data, nil, sa, 0)
		if err == nil {
			return n == len(data)
		}
		if !sockRecvErr(b.fd) {
			return false
		}
	}
}

// Close implements Transport.
func (b *BSD) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return unix.Close(b.fd)
}
