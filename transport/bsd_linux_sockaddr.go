//go:build linux

package transport

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/gortc/turnrelay/addr"
)

func setCloseOnExec(fd int) {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return
	}
	unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags|unix.FD_CLOEXEC)
}

// enableErrQueue turns on IP(V6)_RECVERR so ICMP-originated send failures
// show up on the error queue instead of silently vanishing, matching
// udp-bsd.c's `#ifdef IP_RECVERR ... setsockopt(..., IP_RECVERR, ...)`.
func enableErrQueue(fd, family int) {
	if family == unix.AF_INET6 {
		unix.SetsockoptInt(fd, unix.SOL_IPV6, unix.IPV6_RECVERR, 1)
		return
	}
	unix.SetsockoptInt(fd, unix.SOL_IP, unix.IP_RECVERR, 1)
}

// drainErrQueue silently dequeues one pending error message, if any. It
// never reports an error of its own: the drain is best-effort, exactly as
// udp-bsd.c's sock_recv_err describes it.
func drainErrQueue(fd int) bool {
	buf := make([]byte, 0)
	oob := make([]byte, 512)
	_, _, _, _, err := unix.Recvmsg(fd, buf, oob, unix.MSG_ERRQUEUE)
	return err == nil
}

func sockaddrFromUDP(a *net.UDPAddr, family int) unix.Sockaddr {
	if family == unix.AF_INET6 {
		sa := &unix.SockaddrInet6{Port: a.Port}
		if a.IP != nil {
			copy(sa.Addr[:], a.IP.To16())
		}
		return sa
	}
	sa := &unix.SockaddrInet4{Port: a.Port}
	if a.IP != nil {
		copy(sa.Addr[:], a.IP.To4())
	}
	return sa
}

func sockaddrFromEndpoint(e addr.Endpoint) unix.Sockaddr {
	if e.Family == addr.FamilyIPv6 {
		sa := &unix.SockaddrInet6{Port: e.Port}
		if e.IP != nil {
			copy(sa.Addr[:], e.IP.To16())
		}
		return sa
	}
	sa := &unix.SockaddrInet4{Port: e.Port}
	if e.IP != nil {
		copy(sa.Addr[:], e.IP.To4())
	}
	return sa
}

func endpointFromSockaddr(sa unix.Sockaddr) addr.Endpoint {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, v.Addr[:])
		return addr.Endpoint{IP: ip.To16(), Port: v.Port, Family: addr.FamilyIPv4}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, v.Addr[:])
		return addr.Endpoint{IP: ip, Port: v.Port, Family: addr.FamilyIPv6}
	default:
		return addr.Endpoint{}
	}
}
