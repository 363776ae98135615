// Package addr implements a protocol-neutral endpoint type shared by the
// relay shim and its transports.
package addr

import (
	"fmt"
	"net"
)

// Family tags the IP version carried by an Endpoint.
type Family byte

// Supported families.
const (
	FamilyUnknown Family = iota
	FamilyIPv4
	FamilyIPv6
)

func familyOf(ip net.IP) Family {
	if ip == nil {
		return FamilyUnknown
	}
	if ip.To4() != nil {
		return FamilyIPv4
	}
	return FamilyIPv6
}

// Endpoint is an IP+port pair, family-tagged the way libnice's NiceAddress
// is: equality and wire conversion never need to guess the family back out
// of the byte length.
type Endpoint struct {
	IP     net.IP
	Port   int
	Family Family
}

// FromUDPAddr builds an Endpoint from a resolved net.UDPAddr, the Go
// equivalent of nice_address_set_from_sockaddr.
func FromUDPAddr(a *net.UDPAddr) Endpoint {
	ip := a.IP
	return Endpoint{
		IP:     ip,
		Port:   a.Port,
		Family: familyOf(ip),
	}
}

// UDPAddr converts the Endpoint back to the OS wire form, the equivalent of
// nice_address_copy_to_sockaddr.
func (e Endpoint) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: e.IP, Port: e.Port}
}

// Equal compares family, address bytes and port.
func (e Endpoint) Equal(o Endpoint) bool {
	if e.Family != o.Family {
		return false
	}
	if e.Port != o.Port {
		return false
	}
	return e.IP.Equal(o.IP)
}

// IsZero reports whether e carries no address.
func (e Endpoint) IsZero() bool {
	return e.IP == nil && e.Port == 0
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IP, e.Port)
}

// Network implements net.Addr.
func (e Endpoint) Network() string { return "udp" }
