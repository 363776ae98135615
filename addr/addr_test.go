package addr

import (
	"net"
	"testing"
)

func TestEndpoint_Equal(t *testing.T) {
	a := Endpoint{IP: net.ParseIP("192.168.0.1"), Port: 40001, Family: FamilyIPv4}
	b := Endpoint{IP: net.ParseIP("192.168.0.1"), Port: 40001, Family: FamilyIPv4}
	c := Endpoint{IP: net.ParseIP("192.168.0.2"), Port: 40001, Family: FamilyIPv4}
	d := Endpoint{IP: net.ParseIP("192.168.0.1"), Port: 40002, Family: FamilyIPv4}

	if !a.Equal(b) {
		t.Error("a should equal b")
	}
	if a.Equal(c) {
		t.Error("a should not equal c (different IP)")
	}
	if a.Equal(d) {
		t.Error("a should not equal d (different port)")
	}
}

func TestFromUDPAddr(t *testing.T) {
	u := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 1234}
	e := FromUDPAddr(u)
	if e.Family != FamilyIPv4 {
		t.Error("expected IPv4 family")
	}
	if got := e.UDPAddr(); !got.IP.Equal(u.IP) || got.Port != u.Port {
		t.Errorf("round-trip mismatch: got %v", got)
	}
}

func TestFromUDPAddr_V6(t *testing.T) {
	u := &net.UDPAddr{IP: net.ParseIP("::1"), Port: 1234}
	e := FromUDPAddr(u)
	if e.Family != FamilyIPv6 {
		t.Error("expected IPv6 family")
	}
}

func TestEndpoint_String(t *testing.T) {
	e := Endpoint{IP: net.ParseIP("127.0.0.1"), Port: 3478}
	if e.String() != "127.0.0.1:3478" {
		t.Errorf("unexpected string: %s", e.String())
	}
}
