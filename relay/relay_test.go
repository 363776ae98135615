package relay

import (
	"testing"

	"gortc.io/stun"
	"gortc.io/turn"

	"github.com/gortc/turnrelay/transport"
)

func mustBuild(t *testing.T, setters ...stun.Setter) []byte {
	t.Helper()
	m, err := stun.Build(setters...)
	if err != nil {
		t.Fatalf("build stun message: %v", err)
	}
	return m.Raw
}

// TestPassthroughRecv covers scenario 1: an unrelated datagram from an
// address other than the server, with no bindings, is delivered verbatim.
func TestPassthroughRecv(t *testing.T) {
	tr := transport.NewFake()
	server := endpoint("203.0.113.1", 3478)
	s, err := Create(tr, server, DRAFT9, "", "")
	if err != nil {
		t.Fatal(err)
	}
	from := endpoint("192.168.0.1", 9999)
	tr.Inbound(from, []byte("\x80lalala"))

	buf := make([]byte, 1024)
	got, n := s.Recv(buf)
	if n != 7 || string(buf[:7]) != "\x80lalala" {
		t.Fatalf("got n=%d buf=%q", n, buf[:n])
	}
	if !got.Equal(from) {
		t.Fatalf("got from=%v want %v", got, from)
	}
}

// TestDraft9BindAndSend covers scenario 2.
func TestDraft9BindAndSend(t *testing.T) {
	tr := transport.NewFake()
	server := endpoint("203.0.113.1", 3478)
	peer := endpoint("198.51.100.5", 4000)
	s, err := Create(tr, server, DRAFT9, "user", "pass")
	if err != nil {
		t.Fatal(err)
	}

	if ok := s.SetPeer(peer); !ok {
		t.Fatal("SetPeer should succeed")
	}
	sent := tr.Sent()
	if len(sent) != 1 || !sent[0].To.Equal(server) {
		t.Fatalf("expected one CHANNELBIND request to server, got %+v", sent)
	}
	m := new(stun.Message)
	if _, err := m.Write(sent[0].Data); err != nil {
		t.Fatal(err)
	}
	if m.Type != channelBindRequest {
		t.Fatalf("got type %v, want CHANNELBIND request", m.Type)
	}
	var n turn.ChannelNumber
	if err := n.GetFrom(m); err != nil {
		t.Fatal(err)
	}
	if n != 0x4000 {
		t.Fatalf("got channel %x, want 0x4000", n)
	}

	resp := mustBuild(t, stun.TransactionID, channelBindResponse, stun.Fingerprint)
	tr.Inbound(server, resp)
	buf := make([]byte, 1024)
	_, rn := s.Recv(buf)
	if rn != 0 {
		t.Fatalf("expected CHANNELBIND response to be consumed, got n=%d", rn)
	}
	if len(s.bindings.bindings) != 1 || s.bindings.bindings[0].Channel != 0x4000 {
		t.Fatalf("unexpected bindings: %+v", s.bindings.bindings)
	}
	if s.bindings.pending != nil {
		t.Fatal("pending should be cleared")
	}

	if ok := s.Send(peer, []byte("hi")); !ok {
		t.Fatal("Send should succeed")
	}
	sent = tr.Sent()
	if len(sent) != 1 || !sent[0].To.Equal(server) {
		t.Fatalf("expected one ChannelData frame to server, got %+v", sent)
	}
	want := []byte{0x40, 0x00, 0x00, 0x02, 'h', 'i'}
	if string(sent[0].Data) != string(want) {
		t.Fatalf("got %x, want %x", sent[0].Data, want)
	}
}

// TestDraft9RecvFrame covers scenario 3.
func TestDraft9RecvFrame(t *testing.T) {
	tr := transport.NewFake()
	server := endpoint("203.0.113.1", 3478)
	peer := endpoint("198.51.100.5", 4000)
	s, err := Create(tr, server, DRAFT9, "user", "pass")
	if err != nil {
		t.Fatal(err)
	}
	s.bindings.bindings = []ChannelBinding{{Channel: 0x4000, Peer: peer, State: bindActive}}

	tr.Inbound(server, []byte{0x40, 0x00, 0x00, 0x03, 'a', 'b', 'c'})
	buf := make([]byte, 1024)
	from, n := s.Recv(buf)
	if n != 3 || string(buf[:3]) != "abc" {
		t.Fatalf("got n=%d buf=%q", n, buf[:n])
	}
	if !from.Equal(peer) {
		t.Fatalf("got from=%v want %v", from, peer)
	}
}

// TestMSNLock covers scenario 4.
func TestMSNLock(t *testing.T) {
	tr := transport.NewFake()
	server := endpoint("203.0.113.1", 3478)
	peer1 := endpoint("198.51.100.1", 1)
	peer2 := endpoint("198.51.100.2", 2)
	s, err := Create(tr, server, MSN, "dXNlcg==", "cGFzcw==")
	if err != nil {
		t.Fatal(err)
	}

	if !s.SetPeer(peer1) {
		t.Fatal("SetPeer(peer1) should succeed")
	}
	resp := mustBuild(t, stun.TransactionID, oldSetActiveDestinationResponse, magicCookie{}, stun.Fingerprint)
	tr.Inbound(server, resp)
	buf := make([]byte, 1024)
	if _, n := s.Recv(buf); n != 0 {
		t.Fatalf("expected response to be consumed, got n=%d", n)
	}
	if len(s.bindings.bindings) != 1 || !s.bindings.bindings[0].Peer.Equal(peer1) {
		t.Fatalf("unexpected bindings after first lock: %+v", s.bindings.bindings)
	}

	if !s.SetPeer(peer2) {
		t.Fatal("SetPeer(peer2) should succeed")
	}
	resp2 := mustBuild(t, stun.TransactionID, oldSetActiveDestinationResponse, magicCookie{}, stun.Fingerprint)
	tr.Inbound(server, resp2)
	if _, n := s.Recv(buf); n != 0 {
		t.Fatalf("expected response to be consumed, got n=%d", n)
	}
	if len(s.bindings.bindings) != 1 || !s.bindings.bindings[0].Peer.Equal(peer2) {
		t.Fatalf("expected peer1 evicted, got %+v", s.bindings.bindings)
	}
}

// TestAuthRetry covers scenario 5.
func TestAuthRetry(t *testing.T) {
	tr := transport.NewFake()
	server := endpoint("203.0.113.1", 3478)
	peer := endpoint("198.51.100.5", 4000)
	s, err := Create(tr, server, DRAFT9, "user", "pass")
	if err != nil {
		t.Fatal(err)
	}
	s.SetPeer(peer)
	tr.Sent() // drain the initial unauthenticated request

	errResp := new(stun.Message)
	errResp.TransactionID = stun.NewTransactionID()
	errResp.Type = channelBindError
	errResp.Add(stun.AttrRealm, []byte("r"))
	errResp.Add(stun.AttrNonce, []byte("n"))
	errResp.WriteHeader()
	tr.Inbound(server, errResp.Raw)

	buf := make([]byte, 1024)
	if _, n := s.Recv(buf); n != 0 {
		t.Fatalf("expected error response to be consumed, got n=%d", n)
	}

	sent := tr.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected one retried CHANNELBIND request, got %d", len(sent))
	}
	m := new(stun.Message)
	if _, err := m.Write(sent[0].Data); err != nil {
		t.Fatal(err)
	}
	realm, err := m.Get(stun.AttrRealm)
	if err != nil || string(realm) != "r" {
		t.Fatalf("got realm=%q err=%v", realm, err)
	}
	nonce, err := m.Get(stun.AttrNonce)
	if err != nil || string(nonce) != "n" {
		t.Fatalf("got nonce=%q err=%v", nonce, err)
	}
	if s.bindings.pending == nil || s.bindings.pending.Channel != 0x4000 || !s.bindings.pending.Peer.Equal(peer) {
		t.Fatalf("pending should be unchanged, got %+v", s.bindings.pending)
	}
}

// TestGoogleOptionsFlag covers scenario 6.
func TestGoogleOptionsFlag(t *testing.T) {
	tr := transport.NewFake()
	server := endpoint("203.0.113.1", 3478)
	peer := endpoint("198.51.100.5", 4000)
	s, err := Create(tr, server, GOOGLE, "user", "ignored")
	if err != nil {
		t.Fatal(err)
	}

	if !s.SetPeer(peer) {
		t.Fatal("SetPeer should succeed")
	}
	if sent := tr.Sent(); len(sent) != 0 {
		t.Fatalf("GOOGLE SetPeer should not perform I/O, got %+v", sent)
	}

	if !s.Send(peer, []byte("x")) {
		t.Fatal("Send should succeed")
	}
	sent := tr.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected one SEND request, got %d", len(sent))
	}
	m := new(stun.Message)
	if _, err := m.Write(sent[0].Data); err != nil {
		t.Fatal(err)
	}
	v, ok := getOptions(m)
	if !ok || v&0x1 == 0 {
		t.Fatalf("expected OPTIONS=1, got %d ok=%v", v, ok)
	}
}

func TestPolicyForbidsSetPeerWithoutIO(t *testing.T) {
	tr := transport.NewFake()
	server := endpoint("203.0.113.1", 3478)
	peer := endpoint("198.51.100.5", 4000)
	rule, err := ForbidSubnet("198.51.100.0/24")
	if err != nil {
		t.Fatal(err)
	}
	policy := NewPolicy(Allow, rule)
	s, err := Create(tr, server, DRAFT9, "user", "pass", WithPolicy(policy))
	if err != nil {
		t.Fatal(err)
	}

	if s.SetPeer(peer) {
		t.Fatal("expected SetPeer to be forbidden")
	}
	if sent := tr.Sent(); len(sent) != 0 {
		t.Fatalf("forbidden SetPeer should not perform I/O, got %+v", sent)
	}
	if s.bindings.pending != nil {
		t.Fatal("forbidden SetPeer should not set pending")
	}
}

func TestCloseDropsBindingsAndCredentials(t *testing.T) {
	tr := transport.NewFake()
	server := endpoint("203.0.113.1", 3478)
	peer := endpoint("198.51.100.5", 4000)
	s, err := Create(tr, server, DRAFT9, "user", "pass")
	if err != nil {
		t.Fatal(err)
	}
	s.bindings.bindings = []ChannelBinding{{Channel: 0x4000, Peer: peer, State: bindActive}}
	s.bindings.pending = &ChannelBinding{Channel: 0x4001, Peer: endpoint("198.51.100.6", 4001)}

	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if len(s.bindings.bindings) != 0 || s.bindings.pending != nil {
		t.Fatalf("expected bindings cleared, got %+v", s.bindings)
	}
	if s.credentials.Username != "" || s.credentials.Password != "" {
		t.Fatalf("expected credentials zeroed, got %+v", s.credentials)
	}
	if !tr.Closed() {
		t.Fatal("expected base transport to be closed")
	}
}

func TestOversizeDraft9SendFallsBackToPassthrough(t *testing.T) {
	tr := transport.NewFake()
	server := endpoint("203.0.113.1", 3478)
	peer := endpoint("198.51.100.5", 4000)
	s, err := Create(tr, server, DRAFT9, "user", "pass")
	if err != nil {
		t.Fatal(err)
	}
	s.bindings.bindings = []ChannelBinding{{Channel: 0x4000, Peer: peer, State: bindActive}}

	big := make([]byte, stunMaxMessageSize)
	if !s.Send(peer, big) {
		t.Fatal("Send should report success")
	}
	sent := tr.Sent()
	if len(sent) != 1 || !sent[0].To.Equal(peer) {
		t.Fatalf("expected unframed passthrough direct to peer, got %+v", sent)
	}
	if len(sent[0].Data) != len(big) {
		t.Fatalf("got %d bytes, want %d", len(sent[0].Data), len(big))
	}
}
