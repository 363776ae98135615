package relay

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gortc.io/stun"

	"github.com/gortc/turnrelay/internal/testutil"
	"github.com/gortc/turnrelay/transport"
)

// TestSetPeerAndSendProduceNoErrorLogs drives an ordinary DRAFT9
// bind-and-send sequence through a State built with an observed logger and
// asserts nothing was logged at error level, the way the teacher's server
// tests use internal/testutil.EnsureNoErrors against internal/server.
func TestSetPeerAndSendProduceNoErrorLogs(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := zap.New(core)

	tr := transport.NewFake()
	server := endpoint("203.0.113.1", 3478)
	peer := endpoint("198.51.100.5", 4000)
	s, err := Create(tr, server, DRAFT9, "user", "pass", WithLogger(log))
	if err != nil {
		t.Fatal(err)
	}

	if !s.SetPeer(peer) {
		t.Fatal("SetPeer should succeed")
	}
	resp := mustBuild(t, stun.TransactionID, channelBindResponse, stun.Fingerprint)
	tr.Inbound(server, resp)
	buf := make([]byte, 1024)
	if _, n := s.Recv(buf); n != 0 {
		t.Fatalf("expected CHANNELBIND response to be consumed, got n=%d", n)
	}
	if !s.Send(peer, []byte("hi")) {
		t.Fatal("Send should succeed")
	}

	testutil.EnsureNoErrors(t, logs)
}
