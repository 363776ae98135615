// Package relay implements the TURN client relay shim: the channel-binding
// state machine, outbound datagram framing, and inbound datagram
// classification that let a plain datagram transport behave like an
// ordinary unreliable socket to its caller while every byte actually
// travels through a TURN server.
package relay

import (
	"encoding/base64"
	"net"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gortc.io/stun"
	"gortc.io/turn"

	"github.com/gortc/turnrelay/addr"
	"github.com/gortc/turnrelay/metrics"
	"github.com/gortc/turnrelay/transport"
)

// stunMaxMessageSize bounds how large a framed STUN message (or ChannelData
// frame) is allowed to get before outbound framing falls back to
// passthrough, avoiding IP fragmentation of relayed traffic.
const stunMaxMessageSize = 1500

// Credentials is the (username, password) pair a State authenticates with.
// GOOGLE never uses Password; it is kept for symmetry with the other two
// dialects and zeroed on Close like the rest of the pair.
type Credentials struct {
	Username string
	Password string
}

func (c *Credentials) clear() {
	c.Username = ""
	c.Password = ""
}

// State is the TURN relay shim core: a per-peer channel binding state
// machine plus the dialect-specific framing and parsing rules described by
// its package documentation. It owns exactly one transport.Transport and
// is single-threaded cooperative — SetPeer, Send, Recv, and Close are never
// called concurrently on the same State.
type State struct {
	server addr.Endpoint
	base   transport.Transport

	dialect     Dialect
	credentials Credentials

	bindings bindingTable

	// realm/nonce/integrity are populated after a DRAFT9 CHANNELBIND error
	// response carries REALM/NONCE, and used for the authenticated retry of
	// the pending binding. The first CHANNELBIND sent by SetPeer never
	// carries them.
	realm     stun.Realm
	nonce     stun.Nonce
	integrity stun.MessageIntegrity

	policy  *Policy
	metrics *metrics.Relay
	log     *zap.Logger
}

// Option configures optional State components.
type Option func(*State)

// WithPolicy attaches a peer policy gate consulted by SetPeer.
func WithPolicy(p *Policy) Option {
	return func(s *State) { s.policy = p }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Relay) Option {
	return func(s *State) { s.metrics = m }
}

// WithLogger attaches a logger. The State logs STUN message build failures
// at debug level; binding state transitions are not logged.
func WithLogger(log *zap.Logger) Option {
	return func(s *State) { s.log = log }
}

// Create builds a State bound to base, relaying through server using
// dialect. For MSN, username and password are base64-decoded; for DRAFT9
// and GOOGLE they are taken verbatim as UTF-8, and GOOGLE ignores
// password entirely.
func Create(base transport.Transport, server addr.Endpoint, dialect Dialect, username, password string, opts ...Option) (*State, error) {
	creds := Credentials{Username: username, Password: password}
	if dialect == MSN {
		if username != "" {
			decoded, err := base64.StdEncoding.DecodeString(username)
			if err != nil {
				return nil, err
			}
			creds.Username = string(decoded)
		}
		if password != "" {
			decoded, err := base64.StdEncoding.DecodeString(password)
			if err != nil {
				return nil, err
			}
			creds.Password = string(decoded)
		}
	}
	if dialect == GOOGLE {
		creds.Password = ""
	}
	s := &State{
		server:      server,
		base:        base,
		dialect:     dialect,
		credentials: creds,
		log:         zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *State) logf() *zap.Logger {
	if s.log == nil {
		return zap.NewNop()
	}
	return s.log
}

// setCredentials swaps the active credentials without disturbing any
// bindings or pending state. Used by Updater on a hot-reload.
func (s *State) setCredentials(c Credentials) {
	s.credentials = c
}

// SetPeer registers intent to relay to peer. It fails without performing
// any I/O if policy forbids peer, a pending binding already exists, peer
// is already bound, or (DRAFT9 only) the channel space is exhausted.
func (s *State) SetPeer(peer addr.Endpoint) bool {
	if !Allowed(s.policy, peer) {
		return false
	}
	if s.bindings.pending != nil {
		return false
	}
	if s.bindings.byPeer(peer) != nil {
		return false
	}

	switch s.dialect {
	case DRAFT9:
		channel, ok := s.bindings.nextChannel()
		if !ok {
			return false
		}
		s.sendChannelBind(channel, peer, false)
		s.bindings.setPending(ChannelBinding{Channel: channel, Peer: peer, State: bindPending})
	case MSN:
		s.sendOldSetActiveDestination(peer)
		s.bindings.setPending(ChannelBinding{Peer: peer, State: bindPending})
	case GOOGLE:
		s.bindings.setPending(ChannelBinding{Peer: peer, State: bindPending})
	}
	s.metrics.PendingSet()
	return true
}

func (s *State) sendChannelBind(channel uint16, peer addr.Endpoint, authed bool) {
	setters := []stun.Setter{
		stun.TransactionID,
		channelBindRequest,
		turn.ChannelNumber(channel),
		turn.PeerAddress{IP: peer.IP, Port: peer.Port},
	}
	if s.credentials.Username != "" {
		setters = append(setters, stun.Username(s.credentials.Username))
	}
	if authed {
		setters = append(setters, s.nonce, s.realm, s.integrity)
		s.metrics.AuthRetried()
	}
	setters = append(setters, stun.Fingerprint)
	s.buildAndSend(setters)
}

func (s *State) sendOldSetActiveDestination(peer addr.Endpoint) {
	setters := []stun.Setter{
		stun.TransactionID,
		oldSetActiveDestinationRequest,
		magicCookie{},
	}
	if s.credentials.Username != "" {
		setters = append(setters, stun.Username(s.credentials.Username))
	}
	setters = append(setters, plainAddr{attr: attrDestinationAddress, ip: peer.IP, port: peer.Port})
	if s.credentials.Password != "" {
		setters = append(setters, stun.NewShortTermIntegrity(s.credentials.Password))
	}
	setters = append(setters, stun.Fingerprint)
	s.buildAndSend(setters)
}

func (s *State) buildAndSend(setters []stun.Setter) bool {
	m := new(stun.Message)
	if err := m.Build(setters...); err != nil {
		s.logf().Debug("failed to build stun message", zap.Error(errors.Wrap(err, "build stun message")))
		return false
	}
	s.base.Send(s.server, m.Raw)
	return true
}

// Send dispatches data to peer, choosing framing per the outbound matrix:
// ChannelData when peer has a DRAFT9 binding and the frame fits, a STUN
// SEND indication/request otherwise, falling back to an unframed
// passthrough send to peer on any build failure or oversize payload. It
// always returns true once a send was dispatched, mirroring the
// fire-and-forget contract of the underlying unreliable transport.
func (s *State) Send(peer addr.Endpoint, data []byte) bool {
	if s.dialect == DRAFT9 {
		if b := s.bindings.byPeer(peer); b != nil {
			if channelDataHeaderLen+len(data) <= stunMaxMessageSize {
				frame := encodeChannelData(b.Channel, data)
				s.base.Send(s.server, frame)
				s.metrics.BytesSentFramed(len(data))
				return true
			}
			// Oversize: fall through to passthrough below.
			return s.passthrough(peer, data)
		}
		return s.sendIndication(peer, data)
	}
	return s.sendLegacyRequest(peer, data)
}

func (s *State) sendIndication(peer addr.Endpoint, data []byte) bool {
	setters := []stun.Setter{
		stun.TransactionID,
		stun.NewType(stun.MethodSend, stun.ClassIndication),
		turn.PeerAddress{IP: peer.IP, Port: peer.Port},
	}
	setters = append(setters, rawData(data), stun.Fingerprint)
	if ok := s.buildAndSend(setters); !ok {
		return s.passthrough(peer, data)
	}
	s.metrics.BytesSentFramed(len(data))
	return true
}

func (s *State) sendLegacyRequest(peer addr.Endpoint, data []byte) bool {
	setters := []stun.Setter{
		stun.TransactionID,
		sendRequest,
		magicCookie{},
	}
	if s.credentials.Username != "" {
		setters = append(setters, stun.Username(s.credentials.Username))
	}
	setters = append(setters, plainAddr{attr: attrDestinationAddress, ip: peer.IP, port: peer.Port})
	setters = append(setters, rawData(data))
	if s.dialect == GOOGLE && s.bindings.pending != nil && s.bindings.pending.Peer.Equal(peer) {
		setters = append(setters, options(1))
	}
	if s.dialect == MSN && s.credentials.Password != "" {
		setters = append(setters, stun.NewShortTermIntegrity(s.credentials.Password))
	}
	setters = append(setters, stun.Fingerprint)
	if ok := s.buildAndSend(setters); !ok {
		return s.passthrough(peer, data)
	}
	s.metrics.BytesSentFramed(len(data))
	return true
}

func (s *State) passthrough(peer addr.Endpoint, data []byte) bool {
	s.base.Send(peer, data)
	s.metrics.BytesSentPassthrough(len(data))
	return true
}

// Recv reads one datagram from the base transport and classifies it. A
// negative n reports a base-transport failure. n == 0 with a zero from
// means a control message was fully consumed internally (a CHANNELBIND
// response, an auth challenge, a lock trigger). Otherwise n is the number
// of user-visible bytes written to buf and from is the originating peer.
func (s *State) Recv(buf []byte) (from addr.Endpoint, n int) {
	scratch := make([]byte, len(buf)+channelDataHeaderLen+64)
	recvFrom, recvLen := s.base.Recv(scratch)
	if recvLen < 0 {
		return addr.Endpoint{}, -1
	}
	recvBuf := scratch[:recvLen]

	if recvFrom.Equal(s.server) {
		if from, n, handled := s.classifyControl(recvBuf, buf); handled {
			return from, n
		}
	}
	return s.classifyData(recvFrom, recvBuf, buf)
}

// classifyControl attempts STUN validation of raw against the server. It
// reports handled=true when the datagram is a SEND, OLD_SET_ACTIVE_DESTINATION
// or CHANNELBIND response (consumed as control traffic, n==0) or a data
// indication carrying both an address and DATA (user data extracted). Any
// other datagram, STUN or not, reports handled=false.
func (s *State) classifyControl(raw, buf []byte) (from addr.Endpoint, n int, handled bool) {
	m := new(stun.Message)
	if _, err := m.Write(raw); err != nil {
		return addr.Endpoint{}, 0, false
	}
	if s.dialect != DRAFT9 && !hasValidMagicCookie(m) {
		return addr.Endpoint{}, 0, false
	}

	switch m.Type {
	case sendResponse:
		if s.dialect == GOOGLE {
			if opt, ok := getOptions(m); ok && opt&0x1 != 0 {
				s.bindings.lock()
				s.metrics.LockTriggered()
			}
		}
		return addr.Endpoint{}, 0, true
	case oldSetActiveDestinationResponse:
		if s.dialect == MSN {
			s.bindings.lock()
			s.metrics.LockTriggered()
		}
		return addr.Endpoint{}, 0, true
	case channelBindError:
		if s.bindings.pending != nil {
			_ = s.nonce.GetFrom(m)
			_ = s.realm.GetFrom(m)
			s.integrity = stun.NewLongTermIntegrity(
				s.credentials.Username, s.realm.String(), s.credentials.Password,
			)
			s.sendChannelBind(s.bindings.pending.Channel, s.bindings.pending.Peer, true)
		}
		return addr.Endpoint{}, 0, true
	case channelBindResponse:
		if s.bindings.pending != nil {
			s.bindings.confirmPending()
			s.metrics.BindingInstalled()
		}
		return addr.Endpoint{}, 0, true
	case dataIndication:
		return s.recvDataIndication(m, buf)
	default:
		return addr.Endpoint{}, 0, false
	}
}

func (s *State) recvDataIndication(m *stun.Message, buf []byte) (addr.Endpoint, int, bool) {
	payload, err := m.Get(stun.AttrData)
	if err != nil {
		return addr.Endpoint{}, 0, false
	}
	var ep addr.Endpoint
	if s.dialect == DRAFT9 {
		var pa turn.PeerAddress
		if err := pa.GetFrom(m); err != nil {
			return addr.Endpoint{}, 0, false
		}
		ep = addr.FromUDPAddr(&net.UDPAddr{IP: pa.IP, Port: pa.Port})
	} else {
		ip, port, err := getPlainAddr(m, attrRemoteAddress)
		if err != nil {
			return addr.Endpoint{}, 0, false
		}
		ep = addr.FromUDPAddr(&net.UDPAddr{IP: ip, Port: port})
	}
	n := copy(buf, payload)
	s.metrics.BytesReceivedData(n)
	return ep, n, true
}

// classifyData treats raw as possibly a ChannelData frame (DRAFT9) or a
// raw passthrough payload (other dialects / unmatched DRAFT9 frames).
func (s *State) classifyData(recvFrom addr.Endpoint, raw, buf []byte) (addr.Endpoint, int) {
	if s.dialect == DRAFT9 {
		if channel, payload, ok := decodeChannelData(raw); ok {
			if b := s.bindings.byChannel(channel); b != nil {
				n := copy(buf, payload)
				s.metrics.BytesReceivedData(n)
				return b.Peer, n
			}
		}
		n := copy(buf, raw)
		s.metrics.BytesReceivedData(n)
		return recvFrom, n
	}
	from := recvFrom
	if b := s.bindings.first(); b != nil {
		from = b.Peer
	}
	n := copy(buf, raw)
	s.metrics.BytesReceivedData(n)
	return from, n
}

// Close drops all bindings, zero-clears credentials, and closes the
// owned base transport.
func (s *State) Close() error {
	s.bindings = bindingTable{}
	s.credentials.clear()
	s.integrity = nil
	return s.base.Close()
}

// rawData is a minimal stun.Setter for the DATA attribute: the payload is
// carried verbatim, with no encoding of its own.
type rawData []byte

func (d rawData) AddTo(m *stun.Message) error {
	m.Add(stun.AttrData, d)
	return nil
}
