package relay

import (
	"encoding/binary"

	"github.com/gortc/turnrelay/addr"
)

// Channel numbers live in this range for DRAFT9. The historic C
// implementation this is grounded on restricted allocation to
// [0x4000,0x7FFF) to match the modern RFC 5766 channel space; this shim
// follows the wider legacy range the original draft-9 server pool actually
// used, [0x4000,0xFFFE].
const (
	channelMin = 0x4000
	channelMax = 0xFFFE
)

// bindState is the lifecycle of one ChannelBinding.
type bindState byte

const (
	bindPending bindState = iota
	bindActive
)

// ChannelBinding associates a DRAFT9 channel number with a peer endpoint.
// MSN and GOOGLE never allocate channel numbers; they track the single
// "active destination" peer as a ChannelBinding with channel 0 instead,
// using state to tell a requested peer apart from a confirmed one.
type ChannelBinding struct {
	Channel uint16
	Peer    addr.Endpoint
	State   bindState
}

// bindingTable holds the at-most-one pending binding plus the ordered
// sequence of active bindings described in udp-turn.c's TurnUdpSocketPriv
// (current_binding is renamed pending here; the binding list is bindings).
type bindingTable struct {
	pending  *ChannelBinding
	bindings []ChannelBinding
}

// byPeer returns the active binding for peer, if any.
func (t *bindingTable) byPeer(peer addr.Endpoint) *ChannelBinding {
	for i := range t.bindings {
		if t.bindings[i].Peer.Equal(peer) {
			return &t.bindings[i]
		}
	}
	return nil
}

// byChannel returns the active binding for channel, if any.
func (t *bindingTable) byChannel(channel uint16) *ChannelBinding {
	for i := range t.bindings {
		if t.bindings[i].Channel == channel {
			return &t.bindings[i]
		}
	}
	return nil
}

// first returns the oldest active binding, used by MSN/GOOGLE passthrough
// classification when no explicit channel or address match applies.
func (t *bindingTable) first() *ChannelBinding {
	if len(t.bindings) == 0 {
		return nil
	}
	return &t.bindings[0]
}

// nextChannel picks the lowest channel number in [channelMin,channelMax]
// not already used by an active or pending binding. The original C loop
// only ever probed channel+1 from the previous allocation and gave up on
// the first collision, which could leak the whole channel space to a
// single stuck allocation; this scans for the lowest free number instead.
func (t *bindingTable) nextChannel() (uint16, bool) {
	used := make(map[uint16]bool, len(t.bindings)+1)
	for _, b := range t.bindings {
		used[b.Channel] = true
	}
	if t.pending != nil {
		used[t.pending.Channel] = true
	}
	for c := channelMin; c <= channelMax; c++ {
		if !used[uint16(c)] {
			return uint16(c), true
		}
	}
	return 0, false
}

// setPending replaces any existing pending binding, DRAFT9's "at most one
// outstanding CHANNELBIND at a time" rule.
func (t *bindingTable) setPending(b ChannelBinding) {
	cp := b
	t.pending = &cp
}

// confirmPending moves the pending binding into the active sequence after
// a successful CHANNELBIND response, replacing any existing binding for
// the same peer.
func (t *bindingTable) confirmPending() *ChannelBinding {
	if t.pending == nil {
		return nil
	}
	b := *t.pending
	b.State = bindActive
	t.pending = nil
	if existing := t.byPeer(b.Peer); existing != nil {
		*existing = b
		return existing
	}
	t.bindings = append(t.bindings, b)
	return &t.bindings[len(t.bindings)-1]
}

// dropPending discards the pending binding. A CHANNELBIND error does not
// drop it: Recv keeps the pending binding and resends the request.
func (t *bindingTable) dropPending() {
	t.pending = nil
}

// lock is the MSN/GOOGLE "active destination" semantics: the pending
// binding, once confirmed, replaces the entire active sequence rather
// than being appended to it, since those dialects support only one peer
// at a time.
func (t *bindingTable) lock() *ChannelBinding {
	if t.pending == nil {
		return nil
	}
	b := *t.pending
	b.State = bindActive
	t.pending = nil
	t.bindings = []ChannelBinding{b}
	return &t.bindings[0]
}

const channelDataHeaderLen = 4

// encodeChannelData frames payload for channel the way udp-turn.c's
// socket_send hand-packs the 4-byte ChannelData header: u16 channel, u16
// length in network order, followed by the payload. gortc.io/turn's own
// ChannelData codec enforces the narrower RFC 5766 channel range and
// would reject numbers this shim's wider legacy allocation range permits,
// so the frame is built directly instead.
func encodeChannelData(channel uint16, payload []byte) []byte {
	out := make([]byte, channelDataHeaderLen+len(payload))
	binary.BigEndian.PutUint16(out[0:2], channel)
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload)))
	copy(out[channelDataHeaderLen:], payload)
	return out
}

// decodeChannelData parses a received datagram as a ChannelData frame. It
// reports ok=false if the buffer is too short or the declared length
// exceeds the remaining bytes, e.g. a truncated datagram. Bytes past the
// declared length are ignored.
func decodeChannelData(b []byte) (channel uint16, payload []byte, ok bool) {
	if len(b) < channelDataHeaderLen {
		return 0, nil, false
	}
	channel = binary.BigEndian.Uint16(b[0:2])
	length := binary.BigEndian.Uint16(b[2:4])
	if int(length) > len(b)-channelDataHeaderLen {
		return 0, nil, false
	}
	return channel, b[channelDataHeaderLen : channelDataHeaderLen+int(length)], true
}
