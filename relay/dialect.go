package relay

import (
	"encoding/binary"
	"errors"
	"net"

	"gortc.io/stun"
)

// Dialect selects one of the three wire compatibility modes a State can
// speak with its TURN server.
type Dialect byte

// Supported dialects.
const (
	// DRAFT9 is the pre-RFC5766 behave-turn CHANNELBIND dialect: long-term
	// credentials, XOR-mapped peer addresses, channel data framing.
	DRAFT9 Dialect = iota
	// MSN is the legacy MSN-TURN dialect: short-term credentials, plain
	// (non-XOR) mapped addresses, no per-indication authentication.
	MSN
	// GOOGLE is the legacy Google relay dialect: like MSN but credentials
	// are never checked against the message (ignore-credentials) and SEND
	// requests to the currently pending peer carry OPTIONS=1.
	GOOGLE
)

func (d Dialect) String() string {
	switch d {
	case DRAFT9:
		return "draft9"
	case MSN:
		return "msn"
	case GOOGLE:
		return "google"
	default:
		return "unknown"
	}
}

// turnMagicCookie is the fixed discriminator MSN/GOOGLE control messages
// carry in the MAGIC_COOKIE attribute, matching libnice's TURN_MAGIC_COOKIE.
const turnMagicCookie uint32 = 0x72C64BC6

// Non-standard method/attribute identifiers used by the legacy MSN/GOOGLE
// dialects. gortc.io/turn only implements current RFC 5766, which has no
// OLD_SET_ACTIVE_DESTINATION method nor MAGIC_COOKIE/OPTIONS/
// DESTINATION_ADDRESS/REMOTE_ADDRESS attributes, so these are defined here
// directly on top of gortc.io/stun the same way gortc.io/turn defines its
// own method shorthands in turn.go.
var (
	// MethodOldSetActiveDestination is the historic MSN-TURN "Set Active
	// Destination" method, numbered outside the RFC 5766 method space.
	MethodOldSetActiveDestination = stun.Method(0x0020)

	oldSetActiveDestinationRequest  = stun.NewType(MethodOldSetActiveDestination, stun.ClassRequest)
	oldSetActiveDestinationResponse = stun.NewType(MethodOldSetActiveDestination, stun.ClassSuccessResponse)

	sendRequest  = stun.NewType(stun.MethodSend, stun.ClassRequest)
	sendResponse = stun.NewType(stun.MethodSend, stun.ClassSuccessResponse)
	sendError    = stun.NewType(stun.MethodSend, stun.ClassErrorResponse)

	dataIndication = stun.NewType(stun.MethodData, stun.ClassIndication)

	channelBindRequest  = stun.NewType(stun.MethodChannelBind, stun.ClassRequest)
	channelBindResponse = stun.NewType(stun.MethodChannelBind, stun.ClassSuccessResponse)
	channelBindError    = stun.NewType(stun.MethodChannelBind, stun.ClassErrorResponse)
)

// Attribute codes in the comprehension-optional range (RFC 5389 section
// 18.2) reserved for the legacy dialects.
const (
	attrMagicCookie        = stun.AttrType(0xC000)
	attrDestinationAddress = stun.AttrType(0xC001)
	attrRemoteAddress      = stun.AttrType(0xC002)
	attrOptions            = stun.AttrType(0xC003)
)

var errBadAddrAttr = errors.New("relay: malformed address attribute")

// magicCookie implements stun.Setter/Getter for the fixed MAGIC_COOKIE
// attribute MSN/GOOGLE control messages carry.
type magicCookie struct{}

func (magicCookie) AddTo(m *stun.Message) error {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, turnMagicCookie)
	m.Add(attrMagicCookie, v)
	return nil
}

func hasValidMagicCookie(m *stun.Message) bool {
	v, err := m.Get(attrMagicCookie)
	if err != nil || len(v) != 4 {
		return false
	}
	return binary.BigEndian.Uint32(v) == turnMagicCookie
}

// options implements stun.Setter for the OPTIONS attribute GOOGLE uses to
// flag a SEND request targeting the pending binding's peer.
type options uint32

func (o options) AddTo(m *stun.Message) error {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, uint32(o))
	m.Add(attrOptions, v)
	return nil
}

func getOptions(m *stun.Message) (uint32, bool) {
	v, err := m.Get(attrOptions)
	if err != nil || len(v) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

// plainAddr implements a plain (non-XOR) MAPPED-ADDRESS style attribute
// under an arbitrary attribute code, the encoding DESTINATION_ADDRESS and
// the non-DRAFT9 REMOTE_ADDRESS use. Format matches RFC 5389 section 15.1:
// one reserved byte, one family byte, the port, then the address bytes.
type plainAddr struct {
	attr stun.AttrType
	ip   net.IP
	port int
}

func (a plainAddr) AddTo(m *stun.Message) error {
	ip4 := a.ip.To4()
	family := byte(0x02)
	addrBytes := a.ip.To16()
	if ip4 != nil {
		family = 0x01
		addrBytes = ip4
	}
	v := make([]byte, 4+len(addrBytes))
	v[1] = family
	binary.BigEndian.PutUint16(v[2:4], uint16(a.port))
	copy(v[4:], addrBytes)
	m.Add(a.attr, v)
	return nil
}

func getPlainAddr(m *stun.Message, attr stun.AttrType) (net.IP, int, error) {
	v, err := m.Get(attr)
	if err != nil {
		return nil, 0, err
	}
	if len(v) < 4 {
		return nil, 0, errBadAddrAttr
	}
	family := v[1]
	port := int(binary.BigEndian.Uint16(v[2:4]))
	addrBytes := v[4:]
	switch family {
	case 0x01:
		if len(addrBytes) != net.IPv4len {
			return nil, 0, errBadAddrAttr
		}
	case 0x02:
		if len(addrBytes) != net.IPv6len {
			return nil, 0, errBadAddrAttr
		}
	default:
		return nil, 0, errBadAddrAttr
	}
	ip := make(net.IP, len(addrBytes))
	copy(ip, addrBytes)
	return ip, port, nil
}
