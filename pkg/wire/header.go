// Package wire implements the binary codec for every supernode message:
// the common edge-facing header, the four edge message bodies (PACKET,
// REGISTER, REGISTER_SUPER, REGISTER_SUPER_ACK), and the
// separate supernode-management (SNM) header and its three message kinds.
// All multi-byte integers are network byte order; every decoder refuses to
// read past the declared size of its input, matching the reference's
// "never read beyond rem" discipline.
package wire

import "fmt"

const (
	ProtocolVersion   = 2
	CommunityNameSize = 16
)

type PacketCode uint8

const (
	PC_PING                PacketCode = 0
	PC_REGISTER            PacketCode = 1
	PC_DEREGISTER          PacketCode = 2
	PC_PACKET              PacketCode = 3
	PC_REGISTER_ACK        PacketCode = 4
	PC_REGISTER_SUPER      PacketCode = 5
	PC_REGISTER_SUPER_ACK  PacketCode = 6
	PC_REGISTER_SUPER_NAK  PacketCode = 7
	PC_FEDERATION          PacketCode = 8
)

type Flags uint16

const (
	FlagFromSupernode Flags = 1 << 0
	FlagSocket        Flags = 1 << 1
)

func (f Flags) Has(bit Flags) bool {
	return f&bit != 0
}

type MAC [6]byte

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsMultiBroadcast reports whether mac is a broadcast/multicast Ethernet
// address per the low-order bit of the first octet, or the all-ones
// broadcast address.
func (m MAC) IsMultiBroadcast() bool {
	if m[0]&0x01 != 0 {
		return true
	}
	return m == (MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
}

type CommunityName [CommunityNameSize]byte

// NewCommunityName builds a null-padded, fixed-width community name from a
// string, truncating names longer than CommunityNameSize.
func NewCommunityName(name string) CommunityName {
	var c CommunityName
	copy(c[:], name)
	return c
}

func (c CommunityName) String() string {
	n := 0
	for n < len(c) && c[n] != 0 {
		n++
	}
	return string(c[:n])
}

type Cookie [4]byte

// Header is the common header present on every edge-facing message.
type Header struct {
	Version   uint8 // 4 bits
	TTL       uint8 // 4 bits
	PC        PacketCode
	Flags     Flags
	Community CommunityName
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, 0, 1+1+2+CommunityNameSize)
	buf = append(buf, (h.Version&0x0F)<<4|(h.TTL&0x0F))
	buf = append(buf, byte(h.PC))
	buf = append(buf, byte(h.Flags>>8), byte(h.Flags))
	buf = append(buf, h.Community[:]...)
	return buf
}

func DecodeHeader(data []byte) (Header, []byte, error) {
	c := newCursor(data)

	vt, ok := c.takeByte()
	if !ok {
		return Header{}, nil, ErrDecode("header: truncated version/ttl")
	}
	pc, ok := c.takeByte()
	if !ok {
		return Header{}, nil, ErrDecode("header: truncated packet code")
	}
	flags, ok := c.takeUint16()
	if !ok {
		return Header{}, nil, ErrDecode("header: truncated flags")
	}
	community, ok := c.takeCommunity()
	if !ok {
		return Header{}, nil, ErrDecode("header: truncated community")
	}

	h := Header{
		Version: vt >> 4,
		TTL:     vt & 0x0F,
		PC:      PacketCode(pc),
		Flags:   Flags(flags),
		Community: community,
	}

	if h.Version != ProtocolVersion {
		return Header{}, nil, ErrDecode(fmt.Sprintf("header: unsupported version %d", h.Version))
	}

	return h, c.restBytes(), nil
}

// HeaderSize is the fixed on-wire size of Header.
const HeaderSize = 1 + 1 + 2 + CommunityNameSize
