package wire

import "net/netip"

// SNM messages share a 16-bit header (type + flags) plus a 32-bit
// sequence number, distinct from the edge-facing Header.
type SNMType uint8

const (
	SNM_REQ_LIST SNMType = 0
	SNM_RSP_LIST SNMType = 1
	SNM_ADV      SNMType = 2
)

type SNMFlags uint8

const (
	SNMFlagSupernodes  SNMFlags = 1 << 0 // S: request supernode list
	SNMFlagCommunities SNMFlags = 1 << 1 // C: request community list
	SNMFlagNameFilter  SNMFlags = 1 << 2 // N: filter by community name list
	SNMFlagAdvertise   SNMFlags = 1 << 3 // A: advertise requested
	SNMFlagEdge        SNMFlags = 1 << 4 // E: edge-originated
)

func (f SNMFlags) Has(bit SNMFlags) bool {
	return f&bit != 0
}

type SNMHeader struct {
	Type  SNMType
	Flags SNMFlags
	Seq   uint32
}

const SNMHeaderSize = 1 + 1 + 4

func EncodeSNMHeader(h SNMHeader) []byte {
	buf := make([]byte, 0, SNMHeaderSize)
	buf = append(buf, byte(h.Type), byte(h.Flags))
	buf = append(buf, byte(h.Seq>>24), byte(h.Seq>>16), byte(h.Seq>>8), byte(h.Seq))
	return buf
}

func DecodeSNMHeader(data []byte) (SNMHeader, []byte, error) {
	c := newCursor(data)

	typ, ok := c.takeByte()
	if !ok {
		return SNMHeader{}, nil, ErrDecode("snm header: truncated type")
	}
	flags, ok := c.takeByte()
	if !ok {
		return SNMHeader{}, nil, ErrDecode("snm header: truncated flags")
	}
	seq, ok := c.takeUint32()
	if !ok {
		return SNMHeader{}, nil, ErrDecode("snm header: truncated seq")
	}

	return SNMHeader{Type: SNMType(typ), Flags: SNMFlags(flags), Seq: seq}, c.restBytes(), nil
}

// SNMReqMsg optionally carries a filter list of community names (present
// when SNMFlagNameFilter is set in the accompanying header) or, when
// SNMFlagEdge is set, the single new community the edge wants to join.
type SNMReqMsg struct {
	Communities []CommunityName
}

func EncodeSNMReq(msg SNMReqMsg) []byte {
	buf := make([]byte, 0, 1+len(msg.Communities)*CommunityNameSize)
	buf = append(buf, byte(len(msg.Communities)))
	for _, c := range msg.Communities {
		buf = append(buf, c[:]...)
	}
	return buf
}

func DecodeSNMReq(data []byte) (SNMReqMsg, error) {
	c := newCursor(data)

	count, ok := c.takeByte()
	if !ok {
		return SNMReqMsg{}, ErrDecode("snm req: truncated count")
	}

	communities := make([]CommunityName, 0, count)
	for i := 0; i < int(count); i++ {
		name, ok := c.takeCommunity()
		if !ok {
			return SNMReqMsg{}, ErrDecode("snm req: truncated community")
		}
		communities = append(communities, name)
	}

	return SNMReqMsg{Communities: communities}, nil
}

// CommunityEntry is a community name and the supernodes known to serve it,
// as carried inside SNMInfoMsg.
type CommunityEntry struct {
	Name       CommunityName
	Supernodes []netip.AddrPort
}

// SNMInfoMsg answers an SNMReqMsg with the responder's supernode and
// community tables, filtered per the request's S/C/N flags.
type SNMInfoMsg struct {
	Supernodes []netip.AddrPort
	Communities []CommunityEntry
}

func EncodeSNMInfo(msg SNMInfoMsg) []byte {
	buf := make([]byte, 0, 256)

	buf = append(buf, byte(len(msg.Supernodes)))
	for _, s := range msg.Supernodes {
		buf = appendSock(buf, s)
	}

	buf = append(buf, byte(len(msg.Communities)))
	for _, ce := range msg.Communities {
		buf = append(buf, ce.Name[:]...)
		buf = append(buf, byte(len(ce.Supernodes)))
		for _, s := range ce.Supernodes {
			buf = appendSock(buf, s)
		}
	}

	return buf
}

func DecodeSNMInfo(data []byte) (SNMInfoMsg, error) {
	c := newCursor(data)

	snCount, ok := c.takeByte()
	if !ok {
		return SNMInfoMsg{}, ErrDecode("snm info: truncated supernode count")
	}
	supernodes := make([]netip.AddrPort, 0, snCount)
	for i := 0; i < int(snCount); i++ {
		s, ok := c.takeSock()
		if !ok {
			return SNMInfoMsg{}, ErrDecode("snm info: truncated supernode")
		}
		supernodes = append(supernodes, s)
	}

	commCount, ok := c.takeByte()
	if !ok {
		return SNMInfoMsg{}, ErrDecode("snm info: truncated community count")
	}
	communities := make([]CommunityEntry, 0, commCount)
	for i := 0; i < int(commCount); i++ {
		name, ok := c.takeCommunity()
		if !ok {
			return SNMInfoMsg{}, ErrDecode("snm info: truncated community name")
		}
		snForComm, ok := c.takeByte()
		if !ok {
			return SNMInfoMsg{}, ErrDecode("snm info: truncated community sn count")
		}
		sns := make([]netip.AddrPort, 0, snForComm)
		for j := 0; j < int(snForComm); j++ {
			s, ok := c.takeSock()
			if !ok {
				return SNMInfoMsg{}, ErrDecode("snm info: truncated community sn")
			}
			sns = append(sns, s)
		}
		communities = append(communities, CommunityEntry{Name: name, Supernodes: sns})
	}

	return SNMInfoMsg{Supernodes: supernodes, Communities: communities}, nil
}

// SNMAdvMsg advertises the sender's own socket plus the communities it
// actively serves.
type SNMAdvMsg struct {
	Sock        netip.AddrPort
	Communities []CommunityName
}

func EncodeSNMAdv(msg SNMAdvMsg) []byte {
	buf := make([]byte, 0, 19+1+len(msg.Communities)*CommunityNameSize)
	buf = appendSock(buf, msg.Sock)
	buf = append(buf, byte(len(msg.Communities)))
	for _, c := range msg.Communities {
		buf = append(buf, c[:]...)
	}
	return buf
}

func DecodeSNMAdv(data []byte) (SNMAdvMsg, error) {
	c := newCursor(data)

	sock, ok := c.takeSock()
	if !ok {
		return SNMAdvMsg{}, ErrDecode("snm adv: truncated sock")
	}
	count, ok := c.takeByte()
	if !ok {
		return SNMAdvMsg{}, ErrDecode("snm adv: truncated community count")
	}
	communities := make([]CommunityName, 0, count)
	for i := 0; i < int(count); i++ {
		name, ok := c.takeCommunity()
		if !ok {
			return SNMAdvMsg{}, ErrDecode("snm adv: truncated community name")
		}
		communities = append(communities, name)
	}

	return SNMAdvMsg{Sock: sock, Communities: communities}, nil
}
