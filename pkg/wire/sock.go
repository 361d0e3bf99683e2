package wire

import "net/netip"

// Socket addresses are a tagged union of IPv4 or IPv6 plus a UDP port.
// In memory we use netip.AddrPort throughout, which already normalizes
// byte order; the wire form below is the one place that order is
// materialized, per the "convert at the boundary exactly once" rule.
const (
	sockFamilyV4 = 4
	sockFamilyV6 = 6
)

func appendSock(buf []byte, sock netip.AddrPort) []byte {
	addr := sock.Addr()
	if addr.Is4() {
		buf = append(buf, sockFamilyV4)
		b := addr.As4()
		buf = append(buf, b[:]...)
	} else {
		buf = append(buf, sockFamilyV6)
		b := addr.As16()
		buf = append(buf, b[:]...)
	}
	port := sock.Port()
	buf = append(buf, byte(port>>8), byte(port))
	return buf
}

func (c *cursor) takeSock() (netip.AddrPort, bool) {
	family, ok := c.takeByte()
	if !ok {
		return netip.AddrPort{}, false
	}

	var addr netip.Addr
	switch family {
	case sockFamilyV4:
		b, ok := c.take(4)
		if !ok {
			return netip.AddrPort{}, false
		}
		addr = netip.AddrFrom4([4]byte(b))
	case sockFamilyV6:
		b, ok := c.take(16)
		if !ok {
			return netip.AddrPort{}, false
		}
		addr = netip.AddrFrom16([16]byte(b))
	default:
		return netip.AddrPort{}, false
	}

	port, ok := c.takeUint16()
	if !ok {
		return netip.AddrPort{}, false
	}

	return netip.AddrPortFrom(addr, port), true
}
