package wire

import "net/netip"

// PacketMsg carries a tunneled Ethernet frame. Sock is present only when
// the header's FlagSocket bit is set.
type PacketMsg struct {
	SrcMAC  MAC
	DstMAC  MAC
	Sock    Optional[netip.AddrPort]
	Payload []byte
}

func EncodePacket(msg PacketMsg) []byte {
	buf := make([]byte, 0, 6+6+19+len(msg.Payload))
	buf = append(buf, msg.SrcMAC[:]...)
	buf = append(buf, msg.DstMAC[:]...)
	if msg.Sock.IsDefined() {
		buf = appendSock(buf, msg.Sock.Get())
	}
	buf = append(buf, msg.Payload...)
	return buf
}

func DecodePacket(data []byte, withSock bool) (PacketMsg, error) {
	c := newCursor(data)

	srcMAC, ok := c.takeMAC()
	if !ok {
		return PacketMsg{}, ErrDecode("packet: truncated src mac")
	}
	dstMAC, ok := c.takeMAC()
	if !ok {
		return PacketMsg{}, ErrDecode("packet: truncated dst mac")
	}

	var sock Optional[netip.AddrPort]
	if withSock {
		s, ok := c.takeSock()
		if !ok {
			return PacketMsg{}, ErrDecode("packet: truncated sock")
		}
		sock = Of(s)
	}

	return PacketMsg{
		SrcMAC:  srcMAC,
		DstMAC:  dstMAC,
		Sock:    sock,
		Payload: c.restBytes(),
	}, nil
}

// RegisterMsg is the edge-to-edge (supernode-relayed) registration hint.
type RegisterMsg struct {
	Cookie Cookie
	SrcMAC MAC
	DstMAC MAC
	Sock   Optional[netip.AddrPort]
}

func EncodeRegister(msg RegisterMsg) []byte {
	buf := make([]byte, 0, 4+6+6+19)
	buf = append(buf, msg.Cookie[:]...)
	buf = append(buf, msg.SrcMAC[:]...)
	buf = append(buf, msg.DstMAC[:]...)
	if msg.Sock.IsDefined() {
		buf = appendSock(buf, msg.Sock.Get())
	}
	return buf
}

func DecodeRegister(data []byte, withSock bool) (RegisterMsg, error) {
	c := newCursor(data)

	cookie, ok := c.takeCookie()
	if !ok {
		return RegisterMsg{}, ErrDecode("register: truncated cookie")
	}
	srcMAC, ok := c.takeMAC()
	if !ok {
		return RegisterMsg{}, ErrDecode("register: truncated src mac")
	}
	dstMAC, ok := c.takeMAC()
	if !ok {
		return RegisterMsg{}, ErrDecode("register: truncated dst mac")
	}

	var sock Optional[netip.AddrPort]
	if withSock {
		s, ok := c.takeSock()
		if !ok {
			return RegisterMsg{}, ErrDecode("register: truncated sock")
		}
		sock = Of(s)
	}

	return RegisterMsg{
		Cookie: cookie,
		SrcMAC: srcMAC,
		DstMAC: dstMAC,
		Sock:   sock,
	}, nil
}

// RegisterSuperMsg is an edge's registration request to this supernode.
type RegisterSuperMsg struct {
	Cookie    Cookie
	EdgeMAC   MAC
	AuthToken [4]byte
}

func EncodeRegisterSuper(msg RegisterSuperMsg) []byte {
	buf := make([]byte, 0, 4+6+4)
	buf = append(buf, msg.Cookie[:]...)
	buf = append(buf, msg.EdgeMAC[:]...)
	buf = append(buf, msg.AuthToken[:]...)
	return buf
}

func DecodeRegisterSuper(data []byte) (RegisterSuperMsg, error) {
	c := newCursor(data)

	cookie, ok := c.takeCookie()
	if !ok {
		return RegisterSuperMsg{}, ErrDecode("register_super: truncated cookie")
	}
	edgeMAC, ok := c.takeMAC()
	if !ok {
		return RegisterSuperMsg{}, ErrDecode("register_super: truncated mac")
	}
	tokenBytes, ok := c.take(4)
	if !ok {
		return RegisterSuperMsg{}, ErrDecode("register_super: truncated auth token")
	}

	var token [4]byte
	copy(token[:], tokenBytes)

	return RegisterSuperMsg{
		Cookie:    cookie,
		EdgeMAC:   edgeMAC,
		AuthToken: token,
	}, nil
}

// RegisterSuperAckMsg is this supernode's reply to a RegisterSuperMsg,
// optionally carrying a backup-supernode list for a federated community.
type RegisterSuperAckMsg struct {
	Cookie   Cookie
	EdgeMAC  MAC
	Lifetime uint16
	Sock     netip.AddrPort
	Backups  []netip.AddrPort
}

// MaxBackupSupernodes is the byte-width cap on num_sn (spec §9: "num_sn is
// a byte; cap advertised list at 255 and truncate silently").
const MaxBackupSupernodes = 255

func EncodeRegisterSuperAck(msg RegisterSuperAckMsg) []byte {
	backups := msg.Backups
	if len(backups) > MaxBackupSupernodes {
		backups = backups[:MaxBackupSupernodes]
	}

	buf := make([]byte, 0, 4+6+2+19+1+len(backups)*19)
	buf = append(buf, msg.Cookie[:]...)
	buf = append(buf, msg.EdgeMAC[:]...)
	buf = append(buf, byte(msg.Lifetime>>8), byte(msg.Lifetime))
	buf = appendSock(buf, msg.Sock)
	buf = append(buf, byte(len(backups)))
	for _, b := range backups {
		buf = appendSock(buf, b)
	}
	return buf
}

func DecodeRegisterSuperAck(data []byte) (RegisterSuperAckMsg, error) {
	c := newCursor(data)

	cookie, ok := c.takeCookie()
	if !ok {
		return RegisterSuperAckMsg{}, ErrDecode("register_super_ack: truncated cookie")
	}
	edgeMAC, ok := c.takeMAC()
	if !ok {
		return RegisterSuperAckMsg{}, ErrDecode("register_super_ack: truncated mac")
	}
	lifetime, ok := c.takeUint16()
	if !ok {
		return RegisterSuperAckMsg{}, ErrDecode("register_super_ack: truncated lifetime")
	}
	sock, ok := c.takeSock()
	if !ok {
		return RegisterSuperAckMsg{}, ErrDecode("register_super_ack: truncated sock")
	}
	numSN, ok := c.takeByte()
	if !ok {
		return RegisterSuperAckMsg{}, ErrDecode("register_super_ack: truncated num_sn")
	}

	backups := make([]netip.AddrPort, 0, numSN)
	for i := 0; i < int(numSN); i++ {
		s, ok := c.takeSock()
		if !ok {
			return RegisterSuperAckMsg{}, ErrDecode("register_super_ack: truncated backup sock")
		}
		backups = append(backups, s)
	}

	return RegisterSuperAckMsg{
		Cookie:   cookie,
		EdgeMAC:  edgeMAC,
		Lifetime: lifetime,
		Sock:     sock,
		Backups:  backups,
	}, nil
}
