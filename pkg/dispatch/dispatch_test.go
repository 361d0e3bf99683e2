package dispatch

import (
	"fmt"
	"net/netip"
	"testing"
	"time"

	"github.com/n2n-go/supernode/pkg/forward"
	"github.com/n2n-go/supernode/pkg/registry"
	"github.com/n2n-go/supernode/pkg/stats"
	"github.com/n2n-go/supernode/pkg/wire"
	"github.com/stretchr/testify/require"
)

type fakeIO struct {
	sent    []sentMsg
	failFor map[string]bool
}

type sentMsg struct {
	Addr    netip.AddrPort
	Payload []byte
}

func newFakeIO() *fakeIO {
	return &fakeIO{failFor: map[string]bool{}}
}

func (f *fakeIO) SendTo(addr netip.AddrPort, payload []byte) error {
	if f.failFor[addr.String()] {
		return fmt.Errorf("send to %s failed", addr)
	}
	f.sent = append(f.sent, sentMsg{Addr: addr, Payload: append([]byte(nil), payload...)})
	return nil
}

func addrPort(t *testing.T, s string) netip.AddrPort {
	t.Helper()
	ap, err := netip.ParseAddrPort(s)
	require.NoError(t, err)
	return ap
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *registry.Registry, *fakeIO, *stats.Counters) {
	t.Helper()
	reg := registry.New()
	io := newFakeIO()
	counters := stats.New(time.Now())
	fwd := forward.New(reg, counters, io)
	d := New(reg, fwd, counters, nil, io, nil, 0)
	return d, reg, io, counters
}

func encodePacket(t *testing.T, community string, ttl uint8, flags wire.Flags, src, dst wire.MAC, sock wire.Optional[netip.AddrPort], payload []byte) []byte {
	t.Helper()
	h := wire.Header{
		Version:   wire.ProtocolVersion,
		TTL:       ttl,
		PC:        wire.PC_PACKET,
		Flags:     flags,
		Community: wire.NewCommunityName(community),
	}
	msg := wire.PacketMsg{SrcMAC: src, DstMAC: dst, Sock: sock, Payload: payload}
	return append(wire.EncodeHeader(h), wire.EncodePacket(msg)...)
}

// S1 — single edge registration.
func TestRegisterSuperRoundTripProducesAck(t *testing.T) {
	d, reg, io, counters := newTestDispatcher(t)

	edgeMAC := wire.MAC{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	cookie := wire.Cookie{0xDE, 0xAD, 0xBE, 0xEF}

	h := wire.Header{
		Version:   wire.ProtocolVersion,
		TTL:       15,
		PC:        wire.PC_REGISTER_SUPER,
		Community: wire.NewCommunityName("acme"),
	}
	body := wire.EncodeRegisterSuper(wire.RegisterSuperMsg{Cookie: cookie, EdgeMAC: edgeMAC})
	datagram := append(wire.EncodeHeader(h), body...)

	src := addrPort(t, "10.0.0.1:40000")
	now := time.Now()
	d.Handle(datagram, src, now)

	require.Equal(t, 1, reg.Len())
	edge, ok := reg.Lookup(edgeMAC)
	require.True(t, ok)
	require.Equal(t, src, edge.Sock)

	require.Len(t, io.sent, 1)
	require.Equal(t, src, io.sent[0].Addr)

	ackHeader, rest, err := wire.DecodeHeader(io.sent[0].Payload)
	require.NoError(t, err)
	require.Equal(t, wire.PC_REGISTER_SUPER_ACK, ackHeader.PC)

	ack, err := wire.DecodeRegisterSuperAck(rest)
	require.NoError(t, err)
	require.Equal(t, cookie, ack.Cookie)
	require.Equal(t, edgeMAC, ack.EdgeMAC)
	require.Equal(t, uint16(120), ack.Lifetime)
	require.Equal(t, src, ack.Sock)
	require.Empty(t, ack.Backups)

	require.Equal(t, uint64(1), counters.Snapshot().RegSuper)
}

// S2 — unicast packet rewrite rule (property 7).
func TestHandlePacketRewritesEdgeOriginatedUnicast(t *testing.T) {
	d, reg, io, _ := newTestDispatcher(t)

	macA := wire.MAC{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
	macB := wire.MAC{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb}

	now := time.Now()
	reg.Upsert(wire.NewCommunityName("acme"), macB, addrPort(t, "10.0.0.2:40000"), now)

	srcAddr := addrPort(t, "10.0.0.1:40000")
	datagram := encodePacket(t, "acme", 15, 0, macA, macB, wire.None[netip.AddrPort](), []byte("hi"))

	d.Handle(datagram, srcAddr, now)

	require.Len(t, io.sent, 1)
	require.Equal(t, addrPort(t, "10.0.0.2:40000"), io.sent[0].Addr)

	outHeader, rest, err := wire.DecodeHeader(io.sent[0].Payload)
	require.NoError(t, err)
	require.True(t, outHeader.Flags.Has(wire.FlagFromSupernode))
	require.True(t, outHeader.Flags.Has(wire.FlagSocket))
	require.Equal(t, uint8(14), outHeader.TTL)

	outMsg, err := wire.DecodePacket(rest, true)
	require.NoError(t, err)
	require.Equal(t, macA, outMsg.SrcMAC)
	require.Equal(t, macB, outMsg.DstMAC)
	require.Equal(t, srcAddr, outMsg.Sock.Get())
	require.Equal(t, []byte("hi"), outMsg.Payload)
}

// S3 — broadcast fan-out with source suppression (properties 3, 4).
func TestHandlePacketBroadcastFansOutWithSuppression(t *testing.T) {
	d, reg, io, _ := newTestDispatcher(t)

	macA := wire.MAC{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
	macB := wire.MAC{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb}
	macC := wire.MAC{0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc}
	macD := wire.MAC{0xdd, 0xdd, 0xdd, 0xdd, 0xdd, 0xdd}

	acme := wire.NewCommunityName("acme")
	other := wire.NewCommunityName("other")

	now := time.Now()
	reg.Upsert(acme, macA, addrPort(t, "10.0.0.1:1"), now)
	reg.Upsert(acme, macB, addrPort(t, "10.0.0.2:1"), now)
	reg.Upsert(acme, macC, addrPort(t, "10.0.0.3:1"), now)
	reg.Upsert(other, macD, addrPort(t, "10.0.0.4:1"), now)

	broadcastMAC := wire.MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	datagram := encodePacket(t, "acme", 15, 0, macA, broadcastMAC, wire.None[netip.AddrPort](), []byte("x"))

	d.Handle(datagram, addrPort(t, "10.0.0.1:1"), now)

	require.Len(t, io.sent, 2)
	dests := map[string]bool{}
	for _, m := range io.sent {
		dests[m.Addr.String()] = true
	}
	require.True(t, dests[addrPort(t, "10.0.0.2:1").String()])
	require.True(t, dests[addrPort(t, "10.0.0.3:1").String()])
	require.False(t, dests[addrPort(t, "10.0.0.1:1").String()])
	require.False(t, dests[addrPort(t, "10.0.0.4:1").String()])
}

// S5 — TTL expiry (property 2).
func TestHandleDropsExpiredTTL(t *testing.T) {
	d, _, io, counters := newTestDispatcher(t)

	macA := wire.MAC{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
	macB := wire.MAC{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb}
	datagram := encodePacket(t, "acme", 0, 0, macA, macB, wire.None[netip.AddrPort](), []byte("x"))

	before := counters.Snapshot()
	d.Handle(datagram, addrPort(t, "10.0.0.1:1"), time.Now())

	require.Empty(t, io.sent)
	after := counters.Snapshot()
	require.Equal(t, before, after)
}

func TestHandlePacketFromSupernodeForwardsUnmodified(t *testing.T) {
	d, reg, io, _ := newTestDispatcher(t)

	macA := wire.MAC{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
	macB := wire.MAC{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb}
	now := time.Now()
	reg.Upsert(wire.NewCommunityName("acme"), macB, addrPort(t, "10.0.0.2:1"), now)

	originSock := addrPort(t, "10.0.0.9:9")
	datagram := encodePacket(t, "acme", 15, wire.FlagFromSupernode|wire.FlagSocket, macA, macB, wire.Of(originSock), []byte("hi"))

	d.Handle(datagram, addrPort(t, "10.0.0.5:5"), now)

	require.Len(t, io.sent, 1)
	outHeader, rest, err := wire.DecodeHeader(io.sent[0].Payload)
	require.NoError(t, err)
	require.True(t, outHeader.Flags.Has(wire.FlagFromSupernode))

	outMsg, err := wire.DecodePacket(rest, true)
	require.NoError(t, err)
	require.Equal(t, originSock, outMsg.Sock.Get())
}

func TestHandleRegisterToMulticastDestinationIsError(t *testing.T) {
	d, _, io, counters := newTestDispatcher(t)

	h := wire.Header{
		Version:   wire.ProtocolVersion,
		TTL:       15,
		PC:        wire.PC_REGISTER,
		Community: wire.NewCommunityName("acme"),
	}
	msg := wire.RegisterMsg{
		SrcMAC: wire.MAC{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa},
		DstMAC: wire.MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
	}
	datagram := append(wire.EncodeHeader(h), wire.EncodeRegister(msg)...)

	before := counters.Snapshot().Errors
	d.Handle(datagram, addrPort(t, "10.0.0.1:1"), time.Now())

	require.Empty(t, io.sent)
	require.Equal(t, before+1, counters.Snapshot().Errors)
}
