package forward

import (
	"fmt"
	"net/netip"
	"testing"
	"time"

	"github.com/n2n-go/supernode/pkg/registry"
	"github.com/n2n-go/supernode/pkg/stats"
	"github.com/n2n-go/supernode/pkg/wire"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent    []sentMsg
	failFor map[string]bool
}

type sentMsg struct {
	Addr    netip.AddrPort
	Payload []byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{failFor: map[string]bool{}}
}

func (f *fakeSender) SendTo(addr netip.AddrPort, payload []byte) error {
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

func TestTryForwardUnicast(t *testing.T) {
	reg := registry.New()
	sender := newFakeSender()
	counters := stats.New(time.Now())
	engine := New(reg, counters, sender)

	macB := wire.MAC{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb}
	reg.Upsert(wire.NewCommunityName("acme"), macB, addrPort(t, "10.0.0.2:40000"), time.Now())

	sent, err := engine.TryForward(macB, []byte("hi"))
	require.NoError(t, err)
	require.True(t, sent)
	require.Len(t, sender.sent, 1)
	require.Equal(t, addrPort(t, "10.0.0.2:40000"), sender.sent[0].Addr)
	require.Equal(t, uint64(1), counters.Snapshot().Fwd)
}

func TestTryForwardUnknownMACIsSilentDrop(t *testing.T) {
	reg := registry.New()
	sender := newFakeSender()
	counters := stats.New(time.Now())
	engine := New(reg, counters, sender)

	sent, err := engine.TryForward(wire.MAC{0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc}, []byte("hi"))
	require.NoError(t, err)
	require.False(t, sent)
	require.Empty(t, sender.sent)

	snap := counters.Snapshot()
	require.Equal(t, uint64(0), snap.Fwd)
	require.Equal(t, uint64(0), snap.Errors)
}

func TestTryBroadcastSuppressesSourceAndScopesToCommunity(t *testing.T) {
	reg := registry.New()
	sender := newFakeSender()
	counters := stats.New(time.Now())
	engine := New(reg, counters, sender)

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

	sent, failed := engine.TryBroadcast(acme, macA, []byte("hello"))
	require.Equal(t, 2, sent)
	require.Equal(t, 0, failed)
	require.Len(t, sender.sent, 2)

	destinations := map[string]bool{}
	for _, m := range sender.sent {
		destinations[m.Addr.String()] = true
	}
	require.True(t, destinations[addrPort(t, "10.0.0.2:1").String()])
	require.True(t, destinations[addrPort(t, "10.0.0.3:1").String()])
	require.False(t, destinations[addrPort(t, "10.0.0.1:1").String()])
	require.False(t, destinations[addrPort(t, "10.0.0.4:1").String()])

	require.Equal(t, uint64(2), counters.Snapshot().Broadcast)
}

func TestTryBroadcastFailuresDontAbortFanOut(t *testing.T) {
	reg := registry.New()
	sender := newFakeSender()
	counters := stats.New(time.Now())
	engine := New(reg, counters, sender)

	acme := wire.NewCommunityName("acme")
	now := time.Now()
	reg.Upsert(acme, wire.MAC{1}, addrPort(t, "10.0.0.1:1"), now)
	reg.Upsert(acme, wire.MAC{2}, addrPort(t, "10.0.0.2:1"), now)

	sender.failFor[addrPort(t, "10.0.0.1:1").String()] = true

	sent, failed := engine.TryBroadcast(acme, wire.MAC{99}, []byte("x"))
	require.Equal(t, 1, sent)
	require.Equal(t, 1, failed)
	require.Equal(t, uint64(1), counters.Snapshot().Errors)
	require.Equal(t, uint64(1), counters.Snapshot().Broadcast)
}
