package registry

import (
	"net/netip"
	"testing"
	"time"

	"github.com/n2n-go/supernode/pkg/wire"
	"github.com/stretchr/testify/require"
)

func addrPort(t *testing.T, s string) netip.AddrPort {
	t.Helper()
	ap, err := netip.ParseAddrPort(s)
	require.NoError(t, err)
	return ap
}

func TestUpsertCreatesThenUpdates(t *testing.T) {
	r := New()
	mac := wire.MAC{1, 2, 3, 4, 5, 6}
	community := wire.NewCommunityName("acme")
	now := time.Unix(1000, 0)

	r.Upsert(community, mac, addrPort(t, "10.0.0.1:40000"), now)
	require.Equal(t, 1, r.Len())

	edge, ok := r.Lookup(mac)
	require.True(t, ok)
	require.Equal(t, addrPort(t, "10.0.0.1:40000"), edge.Sock)
	require.Equal(t, now, edge.LastSeen)

	later := now.Add(5 * time.Second)
	r.Upsert(community, mac, addrPort(t, "10.0.0.1:40001"), later)
	require.Equal(t, 1, r.Len(), "re-registering the same mac must not allocate a second record")

	edge, ok = r.Lookup(mac)
	require.True(t, ok)
	require.Equal(t, addrPort(t, "10.0.0.1:40001"), edge.Sock)
	require.Equal(t, later, edge.LastSeen)
}

func TestRegistrationIdempotence(t *testing.T) {
	r := New()
	mac := wire.MAC{1, 2, 3, 4, 5, 6}
	community := wire.NewCommunityName("acme")
	sock := addrPort(t, "10.0.0.1:40000")

	r.Upsert(community, mac, sock, time.Unix(1000, 0))
	r.Upsert(community, mac, sock, time.Unix(1001, 0))

	require.Equal(t, 1, r.Len())
	edge, ok := r.Lookup(mac)
	require.True(t, ok)
	require.Equal(t, time.Unix(1001, 0), edge.LastSeen)
}

func TestPurgeExpiresStaleRecords(t *testing.T) {
	r := New()
	macA := wire.MAC{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
	community := wire.NewCommunityName("acme")

	r.Upsert(community, macA, addrPort(t, "10.0.0.1:40000"), time.Unix(0, 0))

	removed := r.Purge(time.Unix(61, 0), 60*time.Second)
	require.Equal(t, 1, removed)
	require.Equal(t, 0, r.Len())

	_, ok := r.Lookup(macA)
	require.False(t, ok)
}

func TestPurgeKeepsFreshRecords(t *testing.T) {
	r := New()
	mac := wire.MAC{1, 2, 3, 4, 5, 6}
	r.Upsert(wire.NewCommunityName("acme"), mac, addrPort(t, "10.0.0.1:40000"), time.Unix(0, 0))

	removed := r.Purge(time.Unix(30, 0), 60*time.Second)
	require.Equal(t, 0, removed)
	require.Equal(t, 1, r.Len())
}

func TestPurgeZeroThresholdRemovesEverything(t *testing.T) {
	r := New()
	r.Upsert(wire.NewCommunityName("acme"), wire.MAC{1}, addrPort(t, "10.0.0.1:1"), time.Unix(0, 0))
	r.Upsert(wire.NewCommunityName("acme"), wire.MAC{2}, addrPort(t, "10.0.0.2:1"), time.Unix(0, 0))

	removed := r.Purge(time.Unix(0, 0), 0)
	require.Equal(t, 2, removed)
	require.Equal(t, 0, r.Len())
}
