// Package registry implements the EdgeRegistry: the mutable, MAC-keyed
// table mapping an edge's MAC address to its community and last-observed
// UDP socket address, as specified in spec §4.2.
package registry

import (
	"net/netip"
	"sync"
	"time"

	"github.com/n2n-go/supernode/pkg/wire"
)

// Edge is the primary registry entity. (community, MAC) uniquely
// identifies at most one edge record; this registry treats MAC as
// globally unique to match the reference's lookup-by-MAC-alone behavior.
type Edge struct {
	Community wire.CommunityName
	MAC       wire.MAC
	Sock      netip.AddrPort
	LastSeen  time.Time
}

// Registry is the EdgeRegistry: one map, one mutex, generalized from the
// teacher's per-table mutex idiom (RegisterGroup.providersMutex /
// consumersMutex in pkg/surp.go) to a single MAC-keyed table.
type Registry struct {
	mu    sync.RWMutex
	edges map[wire.MAC]*Edge
}

func New() *Registry {
	return &Registry{edges: make(map[wire.MAC]*Edge)}
}

// Lookup returns the edge registered under mac, if any.
func (r *Registry) Lookup(mac wire.MAC) (Edge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.edges[mac]
	if !ok {
		return Edge{}, false
	}
	return *e, true
}

// Upsert creates a new edge record on first sight, or updates the
// existing one's community/socket (only if either changed) and always
// refreshes LastSeen. It never aliases a caller-owned Edge value.
func (r *Registry) Upsert(community wire.CommunityName, mac wire.MAC, sock netip.AddrPort, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.edges[mac]
	if !ok {
		r.edges[mac] = &Edge{
			Community: community,
			MAC:       mac,
			Sock:      sock,
			LastSeen:  now,
		}
		return
	}

	if e.Community != community || e.Sock != sock {
		e.Community = community
		e.Sock = sock
	}
	e.LastSeen = now
}

// Purge drops every record whose age exceeds threshold. A threshold of 0
// drops every record, matching the reference's shutdown-time sweep.
func (r *Registry) Purge(now time.Time, threshold time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for mac, e := range r.edges {
		if threshold == 0 || now.Sub(e.LastSeen) > threshold {
			delete(r.edges, mac)
			removed++
		}
	}
	return removed
}

// Len reports the current number of registered edges.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.edges)
}

// Range calls fn for every edge currently registered, in no particular
// order; it is the iteration primitive the forwarding engine uses for
// community broadcast. fn must not call back into the registry.
func (r *Registry) Range(fn func(Edge) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.edges {
		if !fn(*e) {
			return
		}
	}
}
