// Package coordinator implements the SupernodeCoordinator: the optional
// peer-supernode discovery and community-federation feature. Its
// DISCOVERY/READY state machine and file-backed peer/community sets
// generalize the teacher's advertise/join bookkeeping in
// RegisterGroup.advertiseLoop and the provider/consumer merge-by-name
// idiom (pkg/provider/provider.go, pkg/consumer/consumer.go) from a
// single multicast group onto a set of unicast SNM peers.
package coordinator

import (
	"log"
	"net/netip"
	"sync"
	"time"

	"github.com/n2n-go/supernode/pkg/wire"
)

// State is the coordinator's discovery state machine (spec §4.6).
type State int

const (
	Discovery State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "READY"
	}
	return "DISCOVERY"
}

const (
	// DiscoveryInterval is N2N_SUPER_DISCOVERY_INTERVAL: how long the
	// coordinator waits in DISCOVERY before promoting under-replicated
	// communities and transitioning to READY.
	DiscoveryInterval = 30 * time.Second

	// MinSNPerComm is N2N_MIN_SN_PER_COMM: a community learned via query
	// with fewer supernodes than this is still "under-replicated".
	MinSNPerComm = 2

	// MaxCommPerSN is N2N_MAX_COMM_PER_SN: the cap on communities
	// promoted into the active set on a single discovery tick.
	MaxCommPerSN = 64
)

// Community is a federated community's supernode membership (spec §3).
type Community struct {
	Name       wire.CommunityName
	Supernodes []netip.AddrPort
	Persist    bool
}

// Sender abstracts the SNM socket a coordinator sends REQ/INFO/ADV
// datagrams on, the same decoupling forward.Sender gives the
// ForwardingEngine from its concrete socket.
type Sender interface {
	SendTo(addr netip.AddrPort, payload []byte) error
}

// Store abstracts the two persisted files (spec §6: "text line format is
// implementation's choice"). See store.go for the concrete CBOR-backed
// implementation.
type Store interface {
	LoadPeers() ([]netip.AddrPort, error)
	SavePeers([]netip.AddrPort) error
	LoadCommunities() ([]Community, error)
	SaveCommunities([]Community) error
}

type Coordinator struct {
	mu sync.Mutex

	self  netip.AddrPort // our own bound SNM address, for the loopback guard
	state State
	seq   uint32
	start time.Time

	peers       []netip.AddrPort
	communities map[wire.CommunityName]*Community

	store  Store
	sender Sender
	logger *log.Logger
}

// New loads persisted peers and communities, merges any CLI-supplied seed
// peers, rewrites the peer file if the merge added anything, and starts
// in DISCOVERY unless the resulting peer list (loaded plus seeds, minus
// our own address) is empty (spec §4.6 "start
// READY" rule for an empty peer list, since there is then nothing to
// discover from).
func New(self netip.AddrPort, seedPeers []netip.AddrPort, store Store, sender Sender, logger *log.Logger, now time.Time) (*Coordinator, error) {
	if logger == nil {
		logger = log.Default()
	}

	loadedPeers, err := store.LoadPeers()
	if err != nil {
		return nil, err
	}
	loadedCommunities, err := store.LoadCommunities()
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		self:        self,
		start:       now,
		peers:       loadedPeers,
		communities: make(map[wire.CommunityName]*Community, len(loadedCommunities)),
		store:       store,
		sender:      sender,
		logger:      logger,
	}
	for i := range loadedCommunities {
		comm := loadedCommunities[i]
		c.communities[comm.Name] = &comm
	}

	added := c.mergePeersLocked(seedPeers)
	if added {
		if err := c.store.SavePeers(c.peers); err != nil {
			return nil, err
		}
	}

	if len(c.peers) == 0 {
		c.state = Ready
	} else {
		c.state = Discovery
	}

	return c, nil
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// mergePeersLocked adds any peer in add not already known (by address),
// skipping our own SNM address (the loopback guard applies to the peer
// set itself, not just outbound sends). Caller must hold c.mu.
func (c *Coordinator) mergePeersLocked(add []netip.AddrPort) bool {
	known := make(map[netip.AddrPort]bool, len(c.peers))
	for _, p := range c.peers {
		known[p] = true
	}

	added := false
	for _, p := range add {
		if p == c.self || known[p] {
			continue
		}
		c.peers = append(c.peers, p)
		known[p] = true
		added = true
	}
	return added
}

func (c *Coordinator) nextSeq() uint32 {
	c.seq++
	return c.seq
}

// SendInitialRequests sends a REQ_LIST (S flag set) to every known peer,
// per spec §4.6 "On startup ... Send a REQ (flag S set) to every peer."
func (c *Coordinator) SendInitialRequests() {
	c.mu.Lock()
	peers := append([]netip.AddrPort(nil), c.peers...)
	c.mu.Unlock()

	for _, p := range peers {
		c.sendReq(p, wire.SNMFlagSupernodes|wire.SNMFlagCommunities, nil)
	}
}

func (c *Coordinator) sendReq(to netip.AddrPort, flags wire.SNMFlags, names []wire.CommunityName) {
	if to == c.self {
		return
	}
	hdr := wire.SNMHeader{Type: wire.SNM_REQ_LIST, Flags: flags, Seq: c.nextSeq()}
	payload := append(wire.EncodeSNMHeader(hdr), wire.EncodeSNMReq(wire.SNMReqMsg{Communities: names})...)
	if err := c.sender.SendTo(to, payload); err != nil {
		c.logger.Printf("coordinator: send req to %s: %v", to, err)
	}
}

func (c *Coordinator) sendAdv(to netip.AddrPort, flags wire.SNMFlags) {
	if to == c.self {
		return
	}
	c.mu.Lock()
	hdr := wire.SNMHeader{Type: wire.SNM_ADV, Flags: flags, Seq: c.nextSeq()}
	adv := wire.SNMAdvMsg{Sock: c.self, Communities: c.activeCommunityNamesLocked()}
	c.mu.Unlock()
	payload := append(wire.EncodeSNMHeader(hdr), wire.EncodeSNMAdv(adv)...)
	if err := c.sender.SendTo(to, payload); err != nil {
		c.logger.Printf("coordinator: send adv to %s: %v", to, err)
	}
}

// activeCommunityNamesLocked returns the names of every currently
// federated community. Caller must hold c.mu.
func (c *Coordinator) activeCommunityNamesLocked() []wire.CommunityName {
	names := make([]wire.CommunityName, 0, len(c.communities))
	for name := range c.communities {
		names = append(names, name)
	}
	return names
}

// communityEntriesLocked builds the full supernode-per-community table
// carried in an SNMInfoMsg reply. Caller must hold c.mu.
func (c *Coordinator) communityEntriesLocked(filter []wire.CommunityName) []wire.CommunityEntry {
	var names []wire.CommunityName
	if len(filter) > 0 {
		names = filter
	} else {
		for name := range c.communities {
			names = append(names, name)
		}
	}

	entries := make([]wire.CommunityEntry, 0, len(names))
	for _, name := range names {
		comm, ok := c.communities[name]
		if !ok {
			continue
		}
		entries = append(entries, wire.CommunityEntry{Name: comm.Name, Supernodes: comm.Supernodes})
	}
	return entries
}

// DiscoveryTick runs the spec §4.6 discovery-tick logic. It is a no-op
// once READY. Call it from the event loop's maintenance tick while
// !READY.
func (c *Coordinator) DiscoveryTick(now time.Time) {
	c.mu.Lock()
	if c.state == Ready {
		c.mu.Unlock()
		return
	}
	if now.Sub(c.start) < DiscoveryInterval {
		c.mu.Unlock()
		return
	}

	promoted := 0
	for _, comm := range c.communities {
		if promoted >= MaxCommPerSN {
			break
		}
		if len(comm.Supernodes) < MinSNPerComm {
			comm.Persist = true
			promoted++
		}
	}

	peers := append([]netip.AddrPort(nil), c.peers...)
	c.state = Ready
	c.mu.Unlock()

	for _, p := range peers {
		c.sendAdv(p, wire.SNMFlagAdvertise)
	}
}

// BackupsFor implements dispatch.Backups: the peer supernodes serving a
// federated community, used to populate REGISTER_SUPER_ACK's backup list
// (spec §4.6 "REGISTER_SUPER_ACK augmentation").
func (c *Coordinator) BackupsFor(community wire.CommunityName) []netip.AddrPort {
	c.mu.Lock()
	defer c.mu.Unlock()
	comm, ok := c.communities[community]
	if !ok {
		return nil
	}
	return append([]netip.AddrPort(nil), comm.Supernodes...)
}

// addPeerLocked adds sender to the peer set, returning whether it was new.
// Caller must hold c.mu and is responsible for persisting via the store
// once the lock is released, matching the mutate-under-lock/persist-after
// pattern used everywhere else in this file.
func (c *Coordinator) addPeerLocked(sender netip.AddrPort) bool {
	if sender == c.self {
		return false
	}
	for _, p := range c.peers {
		if p == sender {
			return false
		}
	}
	c.peers = append(c.peers, sender)
	return true
}

// HandleReq answers a peer's SNM_REQ_LIST, per spec §4.6. The spec gates
// this on READY, but a REQ sent during startup discovery would then never
// get a reply from a peer that is itself still bootstrapping (both sides
// join in DISCOVERY). We answer unconditionally; see DESIGN.md for the
// reasoning behind this deviation.
func (c *Coordinator) HandleReq(sender netip.AddrPort, hdr wire.SNMHeader, req wire.SNMReqMsg) {
	c.mu.Lock()

	if hdr.Flags.Has(wire.SNMFlagAdvertise) {
		if hdr.Flags.Has(wire.SNMFlagEdge) && len(req.Communities) == 1 {
			name := req.Communities[0]
			_, existed := c.communities[name]
			if !existed {
				c.communities[name] = &Community{Name: name, Supernodes: []netip.AddrPort{c.self}, Persist: true}
			}
			peerAdded := c.addPeerLocked(sender)
			var communities []Community
			for _, comm := range c.communities {
				communities = append(communities, *comm)
			}
			peers := append([]netip.AddrPort(nil), c.peers...)
			c.mu.Unlock()

			if !existed {
				if err := c.store.SaveCommunities(communities); err != nil {
					c.logger.Printf("coordinator: save communities: %v", err)
				}
				for _, p := range peers {
					c.sendAdv(p, 0)
				}
			}
			if peerAdded {
				if err := c.store.SavePeers(peers); err != nil {
					c.logger.Printf("coordinator: save peers: %v", err)
				}
			}

			c.sendAdv(sender, 0)
			return
		}

		peerAdded := c.addPeerLocked(sender)
		peers := append([]netip.AddrPort(nil), c.peers...)
		c.mu.Unlock()

		if peerAdded {
			if err := c.store.SavePeers(peers); err != nil {
				c.logger.Printf("coordinator: save peers: %v", err)
			}
		}

		c.sendAdv(sender, 0)
		return
	}

	var supernodes []netip.AddrPort
	if hdr.Flags.Has(wire.SNMFlagSupernodes) {
		supernodes = append([]netip.AddrPort(nil), c.peers...)
	}

	var filter []wire.CommunityName
	if hdr.Flags.Has(wire.SNMFlagNameFilter) {
		filter = req.Communities
	}
	var communities []wire.CommunityEntry
	if hdr.Flags.Has(wire.SNMFlagCommunities) {
		communities = c.communityEntriesLocked(filter)
	}

	peerAdded := c.addPeerLocked(sender)
	peers := append([]netip.AddrPort(nil), c.peers...)
	c.mu.Unlock()

	if peerAdded {
		if err := c.store.SavePeers(peers); err != nil {
			c.logger.Printf("coordinator: save peers: %v", err)
		}
	}

	info := wire.SNMInfoMsg{Supernodes: supernodes, Communities: communities}
	respHdr := wire.SNMHeader{Type: wire.SNM_RSP_LIST, Flags: 0, Seq: hdr.Seq}
	payload := append(wire.EncodeSNMHeader(respHdr), wire.EncodeSNMInfo(info)...)
	if err := c.sender.SendTo(sender, payload); err != nil {
		c.logger.Printf("coordinator: send info to %s: %v", sender, err)
	}
}

// HandleInfo merges a peer's SNM_RSP_LIST into our own tables, per spec
// §4.6. Requires !READY; newly learned peers are recursively queried,
// which converges because peers are merged as a set.
func (c *Coordinator) HandleInfo(sender netip.AddrPort, info wire.SNMInfoMsg) {
	c.mu.Lock()
	if c.state == Ready {
		c.mu.Unlock()
		return
	}

	newPeers := make([]netip.AddrPort, 0)
	for _, p := range info.Supernodes {
		if p == c.self {
			continue
		}
		if c.addPeerLocked(p) {
			newPeers = append(newPeers, p)
		}
	}

	for _, ce := range info.Communities {
		if len(ce.Supernodes) < MinSNPerComm {
			continue
		}
		comm, ok := c.communities[ce.Name]
		if !ok {
			c.communities[ce.Name] = &Community{Name: ce.Name, Supernodes: ce.Supernodes}
			continue
		}
		comm.Supernodes = mergeAddrs(comm.Supernodes, ce.Supernodes)
	}

	peers := append([]netip.AddrPort(nil), c.peers...)
	c.mu.Unlock()

	if err := c.store.SavePeers(peers); err != nil {
		c.logger.Printf("coordinator: save peers: %v", err)
	}

	for _, p := range newPeers {
		c.sendReq(p, wire.SNMFlagSupernodes|wire.SNMFlagCommunities, nil)
	}
}

// HandleAdv updates our community tables from a peer's SNM_ADV and
// reciprocates if requested, per spec §4.6.
func (c *Coordinator) HandleAdv(sender netip.AddrPort, hdr wire.SNMHeader, adv wire.SNMAdvMsg) {
	c.mu.Lock()

	changed := false
	for _, name := range adv.Communities {
		comm, ok := c.communities[name]
		if !ok {
			c.communities[name] = &Community{Name: name, Supernodes: []netip.AddrPort{adv.Sock}}
			changed = true
			continue
		}
		before := len(comm.Supernodes)
		comm.Supernodes = mergeAddrs(comm.Supernodes, []netip.AddrPort{adv.Sock})
		if len(comm.Supernodes) != before {
			changed = true
		}
	}

	reciprocate := changed && hdr.Flags.Has(wire.SNMFlagAdvertise)
	c.mu.Unlock()

	if reciprocate {
		c.sendAdv(sender, 0)
	}
}

// Dispatch decodes one SNM datagram from sender and routes it to the
// matching handler. This is the coordinator's counterpart to
// dispatch.Dispatcher.Handle for the inter-supernode socket.
func (c *Coordinator) Dispatch(sender netip.AddrPort, data []byte) {
	hdr, rest, err := wire.DecodeSNMHeader(data)
	if err != nil {
		c.logger.Printf("coordinator: decode snm header from %s: %v", sender, err)
		return
	}

	switch hdr.Type {
	case wire.SNM_REQ_LIST:
		req, err := wire.DecodeSNMReq(rest)
		if err != nil {
			c.logger.Printf("coordinator: decode snm req from %s: %v", sender, err)
			return
		}
		c.HandleReq(sender, hdr, req)
	case wire.SNM_RSP_LIST:
		info, err := wire.DecodeSNMInfo(rest)
		if err != nil {
			c.logger.Printf("coordinator: decode snm info from %s: %v", sender, err)
			return
		}
		c.HandleInfo(sender, info)
	case wire.SNM_ADV:
		adv, err := wire.DecodeSNMAdv(rest)
		if err != nil {
			c.logger.Printf("coordinator: decode snm adv from %s: %v", sender, err)
			return
		}
		c.HandleAdv(sender, hdr, adv)
	default:
		c.logger.Printf("coordinator: unknown snm type %d from %s", hdr.Type, sender)
	}
}

func mergeAddrs(base, add []netip.AddrPort) []netip.AddrPort {
	known := make(map[netip.AddrPort]bool, len(base))
	for _, a := range base {
		known[a] = true
	}
	out := base
	for _, a := range add {
		if !known[a] {
			out = append(out, a)
			known[a] = true
		}
	}
	return out
}
