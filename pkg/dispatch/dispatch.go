// Package dispatch implements the EdgeDispatcher: decodes the common
// header off an edge-facing datagram, applies TTL policy, and acts on the
// packet code, mirroring the teacher's switch-by-message-type dispatch in
// RegisterGroup.readPipes (pkg/surp.go).
package dispatch

import (
	"log"
	"net/netip"
	"time"

	"github.com/n2n-go/supernode/pkg/forward"
	"github.com/n2n-go/supernode/pkg/registry"
	"github.com/n2n-go/supernode/pkg/stats"
	"github.com/n2n-go/supernode/pkg/wire"
)

// RegLifetime is the constant edge re-registration lifetime advertised in
// every REGISTER_SUPER_ACK.
const RegLifetime = 120 * time.Second

// Backups supplies the federation-augmented backup supernode list for a
// community, if any. The coordinator implements this; the zero value
// (nil) means "coordinator disabled", matching spec §4.4's "unless the
// coordinator feature is enabled" clause.
type Backups interface {
	BackupsFor(community wire.CommunityName) []netip.AddrPort
}

// Reply sends a single datagram back to an edge. The dispatcher never
// needs the fan-out semantics of forward.Sender, only a single synchronous
// reply, so it gets its own narrow interface.
type Reply interface {
	SendTo(addr netip.AddrPort, payload []byte) error
}

type Dispatcher struct {
	registry *registry.Registry
	forward  *forward.Engine
	counters *stats.Counters
	backups  Backups
	reply    Reply
	logger   *log.Logger
	verbose  int
}

func New(reg *registry.Registry, fwd *forward.Engine, counters *stats.Counters, backups Backups, reply Reply, logger *log.Logger, verbose int) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		registry: reg,
		forward:  fwd,
		counters: counters,
		backups:  backups,
		reply:    reply,
		logger:   logger,
		verbose:  verbose,
	}
}

func (d *Dispatcher) trace(format string, args ...any) {
	if d.verbose > 0 {
		d.logger.Printf(format, args...)
	}
}

// Handle decodes and acts on one edge-facing datagram received from src.
// now is injected for deterministic testing.
func (d *Dispatcher) Handle(data []byte, src netip.AddrPort, now time.Time) {
	h, rest, err := wire.DecodeHeader(data)
	if err != nil {
		d.counters.IncErrors()
		d.trace("dispatch: decode header from %s: %v", src, err)
		return
	}

	if h.TTL < 1 {
		d.trace("dispatch: dropping expired-ttl packet from %s", src)
		return
	}
	h.TTL--

	switch h.PC {
	case wire.PC_PACKET:
		d.handlePacket(h, rest, src)
	case wire.PC_REGISTER:
		d.handleRegister(h, rest, src)
	case wire.PC_REGISTER_ACK:
		d.trace("dispatch: ignoring register_ack from %s", src)
	case wire.PC_REGISTER_SUPER:
		d.handleRegisterSuper(h, rest, src, now)
	default:
		d.trace("dispatch: no edge-facing handler for pc=%d from %s", h.PC, src)
	}
}

// rewriteIfEdgeOriginated implements the spec §4.4 socket-rewrite rule: an
// edge-originated datagram (no FROM_SUPERNODE) is stamped with the
// sender's observed socket and FROM_SUPERNODE|SOCKET before relaying; a
// supernode-originated one passes through untouched.
func rewriteIfEdgeOriginated(h wire.Header) (wire.Header, bool) {
	if h.Flags.Has(wire.FlagFromSupernode) {
		return h, false
	}
	h.Flags |= wire.FlagFromSupernode | wire.FlagSocket
	return h, true
}

func (d *Dispatcher) handlePacket(h wire.Header, body []byte, src netip.AddrPort) {
	msg, err := wire.DecodePacket(body, h.Flags.Has(wire.FlagSocket))
	if err != nil {
		d.counters.IncErrors()
		d.trace("dispatch: decode packet from %s: %v", src, err)
		return
	}

	outHeader, rewritten := rewriteIfEdgeOriginated(h)
	if rewritten {
		msg.Sock = wire.Of(src)
	}

	payload := append(wire.EncodeHeader(outHeader), wire.EncodePacket(msg)...)

	if msg.DstMAC.IsMultiBroadcast() {
		d.forward.TryBroadcast(h.Community, msg.SrcMAC, payload)
		return
	}

	if _, err := d.forward.TryForward(msg.DstMAC, payload); err != nil {
		d.trace("dispatch: forward packet to %s: %v", msg.DstMAC, err)
	}
}

func (d *Dispatcher) handleRegister(h wire.Header, body []byte, src netip.AddrPort) {
	msg, err := wire.DecodeRegister(body, h.Flags.Has(wire.FlagSocket))
	if err != nil {
		d.counters.IncErrors()
		d.trace("dispatch: decode register from %s: %v", src, err)
		return
	}

	if msg.DstMAC.IsMultiBroadcast() {
		d.counters.IncErrors()
		d.trace("dispatch: register to multicast destination from %s is an error", src)
		return
	}

	outHeader, rewritten := rewriteIfEdgeOriginated(h)
	if rewritten {
		msg.Sock = wire.Of(src)
	}

	payload := append(wire.EncodeHeader(outHeader), wire.EncodeRegister(msg)...)

	if _, err := d.forward.TryForward(msg.DstMAC, payload); err != nil {
		d.trace("dispatch: forward register to %s: %v", msg.DstMAC, err)
	}
}

func (d *Dispatcher) handleRegisterSuper(h wire.Header, body []byte, src netip.AddrPort, now time.Time) {
	msg, err := wire.DecodeRegisterSuper(body)
	if err != nil {
		d.counters.IncErrors()
		d.trace("dispatch: decode register_super from %s: %v", src, err)
		return
	}

	d.registry.Upsert(h.Community, msg.EdgeMAC, src, now)
	d.counters.IncRegSuper(now)

	var backups []netip.AddrPort
	if d.backups != nil {
		backups = d.backups.BackupsFor(h.Community)
	}

	ack := wire.RegisterSuperAckMsg{
		Cookie:   msg.Cookie,
		EdgeMAC:  msg.EdgeMAC,
		Lifetime: uint16(RegLifetime.Seconds()),
		Sock:     src,
		Backups:  backups,
	}

	ackHeader := wire.Header{
		Version:   wire.ProtocolVersion,
		TTL:       h.TTL,
		PC:        wire.PC_REGISTER_SUPER_ACK,
		Flags:     wire.FlagFromSupernode,
		Community: h.Community,
	}

	payload := append(wire.EncodeHeader(ackHeader), wire.EncodeRegisterSuperAck(ack)...)
	if err := d.reply.SendTo(src, payload); err != nil {
		d.counters.IncErrors()
		d.trace("dispatch: send register_super_ack to %s: %v", src, err)
	}
}
