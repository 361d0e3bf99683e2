// Package forward implements the ForwardingEngine: unicast lookup-and-send
// and community broadcast with source-MAC suppression, as specified in
// spec §4.3.
package forward

import (
	"net/netip"
	"time"

	"github.com/n2n-go/supernode/pkg/registry"
	"github.com/n2n-go/supernode/pkg/stats"
	"github.com/n2n-go/supernode/pkg/wire"
)

// Sender abstracts the socket a forwarded datagram goes out on, the same
// decoupling the teacher gets from routing sends through a pipe's
// sndChannel instead of calling WriteToUDP directly (pkg/pipe-udp.go).
// Forward needs a synchronous error per send to drive the fwd/broadcast/
// errors counters, so this is a plain call instead of a channel send.
type Sender interface {
	SendTo(addr netip.AddrPort, payload []byte) error
}

type Engine struct {
	registry *registry.Registry
	counters *stats.Counters
	sender   Sender
}

func New(reg *registry.Registry, counters *stats.Counters, sender Sender) *Engine {
	return &Engine{registry: reg, counters: counters, sender: sender}
}

// TryForward looks up dstMAC and sends payload to its registered socket.
// An unknown MAC is a silent drop, not an error (spec §4.3, S4). A send
// failure increments errors; a successful send increments fwd.
func (e *Engine) TryForward(dstMAC wire.MAC, payload []byte) (sent bool, err error) {
	edge, ok := e.registry.Lookup(dstMAC)
	if !ok {
		return false, nil
	}

	if sendErr := e.sender.SendTo(edge.Sock, payload); sendErr != nil {
		e.counters.IncErrors()
		return false, sendErr
	}

	e.counters.IncFwd(time.Now())
	return true, nil
}

// TryBroadcast sends payload to every edge in community whose MAC is not
// srcMAC (source suppression is by MAC only, matching spec §9's explicit
// default — per-socket suppression is left as an open question there).
// Each successful send increments broadcast; each failure increments
// errors and does not abort the remaining fan-out.
func (e *Engine) TryBroadcast(community wire.CommunityName, srcMAC wire.MAC, payload []byte) (sent int, failed int) {
	e.registry.Range(func(edge registry.Edge) bool {
		if edge.Community != community {
			return true
		}
		if edge.MAC == srcMAC {
			return true
		}

		if err := e.sender.SendTo(edge.Sock, payload); err != nil {
			e.counters.IncErrors()
			failed++
			return true
		}

		e.counters.IncBroadcast()
		sent++
		return true
	})

	return sent, failed
}
