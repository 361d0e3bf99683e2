// Package supernode wires together the codec, registry, forwarding
// engine, dispatcher, and optional coordinator into the EventLoop: the
// process that owns the edge, management, and (optionally) SNM sockets.
// The reader-goroutine-per-socket fanning into one dispatcher goroutine
// is the idiomatic Go rendering of the teacher's single select-driven
// loop in RegisterGroup.JoinGroup/readPipes/advertiseLoop (pkg/surp.go):
// every socket gets its own read loop, but only the dispatcher goroutine
// ever touches shared state, preserving the single-writer model.
package supernode

import (
	"context"
	"log"
	"net"
	"net/netip"
	"time"

	"github.com/n2n-go/supernode/pkg/coordinator"
	"github.com/n2n-go/supernode/pkg/dispatch"
	"github.com/n2n-go/supernode/pkg/forward"
	"github.com/n2n-go/supernode/pkg/mgmt"
	"github.com/n2n-go/supernode/pkg/registry"
	"github.com/n2n-go/supernode/pkg/stats"
)

// maxDatagramSize is the receive buffer size; each socket's reader
// goroutine allocates one buffer of this size and reuses it for every read.
const maxDatagramSize = 2048

// maintenanceTick is the idle-wake interval used to run purge and
// discovery maintenance even without traffic (spec §4.7).
const maintenanceTick = 10 * time.Second

// purgeThreshold is how stale an edge record may get before the
// maintenance sweep drops it; chosen as 3x the REGISTER_SUPER lifetime so
// one missed re-registration doesn't evict an edge.
const purgeThreshold = 3 * dispatch.RegLifetime

type datagram struct {
	data []byte
	src  netip.AddrPort
	sock udpSocket
}

type udpSocket int

const (
	sockEdge udpSocket = iota
	sockMgmt
	sockSNM
)

// udpSender adapts a *net.UDPConn to both forward.Sender and
// dispatch.Reply/coordinator.Sender, all of which share the same
// SendTo(netip.AddrPort, []byte) error shape.
type udpSender struct {
	conn *net.UDPConn
}

func (s *udpSender) SendTo(addr netip.AddrPort, payload []byte) error {
	_, err := s.conn.WriteToUDPAddrPort(payload, addr)
	return err
}

// Config collects everything needed to start an EventLoop, generalized
// from the flags in cmd/supernode.
type Config struct {
	EdgePort int
	MgmtPort int // 0 binds an ephemeral port; cmd/supernode passes mgmt.DefaultPort unless -m is given
	SNMPort  int // 0 disables the coordinator
	Peers    []netip.AddrPort
	StateDir string // directory for coordinator persistence files

	Logger  *log.Logger
	Verbose int
}

// EventLoop is the supernode process: bound sockets, the shared tables,
// and the dispatcher/coordinator that mutate them.
type EventLoop struct {
	cfg Config

	edgeConn *net.UDPConn
	mgmtConn *net.UDPConn
	snmConn  *net.UDPConn

	registry *registry.Registry
	counters *stats.Counters
	forward  *forward.Engine
	dispatch *dispatch.Dispatcher
	coord    *coordinator.Coordinator

	logger *log.Logger
}

// New binds the edge and management sockets (and the SNM socket, if
// cfg.SNMPort is nonzero) and wires the processing pipeline. It does not
// start reading; call Run for that.
func New(cfg Config) (*EventLoop, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	edgeConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.EdgePort})
	if err != nil {
		return nil, err
	}
	mgmtConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: cfg.MgmtPort})
	if err != nil {
		edgeConn.Close()
		return nil, err
	}

	now := time.Now()
	reg := registry.New()
	counters := stats.New(now)
	sender := &udpSender{conn: edgeConn}
	fwd := forward.New(reg, counters, sender)

	el := &EventLoop{
		cfg:      cfg,
		edgeConn: edgeConn,
		mgmtConn: mgmtConn,
		registry: reg,
		counters: counters,
		forward:  fwd,
		logger:   logger,
	}

	var backups dispatch.Backups
	if cfg.SNMPort != 0 {
		snmConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.SNMPort})
		if err != nil {
			edgeConn.Close()
			mgmtConn.Close()
			return nil, err
		}
		el.snmConn = snmConn

		selfSock := netip.AddrPortFrom(netip.IPv4Unspecified(), uint16(cfg.SNMPort))
		store := coordinator.NewFileStore(cfg.StateDir, cfg.SNMPort)
		snmSender := &udpSender{conn: snmConn}
		coord, err := coordinator.New(selfSock, cfg.Peers, store, snmSender, logger, now)
		if err != nil {
			edgeConn.Close()
			mgmtConn.Close()
			snmConn.Close()
			return nil, err
		}
		el.coord = coord
		backups = coord
	}

	el.dispatch = dispatch.New(reg, fwd, counters, backups, sender, logger, cfg.Verbose)

	return el, nil
}

// Run starts the reader goroutines and the single dispatcher loop. It
// blocks until ctx is cancelled or a socket read fails fatally.
func (el *EventLoop) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	datagrams := make(chan datagram, 64)
	errs := make(chan error, 3)

	go readLoop(ctx, el.edgeConn, sockEdge, datagrams, errs)
	go readLoop(ctx, el.mgmtConn, sockMgmt, datagrams, errs)
	if el.snmConn != nil {
		go readLoop(ctx, el.snmConn, sockSNM, datagrams, errs)
	}

	if el.coord != nil {
		el.coord.SendInitialRequests()
	}

	ticker := time.NewTicker(maintenanceTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			return err
		case dg := <-datagrams:
			el.handle(dg)
		case now := <-ticker.C:
			el.maintain(now)
		}
	}
}

func (el *EventLoop) handle(dg datagram) {
	switch dg.sock {
	case sockEdge:
		el.dispatch.Handle(dg.data, dg.src, time.Now())
	case sockMgmt:
		resp := mgmt.Render(el.registry, el.counters, time.Now())
		if _, err := el.mgmtConn.WriteToUDPAddrPort(resp, dg.src); err != nil {
			el.logger.Printf("supernode: mgmt reply to %s: %v", dg.src, err)
		}
	case sockSNM:
		if el.coord != nil {
			el.coord.Dispatch(dg.src, dg.data)
		}
	}
}

// maintain runs the spec §4.7 idle-tick duties: purge expired edges, and
// drive the coordinator's discovery tick while it is not yet READY.
func (el *EventLoop) maintain(now time.Time) {
	removed := el.registry.Purge(now, purgeThreshold)
	if removed > 0 && el.cfg.Verbose > 0 {
		el.logger.Printf("supernode: purged %d stale edges", removed)
	}

	if el.coord != nil && el.coord.State() != coordinator.Ready {
		el.coord.DiscoveryTick(now)
	}
}

// Close releases the bound sockets. Safe to call after Run returns.
func (el *EventLoop) Close() error {
	el.edgeConn.Close()
	el.mgmtConn.Close()
	if el.snmConn != nil {
		el.snmConn.Close()
	}
	return nil
}

func readLoop(ctx context.Context, conn *net.UDPConn, sock udpSocket, out chan<- datagram, errs chan<- error) {
	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(maintenanceTick))
		n, src, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
			case errs <- err:
			}
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case out <- datagram{data: data, src: src, sock: sock}:
		case <-ctx.Done():
			return
		}
	}
}
