package main

import (
	"context"
	"fmt"
	"log"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/n2n-go/supernode/pkg/mgmt"
	"github.com/n2n-go/supernode/pkg/supernode"
	"github.com/spf13/cobra"
)

// Exit codes per spec §6: 1 on help, -2 on socket/file init failure, -5
// on daemonize failure. Daemonization is out of scope (spec §1), so this
// binary never runs the -5 path itself; it is kept only so a wrapping
// process-manager script has a stable code to check for.
const (
	exitHelp            = 1
	exitInitFailure     = -2
	exitDaemonizeFailed = -5
)

func main() {
	var (
		edgePort int
		mgmtPort int
		snmPort  int
		peers    []string
		verbose  int
		foreground bool
	)

	root := &cobra.Command{
		Use:   "supernode",
		Short: "supernode is a UDP rendezvous/forwarding server for an n2n-style layer-2 overlay.",
		Long: `supernode accepts edge registrations, forwards unicast and broadcast
Ethernet frames tunneled over UDP, and optionally federates communities
across multiple supernodes via the SNM peer protocol.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(os.Stderr, "", log.LstdFlags)

			var peerAddrs []netip.AddrPort
			for _, p := range peers {
				ap, err := netip.ParseAddrPort(p)
				if err != nil {
					return fmt.Errorf("invalid --peer %q: %w", p, err)
				}
				peerAddrs = append(peerAddrs, ap)
			}

			cfg := supernode.Config{
				EdgePort: edgePort,
				MgmtPort: mgmtPort,
				SNMPort:  snmPort,
				Peers:    peerAddrs,
				StateDir: ".",
				Logger:   logger,
				Verbose:  verbose,
			}

			el, err := supernode.New(cfg)
			if err != nil {
				logger.Printf("supernode: init failed: %v", err)
				os.Exit(exitInitFailure)
			}
			defer el.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Printf("supernode: listening, edge-port=%d mgmt-port=%d snm-port=%d", edgePort, mgmtPort, snmPort)
			if err := el.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	root.Flags().IntVarP(&edgePort, "edge-port", "l", 7654, "UDP port edges register and send on")
	root.Flags().IntVarP(&mgmtPort, "mgmt-port", "m", mgmt.DefaultPort, "loopback UDP port for textual status queries")
	root.Flags().BoolVarP(&foreground, "foreground", "f", false, "run in foreground (daemonization is not implemented; this binary always runs in the foreground)")
	root.Flags().CountVarP(&verbose, "verbose", "v", "increase log verbosity (repeatable)")
	root.Flags().IntVarP(&snmPort, "snm-port", "s", 0, "enable the coordinator and bind the inter-supernode SNM socket to this UDP port")
	root.Flags().StringArrayVarP(&peers, "peer", "i", nil, "seed peer supernode ip:port (repeatable)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitHelp)
	}
	if help, _ := root.Flags().GetBool("help"); help {
		os.Exit(exitHelp)
	}
}
