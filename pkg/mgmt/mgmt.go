// Package mgmt implements the MgmtEndpoint: any datagram arriving on the
// loopback management socket triggers a fixed plain-text status block, as
// specified in spec §4.5. Grounded on the teacher's unicast pipe
// (pkg/pipe-udp.go NewUnicastPipe) for the receive/reply shape and on
// cmd/surp/commands/list.go's plain fmt.Printf rendering for the
// formatting idiom.
package mgmt

import (
	"fmt"
	"time"

	"github.com/n2n-go/supernode/pkg/registry"
	"github.com/n2n-go/supernode/pkg/stats"
)

// DefaultPort is the loopback UDP port the management socket binds to
// unless another one is configured (spec §6).
const DefaultPort = 5645

// Render produces the stable plain-text status block described in spec
// §4.5. Tests may regex against this output, so the line shape here is
// load-bearing: don't reorder or rename fields without updating spec.md.
func Render(reg *registry.Registry, counters *stats.Counters, now time.Time) []byte {
	snap := counters.Snapshot()

	uptime := now.Sub(snap.StartTime)
	if uptime < 0 {
		uptime = 0
	}

	var lastFwdAgo, lastRegAgo float64
	if snap.LastFwd.IsZero() {
		lastFwdAgo = -1
	} else {
		lastFwdAgo = now.Sub(snap.LastFwd).Seconds()
	}
	if snap.LastRegSuper.IsZero() {
		lastRegAgo = -1
	} else {
		lastRegAgo = now.Sub(snap.LastRegSuper).Seconds()
	}

	return []byte(fmt.Sprintf(
		"----------------\n"+
			"uptime    %d\n"+
			"edges     %d\n"+
			"errors    %d\n"+
			"reg_sup   %d\n"+
			"reg_nak   %d\n"+
			"fwd       %d\n"+
			"broadcast %d\n"+
			"last fwd  %.0f sec ago\n"+
			"last reg  %.0f sec ago\n",
		int64(uptime.Seconds()),
		reg.Len(),
		snap.Errors,
		snap.RegSuper,
		snap.RegSuperNak,
		snap.Fwd,
		snap.Broadcast,
		lastFwdAgo,
		lastRegAgo,
	))
}
