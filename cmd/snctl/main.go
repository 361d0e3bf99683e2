// snctl is a tiny debug client for the supernode's management endpoint:
// it sends one empty datagram to the loopback management port and prints
// whatever status block comes back. No flag parsing, mirroring the
// teacher's bare func main() debug programs (cmd/cons/cons.go,
// cmd/pro/pro.go) rather than the cobra-based multi-verb CLI.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/n2n-go/supernode/pkg/mgmt"
)

func main() {
	addr := fmt.Sprintf("127.0.0.1:%d", mgmt.DefaultPort)
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	conn, err := net.Dial("udp", addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "snctl:", err)
		os.Exit(1)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{}); err != nil {
		fmt.Fprintln(os.Stderr, "snctl:", err)
		os.Exit(1)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		fmt.Fprintln(os.Stderr, "snctl:", err)
		os.Exit(1)
	}

	fmt.Print(string(buf[:n]))
}
