// Command murmurd runs the opportunistic message exchange daemon: it
// loads configuration, opens the durable stores, stands up whichever
// transports are available, and drives the scheduler until signaled to
// stop (spec §2 System Overview). Grounded on the teacher's main.go
// entrypoint shape, adapted from manual os.Args parsing to
// github.com/spf13/cobra the way the wider pack's peering daemons do.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
