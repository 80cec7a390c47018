// Relayd — development signaling relay.
//
// Serves the signaling JSON-RPC contract (token issuance, offer/answer
// slots, candidate sets) in memory for one session at a time. Production
// deployments run their own relay behind the same contract.
package main

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	flag "github.com/spf13/pflag"

	"github.com/keywave/walletbridge/internal/relay"
	"github.com/keywave/walletbridge/internal/util"
)

var version = "dev"

func main() {
	addr := flag.String("addr", "127.0.0.1:8547", "Listen address")
	flag.Parse()

	pterm.Info.Println(fmt.Sprintf("relayd — v%s", version))
	util.LogInfo("signaling relay listening on %s", *addr)

	if err := relay.New().Run(*addr); err != nil {
		util.LogError("relay server: %v", err)
		os.Exit(1)
	}
}
