// Walletbridge — CLI entry point.
//
// This tool invokes methods on a remote wallet daemon with no direct
// network path to it: a WebRTC data channel is negotiated through an
// HTTP signaling relay, then a correlated request/response protocol runs
// over the channel. A compiled WASM module can be loaded and given the
// same remote-call facility.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"
	flag "github.com/spf13/pflag"

	"github.com/keywave/walletbridge/internal/bridge"
	"github.com/keywave/walletbridge/internal/config"
	"github.com/keywave/walletbridge/internal/rpc"
	"github.com/keywave/walletbridge/internal/session"
	sig "github.com/keywave/walletbridge/internal/signal"
	"github.com/keywave/walletbridge/internal/transport"
	"github.com/keywave/walletbridge/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	relayFlag := flag.String("relay", "", "Signaling relay JSON-RPC endpoint (default "+config.DefaultRelayURL+", or "+config.EnvRelayURL+")")
	modulePath := flag.String("module", "", "Compiled WASM module to load after the session opens")
	callMethod := flag.String("call", "", "Remote method to invoke once connected")
	callParams := flag.String("params", "null", "JSON-encoded params for --call")
	callTimeout := flag.Duration("timeout", 10*time.Second, "Per-call deadline for --call")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("walletbridge — v%s", version))
	pterm.Println()

	cfg := config.Config{
		RelayURL:   config.ResolveRelayURL(*relayFlag),
		ModulePath: *modulePath,
		Debug:      *debugMode,
	}

	if err := run(ctx, cfg, *callMethod, *callParams, *callTimeout); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("session closed")
}

func run(ctx context.Context, cfg config.Config, callMethod, callParams string, callTimeout time.Duration) error {
	util.LogInfo("connecting via relay %s", cfg.RelayURL)

	establisher := session.New(sig.NewClient(cfg.RelayURL, sig.SideOffer), transport.Config{})
	sess, err := establisher.Connect(ctx)
	if err != nil {
		return fmt.Errorf("establishing session: %w", err)
	}
	defer sess.Close()

	util.StartStatsReporter(ctx)
	util.LogInfo("P2P session established, daemon reachable over the data channel")

	if cfg.ModulePath != "" {
		binary, err := os.ReadFile(cfg.ModulePath)
		if err != nil {
			return fmt.Errorf("reading module %s: %w", cfg.ModulePath, err)
		}
		mod, err := bridge.Load(ctx, binary, sess.Conn())
		if err != nil {
			return err
		}
		defer mod.Close(ctx)
		util.LogInfo("module %s loaded", cfg.ModulePath)
	}

	if callMethod != "" {
		payload, err := sess.Conn().Call(ctx, callMethod, json.RawMessage(callParams),
			rpc.WithTimeout(callTimeout))
		if err != nil {
			return fmt.Errorf("calling %q: %w", callMethod, err)
		}
		pterm.Println(string(payload))
		return nil
	}

	// No one-shot call: hold the session open until interrupted or the
	// remote side goes away.
	select {
	case <-ctx.Done():
	case <-sess.Done():
		util.LogWarning("data channel closed by remote side")
	}
	return nil
}
