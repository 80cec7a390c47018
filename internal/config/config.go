// Package config resolves the signaling relay endpoint.
package config

import "os"

// DefaultRelayURL is the built-in signaling relay endpoint. It is used
// when neither the CLI flag nor the environment provides an override.
const DefaultRelayURL = "http://127.0.0.1:8547/rpc"

// EnvRelayURL is the environment variable that overrides the default
// relay endpoint.
const EnvRelayURL = "WALLETBRIDGE_RELAY"

// Config stores the parameters a session needs at startup. The relay
// address is resolved exactly once; nothing else is environment-driven.
type Config struct {
	RelayURL   string // signaling relay JSON-RPC endpoint
	ModulePath string // optional compiled WASM module to load after connect
	Debug      bool
}

// ResolveRelayURL returns the relay endpoint, in order of preference:
// the explicit flag value, the WALLETBRIDGE_RELAY environment variable,
// then the built-in default.
func ResolveRelayURL(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvRelayURL); env != "" {
		return env
	}
	return DefaultRelayURL
}
