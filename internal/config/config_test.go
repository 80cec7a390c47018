package config

import "testing"

func TestResolveRelayURLPrecedence(t *testing.T) {
	t.Setenv(EnvRelayURL, "")
	if got := ResolveRelayURL(""); got != DefaultRelayURL {
		t.Fatalf("default = %q, want %q", got, DefaultRelayURL)
	}

	t.Setenv(EnvRelayURL, "http://relay.internal:9000/rpc")
	if got := ResolveRelayURL(""); got != "http://relay.internal:9000/rpc" {
		t.Fatalf("env override = %q", got)
	}

	// The explicit flag beats the environment.
	if got := ResolveRelayURL("http://flag.example/rpc"); got != "http://flag.example/rpc" {
		t.Fatalf("flag override = %q", got)
	}
}
