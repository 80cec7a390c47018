package transport

import (
	"github.com/pion/webrtc/v4"
)

// Default STUN servers for ICE candidate gathering. No TURN — the bridge
// targets direct connectivity between the extension host and the daemon.
var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config controls PeerConnection creation.
type Config struct {
	// STUNServers overrides the default STUN server list. nil selects
	// the defaults; an empty non-nil slice disables STUN entirely
	// (host candidates only, used by loopback tests).
	STUNServers []string
}

// newPeerConnection creates a PeerConnection from cfg.
func newPeerConnection(cfg Config) (*webrtc.PeerConnection, error) {
	servers := cfg.STUNServers
	if servers == nil {
		servers = defaultSTUNServers
	}

	config := webrtc.Configuration{}
	if len(servers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: servers}}
	}
	return webrtc.NewPeerConnection(config)
}

// newDataChannel creates the pre-negotiated RPC channel on pc. Negotiated
// mode (ID 0) lets both sides create the channel independently without
// relying on OnDataChannel. Ordering is not required by the correlation
// protocol, so the channel is unordered.
func newDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := false
	negotiated := true
	id := uint16(0)

	return pc.CreateDataChannel("wallet-rpc", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
}
