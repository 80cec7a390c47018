// Package rpc provides a call-and-await abstraction over an open,
// message-oriented channel that has no built-in request/response pairing.
package rpc

import (
	"encoding/json"
	"fmt"
)

// Request is the outbound wire message: one JSON object per channel
// message, framing provided by the channel.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response is the inbound wire message. Payload holds either the result
// value or an error object (see errorPayload).
type Response struct {
	ID      uint64          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// errorPayload is the wire convention for a remote-reported failure:
// a payload of the form {"error": "..."} rejects the matching call.
type errorPayload struct {
	Error string `json:"error"`
}

// RemoteError is an application error reported by the remote side for a
// single call. It rejects only that call.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: remote error from %q: %s", e.Method, e.Message)
}
