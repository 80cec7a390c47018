package signal

import "encoding/json"

// request is the JSON-RPC 2.0 envelope sent to the relay.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is the JSON-RPC 2.0 envelope returned by the relay.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// Relay method names. These are the signaling-service contract shared
// with internal/relay; a production relay must expose the same set.
const (
	methodAcquireToken     = "acquire_token"
	methodPublishOffer     = "publish_offer"
	methodFetchOffer       = "fetch_offer"
	methodPublishAnswer    = "publish_answer"
	methodFetchAnswer      = "fetch_answer"
	methodPublishCandidate = "publish_candidate"
	methodFetchCandidates  = "fetch_candidates"
)

// Parameter and result payloads for the relay methods.

type tokenParams struct {
	Side Side `json:"side"`
}

type tokenResult struct {
	Token string `json:"token"`
}

type descriptorParams struct {
	SDP string `json:"sdp"`
}

type descriptorResult struct {
	SDP   string `json:"sdp"`
	Ready bool   `json:"ready"`
}

type candidateParams struct {
	Side      Side   `json:"side"`
	Candidate string `json:"candidate"` // JSON-encoded ICECandidateInit
}

type candidatesQuery struct {
	Side Side `json:"side"`
}

type candidatesResult struct {
	Candidates []string `json:"candidates"`
}
