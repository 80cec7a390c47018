// Package relay is a single-session, in-memory signaling relay: the
// JSON-RPC service the signal package consumes, made runnable for local
// development and tests. Production deployments substitute their own
// relay behind the same method contract.
package relay

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

// JSON-RPC error codes returned by the relay.
const (
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32000
	codeConflict       = -32001
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      uint64    `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

// store holds the artifacts of one connection attempt. Offer and answer
// are write-once; candidate sets are append-only per side.
type store struct {
	mu         sync.Mutex
	tokens     map[string]struct{}
	offer      string
	offerSet   bool
	answer     string
	answerSet  bool
	candidates map[string][]string // side → JSON-encoded candidates
}

// Relay serves the signaling contract over HTTP POST at /rpc.
type Relay struct {
	engine *gin.Engine
	st     *store
}

// New creates an empty relay.
func New() *Relay {
	gin.SetMode(gin.ReleaseMode)
	r := &Relay{
		engine: gin.New(),
		st: &store{
			tokens:     make(map[string]struct{}),
			candidates: make(map[string][]string),
		},
	}
	r.engine.POST("/rpc", r.handle)
	return r
}

// Handler returns the HTTP handler, for mounting under httptest or a
// real server.
func (r *Relay) Handler() http.Handler {
	return r.engine
}

// Run serves the relay on addr until the listener fails.
func (r *Relay) Run(addr string) error {
	return r.engine.Run(addr)
}

func (r *Relay) handle(c *gin.Context) {
	var req rpcRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: codeInvalidParams, Message: "malformed request"},
		})
		return
	}

	if req.Method != "acquire_token" && !r.authorized(c.GetHeader("Authorization")) {
		c.JSON(http.StatusOK, rpcResponse{
			JSONRPC: "2.0", ID: req.ID,
			Error: &rpcError{Code: codeUnauthorized, Message: "missing or invalid bearer token"},
		})
		return
	}

	result, rpcErr := r.dispatch(req.Method, req.Params)
	c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr})
}

// authorized checks a bearer token issued by acquire_token.
func (r *Relay) authorized(header string) bool {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	_, ok := r.st.tokens[header[len(prefix):]]
	return ok
}

func (r *Relay) dispatch(method string, params json.RawMessage) (any, *rpcError) {
	switch method {
	case "acquire_token":
		return r.acquireToken()
	case "publish_offer":
		return r.publishDescriptor(params, &r.st.offer, &r.st.offerSet, "offer")
	case "fetch_offer":
		return r.fetchDescriptor(&r.st.offer, &r.st.offerSet), nil
	case "publish_answer":
		return r.publishDescriptor(params, &r.st.answer, &r.st.answerSet, "answer")
	case "fetch_answer":
		return r.fetchDescriptor(&r.st.answer, &r.st.answerSet), nil
	case "publish_candidate":
		return r.publishCandidate(params)
	case "fetch_candidates":
		return r.fetchCandidates(params)
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: "unknown method: " + method}
	}
}

func (r *Relay) acquireToken() (any, *rpcError) {
	buf := make([]byte, 16)
	rand.Read(buf)
	token := hex.EncodeToString(buf)

	r.st.mu.Lock()
	r.st.tokens[token] = struct{}{}
	r.st.mu.Unlock()

	return gin.H{"token": token}, nil
}

func (r *Relay) publishDescriptor(params json.RawMessage, slot *string, set *bool, kind string) (any, *rpcError) {
	var p struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.SDP == "" {
		return nil, &rpcError{Code: codeInvalidParams, Message: "missing sdp"}
	}

	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if *set {
		return nil, &rpcError{Code: codeConflict, Message: kind + " already published"}
	}
	*slot = p.SDP
	*set = true
	return gin.H{"ok": true}, nil
}

func (r *Relay) fetchDescriptor(slot *string, set *bool) any {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return gin.H{"sdp": *slot, "ready": *set}
}

func (r *Relay) publishCandidate(params json.RawMessage) (any, *rpcError) {
	var p struct {
		Side      string `json:"side"`
		Candidate string `json:"candidate"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Candidate == "" {
		return nil, &rpcError{Code: codeInvalidParams, Message: "missing candidate"}
	}
	if p.Side != "offer" && p.Side != "answer" {
		return nil, &rpcError{Code: codeInvalidParams, Message: "side must be offer or answer"}
	}

	r.st.mu.Lock()
	r.st.candidates[p.Side] = append(r.st.candidates[p.Side], p.Candidate)
	r.st.mu.Unlock()
	return gin.H{"ok": true}, nil
}

func (r *Relay) fetchCandidates(params json.RawMessage) (any, *rpcError) {
	var p struct {
		Side string `json:"side"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "missing side"}
	}

	r.st.mu.Lock()
	candidates := make([]string, len(r.st.candidates[p.Side]))
	copy(candidates, r.st.candidates[p.Side])
	r.st.mu.Unlock()
	return gin.H{"candidates": candidates}, nil
}
