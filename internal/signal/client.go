// Package signal is the client side of the signaling relay: authenticated
// JSON-RPC 2.0 calls over HTTP POST that carry SDP descriptors and ICE
// candidates between the two peers before a direct channel exists.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
)

// Sentinel errors for signaling failures. Callers classify with errors.Is.
var (
	// ErrAuth reports that token acquisition failed. There is no retry
	// built in; a fresh session must start over.
	ErrAuth = errors.New("signal: token acquisition failed")

	// ErrSignaling reports that a signaling round trip errored or
	// returned a malformed payload.
	ErrSignaling = errors.New("signal: relay call failed")
)

// Side identifies which end of the negotiation this client speaks for.
// The bridge is always the offering side; the answering side is used by
// the wallet daemon (and by tests standing in for it).
type Side string

const (
	SideOffer  Side = "offer"
	SideAnswer Side = "answer"
)

// remote returns the opposite side, whose artifacts this client fetches.
func (s Side) remote() Side {
	if s == SideOffer {
		return SideAnswer
	}
	return SideOffer
}

// DefaultPollInterval is the delay between fetch_answer attempts while
// the remote side has not published yet.
const DefaultPollInterval = 500 * time.Millisecond

// Client performs authenticated request/response calls against the relay.
// It is not safe for concurrent use during AcquireToken; after the token
// is held, the remaining methods may be called from multiple goroutines.
type Client struct {
	endpoint string
	side     Side
	http     *http.Client

	// PollInterval is the fetch_answer polling cadence. Zero means
	// DefaultPollInterval.
	PollInterval time.Duration

	reqID atomic.Uint64
	token atomic.Pointer[string]
}

// NewClient creates a client for the given relay endpoint, speaking for
// the given side of the negotiation.
func NewClient(endpoint string, side Side) *Client {
	return &Client{
		endpoint: endpoint,
		side:     side,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// AcquireToken obtains the session bearer token. It must complete before
// any other call; it is never retried internally. The token lives only
// in memory for the lifetime of the session.
func (c *Client) AcquireToken(ctx context.Context) error {
	var res tokenResult
	if err := c.call(ctx, methodAcquireToken, tokenParams{Side: c.side}, &res); err != nil {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}
	if res.Token == "" {
		return fmt.Errorf("%w: relay returned an empty token", ErrAuth)
	}
	c.token.Store(&res.Token)
	return nil
}

// PublishOffer uploads the local SDP offer. The relay stores a single
// offer per session; callers must publish exactly once.
func (c *Client) PublishOffer(ctx context.Context, sdp string) error {
	return c.call(ctx, methodPublishOffer, descriptorParams{SDP: sdp}, nil)
}

// PublishAnswer uploads the local SDP answer (answer side only).
func (c *Client) PublishAnswer(ctx context.Context, sdp string) error {
	return c.call(ctx, methodPublishAnswer, descriptorParams{SDP: sdp}, nil)
}

// FetchOffer returns the remote offer if one has been published
// (answer side only). ok is false while the offerer has not published.
func (c *Client) FetchOffer(ctx context.Context) (sdp string, ok bool, err error) {
	var res descriptorResult
	if err := c.call(ctx, methodFetchOffer, nil, &res); err != nil {
		return "", false, err
	}
	return res.SDP, res.Ready, nil
}

// AwaitAnswer polls the relay until the remote side has published its
// answer, then returns it. The poll cadence is PollInterval; the overall
// wait is bounded only by ctx. A relay error aborts immediately.
func (c *Client) AwaitAnswer(ctx context.Context) (string, error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var res descriptorResult
		if err := c.call(ctx, methodFetchAnswer, nil, &res); err != nil {
			return "", err
		}
		if res.Ready {
			return res.SDP, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// PublishCandidate uploads one locally discovered ICE candidate. It is
// called once per candidate, in arrival order; ordering across
// candidates carries no meaning.
func (c *Client) PublishCandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error {
	data, err := json.Marshal(candidate)
	if err != nil {
		return fmt.Errorf("%w: encoding candidate: %w", ErrSignaling, err)
	}
	return c.call(ctx, methodPublishCandidate, candidateParams{
		Side:      c.side,
		Candidate: string(data),
	}, nil)
}

// FetchRemoteCandidates returns the candidates the remote side has
// accumulated at the time of the call. The set is append-only and
// unordered; repeated calls may return previously seen entries.
func (c *Client) FetchRemoteCandidates(ctx context.Context) ([]webrtc.ICECandidateInit, error) {
	var res candidatesResult
	if err := c.call(ctx, methodFetchCandidates, candidatesQuery{Side: c.side.remote()}, &res); err != nil {
		return nil, err
	}

	candidates := make([]webrtc.ICECandidateInit, 0, len(res.Candidates))
	for _, raw := range res.Candidates {
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal([]byte(raw), &init); err != nil {
			return nil, fmt.Errorf("%w: decoding candidate: %w", ErrSignaling, err)
		}
		candidates = append(candidates, init)
	}
	return candidates, nil
}

// call performs one JSON-RPC round trip. Every method except
// acquire_token requires the bearer token; calling before AcquireToken
// completes is a caller error and fails without touching the network.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	var bearer string
	if method != methodAcquireToken {
		tok := c.token.Load()
		if tok == nil {
			return fmt.Errorf("%w: %s called before AcquireToken", ErrSignaling, method)
		}
		bearer = *tok
	}

	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("%w: encoding %s request: %w", ErrSignaling, method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSignaling, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	httpRes, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSignaling, method, err)
	}
	defer httpRes.Body.Close()

	data, err := io.ReadAll(httpRes.Body)
	if err != nil {
		return fmt.Errorf("%w: reading %s response: %w", ErrSignaling, method, err)
	}

	var res response
	if err := json.Unmarshal(data, &res); err != nil {
		return fmt.Errorf("%w: malformed %s response: %w", ErrSignaling, method, err)
	}
	if res.Error != nil {
		return fmt.Errorf("%w: %s: %w", ErrSignaling, method, res.Error)
	}

	if result != nil {
		if res.Result == nil {
			return fmt.Errorf("%w: %s returned no result", ErrSignaling, method)
		}
		if err := json.Unmarshal(res.Result, result); err != nil {
			return fmt.Errorf("%w: decoding %s result: %w", ErrSignaling, method, err)
		}
	}
	return nil
}
