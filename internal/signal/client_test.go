package signal_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/keywave/walletbridge/internal/relay"
	"github.com/keywave/walletbridge/internal/signal"
)

// newRelayPair starts an in-memory relay and returns authenticated
// clients for both sides of the negotiation.
func newRelayPair(t *testing.T) (offer, answer *signal.Client) {
	t.Helper()
	srv := httptest.NewServer(relay.New().Handler())
	t.Cleanup(srv.Close)

	offer = signal.NewClient(srv.URL+"/rpc", signal.SideOffer)
	answer = signal.NewClient(srv.URL+"/rpc", signal.SideAnswer)
	offer.PollInterval = 10 * time.Millisecond
	answer.PollInterval = 10 * time.Millisecond

	ctx := context.Background()
	if err := offer.AcquireToken(ctx); err != nil {
		t.Fatalf("offer AcquireToken: %v", err)
	}
	if err := answer.AcquireToken(ctx); err != nil {
		t.Fatalf("answer AcquireToken: %v", err)
	}
	return offer, answer
}

func TestOfferAnswerExchange(t *testing.T) {
	offer, answer := newRelayPair(t)
	ctx := context.Background()

	if err := offer.PublishOffer(ctx, "v=0 offer-sdp"); err != nil {
		t.Fatalf("PublishOffer: %v", err)
	}

	sdp, ready, err := answer.FetchOffer(ctx)
	if err != nil {
		t.Fatalf("FetchOffer: %v", err)
	}
	if !ready || sdp != "v=0 offer-sdp" {
		t.Fatalf("FetchOffer = (%q, %v), want offer sdp and ready", sdp, ready)
	}

	// Publish the answer only after the offerer has started polling, so
	// AwaitAnswer exercises at least one not-ready round.
	go func() {
		time.Sleep(50 * time.Millisecond)
		if err := answer.PublishAnswer(ctx, "v=0 answer-sdp"); err != nil {
			t.Errorf("PublishAnswer: %v", err)
		}
	}()

	got, err := offer.AwaitAnswer(ctx)
	if err != nil {
		t.Fatalf("AwaitAnswer: %v", err)
	}
	if got != "v=0 answer-sdp" {
		t.Fatalf("AwaitAnswer = %q, want %q", got, "v=0 answer-sdp")
	}
}

func TestCandidateExchange(t *testing.T) {
	offer, answer := newRelayPair(t)
	ctx := context.Background()

	published := []webrtc.ICECandidateInit{
		{Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 50000 typ host"},
		{Candidate: "candidate:2 1 udp 1694498815 203.0.113.9 50001 typ srflx"},
	}
	for _, c := range published {
		if err := offer.PublishCandidate(ctx, c); err != nil {
			t.Fatalf("PublishCandidate: %v", err)
		}
	}

	// The answer side fetches the offerer's accumulated set.
	got, err := answer.FetchRemoteCandidates(ctx)
	if err != nil {
		t.Fatalf("FetchRemoteCandidates: %v", err)
	}
	if len(got) != len(published) {
		t.Fatalf("fetched %d candidates, want %d", len(got), len(published))
	}
	for i := range published {
		if got[i].Candidate != published[i].Candidate {
			t.Fatalf("candidate %d = %q, want %q", i, got[i].Candidate, published[i].Candidate)
		}
	}

	// The offer side must not see its own candidates.
	own, err := offer.FetchRemoteCandidates(ctx)
	if err != nil {
		t.Fatalf("FetchRemoteCandidates (offer side): %v", err)
	}
	if len(own) != 0 {
		t.Fatalf("offer side fetched %d candidates, want 0", len(own))
	}
}

func TestCallBeforeTokenIsCallerError(t *testing.T) {
	srv := httptest.NewServer(relay.New().Handler())
	t.Cleanup(srv.Close)

	c := signal.NewClient(srv.URL+"/rpc", signal.SideOffer)
	err := c.PublishOffer(context.Background(), "v=0")
	if !errors.Is(err, signal.ErrSignaling) {
		t.Fatalf("err = %v, want ErrSignaling", err)
	}
}

func TestAcquireTokenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"issuer unavailable"}}`))
	}))
	t.Cleanup(srv.Close)

	c := signal.NewClient(srv.URL, signal.SideOffer)
	err := c.AcquireToken(context.Background())
	if !errors.Is(err, signal.ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
}

func TestMalformedRelayResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway error</html>"))
	}))
	t.Cleanup(srv.Close)

	c := signal.NewClient(srv.URL, signal.SideOffer)
	if err := c.AcquireToken(context.Background()); !errors.Is(err, signal.ErrAuth) {
		t.Fatalf("AcquireToken err = %v, want ErrAuth", err)
	}
}

func TestAwaitAnswerHonorsContext(t *testing.T) {
	offer, _ := newRelayPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := offer.AwaitAnswer(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}
