// Package session drives a single WebRTC connection attempt: offer
// creation, trickled candidate publication, answer application, and
// remote candidate polling, ending with an open data channel carrying
// the RPC correlation layer.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/keywave/walletbridge/internal/rpc"
	"github.com/keywave/walletbridge/internal/signal"
	"github.com/keywave/walletbridge/internal/transport"
	"github.com/keywave/walletbridge/internal/util"
)

// ErrNegotiation reports that offer/answer/candidate application failed
// at the transport layer, or that the channel never opened.
var ErrNegotiation = errors.New("session: negotiation failed")

// candidatePublishTimeout bounds each fire-and-forget candidate upload.
const candidatePublishTimeout = 5 * time.Second

// Establisher runs connection attempts against one signaling relay. The
// role is fixed: this side always creates the offer; the daemon answers.
type Establisher struct {
	signal    *signal.Client
	transport transport.Config

	// CandidatePollInterval is the cadence for fetching remote
	// candidates while waiting for the channel to open. Zero selects
	// the default (500ms).
	CandidatePollInterval time.Duration

	// OpenTimeout bounds the wait for the channel open event after the
	// answer is applied. Zero selects the default (30s).
	OpenTimeout time.Duration
}

// New creates an establisher using sc for signaling and tcfg for
// PeerConnection construction.
func New(sc *signal.Client, tcfg transport.Config) *Establisher {
	return &Establisher{signal: sc, transport: tcfg}
}

// Connect runs one attempt to completion or failure. On success the
// returned session holds an open data channel with the RPC layer
// attached. On failure the session is unusable and no retry happens
// internally; offers, answers, and candidates are never reused across
// attempts.
func (e *Establisher) Connect(ctx context.Context) (*Session, error) {
	if err := e.signal.AcquireToken(ctx); err != nil {
		return nil, err
	}

	tr, err := transport.New(ctx, e.transport)
	if err != nil {
		return nil, fmt.Errorf("%w: creating transport: %w", ErrNegotiation, err)
	}

	s := &Session{tr: tr}
	s.setState(StateNew)

	// Trickle: publish each local candidate as it is discovered. A lost
	// candidate narrows path selection but does not abort the attempt,
	// so publication is fire-and-forget with failures logged. Candidates
	// discovered after the answer arrives are still published.
	tr.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			util.LogDebug("local candidate gathering complete")
			return
		}
		init := c.ToJSON()
		go func() {
			pubCtx, cancel := context.WithTimeout(context.Background(), candidatePublishTimeout)
			defer cancel()
			if err := e.signal.PublishCandidate(pubCtx, init); err != nil {
				util.LogWarning("publishing local candidate: %v", err)
			}
		}()
	})

	offer, err := tr.CreateOffer()
	if err != nil {
		return nil, s.fail(fmt.Errorf("%w: creating offer: %w", ErrNegotiation, err))
	}
	if err := tr.SetLocalDescription(offer); err != nil {
		return nil, s.fail(fmt.Errorf("%w: applying local description: %w", ErrNegotiation, err))
	}
	s.setState(StateGatheringLocal)

	if err := e.signal.PublishOffer(ctx, offer.SDP); err != nil {
		return nil, s.fail(err)
	}
	s.setState(StateOfferSent)

	s.setState(StateAwaitingAnswer)
	answerSDP, err := e.signal.AwaitAnswer(ctx)
	if err != nil {
		return nil, s.fail(err)
	}

	if err := tr.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	}); err != nil {
		return nil, s.fail(fmt.Errorf("%w: applying answer: %w", ErrNegotiation, err))
	}
	s.setState(StateNegotiatingRemote)

	// Attach the correlation layer before the channel opens so early
	// calls queue against the ready gate rather than racing OnMessage
	// registration.
	conn := rpc.NewConn(tr, tr.Ready())
	tr.OnMessage(conn.HandleMessage)
	go func() {
		<-tr.Done()
		conn.Close()
	}()
	s.conn = conn

	if err := e.negotiateRemoteCandidates(ctx, s); err != nil {
		return nil, s.fail(err)
	}

	s.transition(StateNegotiatingRemote, StateOpen)
	go func() {
		<-tr.Done()
		s.transition(StateOpen, StateClosed)
	}()

	util.LogInfo("data channel open, session established")
	return s, nil
}

// negotiateRemoteCandidates applies the remote candidate set, re-polling
// (with deduplication — the relay set is append-only) until the channel
// open event fires. Candidates are applied only after the remote
// description is set, so no local buffering is needed.
func (e *Establisher) negotiateRemoteCandidates(ctx context.Context, s *Session) error {
	pollInterval := e.CandidatePollInterval
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	openTimeout := e.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	deadline := time.After(openTimeout)

	applied := make(map[string]struct{})
	for {
		candidates, err := e.signal.FetchRemoteCandidates(ctx)
		if err != nil {
			return err
		}
		for _, candidate := range candidates {
			if _, seen := applied[candidate.Candidate]; seen {
				continue
			}
			applied[candidate.Candidate] = struct{}{}
			if err := s.tr.AddICECandidate(candidate); err != nil {
				return fmt.Errorf("%w: applying remote candidate: %w", ErrNegotiation, err)
			}
		}

		select {
		case <-s.tr.Ready():
			return nil
		case <-ticker.C:
		case <-deadline:
			return fmt.Errorf("%w: channel did not open within %s", ErrNegotiation, openTimeout)
		case <-s.tr.Done():
			return fmt.Errorf("%w: transport closed during negotiation", ErrNegotiation)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// fail records the terminal failure state and releases the transport.
func (s *Session) fail(err error) error {
	s.setState(StateFailed)
	s.tr.Close()
	return err
}
