// Package server implements the rendezvous core: the registry of connected
// peers, the waiting pool, and the matchmaking engine that pairs compatible
// strangers and relays opaque signaling payloads between them.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jaishree29/slaaang-omegle-feature-backend/messages"
	"github.com/jaishree29/slaaang-omegle-feature-backend/metrics"
	"github.com/jaishree29/slaaang-omegle-feature-backend/peer"
)

// ErrMalformedOperation marks an inbound client message that cannot be
// applied: no kind, an unknown kind, or a relay without a recipient. The
// transport logs it and keeps the session alive.
var ErrMalformedOperation = errors.New("malformed operation")

// DefaultSweepInterval is how often the waiting pool is checked for entries
// whose peer vanished without a proper leave.
const DefaultSweepInterval = 30 * time.Second

// Server is the matchmaking engine. All state transitions are serialized by
// one mutex covering both the registry and the waiting pool; deliveries are
// collected under the lock and sent only after it is released, so no socket
// I/O ever happens inside the critical section.
type Server struct {
	registry *peer.Registry
	metrics  *metrics.AppMetrics

	mux sync.Mutex
	// pool holds ids of peers awaiting a match, in insertion order.
	// Matching scans front to back (first fit); removal is by id from
	// anywhere in the slice.
	pool []string

	sweepInterval time.Duration
}

type delivery struct {
	to  *peer.Peer
	msg *messages.Envelope
}

// New creates a matchmaking engine. A sweepInterval of zero selects
// DefaultSweepInterval.
func New(appMetrics *metrics.AppMetrics, sweepInterval time.Duration) *Server {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Server{
		registry:      peer.NewRegistry(),
		metrics:       appMetrics,
		sweepInterval: sweepInterval,
	}
}

// RegisterPeer adds a new session to the registry and sends it a welcome
// notice carrying its assigned id. Ids are generated by the transport;
// a duplicate is rejected with peer.ErrPeerAlreadyRegistered.
func (s *Server) RegisterPeer(ctx context.Context, id string, sender peer.Sender) (*peer.Peer, error) {
	p := peer.NewPeer(id, sender)

	s.mux.Lock()
	err := s.registry.Register(p)
	s.mux.Unlock()
	if err != nil {
		return nil, err
	}

	s.metrics.ActivePeers.Add(ctx, 1)
	s.deliver(p, messages.NewWelcome(id))
	return p, nil
}

// HandleEnvelope applies one inbound client message to the engine. It is
// the single entry point shared by all transports. A returned
// ErrMalformedOperation means the message was ignored; the session is fine.
func (s *Server) HandleEnvelope(ctx context.Context, fromID string, env *messages.Envelope) error {
	if env == nil || env.Kind == "" {
		return fmt.Errorf("%w: missing message kind", ErrMalformedOperation)
	}

	switch {
	case env.Kind == messages.KindMatch:
		var prefs messages.Preferences
		if len(env.Body) > 0 {
			if err := json.Unmarshal(env.Body, &prefs); err != nil {
				return fmt.Errorf("%w: invalid match preferences: %v", ErrMalformedOperation, err)
			}
		}
		s.EnterWaiting(ctx, fromID, prefs)
	case env.Kind == messages.KindSkip:
		s.Skip(ctx, fromID)
	case env.Kind == messages.KindLeave:
		s.Leave(ctx, fromID)
	case env.Kind.Relayable():
		if env.To == "" {
			return fmt.Errorf("%w: relay message without recipient", ErrMalformedOperation)
		}
		s.Relay(ctx, fromID, env.To, env.Kind, env.Body)
	default:
		return fmt.Errorf("%w: unexpected message kind %q", ErrMalformedOperation, env.Kind)
	}
	return nil
}

// Relay forwards an opaque payload to the peer identified by toID, stamping
// the sender id. Delivery is best effort: an unknown recipient means the
// message is dropped without surfacing an error to the sender.
func (s *Server) Relay(ctx context.Context, fromID, toID string, kind messages.Kind, body json.RawMessage) {
	s.mux.Lock()
	dst, ok := s.registry.Get(toID)
	s.mux.Unlock()

	if !ok {
		log.Debugf("%s from peer [%s] can't be forwarded to peer [%s] because destination peer is not connected", kind, fromID, toID)
		s.metrics.MessagesDropped.Add(ctx, 1)
		return
	}

	s.deliver(dst, &messages.Envelope{Kind: kind, From: fromID, Body: body})
	s.metrics.MessagesForwarded.Add(ctx, 1)
}

// Skip dissolves the caller's current pairing. The former partner gets a
// partner_skipped notice; the skipping peer re-enters the waiting pool with
// cleared preferences. Skipping while unpaired is a no-op.
func (s *Server) Skip(ctx context.Context, id string) {
	s.mux.Lock()
	p, ok := s.registry.Get(id)
	if !ok {
		s.mux.Unlock()
		return
	}
	if p.PartnerID == "" {
		s.mux.Unlock()
		log.Debugf("peer [%s] skipped without a partner", id)
		return
	}

	partner, partnerOK := s.registry.Get(p.PartnerID)
	p.PartnerID = ""
	if partnerOK {
		partner.PartnerID = ""
	}
	s.requeue(ctx, p)
	s.mux.Unlock()

	if partnerOK {
		s.deliver(partner, messages.NewPartnerSkipped(id))
	}
}

// Leave removes the session entirely: out of the registry, out of the
// waiting pool. A paired partner is notified with a disconnected notice and
// returned to the waiting pool. Leaving an unknown id is a no-op.
func (s *Server) Leave(ctx context.Context, id string) {
	s.mux.Lock()
	p, ok := s.registry.Get(id)
	s.registry.Deregister(id)
	if s.removeFromPool(id) {
		s.metrics.WaitingPeers.Add(ctx, -1)
	}

	var partner *peer.Peer
	if ok && p.PartnerID != "" {
		if pp, pok := s.registry.Get(p.PartnerID); pok {
			pp.PartnerID = ""
			s.requeue(ctx, pp)
			partner = pp
		}
		p.PartnerID = ""
	}
	s.mux.Unlock()

	if ok {
		s.metrics.ActivePeers.Add(ctx, -1)
	}
	if partner != nil {
		s.deliver(partner, messages.NewDisconnected(id))
	}
}

// PeerCount returns the number of registered sessions.
func (s *Server) PeerCount() int {
	return s.registry.Size()
}

// WaitingCount returns the number of peers currently in the waiting pool.
func (s *Server) WaitingCount() int {
	s.mux.Lock()
	defer s.mux.Unlock()
	return len(s.pool)
}

// requeue puts a peer back into the waiting pool after a skip or a partner
// leave. The caller must hold s.mux.
//
// Re-entry clears the peer's stated preferences: it will match anyone.
// This mirrors the observed upstream behavior; see DESIGN.md for the
// tradeoff against restoring the last-known preferences.
func (s *Server) requeue(ctx context.Context, p *peer.Peer) {
	p.Preferences = messages.Preferences{}
	if !s.removeFromPool(p.ID) {
		s.metrics.WaitingPeers.Add(ctx, 1)
	}
	s.pool = append(s.pool, p.ID)
}

// removeFromPool deletes the id from the waiting pool, reporting whether it
// was present. The caller must hold s.mux.
func (s *Server) removeFromPool(id string) bool {
	for i, queued := range s.pool {
		if queued == id {
			s.pool = append(s.pool[:i], s.pool[i+1:]...)
			return true
		}
	}
	return false
}

// deliver hands a message to the peer's transport capability. Failures are
// logged and not retried; reconnect and resend are the client's problem.
func (s *Server) deliver(p *peer.Peer, msg *messages.Envelope) {
	if err := p.Send(msg); err != nil {
		log.Errorf("failed to deliver %s message to peer [%s]: %v", msg.Kind, p.ID, err)
	}
}
