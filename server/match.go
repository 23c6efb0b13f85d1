package server

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jaishree29/slaaang-omegle-feature-backend/messages"
	"github.com/jaishree29/slaaang-omegle-feature-backend/peer"
)

// EnterWaiting attaches the submitted preferences to the peer and tries to
// pair it with the earliest compatible waiting peer (first fit, queue
// order). On a match both sides get a paired notice; the peer that was
// already waiting becomes the initiator. With no compatible candidate the
// peer is appended to the pool and waits silently.
func (s *Server) EnterWaiting(ctx context.Context, id string, prefs messages.Preferences) {
	start := time.Now()

	s.mux.Lock()
	p, ok := s.registry.Get(id)
	if !ok {
		s.mux.Unlock()
		log.Debugf("match request from unknown peer [%s]", id)
		return
	}
	p.Preferences = prefs
	if p.PartnerID != "" {
		s.mux.Unlock()
		log.Warnf("peer [%s] requested a match while paired with [%s]", id, p.PartnerID)
		return
	}

	// a repeated match request replaces any previous pool entry
	if s.removeFromPool(id) {
		s.metrics.WaitingPeers.Add(ctx, -1)
	}

	var deliveries []delivery
	if candidate := s.takeCandidate(ctx, p); candidate != nil {
		s.registry.SetPartners(candidate, p)
		deliveries = []delivery{
			{to: candidate, msg: messages.NewPaired(p.ID, true)},
			{to: p, msg: messages.NewPaired(candidate.ID, false)},
		}
		s.metrics.Matches.Add(ctx, 1)
		log.Debugf("matched peer [%s] with waiting peer [%s]", p.ID, candidate.ID)
	} else {
		s.pool = append(s.pool, id)
		s.metrics.WaitingPeers.Add(ctx, 1)
		log.Debugf("no compatible partner for peer [%s], now waiting (%d in pool)", id, len(s.pool))
	}
	s.mux.Unlock()

	s.metrics.MatchScanTime.Record(ctx, float64(time.Since(start).Microseconds())/1000.0)

	for _, d := range deliveries {
		s.deliver(d.to, d.msg)
	}
}

// takeCandidate scans the pool in insertion order and removes and returns
// the first compatible waiting peer. Entries whose peer is no longer
// registered are stale: they are pruned on sight and never matched. The
// caller must hold s.mux.
func (s *Server) takeCandidate(ctx context.Context, entrant *peer.Peer) *peer.Peer {
	for i := 0; i < len(s.pool); i++ {
		candidate, ok := s.registry.Get(s.pool[i])
		if !ok {
			s.pool = append(s.pool[:i], s.pool[i+1:]...)
			i--
			s.metrics.WaitingPeers.Add(ctx, -1)
			s.metrics.StaleEntriesSwept.Add(ctx, 1)
			continue
		}
		if !compatible(entrant, candidate) {
			continue
		}
		s.pool = append(s.pool[:i], s.pool[i+1:]...)
		return candidate
	}
	return nil
}

// compatible decides whether two peers may be paired. Interests veto first:
// two non-empty, differing interest tags never match. Gender preferences
// must be mutually satisfied: a "same" preference means the peer wants its
// own gender, anything else is a wildcard. A peer is never compatible with
// itself.
func compatible(a, b *peer.Peer) bool {
	if a.ID == b.ID {
		return false
	}
	if a.Preferences.Interest != "" && b.Preferences.Interest != "" &&
		a.Preferences.Interest != b.Preferences.Interest {
		return false
	}
	return acceptsGenderOf(a, b) && acceptsGenderOf(b, a)
}

// acceptsGenderOf reports whether a's wanted gender is a wildcard or equals
// b's gender.
func acceptsGenderOf(a, b *peer.Peer) bool {
	if a.Preferences.PartnerPreference != messages.PreferenceSame {
		return true
	}
	return a.Preferences.Gender == b.Preferences.Gender
}

// Sweep prunes waiting pool entries whose peer is no longer registered and
// returns how many were removed. The scan is cheap (one map lookup per
// entry) and holds the engine lock only for its duration.
func (s *Server) Sweep(ctx context.Context) int {
	s.mux.Lock()
	kept := s.pool[:0]
	for _, id := range s.pool {
		if s.registry.IsPeerRegistered(id) {
			kept = append(kept, id)
			continue
		}
		log.Debugf("pruned stale waiting pool entry [%s]", id)
	}
	removed := len(s.pool) - len(kept)
	s.pool = kept
	s.mux.Unlock()

	if removed > 0 {
		s.metrics.WaitingPeers.Add(ctx, int64(-removed))
		s.metrics.StaleEntriesSwept.Add(ctx, int64(removed))
	}
	return removed
}

// Run periodically sweeps the waiting pool until the context is cancelled.
// It is the only defense against unbounded pool growth from sessions that
// vanished without a leave.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Sweep(ctx); removed > 0 {
				log.Infof("swept %d stale entries from the waiting pool", removed)
			}
		}
	}
}
