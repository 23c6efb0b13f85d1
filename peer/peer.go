package peer

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jaishree29/slaaang-omegle-feature-backend/messages"
)

// ErrPeerAlreadyRegistered is returned when a peer id is registered twice.
// Session ids are generated by the transport, so a collision is a bug there,
// but the registry stays defensive about it.
var ErrPeerAlreadyRegistered = errors.New("peer already registered")

// Sender routes outbound messages to a connected peer. It is owned by the
// transport that accepted the connection (a socket write or an append to a
// poll queue); the registry only references it.
type Sender interface {
	Send(msg *messages.Envelope) error
}

// Peer representation of a connected client session
type Peer struct {
	// a unique id of the Peer, assigned by the transport at accept time
	ID string

	// Preferences last submitted with a match request. Cleared when the
	// peer re-enters the waiting pool after a skip or a partner leave.
	Preferences messages.Preferences

	// PartnerID is the id of the currently paired peer, empty when
	// unpaired. The matchmaking engine keeps it symmetric across both
	// sides of a pairing.
	PartnerID string

	RegisteredAt time.Time

	sender Sender
}

// NewPeer creates a new instance of a connected Peer
func NewPeer(id string, sender Sender) *Peer {
	return &Peer{
		ID:           id,
		sender:       sender,
		RegisteredAt: time.Now(),
	}
}

// Send delivers a message to the peer through its transport capability.
func (p *Peer) Send(msg *messages.Envelope) error {
	if p.sender == nil {
		return errors.New("peer has no sender")
	}
	return p.sender.Send(msg)
}

// Registry that holds all currently connected Peers
type Registry struct {
	// Peer.ID -> Peer
	peers map[string]*Peer
	// regMutex ensures that registrations and de-registrations are safe
	regMutex sync.Mutex
}

// NewRegistry creates a new connected Peer registry
func NewRegistry() *Registry {
	return &Registry{
		peers: make(map[string]*Peer),
	}
}

// Get gets a peer from the registry. Absence is a normal outcome (the peer
// left or never existed), not an error.
func (registry *Registry) Get(peerID string) (*Peer, bool) {
	registry.regMutex.Lock()
	defer registry.regMutex.Unlock()
	p, ok := registry.peers[peerID]
	return p, ok
}

// IsPeerRegistered reports whether the given id is currently registered.
func (registry *Registry) IsPeerRegistered(peerID string) bool {
	_, ok := registry.Get(peerID)
	return ok
}

// Register registers peer in the registry
func (registry *Registry) Register(peer *Peer) error {
	registry.regMutex.Lock()
	defer registry.regMutex.Unlock()

	if _, ok := registry.peers[peer.ID]; ok {
		return ErrPeerAlreadyRegistered
	}
	registry.peers[peer.ID] = peer
	log.Debugf("peer registered [%s]", peer.ID)
	return nil
}

// Deregister removes a Peer from the Registry (usually once it disconnects).
// Deregistering an unknown id is a no-op.
func (registry *Registry) Deregister(peerID string) {
	registry.regMutex.Lock()
	defer registry.regMutex.Unlock()

	if _, ok := registry.peers[peerID]; !ok {
		return
	}
	delete(registry.peers, peerID)
	log.Debugf("peer deregistered [%s]", peerID)
}

// SetPartners links two peers symmetrically. The matchmaking engine calls
// this only while holding its own serialization lock.
func (registry *Registry) SetPartners(a, b *Peer) {
	registry.regMutex.Lock()
	defer registry.regMutex.Unlock()
	a.PartnerID = b.ID
	b.PartnerID = a.ID
}

// ClearPartner clears one side of a pairing. The caller is responsible for
// clearing the other side to keep the relation symmetric.
func (registry *Registry) ClearPartner(peerID string) {
	registry.regMutex.Lock()
	defer registry.regMutex.Unlock()
	if p, ok := registry.peers[peerID]; ok {
		p.PartnerID = ""
	}
}

// Size returns the number of registered peers.
func (registry *Registry) Size() int {
	registry.regMutex.Lock()
	defer registry.regMutex.Unlock()
	return len(registry.peers)
}
