package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterDuplicateId(t *testing.T) {
	r := NewRegistry()

	peerID := "peer"

	first := NewPeer(peerID, nil)
	require.NoError(t, r.Register(first))

	second := NewPeer(peerID, nil)
	err := r.Register(second)
	require.ErrorIs(t, err, ErrPeerAlreadyRegistered)

	registered, ok := r.Get(peerID)
	require.True(t, ok)
	assert.Equal(t, first, registered, "original registration must survive a duplicate attempt")
}

func TestRegistry_GetNonExistentPeer(t *testing.T) {
	r := NewRegistry()

	peer, ok := r.Get("non_existent_peer")

	if peer != nil {
		t.Errorf("expected non_existent_peer not found in the registry")
	}

	if ok {
		t.Errorf("expected non_existent_peer not found in the registry")
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	peer1 := NewPeer("test_peer_1", nil)
	peer2 := NewPeer("test_peer_2", nil)
	require.NoError(t, r.Register(peer1))
	require.NoError(t, r.Register(peer2))

	if _, ok := r.Get("test_peer_1"); !ok {
		t.Errorf("expected test_peer_1 not found in the registry")
	}

	if _, ok := r.Get("test_peer_2"); !ok {
		t.Errorf("expected test_peer_2 not found in the registry")
	}
}

func TestRegistry_Deregister(t *testing.T) {
	r := NewRegistry()
	peer1 := NewPeer("test_peer_1", nil)
	peer2 := NewPeer("test_peer_2", nil)
	require.NoError(t, r.Register(peer1))
	require.NoError(t, r.Register(peer2))

	r.Deregister("test_peer_1")

	if _, ok := r.Get("test_peer_1"); ok {
		t.Errorf("expected test_peer_1 to be absent in the registry after deregistering")
	}

	if _, ok := r.Get("test_peer_2"); !ok {
		t.Errorf("expected test_peer_2 not found in the registry")
	}
}

func TestRegistry_DeregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()

	// must not panic or disturb other entries
	r.Deregister("never_registered")

	p := NewPeer("test_peer", nil)
	require.NoError(t, r.Register(p))
	r.Deregister("test_peer")
	r.Deregister("test_peer")

	assert.Equal(t, 0, r.Size())
}

func TestRegistry_SetAndClearPartners(t *testing.T) {
	r := NewRegistry()
	a := NewPeer("peer_a", nil)
	b := NewPeer("peer_b", nil)
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	r.SetPartners(a, b)
	assert.Equal(t, "peer_b", a.PartnerID)
	assert.Equal(t, "peer_a", b.PartnerID)

	r.ClearPartner(a.ID)
	r.ClearPartner(b.ID)
	assert.Empty(t, a.PartnerID)
	assert.Empty(t, b.PartnerID)

	// clearing an absent id is a no-op
	r.ClearPartner("ghost")
}
