// Package messages defines the wire protocol spoken between the server and
// its clients. Envelopes carry a kind tag and an opaque JSON body; the
// server never interprets relayed bodies, it only stamps the sender id and
// routes by recipient.
package messages

import "encoding/json"

// Kind tags a message envelope. The set is closed: anything else arriving
// from a client is a malformed operation and is rejected by the transport.
type Kind string

const (
	// server -> client notices
	KindWelcome        Kind = "welcome"
	KindPaired         Kind = "paired"
	KindPartnerSkipped Kind = "partner_skipped"
	KindDisconnected   Kind = "disconnected"

	// client -> server operations
	KindMatch Kind = "match"
	KindSkip  Kind = "skip"
	KindLeave Kind = "leave"

	// relayed verbatim between paired peers
	KindOffer       Kind = "offer"
	KindAnswer      Kind = "answer"
	KindCandidate   Kind = "candidate"
	KindChat        Kind = "chat"
	KindVideoToggle Kind = "video_toggle"
	KindAudioToggle Kind = "audio_toggle"
)

// Relayable reports whether the kind is forwarded peer-to-peer with an
// opaque body.
func (k Kind) Relayable() bool {
	switch k {
	case KindOffer, KindAnswer, KindCandidate, KindChat, KindVideoToggle, KindAudioToggle:
		return true
	}
	return false
}

// Envelope is the frame exchanged over every transport. From is always
// stamped by the server on delivery; a client-supplied value is ignored.
type Envelope struct {
	Kind Kind            `json:"kind"`
	From string          `json:"from,omitempty"`
	To   string          `json:"to,omitempty"`
	Body json.RawMessage `json:"body,omitempty"`
}

// partner preference values accepted in Preferences.PartnerPreference
const (
	PreferenceSame = "same"
	PreferenceAny  = "any"
)

// Preferences is the matchmaking payload a client submits with a match
// request. All fields are optional; the zero value matches anyone.
type Preferences struct {
	Gender            string `json:"gender,omitempty"`
	PartnerPreference string `json:"partnerPreference,omitempty"`
	Interest          string `json:"interest,omitempty"`
}

// WelcomeBody tells a freshly connected client its session id.
type WelcomeBody struct {
	PeerID string `json:"peerId"`
}

// PairedBody notifies both sides of a new pairing. The initiator is the
// peer that was already waiting when the match was made; it is the one
// expected to open the WebRTC offer.
type PairedBody struct {
	PartnerID   string `json:"partnerId"`
	IsInitiator bool   `json:"isInitiator"`
}

func NewWelcome(peerID string) *Envelope {
	body, _ := json.Marshal(WelcomeBody{PeerID: peerID})
	return &Envelope{Kind: KindWelcome, Body: body}
}

func NewPaired(partnerID string, isInitiator bool) *Envelope {
	body, _ := json.Marshal(PairedBody{PartnerID: partnerID, IsInitiator: isInitiator})
	return &Envelope{Kind: KindPaired, Body: body}
}

func NewPartnerSkipped(from string) *Envelope {
	return &Envelope{Kind: KindPartnerSkipped, From: from}
}

func NewDisconnected(from string) *Envelope {
	return &Envelope{Kind: KindDisconnected, From: from}
}
