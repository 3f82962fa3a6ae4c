package mesh

import "encoding/json"

// PeerLink is one pairwise connection to a remote member. A link is owned by
// exactly one engine goroutine; callbacks registered before negotiation
// starts may fire from network goroutines and must not call back into the
// link synchronously.
type PeerLink interface {
	// OnSignal registers the sink for outbound negotiation payloads
	// (offers, answers, trickle candidates). Payloads are opaque to the
	// relay and to the engine.
	OnSignal(fn func(payload json.RawMessage))

	// OnConnected fires once when the link reaches the connected state.
	OnConnected(fn func())

	// StartOffer begins negotiation as the initiator.
	StartOffer() error

	// Signal applies a remote negotiation payload.
	Signal(payload json.RawMessage) error

	Close() error
}

// LinkFactory builds the link toward one remote member. initiator reports
// which side runs the offer; the joiner initiates toward every member that
// was already present.
type LinkFactory func(remoteID string, initiator bool) (PeerLink, error)

// peerState is the engine's record of one remote member.
type peerState struct {
	id        string
	initiator bool
	link      PeerLink
	connected bool
}
