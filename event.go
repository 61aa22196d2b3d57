package cloudhub

import (
	"fmt"

	"github.com/meshbox/cloudhub/mac"
)

// EventType enumerates the kinds of notifications a Node emits on its
// event channel. Unlike zeromq-gyre's EventType (ENTER/EXIT/JOIN/
// WHISPER/...), this vocabulary is this daemon's own: neighbor
// discovery, tree-shape changes, ad-hoc client ownership, and delivered
// payloads.
type EventType int

const (
	// EventNeighborDiscovered fires when a box or station first appears
	// in the neighbor table (§4.1).
	EventNeighborDiscovered EventType = iota
	// EventNeighborLost fires when a previously heard neighbor drops out
	// of both reconciliation sources (§4.1), and when the received-beacon
	// entry for a box times out (§4.2).
	EventNeighborLost
	// EventTreeEdgeAdded fires whenever an STP link is added, whether by
	// subgraph join, local swap, or acceptance of a peer's request
	// (§4.4, §4.5).
	EventTreeEdgeAdded
	// EventTreeEdgeRemoved fires whenever an STP link is torn down: nak,
	// cycle detection, swap completion, or the unroutable-count
	// threshold (§4.2, §4.4, §4.5).
	EventTreeEdgeRemoved
	// EventClientClaimed fires when this box becomes the server of an
	// ad-hoc client, by claim or by takeover (§4.7).
	EventClientClaimed
	// EventClientReleased fires when this box relinquishes a client it
	// previously owned, by race-demotion or decay-deletion (§4.7).
	EventClientReleased
	// EventPayloadDelivered fires once per newly arrived, fully
	// reassembled payload, after dedup (§4.8).
	EventPayloadDelivered
)

func (t EventType) String() string {
	switch t {
	case EventNeighborDiscovered:
		return "NeighborDiscovered"
	case EventNeighborLost:
		return "NeighborLost"
	case EventTreeEdgeAdded:
		return "TreeEdgeAdded"
	case EventTreeEdgeRemoved:
		return "TreeEdgeRemoved"
	case EventClientClaimed:
		return "ClientClaimed"
	case EventClientReleased:
		return "ClientReleased"
	case EventPayloadDelivered:
		return "PayloadDelivered"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is one notification delivered on Node.Chan(). Which fields are
// meaningful depends on Type: Peer names the box or station the event
// concerns; Payload carries a delivered frame's reassembled body.
type Event struct {
	Type    EventType
	Peer    mac.Addr
	Payload []byte
}

func (e *Event) String() string {
	if e.Type == EventPayloadDelivered {
		return fmt.Sprintf("%s peer=%s len=%d", e.Type, e.Peer, len(e.Payload))
	}
	return fmt.Sprintf("%s peer=%s", e.Type, e.Peer)
}
