package cloudhub

import (
	"github.com/meshbox/cloudhub/adhoc"
	"github.com/meshbox/cloudhub/config"
	"github.com/meshbox/cloudhub/forward"
	"github.com/meshbox/cloudhub/mac"
	"github.com/meshbox/cloudhub/protocol"
	"github.com/meshbox/cloudhub/transport"
)

// handlePayload processes one arriving EtherWrappedClient piece (§4.8):
// reassembly, then dedup, then delivery and re-forwarding.
func (n *Node) handlePayload(src mac.Addr, wc *protocol.WrappedClient) {
	n.sightAdHocOriginator(src, wc.Originator)

	complete, err := n.reasm.Feed(src.String(), wc.K, wc.N, wc.Body)
	if err != nil {
		n.log.Warnf("reassembly from %s failed: %v", src, err)
		return
	}
	if complete == nil {
		return
	}
	if !n.dedup.IsNew(wc.Originator, wc.OriginatorSeq) {
		return
	}

	n.emit(&Event{Type: EventPayloadDelivered, Peer: wc.Originator, Payload: complete})
	n.forwardPayload(src, wc.Originator, wc.OriginatorSeq, complete)
}

// sightAdHocOriginator implements §4.7's "first sighting via an 802.11
// broadcast from the station": a payload whose originator is also its
// immediate sender (no tree relay involved) and isn't an STP neighbor
// is a plain client transmitting directly, not a cloud box. Only acted
// on in ad-hoc-client mode (§6's ad-hoc-client debug option).
func (n *Node) sightAdHocOriginator(src, originator mac.Addr) {
	if !n.cfg.Debug.Get(config.OptAdHocClient) {
		return
	}
	if originator != src || originator == n.local || n.links.Has(originator) {
		return
	}
	n.clients.Sight(originator, n.neighbors.GetSigStrength(originator))
}

// sendLocalPayload originates a payload from this box's own client side,
// stamping the next per-originator sequence number and fanning it out to
// every tree neighbor that doesn't already see the source directly.
func (n *Node) sendLocalPayload(payload []byte) error {
	seq := n.dedup.NextSeq()
	return n.fanOutPayload(mac.Zero, n.local, seq, payload)
}

// forwardPayload re-transmits a payload received via a tree neighbor,
// dropping it while another box's broadcast block for the originating
// client is held in our granted lock list (§4.7).
func (n *Node) forwardPayload(arrivedVia, originator mac.Addr, seq uint16, body []byte) error {
	if adhoc.IgnoreAdHocBcast(n.locks, originator) {
		return nil
	}
	return n.fanOutPayload(arrivedVia, originator, seq, body)
}

func (n *Node) fanOutPayload(arrivedVia, originator mac.Addr, seq uint16, body []byte) error {
	plan := forward.ComputeFanOut(forward.FanOutInput{
		Arrived:      forward.ArrivedSTPNeighbor,
		ArrivedVia:   arrivedVia,
		Source:       originator,
		HaveWired:    n.cfg.WiredDevice != "",
		HaveWireless: !n.cfg.Debug.Get(config.OptDisableWirelessTx),
		STPNeighbors: n.linkPeers(),
		SeesDirectly: n.seesDirectly,
	})
	if len(plan.Neighbors) == 0 && !plan.Wired && !plan.Wireless {
		return nil
	}

	var blocker *sendBlockControl
	if n.ownsClient(originator) {
		blocker = &sendBlockControl{node: n, client: originator}
		adhoc.BlockBroadcast(blocker, plan.Neighbors)
		defer adhoc.UnblockBroadcast(blocker, plan.Neighbors)
	}

	wc := &protocol.WrappedClient{K: 1, N: 1, Originator: originator, OriginatorSeq: seq, Body: body}
	var firstErr error
	for _, peer := range plan.Neighbors {
		if err := n.sendWrappedClient(peer, wc); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// §4.8's wired-uplink (at most once) and local-wireless-iff-not-
	// arrived-on-it rules reach client devices that aren't STP
	// neighbors at all: wired Ethernet stations/peers and directly
	// associated ad-hoc stations, respectively. The out-of-scope
	// raw-socket layer (§1) would give each its own physical interface;
	// this simulated Transport collapses both onto the same shared
	// broadcast segment, so a single emission on that segment stands in
	// for whichever of the two local interfaces are active.
	if plan.Wired || plan.Wireless {
		if err := n.sendWrappedClient(transport.Broadcast, wc); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (n *Node) linkPeers() []mac.Addr {
	links := n.links.All()
	out := make([]mac.Addr, len(links))
	for i, lk := range links {
		out[i] = lk.Peer
	}
	return out
}

func (n *Node) seesDirectly(neighbor, source mac.Addr) bool {
	e, ok := n.rbeacons.Get(neighbor)
	if !ok {
		return false
	}
	return e.Sees(source)
}

func (n *Node) ownsClient(station mac.Addr) bool {
	c, ok := n.clients.Get(station)
	return ok && c.Owner == adhoc.Mine
}
