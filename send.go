package cloudhub

import (
	"github.com/meshbox/cloudhub/mac"
	"github.com/meshbox/cloudhub/protocol"
)

// dispatcher adapts Node's transport into the narrow Sender interfaces
// stp.Engine and beaconengine.Engine depend on, following §6's common
// control-frame envelope: a per-link sequence byte, the ultimate
// mesh-destination name, the type discriminator, and the body.
type dispatcher struct {
	node *Node
}

// nextLinkSeq returns the next per-link sequence byte for dest,
// creating a counter for peers that aren't (yet, or ever) STP links —
// control messages like STP-ADD-REQ are exchanged before the edge
// exists on either side.
func (n *Node) nextLinkSeq(dest mac.Addr) byte {
	if lk, ok := n.links.Get(dest); ok {
		lk.SendSeq++
		return byte(lk.SendSeq)
	}
	n.ctrlSeq[dest]++
	return n.ctrlSeq[dest]
}

// sendFrame marshals and transmits one control frame over EtherCloudMsg.
func (n *Node) sendFrame(dest mac.Addr, typ protocol.Type, body protocol.Body) error {
	f := &protocol.Frame{Seq: n.nextLinkSeq(dest), Dest: dest, Type: typ, Body: body}
	raw, err := f.Marshal()
	if err != nil {
		return err
	}
	if err := n.tr.Send(dest, protocol.EtherCloudMsg, raw); err != nil {
		if n.links.RecordUnroutable(dest) {
			n.log.Warnf("link to %s torn down: unroutable threshold reached", dest)
			n.links.Delete(dest)
			n.emit(&Event{Type: EventTreeEdgeRemoved, Peer: dest})
		}
		return err
	}
	n.links.RecordRoutable(dest)
	return nil
}

// Send implements stp.Sender: every tree-mutation control message of
// §4.5 carries an Empty body, the peers involved already being named by
// the envelope's Dest field.
func (d *dispatcher) Send(dest mac.Addr, typ protocol.Type) error {
	return d.node.sendFrame(dest, typ, &protocol.Empty{})
}

// SendBeacon implements beaconengine.Sender.
func (d *dispatcher) SendBeacon(dest mac.Addr, beacon *protocol.STPBeacon) error {
	return d.node.sendFrame(dest, protocol.TypeSTPBeacon, beacon)
}

// SendArcDelete implements beaconengine.Sender.
func (d *dispatcher) SendArcDelete(dest mac.Addr) error {
	return d.node.sendFrame(dest, protocol.TypeSTPArcDelete, &protocol.Empty{})
}

// sendBlockControl implements adhoc.BlockSender, used by the broadcast
// suppression protocol of §4.7: BCAST-BLOCK/UNBLOCK name (owner,
// client) in the body rather than relying on the envelope alone, since
// the envelope's Dest is the recipient, not the client being blocked.
type sendBlockControl struct {
	node   *Node
	client mac.Addr
}

func (s *sendBlockControl) Send(dest mac.Addr, typ protocol.Type) error {
	body := &protocol.BcastControl{Owner: s.node.local, Client: s.client}
	return s.node.sendFrame(dest, typ, body)
}

// sendWrappedClient transmits a single-piece payload frame over
// EtherWrappedClient.
func (n *Node) sendWrappedClient(dest mac.Addr, wc *protocol.WrappedClient) error {
	raw, err := wc.Marshal()
	if err != nil {
		return err
	}
	return n.tr.Send(dest, protocol.EtherWrappedClient, raw)
}
