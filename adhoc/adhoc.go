// Package adhoc implements the ad-hoc client arbiter (C7, §4.7): the
// ownership state machine for plain 802.11 stations, signal-strength
// smoothing, and the broadcast-suppression protocol that keeps a
// client's own traffic from looping back over the mesh.
package adhoc

import (
	"github.com/meshbox/cloudhub/lock"
	"github.com/meshbox/cloudhub/mac"
	"github.com/meshbox/cloudhub/protocol"
	"github.com/meshbox/cloudhub/randeval"
)

// Ownership is a client's relationship to the local box.
type Ownership int

const (
	Unknown Ownership = iota
	Mine
	Other
)

// MaxOwnedPerBox caps how many clients one box may claim (§3).
const MaxOwnedPerBox = 4

// MaxClientsTotal caps the mesh-wide client count (§3, original's
// MAX_CLOUD).
const MaxClientsTotal = 32

// MinSigStrength is the floor a smoothed signal strength is clamped to,
// and the value at which a client entry is deleted (§4.7).
const MinSigStrength = 5

// decayFactor is applied each tick a station isn't freshly heard from
// (§4.7: "multiply the stored strength by 0.9").
const decayFactor = 0.9

// Client is one ad-hoc client table entry (§3).
type Client struct {
	Station    mac.Addr
	Owner      Ownership
	MySig      byte
	OwnerSig   byte // the serving box's reported signal, when Owner == Other
	ServerName mac.Addr
}

// Table is the ad-hoc client table (C7), exclusively owned by the
// event loop.
type Table struct {
	clients map[mac.Addr]*Client
	rnd     *randeval.Evaluator
}

// New returns an empty client table.
func New() *Table {
	return &Table{clients: make(map[mac.Addr]*Client), rnd: randeval.New()}
}

// SetScaling configures the takeover acceptance gate's mesh-size scaling
// (§6's scale-timers-by-mesh-size / scale-timers-debug-20x options),
// mirroring the same two knobs the tree-mutation engine exposes on its
// own randeval.Evaluator.
func (t *Table) SetScaling(byMeshSize, debug20x bool) {
	t.rnd.ScaleByMeshSize = byMeshSize
	t.rnd.ScaleDebug20x = debug20x
}

// Get returns the entry for station, if present.
func (t *Table) Get(station mac.Addr) (*Client, bool) {
	c, ok := t.clients[station]
	return c, ok
}

// All returns every current client entry.
func (t *Table) All() []*Client {
	out := make([]*Client, 0, len(t.clients))
	for _, c := range t.clients {
		out = append(out, c)
	}
	return out
}

// OwnedCount reports how many clients this box currently owns.
func (t *Table) OwnedCount() int {
	n := 0
	for _, c := range t.clients {
		if c.Owner == Mine {
			n++
		}
	}
	return n
}

// Sight records a first-sighting of station via an 802.11 broadcast
// (§4.7: "First sighting via an 802.11 broadcast from the station:
// insert with unknown"). A freshly inserted client starts at its first
// observed reading, raised to MinSigStrength if lower (no upper clamp
// is applied), per the
// freshly-seen-client Open Question resolution: the original's decay
// path would otherwise collapse a sentinel-1 start to the deletion
// floor almost immediately.
//
// Once the table already holds MaxClientsTotal entries (§3's mesh-wide
// cap, applied locally as the per-box admission check), a previously
// unseen station is not tracked; it simply stays unknown until an
// existing entry expires, matching §7's resource-exhaustion policy.
func (t *Table) Sight(station mac.Addr, sig byte) *Client {
	if c, ok := t.clients[station]; ok {
		return c
	}
	if len(t.clients) >= MaxClientsTotal {
		return nil
	}
	if sig < MinSigStrength {
		sig = MinSigStrength
	}
	c := &Client{Station: station, Owner: Unknown, MySig: sig}
	t.clients[station] = c
	return c
}

// Smooth applies §4.7's per-tick signal-strength update: if a fresh
// reading exists, adopt it; otherwise decay by decayFactor. A client
// whose smoothed strength reaches MinSigStrength is deleted.
func (t *Table) Smooth(station mac.Addr, freshSig *byte) (deleted bool) {
	c, ok := t.clients[station]
	if !ok {
		return false
	}
	if freshSig != nil {
		c.MySig = *freshSig
	} else {
		next := int(float64(c.MySig)*decayFactor + 0.5)
		c.MySig = byte(next)
	}
	if c.MySig <= MinSigStrength {
		delete(t.clients, station)
		return true
	}
	return false
}

// ClaimUnknown claims every currently-unknown client as mine, subject
// to MaxOwnedPerBox (§4.7's periodic-optimization claim step).
func (t *Table) ClaimUnknown() []mac.Addr {
	var claimed []mac.Addr
	for _, c := range t.clients {
		if c.Owner != Unknown {
			continue
		}
		if t.OwnedCount() >= MaxOwnedPerBox {
			break
		}
		c.Owner = Mine
		claimed = append(claimed, c.Station)
	}
	return claimed
}

// TakeoverCandidate names the best takeover candidate among this box's
// "other"-owned clients: the one with the greatest positive
// my_sig-owner_sig difference.
type TakeoverCandidate struct {
	Station mac.Addr
	Diff    int
}

// BestTakeover scans every client owned by another box and returns the
// one with the maximum positive signal-strength diff, or ok=false if
// none has a positive diff (§4.7).
func (t *Table) BestTakeover() (TakeoverCandidate, bool) {
	best := TakeoverCandidate{Diff: -1}
	found := false
	for _, c := range t.clients {
		if c.Owner != Other {
			continue
		}
		diff := int(c.MySig) - int(c.OwnerSig)
		if diff > 0 && diff > best.Diff {
			best = TakeoverCandidate{Station: c.Station, Diff: diff}
			found = true
		}
	}
	return best, found
}

// TryTakeover gates a takeover attempt behind random_eval (§4.7) and
// claims the station as mine on success.
func (t *Table) TryTakeover(cand TakeoverCandidate, beaconCount int) bool {
	if !t.rnd.Eval(cand.Diff, beaconCount) {
		return false
	}
	c, ok := t.clients[cand.Station]
	if !ok {
		return false
	}
	c.Owner = Mine
	return true
}

// ObserveBeaconRow processes an incoming beacon's non-cloud-client row
// for station served by origin (§4.7's race/demotion handling).
func (t *Table) ObserveBeaconRow(station, origin, local mac.Addr, ownerSig byte) {
	c, ok := t.clients[station]
	if !ok {
		return
	}
	if origin == local {
		return
	}
	switch c.Owner {
	case Mine:
		// A race: another box also claims to serve this station. We
		// relinquish; our own next beacon will show us serving it if
		// we still are, settled by the random gate on subsequent ticks.
		c.Owner = Other
		c.ServerName = origin
		c.OwnerSig = ownerSig
	case Other:
		c.ServerName = origin
		c.OwnerSig = ownerSig
	}
}

// Orphan marks every client whose server is lostServer as unknown,
// invoked on the §4.2 timeout cascade when a received-beacon entry
// expires.
func (t *Table) Orphan(lostServer mac.Addr) {
	for _, c := range t.clients {
		if c.Owner == Other && c.ServerName == lostServer {
			c.Owner = Unknown
			c.ServerName = mac.Addr{}
			c.OwnerSig = 0
		}
	}
}

// BlockSender is the minimal send surface needed for the broadcast
// suppression protocol.
type BlockSender interface {
	Send(dest mac.Addr, typ protocol.Type) error
}

// BlockBroadcast implements §4.7's suppression protocol: before
// forwarding a broadcast originated by an owned client, block is sent
// to every STP neighbor naming (local, client); after the payload is
// transmitted, unblock releases it. The lock itself belongs to the
// caller's lock.Table (a BCAST-BLOCK is a granted lock, per DESIGN.md).
func BlockBroadcast(send BlockSender, neighbors []mac.Addr) error {
	for _, n := range neighbors {
		if err := send.Send(n, protocol.TypeAdHocBcastBlock); err != nil {
			return err
		}
	}
	return nil
}

// UnblockBroadcast releases a prior BlockBroadcast.
func UnblockBroadcast(send BlockSender, neighbors []mac.Addr) error {
	for _, n := range neighbors {
		if err := send.Send(n, protocol.TypeAdHocBcastUnblock); err != nil {
			return err
		}
	}
	return nil
}

// IgnoreAdHocBcast implements ignore_ad_hoc_bcast(msg): true iff a
// BCAST-BLOCK lock naming clientSource is currently granted, meaning a
// broadcast from that client must be dropped to prevent a re-broadcast
// loop.
func IgnoreAdHocBcast(locks *lock.Table, clientSource mac.Addr) bool {
	return locks.Has(protocol.TypeAdHocBcastBlock, clientSource)
}
