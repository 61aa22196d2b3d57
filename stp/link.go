// Package stp implements the STP link list (C4) and the two
// tree-mutation protocols that grow and reshape it: subgraph join and
// local swap (C5, §4.5). The link list is the daemon's model of the
// spanning tree; edges are added and removed only through these
// protocols or by repeated unroutable sends, never by passive aging.
package stp

import (
	"time"

	"github.com/meshbox/cloudhub/mac"
)

// UnroutableMax is the consecutive-send-failure threshold past which a
// link is torn down (original_source/sequence.h's UNROUTABLE_MAX).
const UnroutableMax = 100

// Link is one STP link-list entry (§3): a tree edge as seen from this
// box's side, plus the per-edge flow-control counters the optional
// SEQUENCE/ACK-SEQUENCE transport needs.
type Link struct {
	Peer            mac.Addr
	EthName         *mac.Addr
	SigStrength     byte
	SendSeq         uint16
	RecvSeq         uint16
	RecvSeqErr      uint32
	SendErr         uint32
	RecvErr         uint32
	AwaitingAck     bool
	PendingAck      bool
	ExpectSeq       uint16
	LastSentPayload []byte
	UnroutableCount int
	CreatedAt       time.Time
}

// List is the STP link list (C4), exclusively owned by the event loop.
type List struct {
	links map[mac.Addr]*Link
}

// New returns an empty link list.
func New() *List {
	return &List{links: make(map[mac.Addr]*Link)}
}

// Has reports whether peer currently has a tree edge.
func (l *List) Has(peer mac.Addr) bool {
	_, ok := l.links[peer]
	return ok
}

// Get returns the link entry for peer, if present.
func (l *List) Get(peer mac.Addr) (*Link, bool) {
	lk, ok := l.links[peer]
	return lk, ok
}

// All returns every current link.
func (l *List) All() []*Link {
	out := make([]*Link, 0, len(l.links))
	for _, lk := range l.links {
		out = append(out, lk)
	}
	return out
}

// Len reports the current number of tree edges.
func (l *List) Len() int { return len(l.links) }

// Add inserts peer as a tree edge, re-initializing every counter. Per
// §4.4, re-adding an existing peer is idempotent and resets
// flow-control state exactly as a fresh insert would.
func (l *List) Add(peer mac.Addr, ethName *mac.Addr, sigStrength byte, now time.Time) *Link {
	lk := &Link{
		Peer:        peer,
		EthName:     ethName,
		SigStrength: sigStrength,
		CreatedAt:   now,
	}
	l.links[peer] = lk
	return lk
}

// Delete removes peer's tree edge, if present.
func (l *List) Delete(peer mac.Addr) {
	delete(l.links, peer)
}

// RecordUnroutable increments peer's consecutive-failure counter and
// reports whether it has now crossed UnroutableMax, the caller's cue to
// tear the edge down (§4.4, §7).
func (l *List) RecordUnroutable(peer mac.Addr) bool {
	lk, ok := l.links[peer]
	if !ok {
		return false
	}
	lk.UnroutableCount++
	return lk.UnroutableCount >= UnroutableMax
}

// RecordRoutable clears peer's consecutive-failure counter after a
// successful send.
func (l *List) RecordRoutable(peer mac.Addr) {
	if lk, ok := l.links[peer]; ok {
		lk.UnroutableCount = 0
	}
}
