// Package forward implements the payload forwarder (C8, §4.8):
// per-originator sequence dedup, two-piece fragmentation reassembly,
// egress fan-out rules, and the optional SEQUENCE/ACK-SEQUENCE
// lock-step flow control.
package forward

import "github.com/meshbox/cloudhub/mac"

// halfWindow is the modulo-2^16 newness window (§4.8): a sequence
// number is "new" iff the forward distance from the stored value falls
// strictly inside (0, 2^15).
const halfWindow = 1 << 15

// Dedup tracks, per remote originator, the highest sequence number seen
// so far (§3), implementing a sliding-window duplicate filter that
// survives 16-bit wraparound.
type Dedup struct {
	local    mac.Addr
	localSeq uint16
	seen     map[mac.Addr]uint16
}

// NewDedup returns a Dedup table for a box whose own name is local (a
// frame originated by local is always "not new", §4.8).
func NewDedup(local mac.Addr) *Dedup {
	return &Dedup{local: local, seen: make(map[mac.Addr]uint16)}
}

// IsNew reports whether (originator, seq) is new, and if so, records
// seq as the highest seen for originator. Unknown originators are
// always new and prime the stored sequence.
func (d *Dedup) IsNew(originator mac.Addr, seq uint16) bool {
	if originator == d.local {
		return false
	}
	stored, ok := d.seen[originator]
	if !ok {
		d.seen[originator] = seq
		return true
	}
	delta := seq - stored // wraps modulo 2^16 by construction
	isNew := delta > 0 && delta < halfWindow
	if isNew {
		d.seen[originator] = seq
	}
	return isNew
}

// NextSeq returns the next originator_seq to stamp onto a locally
// originated payload, advancing the local counter (§4.8).
func (d *Dedup) NextSeq() uint16 {
	d.localSeq++
	return d.localSeq
}
