// Package rbeacon implements the received-beacon table (C2): the
// latest STP beacon heard from every reachable box, the neighbor it
// arrived via, and the inter-box visibility hints the forwarder uses to
// suppress redundant transmissions (§4.2).
package rbeacon

import (
	"time"

	"github.com/meshbox/cloudhub/mac"
	"github.com/meshbox/cloudhub/protocol"
	"github.com/meshbox/cloudhub/scheduler"
)

// BaseTimeout is the default per-entry timeout before scaling (§4.2).
const BaseTimeout = 5 * time.Second

// GoodThreshold is the signal strength at or above which a status
// record counts as "directly sighted" (original_source/nbr.h's
// good_threshold).
const GoodThreshold = 190

// Entry is one received-beacon table row (§3).
type Entry struct {
	Origin               mac.Addr
	ArrivedVia           mac.Addr
	RecvTime             time.Time
	WeakestLink          uint16
	Status               []protocol.StatusRecord
	LastSeenOriginatorSeq uint16
	haveSeq              bool

	schedID scheduler.ID
}

// DirectlySighted returns the peers this beacon's origin sees with
// signal strength at or above GoodThreshold.
func (e *Entry) DirectlySighted() []mac.Addr {
	var out []mac.Addr
	for _, s := range e.Status {
		if s.SigStrength >= GoodThreshold {
			out = append(out, s.Name)
		}
	}
	return out
}

// Sees reports whether this beacon's origin directly sees peer.
func (e *Entry) Sees(peer mac.Addr) bool {
	for _, s := range e.Status {
		if s.Name == peer && s.SigStrength >= GoodThreshold {
			return true
		}
	}
	return false
}

const rbeaconSchedKind scheduler.Kind = 2

// Table is the received-beacon table (C2), exclusively owned by the
// event loop.
type Table struct {
	entries map[mac.Addr]*Entry
	sched   *scheduler.Scheduler
}

// New returns an empty Table driven by sched.
func New(sched *scheduler.Scheduler) *Table {
	return &Table{entries: make(map[mac.Addr]*Entry), sched: sched}
}

// Get returns the entry for origin, if present.
func (t *Table) Get(origin mac.Addr) (*Entry, bool) {
	e, ok := t.entries[origin]
	return e, ok
}

// All returns every current entry.
func (t *Table) All() []*Entry {
	out := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}

// Len reports the current entry count, used to scale timeouts (§4.2).
func (t *Table) Len() int { return len(t.entries) }

func (t *Table) timeout(scaleByMeshSize bool) time.Duration {
	if !scaleByMeshSize {
		return BaseTimeout
	}
	n := t.Len()
	if n < 1 {
		n = 1
	}
	return BaseTimeout * time.Duration(n)
}

// Insert inserts or refreshes the entry for beacon.Origin, arriving via
// arrivedVia at now. isSTPNeighbor must report whether arrivedVia is a
// current STP link-list peer — the invariant of §4.2/§8 #3 is enforced
// at the call site by requiring the caller to supply this check rather
// than letting rbeacon depend on the stp package.
func (t *Table) Insert(origin, arrivedVia mac.Addr, beacon *protocol.STPBeacon, now time.Time, isSTPNeighbor func(mac.Addr) bool, scaleByMeshSize bool) (*Entry, bool) {
	if !isSTPNeighbor(arrivedVia) {
		return nil, false
	}

	if existing, ok := t.entries[origin]; ok {
		t.sched.Cancel(existing.schedID)
	}

	e := &Entry{
		Origin:      origin,
		ArrivedVia:  arrivedVia,
		RecvTime:    now,
		WeakestLink: beacon.WeakestLink,
		Status:      beacon.Status,
	}
	if beacon.OriginSeq != 0 || origin != mac.Zero {
		e.LastSeenOriginatorSeq = beacon.OriginSeq
		e.haveSeq = true
	}
	t.entries[origin] = e
	e.schedID = t.sched.Schedule(now.Add(t.timeout(scaleByMeshSize)), rbeaconSchedKind, e)
	return e, true
}

// Rewrite updates every entry whose ArrivedVia is oldVia to read newVia
// instead, the "saves a convergence sweep" optimization of §4.5.2 step 4.
func (t *Table) Rewrite(oldVia, newVia mac.Addr) {
	for _, e := range t.entries {
		if e.ArrivedVia == oldVia {
			e.ArrivedVia = newVia
		}
	}
}

// Delete removes origin's entry, if present, disarming its timer.
func (t *Table) Delete(origin mac.Addr) {
	if e, ok := t.entries[origin]; ok {
		t.sched.Cancel(e.schedID)
		delete(t.entries, origin)
	}
}

// Expire is called by the event loop for every scheduler.Event tagged
// with this table's kind. It returns the origin whose entry timed out
// so the caller can run §4.2's unserved-client sweep (C7) and any tree
// re-derivation.
func (t *Table) Expire(ev scheduler.Event) (mac.Addr, bool) {
	if ev.Kind != rbeaconSchedKind {
		return mac.Addr{}, false
	}
	e, ok := ev.Data.(*Entry)
	if !ok {
		return mac.Addr{}, false
	}
	// The entry may already have been replaced by a fresher Insert
	// (which cancels the old schedule but map lookups are by origin,
	// so guard against a stale expiry firing after a refresh raced it).
	if cur, stillThere := t.entries[e.Origin]; stillThere && cur == e {
		delete(t.entries, e.Origin)
		return e.Origin, true
	}
	return mac.Addr{}, false
}

// SchedKind exposes the scheduler.Kind this table tags its entries
// with.
func SchedKind() scheduler.Kind { return rbeaconSchedKind }
