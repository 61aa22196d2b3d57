// Package lock implements the three-list lock table set (C3): pending
// requests, locks granted to peers, and locks we own. Each record is
// timer-armed through a scheduler.Scheduler; expiry drives the
// recovery state machine of §4.3 and §7. The C original's three
// parallel lockable_resource_t vectors become a sum type keyed by
// (message type, peer), per §9.
package lock

import (
	"fmt"
	"time"

	"github.com/meshbox/cloudhub/mac"
	"github.com/meshbox/cloudhub/protocol"
	"github.com/meshbox/cloudhub/scheduler"
)

// List names one of the three lock lists, used in timeout callbacks and
// logging.
type List int

const (
	ListPending List = iota
	ListGranted
	ListOwned
)

func (l List) String() string {
	switch l {
	case ListPending:
		return "pending"
	case ListGranted:
		return "granted"
	case ListOwned:
		return "owned"
	}
	return "unknown"
}

// Record is one lock-table entry (§3).
type Record struct {
	Type   protocol.Type
	Peer   mac.Addr
	Peer2  mac.Addr // optional second peer, e.g. a swap's other leg
	Beacon *protocol.STPBeacon

	schedID scheduler.ID
	list    List
}

type key struct {
	Type protocol.Type
	Peer mac.Addr
}

// ExpiryHandler is invoked when a lock record's deadline passes. It is
// kind-specific per §4.3: notify a caller-supplied hook for
// parameter-change locks, retry the send for STP-beacon locks when the
// optional retry behavior is enabled, or simply drop otherwise.
type ExpiryHandler func(list List, rec *Record)

// Table is the lock table set, exclusively owned by the event loop.
type Table struct {
	pending map[key]*Record
	granted map[key]*Record
	owned   map[key]*Record

	sched   *scheduler.Scheduler
	onExpire ExpiryHandler
}

// lockSchedKind tags scheduler entries belonging to this table so the
// event loop can route expired events back into Table.Expire.
const lockSchedKind scheduler.Kind = 1

// New returns an empty lock Table driven by sched.
func New(sched *scheduler.Scheduler, onExpire ExpiryHandler) *Table {
	return &Table{
		pending:  make(map[key]*Record),
		granted:  make(map[key]*Record),
		owned:    make(map[key]*Record),
		sched:    sched,
		onExpire: onExpire,
	}
}

func (t *Table) mapFor(list List) map[key]*Record {
	switch list {
	case ListPending:
		return t.pending
	case ListGranted:
		return t.granted
	case ListOwned:
		return t.owned
	}
	return nil
}

// Has reports whether peer already holds a lock of type in any of the
// three lists — the conflict check a grantor makes before answering a
// REQ (§4.3: "already granted/pending/owned -> DENY").
func (t *Table) Has(typ protocol.Type, peer mac.Addr) bool {
	k := key{typ, peer}
	_, inP := t.pending[k]
	_, inG := t.granted[k]
	_, inO := t.owned[k]
	return inP || inG || inO
}

// Insert adds a new record to list, arming its deadline. It returns an
// error if (type, peer) is already present in any list, preserving the
// invariant that a peer appears in at most one list per type.
func (t *Table) Insert(list List, typ protocol.Type, peer mac.Addr, peer2 mac.Addr, beacon *protocol.STPBeacon, deadline time.Time) (*Record, error) {
	if t.Has(typ, peer) {
		return nil, fmt.Errorf("lock: %s already holds a %s lock", peer, typ)
	}
	rec := &Record{Type: typ, Peer: peer, Peer2: peer2, Beacon: beacon, list: list}
	rec.schedID = t.sched.Schedule(deadline, lockSchedKind, rec)
	t.mapFor(list)[key{typ, peer}] = rec
	return rec, nil
}

// Get looks up the record for (type, peer) in list.
func (t *Table) Get(list List, typ protocol.Type, peer mac.Addr) (*Record, bool) {
	rec, ok := t.mapFor(list)[key{typ, peer}]
	return rec, ok
}

// Delete removes the record for (type, peer) from list and disarms its
// deadline. It is a no-op if no such record exists.
func (t *Table) Delete(list List, typ protocol.Type, peer mac.Addr) {
	m := t.mapFor(list)
	k := key{typ, peer}
	if rec, ok := m[k]; ok {
		t.sched.Cancel(rec.schedID)
		delete(m, k)
	}
}

// Move transfers a record from one list to another, preserving its
// deadline's remaining semantics is not attempted — per §4.3 a moved
// lock (pending -> owned on GRANT) gets a fresh deadline supplied by
// the caller, since ownership begins a new waiting period.
func (t *Table) Move(from, to List, typ protocol.Type, peer mac.Addr, deadline time.Time) (*Record, bool) {
	fromMap := t.mapFor(from)
	k := key{typ, peer}
	rec, ok := fromMap[k]
	if !ok {
		return nil, false
	}
	t.sched.Cancel(rec.schedID)
	delete(fromMap, k)

	rec.list = to
	rec.schedID = t.sched.Schedule(deadline, lockSchedKind, rec)
	t.mapFor(to)[k] = rec
	return rec, true
}

// All returns every record currently in list.
func (t *Table) All(list List) []*Record {
	m := t.mapFor(list)
	out := make([]*Record, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	return out
}

// AnyOwned reports whether any lock is currently owned.
func (t *Table) AnyOwned() bool { return len(t.owned) > 0 }

// AnyGranted reports whether any lock is currently granted to a peer.
func (t *Table) AnyGranted() bool { return len(t.granted) > 0 }

// AnyTreeUpdatePending reports whether any pending request is of a
// tree-update message type.
func (t *Table) AnyTreeUpdatePending() bool {
	for k := range t.pending {
		if k.Type.IsTreeUpdateType() {
			return true
		}
	}
	return false
}

// DoingTreeUpdate is the tree-update predicate of §4.5.3: true iff any
// lock is owned, any lock is granted, or any pending request is of a
// tree-update type. It is the single source of truth that serializes
// tree mutations.
func (t *Table) DoingTreeUpdate() bool {
	return t.AnyOwned() || t.AnyGranted() || t.AnyTreeUpdatePending()
}

// ClearTreeUpdateState truncates owned, granted, and tree-update-typed
// pending records, per §4.5.2 step 5 / §4.5.1 step 4's collapse path.
// It returns the cleared owned and granted records so the caller can
// send the matching release messages before they are discarded.
func (t *Table) ClearTreeUpdateState() (clearedOwned, clearedGranted []*Record) {
	for k, rec := range t.owned {
		clearedOwned = append(clearedOwned, rec)
		t.sched.Cancel(rec.schedID)
		delete(t.owned, k)
	}
	for k, rec := range t.granted {
		clearedGranted = append(clearedGranted, rec)
		t.sched.Cancel(rec.schedID)
		delete(t.granted, k)
	}
	for k, rec := range t.pending {
		if k.Type.IsTreeUpdateType() {
			t.sched.Cancel(rec.schedID)
			delete(t.pending, k)
		}
	}
	return
}

// Expire is called by the event loop for every scheduler.Event whose
// Kind is the lock table's own; it removes the record, invokes the
// kind-specific post-timeout hook, and leaves the caller to recompute
// any derived state (e.g. re-check DoingTreeUpdate).
func (t *Table) Expire(ev scheduler.Event) {
	if ev.Kind != lockSchedKind {
		return
	}
	rec, ok := ev.Data.(*Record)
	if !ok {
		return
	}
	delete(t.mapFor(rec.list), key{rec.Type, rec.Peer})
	if t.onExpire != nil {
		t.onExpire(rec.list, rec)
	}
}

// SchedKind exposes the scheduler.Kind this table tags its entries
// with, so the event loop can route expired scheduler.Events to Expire.
func SchedKind() scheduler.Kind { return lockSchedKind }
