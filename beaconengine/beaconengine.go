// Package beaconengine implements beacon assembly and the periodic
// flood that drives tree convergence (C6, §4.6): building the local
// status array, scheduling the next send with a negative-exponential
// interval, tracking each send with a pending STP-BEACON lock, and
// reconstructing the box's current model of the mesh from the
// received-beacon cache.
package beaconengine

import (
	"time"

	"github.com/meshbox/cloudhub/lock"
	"github.com/meshbox/cloudhub/mac"
	"github.com/meshbox/cloudhub/protocol"
	"github.com/meshbox/cloudhub/randeval"
	"github.com/meshbox/cloudhub/rbeacon"
	"github.com/meshbox/cloudhub/scheduler"
	"github.com/meshbox/cloudhub/stp"
)

// BeaconSchedKind tags the scheduler entry for the next local beacon
// send.
const BeaconSchedKind scheduler.Kind = 4

// Sender sends an assembled beacon to dest and, separately, an
// arc-delete notice when a cycle is detected.
type Sender interface {
	SendBeacon(dest mac.Addr, beacon *protocol.STPBeacon) error
	SendArcDelete(dest mac.Addr) error
}

// Engine owns beacon scheduling, the per-send lock bookkeeping, and
// tree reconstruction.
type Engine struct {
	Local     mac.Addr
	Links     *stp.List
	Locks     *lock.Table
	RBeacons  *rbeacon.Table
	Send      Sender
	Sched     *scheduler.Scheduler
	Rand      *randeval.Evaluator
	OriginSeq uint16

	// Tree is the mesh model produced by the last Flood's
	// tree-reconstruction sweep (§4.6), consumed by Node.Status and the
	// out-of-scope HTML topology page.
	Tree *TreeNode

	schedID scheduler.ID
}

// New returns an Engine wired to the given tables.
func New(local mac.Addr, links *stp.List, locks *lock.Table, rbeacons *rbeacon.Table, send Sender, sched *scheduler.Scheduler) *Engine {
	return &Engine{Local: local, Links: links, Locks: locks, RBeacons: rbeacons, Send: send, Sched: sched, Rand: randeval.New()}
}

// ScheduleNext arms the next beacon send using the negative-exponential
// distribution with mean meanWakeup, optionally scaled by mesh size
// (§4.6).
func (e *Engine) ScheduleNext(now time.Time, meanWakeup time.Duration, scaleByMeshSize bool) {
	if e.schedID != 0 {
		e.Sched.Cancel(e.schedID)
	}
	mean := meanWakeup
	if scaleByMeshSize {
		n := e.RBeacons.Len()
		if n < 1 {
			n = 1
		}
		mean *= time.Duration(n)
	}
	interval := e.Rand.NegExp(mean)
	e.schedID = e.Sched.Schedule(now.Add(interval), BeaconSchedKind, nil)
}

// Assemble builds this box's current beacon body: the weakest outgoing
// link metric and the caller-supplied status array (built from the
// neighbor/STP/ad-hoc tables, which beaconengine deliberately does not
// import to avoid a dependency cycle with those owners).
func (e *Engine) Assemble(tweakDB int16, status []protocol.StatusRecord) *protocol.STPBeacon {
	e.OriginSeq++
	return &protocol.STPBeacon{
		Origin:      e.Local,
		OriginSeq:   e.OriginSeq,
		WeakestLink: e.WeakestLink(),
		TweakDB:     tweakDB,
		Status:      status,
	}
}

// WeakestLink returns the minimum signal strength across current STP
// links, or 0 if there are none.
func (e *Engine) WeakestLink() uint16 {
	links := e.Links.All()
	if len(links) == 0 {
		return 0
	}
	min := uint16(links[0].SigStrength)
	for _, lk := range links[1:] {
		if uint16(lk.SigStrength) < min {
			min = uint16(lk.SigStrength)
		}
	}
	return min
}

// Flood sends beacon to every current STP neighbor except skip (the
// neighbor it arrived via, when rebroadcasting), arming a pending
// STP-BEACON lock per send to track the expected ack (§4.2, §4.6), and
// re-runs the tree-reconstruction sweep so Tree reflects the mesh model
// as of this flood. localStatus is the caller's freshly assembled
// status array for itself (beaconengine does not own the neighbor/STP/
// ad-hoc tables that array is built from).
func (e *Engine) Flood(beacon *protocol.STPBeacon, skip mac.Addr, now time.Time, ackTimeout time.Duration, localStatus []protocol.StatusRecord) {
	for _, lk := range e.Links.All() {
		if lk.Peer == skip {
			continue
		}
		e.SendOne(lk.Peer, beacon, now, ackTimeout)
	}
	e.Tree = Reconstruct(e.Local, localStatus, e.RBeacons)
}

// SendOne sends beacon to exactly one peer, arming the same pending
// STP-BEACON lock Flood arms per recipient. §4.5.1 step 2/3 calls for
// flooding every known beacon to a single newly added neighbor, which
// is this same per-recipient send used one peer at a time rather than
// across the whole link list.
func (e *Engine) SendOne(peer mac.Addr, beacon *protocol.STPBeacon, now time.Time, ackTimeout time.Duration) {
	if err := e.Send.SendBeacon(peer, beacon); err != nil {
		return
	}
	e.Locks.Insert(lock.ListPending, protocol.TypeSTPBeacon, peer, mac.Zero, beacon, now.Add(ackTimeout))
}

// HandleAck clears the pending STP-BEACON lock for peer (§4.2's ack
// branch).
func (e *Engine) HandleAck(peer mac.Addr) {
	e.Locks.Delete(lock.ListPending, protocol.TypeSTPBeacon, peer)
}

// HandleNak clears the pending lock and tears down the link to peer
// (§4.2's nak branch: "the sender will tear down its half-edge").
func (e *Engine) HandleNak(peer mac.Addr) {
	e.Locks.Delete(lock.ListPending, protocol.TypeSTPBeacon, peer)
	e.Links.Delete(peer)
}

// HandleCycle implements §4.2's cycle branch: a beacon whose origin is
// this box arriving back via arrivedVia means a loop exists. The
// receiver sends an arc-delete to arrivedVia, tears down the half-edge,
// and the beacon is not inserted into the received-beacon table.
func (e *Engine) HandleCycle(arrivedVia mac.Addr) error {
	e.Links.Delete(arrivedVia)
	return e.Send.SendArcDelete(arrivedVia)
}
