package stp

import (
	"errors"
	"math/rand"
	"time"

	"github.com/meshbox/cloudhub/lock"
	"github.com/meshbox/cloudhub/mac"
	"github.com/meshbox/cloudhub/protocol"
	"github.com/meshbox/cloudhub/randeval"
	"github.com/meshbox/cloudhub/rbeacon"
)

// LockTimeout is the deadline given to every pending/granted lock this
// engine inserts (original_source/timer.h's RECV_TIMEOUT_USEC, 2s).
const LockTimeout = 2 * time.Second

// JoinPendingTTL is the sentinel deadline for a subgraph-join request:
// it expires on the very next timeout sweep if unanswered, per §4.5.1
// step 1 ("pending-request invitations are deliberately cheap to
// fail").
const JoinPendingTTL = 0

// ErrBusy is returned when a mutation is requested while another is
// already in flight (§4.5's doing_stp_update() precondition).
var ErrBusy = errors.New("stp: tree update already in progress")

// Sender is the minimal send surface the engine needs, implemented by
// the node's transport-facing dispatcher.
type Sender interface {
	Send(dest mac.Addr, typ protocol.Type) error
}

// Engine drives the two tree-mutation protocols over a Links list, a
// lock.Table, and a received-beacon table, per §4.5.
type Engine struct {
	Local mac.Addr
	Links *List
	Locks *lock.Table
	RBeacons *rbeacon.Table
	Send  Sender
	Rand  *randeval.Evaluator
}

// NewEngine returns an Engine wired to the given tables.
func NewEngine(local mac.Addr, links *List, locks *lock.Table, rbeacons *rbeacon.Table, send Sender) *Engine {
	return &Engine{Local: local, Links: links, Locks: locks, RBeacons: rbeacons, Send: send, Rand: randeval.New()}
}

// DoingTreeUpdate is the §4.5.3 predicate.
func (e *Engine) DoingTreeUpdate() bool { return e.Locks.DoingTreeUpdate() }

// SelectJoinCandidate picks, with randomization, a neighbor eligible
// for a subgraph-join attempt: present in candidates, not already a
// tree edge, and for whom hasBeaconFrom reports false (§4.5.1 step 1).
func SelectJoinCandidate(candidates []mac.Addr, links *List, hasBeaconFrom func(mac.Addr) bool) (mac.Addr, bool) {
	var eligible []mac.Addr
	for _, c := range candidates {
		if links.Has(c) {
			continue
		}
		if hasBeaconFrom(c) {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return mac.Addr{}, false
	}
	return eligible[rand.Intn(len(eligible))], true
}

// InitiateJoin starts a subgraph-join attempt toward peer (§4.5.1 step
// 1): sends STP-ADD-REQ and inserts a cheap-to-fail pending lock.
func (e *Engine) InitiateJoin(peer mac.Addr, now time.Time) error {
	if e.DoingTreeUpdate() {
		return ErrBusy
	}
	if _, err := e.Locks.Insert(lock.ListPending, protocol.TypeLocalSTPAddReq, peer, mac.Zero, nil, now.Add(JoinPendingTTL)); err != nil {
		return err
	}
	return e.Send.Send(peer, protocol.TypeLocalSTPAddReq)
}

// HandleAddReq answers an incoming STP-ADD-REQ from peer (§4.5.1 step
// 2). It accepts iff not currently engaged in another tree update,
// inserting its side of the edge and replying STP-ADDED; otherwise it
// replies STP-REFUSED. The caller is responsible for flooding beacons
// to peer on accept.
func (e *Engine) HandleAddReq(peer mac.Addr, ethName *mac.Addr, sigStrength byte, now time.Time) (accepted bool, err error) {
	if e.DoingTreeUpdate() {
		return false, e.Send.Send(peer, protocol.TypeLocalSTPRefused)
	}
	e.Links.Add(peer, ethName, sigStrength, now)
	return true, e.Send.Send(peer, protocol.TypeLocalSTPAdded)
}

// HandleAdded completes a subgraph join on the initiator's side
// (§4.5.1 step 3): deletes the pending request and inserts the local
// edge. The caller floods beacons on success.
func (e *Engine) HandleAdded(peer mac.Addr, ethName *mac.Addr, sigStrength byte, now time.Time) {
	e.Locks.Delete(lock.ListPending, protocol.TypeLocalSTPAddReq, peer)
	e.Links.Add(peer, ethName, sigStrength, now)
}

// HandleRefused collapses a join attempt (§4.5.1 step 4 / §4.5.2 step
// 5): all tree-update state is cleared and the owned/granted records
// that must be released are returned for the caller to notify.
func (e *Engine) HandleRefused() (releaseOwned, releaseGranted []*lock.Record) {
	return e.Locks.ClearTreeUpdateState()
}

// CandidatePair names a local-swap candidate: replace the edge to Old
// with a new edge to New.
type CandidatePair struct {
	Old, New mac.Addr
	Diff     int // New's direct signal minus Old's
}

// SelectSwapCandidate picks the best local-swap candidate among pairs
// per §4.5.2's tie-break: greatest signal-strength diff, ties broken by
// first-seen ordering (mac.Less over New as a deterministic proxy for
// "first seen" when no other ordering is available).
func SelectSwapCandidate(pairs []CandidatePair) (CandidatePair, bool) {
	if len(pairs) == 0 {
		return CandidatePair{}, false
	}
	best := pairs[0]
	for _, p := range pairs[1:] {
		if p.Diff > best.Diff || (p.Diff == best.Diff && mac.Less(p.New, best.New)) {
			best = p
		}
	}
	return best, true
}

// NewCandidatePair constructs a CandidatePair from an existing edge's
// peer, the replacement peer, and their signal-strength difference.
func NewCandidatePair(old, new_ mac.Addr, diff int) CandidatePair {
	return CandidatePair{Old: old, New: new_, Diff: diff}
}

// InitiateSwap starts a local-swap attempt (§4.5.2 step 1), gated by
// the random acceptance evaluator: random_eval(diff, cloudSize) decides
// whether to act on this candidate at all this tick.
func (e *Engine) InitiateSwap(old, new_ mac.Addr, diff, cloudSize int, now time.Time) error {
	if e.DoingTreeUpdate() {
		return ErrBusy
	}
	if !e.Rand.Eval(diff, cloudSize) {
		return nil
	}
	if _, err := e.Locks.Insert(lock.ListPending, protocol.TypeLocalLockReqOld, old, new_, nil, now.Add(LockTimeout)); err != nil {
		return err
	}
	if _, err := e.Locks.Insert(lock.ListPending, protocol.TypeLocalLockReqNew, new_, old, nil, now.Add(LockTimeout)); err != nil {
		e.Locks.Delete(lock.ListPending, protocol.TypeLocalLockReqOld, old)
		return err
	}
	if err := e.Send.Send(old, protocol.TypeLocalLockReqOld); err != nil {
		return err
	}
	return e.Send.Send(new_, protocol.TypeLocalLockReqNew)
}

// HandleLockReq answers an incoming LOCK-REQ-OLD/LOCK-REQ-NEW (§4.5.2
// step 2): grants iff otherwise idle (no lock held of any kind for
// this peer/type), else denies.
func (e *Engine) HandleLockReq(typ protocol.Type, from mac.Addr, now time.Time) error {
	if e.Locks.Has(typ, from) {
		return e.Send.Send(from, protocol.TypeLocalLockDeny)
	}
	if _, err := e.Locks.Insert(lock.ListGranted, typ, from, mac.Zero, nil, now.Add(LockTimeout)); err != nil {
		return e.Send.Send(from, protocol.TypeLocalLockDeny)
	}
	return e.Send.Send(from, protocol.TypeLocalLockGrant)
}

// HandleLockGrant processes a LOCK-GRANT from peer (§4.5.2 step 3):
// moves it from pending to owned. When both legs of a swap are owned,
// it returns ready=true so the caller can proceed to CompleteSwap.
func (e *Engine) HandleLockGrant(typ protocol.Type, peer mac.Addr, now time.Time) (ready bool) {
	if _, ok := e.Locks.Move(lock.ListPending, lock.ListOwned, typ, peer, now.Add(LockTimeout)); !ok {
		return false
	}
	return e.bothLegsOwned()
}

func (e *Engine) bothLegsOwned() bool {
	oldRecs := e.Locks.All(lock.ListOwned)
	haveOld, haveNew := false, false
	for _, r := range oldRecs {
		switch r.Type {
		case protocol.TypeLocalLockReqOld:
			haveOld = true
		case protocol.TypeLocalLockReqNew:
			haveNew = true
		}
	}
	return haveOld && haveNew
}

// CompleteSwap runs §4.5.2 step 3's second half once both locks are
// owned: deletes the local edge to old, and sends the edge-mutation
// requests to new and old.
func (e *Engine) CompleteSwap(old, new_ mac.Addr) error {
	e.Links.Delete(old)
	if err := e.Send.Send(new_, protocol.TypeLocalSTPAddChangedReq); err != nil {
		return err
	}
	return e.Send.Send(old, protocol.TypeLocalSTPDeleteReq)
}

// HandleAddChangedReq answers STP-ADDED-CHANGED-REQ on the new-peer
// side (§4.5.2 step 4): inserts the edge and replies STP-ADDED-CHANGED.
func (e *Engine) HandleAddChangedReq(peer mac.Addr, ethName *mac.Addr, sigStrength byte, now time.Time) error {
	e.Links.Add(peer, ethName, sigStrength, now)
	return e.Send.Send(peer, protocol.TypeLocalSTPAddedChanged)
}

// HandleDeleteReq answers STP-DELETE-REQ on the old-peer side (§4.5.2
// step 4): deletes the edge and replies STP-DELETED.
func (e *Engine) HandleDeleteReq(peer mac.Addr) error {
	e.Links.Delete(peer)
	return e.Send.Send(peer, protocol.TypeLocalSTPDeleted)
}

// FinishSwap runs the initiator's side of §4.5.2 step 4 once both
// STP-ADDED-CHANGED and STP-DELETED have been received: releases both
// owned locks, inserts the new edge, and rewrites the received-beacon
// table so entries previously "arrived via old" now read "arrived via
// new" (saving a convergence sweep).
func (e *Engine) FinishSwap(old, new_ mac.Addr, ethName *mac.Addr, sigStrength byte, now time.Time) {
	e.Locks.Delete(lock.ListOwned, protocol.TypeLocalLockReqOld, old)
	e.Locks.Delete(lock.ListOwned, protocol.TypeLocalLockReqNew, new_)
	e.Links.Add(new_, ethName, sigStrength, now)
	if e.RBeacons != nil {
		e.RBeacons.Rewrite(old, new_)
	}
}

// AbortSwap collapses an in-flight swap (§4.5.2 step 5): sends a
// release message to every owned-lock peer and truncates tree-update
// state, mirroring HandleRefused's join-side collapse.
func (e *Engine) AbortSwap() (releaseOwned, releaseGranted []*lock.Record) {
	owned, granted := e.Locks.ClearTreeUpdateState()
	for _, rec := range owned {
		var relType protocol.Type
		switch rec.Type {
		case protocol.TypeLocalSTPAddReq, protocol.TypeLocalSTPAddChangedReq:
			relType = protocol.TypeLocalAddRelease
		case protocol.TypeLocalSTPDeleteReq:
			relType = protocol.TypeLocalDeleteRelease
		default:
			relType = protocol.TypeLocalLockRelease
		}
		e.Send.Send(rec.Peer, relType)
	}
	return owned, granted
}
