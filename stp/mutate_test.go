package stp

import (
	"testing"
	"time"

	"github.com/meshbox/cloudhub/lock"
	"github.com/meshbox/cloudhub/mac"
	"github.com/meshbox/cloudhub/protocol"
	"github.com/meshbox/cloudhub/randeval"
	"github.com/meshbox/cloudhub/rbeacon"
	"github.com/meshbox/cloudhub/scheduler"
)

type fakeSender struct {
	sent []sentMsg
}

type sentMsg struct {
	Dest mac.Addr
	Type protocol.Type
}

func (f *fakeSender) Send(dest mac.Addr, typ protocol.Type) error {
	f.sent = append(f.sent, sentMsg{dest, typ})
	return nil
}

func (f *fakeSender) last() sentMsg {
	if len(f.sent) == 0 {
		return sentMsg{}
	}
	return f.sent[len(f.sent)-1]
}

func newTestEngine() (*Engine, *fakeSender) {
	sched := scheduler.New()
	locks := lock.New(sched, nil)
	links := New()
	sender := &fakeSender{}
	e := NewEngine(addr("00:00:00:00:00:ff"), links, locks, nil, sender)
	return e, sender
}

func TestInitiateJoinRejectsWhenBusy(t *testing.T) {
	e, _ := newTestEngine()
	peer := addr("00:00:00:00:00:01")
	other := addr("00:00:00:00:00:02")
	now := time.Unix(0, 0)

	e.Locks.Insert(lock.ListOwned, protocol.TypeLocalLockReqOld, other, mac.Zero, nil, now.Add(time.Second))
	if err := e.InitiateJoin(peer, now); err != ErrBusy {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestJoinRoundTrip(t *testing.T) {
	initiator, initSender := newTestEngine()
	peer := addr("00:00:00:00:00:01")
	now := time.Unix(0, 0)

	if err := initiator.InitiateJoin(peer, now); err != nil {
		t.Fatalf("InitiateJoin: %v", err)
	}
	if initSender.last().Type != protocol.TypeLocalSTPAddReq {
		t.Fatal("expected STP-ADD-REQ sent")
	}

	peerEngine, peerSender := newTestEngine()
	accepted, err := peerEngine.HandleAddReq(initiator.Local, nil, 50, now)
	if err != nil || !accepted {
		t.Fatalf("expected accept, got accepted=%v err=%v", accepted, err)
	}
	if peerSender.last().Type != protocol.TypeLocalSTPAdded {
		t.Fatal("expected STP-ADDED sent")
	}
	if !peerEngine.Links.Has(initiator.Local) {
		t.Fatal("expected peer side edge inserted")
	}

	initiator.HandleAdded(peer, nil, 50, now)
	if !initiator.Links.Has(peer) {
		t.Fatal("expected initiator side edge inserted")
	}
	if initiator.Locks.Has(protocol.TypeLocalSTPAddReq, peer) {
		t.Fatal("expected pending request cleared")
	}
}

func TestHandleAddReqRefusesWhenBusy(t *testing.T) {
	e, sender := newTestEngine()
	peer := addr("00:00:00:00:00:01")
	other := addr("00:00:00:00:00:02")
	now := time.Unix(0, 0)
	e.Locks.Insert(lock.ListOwned, protocol.TypeLocalLockReqOld, other, mac.Zero, nil, now.Add(time.Second))

	accepted, err := e.HandleAddReq(peer, nil, 50, now)
	if err != nil || accepted {
		t.Fatalf("expected refusal, got accepted=%v err=%v", accepted, err)
	}
	if sender.last().Type != protocol.TypeLocalSTPRefused {
		t.Fatal("expected STP-REFUSED sent")
	}
}

func TestSwapGateBlocksWhenRandEvalFalse(t *testing.T) {
	e, sender := newTestEngine()
	e.Rand = &randeval.Evaluator{MeanWakeupMS: randeval.MeanWakeupMS, Rand: fixedRand(0.999)}
	old := addr("00:00:00:00:00:01")
	new_ := addr("00:00:00:00:00:02")

	if err := e.InitiateSwap(old, new_, 5, 1, time.Unix(0, 0)); err != nil {
		t.Fatalf("InitiateSwap: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatal("expected no messages sent when random_eval rejects")
	}
	if e.Locks.AnyOwned() || e.Locks.AnyGranted() {
		t.Fatal("expected no lock state created when gate rejects")
	}
}

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

func TestSwapFullProtocol(t *testing.T) {
	e, sender := newTestEngine()
	e.Rand = &randeval.Evaluator{MeanWakeupMS: randeval.MeanWakeupMS, Rand: fixedRand(0)}
	old := addr("00:00:00:00:00:01")
	new_ := addr("00:00:00:00:00:02")
	now := time.Unix(0, 0)
	e.Links.Add(old, nil, 5, now)

	if err := e.InitiateSwap(old, new_, 5, 1, now); err != nil {
		t.Fatalf("InitiateSwap: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected LOCK-REQ-OLD and LOCK-REQ-NEW sent, got %d messages", len(sender.sent))
	}

	if ready := e.HandleLockGrant(protocol.TypeLocalLockReqOld, old, now); ready {
		t.Fatal("should not be ready with only one leg granted")
	}
	if ready := e.HandleLockGrant(protocol.TypeLocalLockReqNew, new_, now); !ready {
		t.Fatal("expected ready once both legs are owned")
	}

	if err := e.CompleteSwap(old, new_); err != nil {
		t.Fatalf("CompleteSwap: %v", err)
	}
	if e.Links.Has(old) {
		t.Fatal("expected old edge removed")
	}

	rbeacons := rbeacon.New(scheduler.New())
	e.RBeacons = rbeacons
	rbeacons.Insert(addr("00:00:00:00:00:09"), old, &protocol.STPBeacon{}, now, func(mac.Addr) bool { return true }, false)

	e.FinishSwap(old, new_, nil, 50, now)
	if !e.Links.Has(new_) {
		t.Fatal("expected new edge inserted")
	}
	if e.Locks.AnyOwned() {
		t.Fatal("expected both owned locks released")
	}
	entry, _ := rbeacons.Get(addr("00:00:00:00:00:09"))
	if entry.ArrivedVia != new_ {
		t.Fatal("expected received-beacon table rewritten to arrive via new peer")
	}
}

func TestAbortSwapReleasesOwnedLocks(t *testing.T) {
	e, sender := newTestEngine()
	old := addr("00:00:00:00:00:01")
	now := time.Unix(0, 0)
	e.Locks.Insert(lock.ListOwned, protocol.TypeLocalLockReqOld, old, mac.Zero, nil, now.Add(time.Second))

	owned, _ := e.AbortSwap()
	if len(owned) != 1 {
		t.Fatalf("expected 1 cleared owned record, got %d", len(owned))
	}
	if sender.last().Dest != old {
		t.Fatal("expected a release message sent to the owned-lock peer")
	}
	if e.DoingTreeUpdate() {
		t.Fatal("expected tree update state cleared")
	}
}
