package lock

import (
	"testing"
	"time"

	"github.com/meshbox/cloudhub/mac"
	"github.com/meshbox/cloudhub/protocol"
	"github.com/meshbox/cloudhub/scheduler"
)

func peer(s string) mac.Addr {
	a, err := mac.Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestInsertRejectsConflict(t *testing.T) {
	sched := scheduler.New()
	tbl := New(sched, nil)
	p := peer("00:00:00:00:00:01")
	now := time.Unix(0, 0)

	if _, err := tbl.Insert(ListPending, protocol.TypeLocalLockReqOld, p, mac.Zero, nil, now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Insert(ListGranted, protocol.TypeLocalLockReqOld, p, mac.Zero, nil, now.Add(time.Second)); err == nil {
		t.Fatal("expected conflict error for same (type, peer) in another list")
	}
}

func TestMoveTransfersRecord(t *testing.T) {
	sched := scheduler.New()
	tbl := New(sched, nil)
	p := peer("00:00:00:00:00:01")
	now := time.Unix(0, 0)

	tbl.Insert(ListPending, protocol.TypeLocalLockReqNew, p, mac.Zero, nil, now.Add(time.Second))
	rec, ok := tbl.Move(ListPending, ListOwned, protocol.TypeLocalLockReqNew, p, now.Add(10*time.Second))
	if !ok {
		t.Fatal("expected move to succeed")
	}
	if rec.list != ListOwned {
		t.Fatalf("expected list ListOwned, got %v", rec.list)
	}
	if _, stillPending := tbl.Get(ListPending, protocol.TypeLocalLockReqNew, p); stillPending {
		t.Fatal("record should no longer be pending")
	}
	if !tbl.AnyOwned() {
		t.Fatal("expected AnyOwned true")
	}
}

func TestDoingTreeUpdatePredicate(t *testing.T) {
	sched := scheduler.New()
	tbl := New(sched, nil)
	p := peer("00:00:00:00:00:01")
	now := time.Unix(0, 0)

	if tbl.DoingTreeUpdate() {
		t.Fatal("empty table should not be doing a tree update")
	}

	tbl.Insert(ListPending, protocol.TypeLocalSTPAddReq, p, mac.Zero, nil, now.Add(time.Second))
	if !tbl.DoingTreeUpdate() {
		t.Fatal("a pending tree-update-typed request should trip the predicate")
	}
}

func TestClearTreeUpdateState(t *testing.T) {
	sched := scheduler.New()
	tbl := New(sched, nil)
	old := peer("00:00:00:00:00:01")
	newP := peer("00:00:00:00:00:02")
	now := time.Unix(0, 0)

	tbl.Insert(ListOwned, protocol.TypeLocalLockReqOld, old, mac.Zero, nil, now.Add(time.Second))
	tbl.Insert(ListOwned, protocol.TypeLocalLockReqNew, newP, mac.Zero, nil, now.Add(time.Second))
	tbl.Insert(ListGranted, protocol.TypeLocalLockReqOld, newP, mac.Zero, nil, now.Add(time.Second))

	owned, granted := tbl.ClearTreeUpdateState()
	if len(owned) != 2 || len(granted) != 1 {
		t.Fatalf("expected 2 owned + 1 granted cleared, got %d/%d", len(owned), len(granted))
	}
	if tbl.DoingTreeUpdate() {
		t.Fatal("expected predicate false after clearing")
	}
}

func TestExpireInvokesHandler(t *testing.T) {
	sched := scheduler.New()
	var gotList List
	var gotPeer mac.Addr
	tbl := New(sched, func(list List, rec *Record) {
		gotList = list
		gotPeer = rec.Peer
	})
	p := peer("00:00:00:00:00:01")
	now := time.Unix(0, 0)
	tbl.Insert(ListPending, protocol.TypeLocalSTPAddReq, p, mac.Zero, nil, now.Add(time.Second))

	due := sched.Pop(now.Add(2 * time.Second))
	if len(due) != 1 {
		t.Fatalf("expected 1 due event, got %d", len(due))
	}
	tbl.Expire(due[0])

	if gotPeer != p || gotList != ListPending {
		t.Fatalf("expected handler called with (pending, %v), got (%v, %v)", p, gotList, gotPeer)
	}
	if tbl.Has(protocol.TypeLocalSTPAddReq, p) {
		t.Fatal("expired record should be removed from the table")
	}
}
