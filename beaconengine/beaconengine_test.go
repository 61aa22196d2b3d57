package beaconengine

import (
	"testing"
	"time"

	"github.com/meshbox/cloudhub/lock"
	"github.com/meshbox/cloudhub/mac"
	"github.com/meshbox/cloudhub/protocol"
	"github.com/meshbox/cloudhub/rbeacon"
	"github.com/meshbox/cloudhub/scheduler"
	"github.com/meshbox/cloudhub/stp"
)

func addr(s string) mac.Addr {
	a, err := mac.Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

type fakeSender struct {
	beacons []mac.Addr
	arcDels []mac.Addr
}

func (f *fakeSender) SendBeacon(dest mac.Addr, beacon *protocol.STPBeacon) error {
	f.beacons = append(f.beacons, dest)
	return nil
}

func (f *fakeSender) SendArcDelete(dest mac.Addr) error {
	f.arcDels = append(f.arcDels, dest)
	return nil
}

func newTestEngine() (*Engine, *fakeSender, *lock.Table, *stp.List) {
	sched := scheduler.New()
	links := stp.New()
	locks := lock.New(sched, nil)
	rbeacons := rbeacon.New(sched)
	sender := &fakeSender{}
	e := New(addr("00:00:00:00:00:ff"), links, locks, rbeacons, sender, sched)
	return e, sender, locks, links
}

func TestAssembleIncrementsOriginSeq(t *testing.T) {
	e, _, _, _ := newTestEngine()
	b1 := e.Assemble(0, nil)
	b2 := e.Assemble(0, nil)
	if b2.OriginSeq != b1.OriginSeq+1 {
		t.Fatalf("expected monotonically increasing OriginSeq, got %d then %d", b1.OriginSeq, b2.OriginSeq)
	}
}

func TestWeakestLinkIsMinimum(t *testing.T) {
	e, _, _, links := newTestEngine()
	links.Add(addr("00:00:00:00:00:01"), nil, 80, time.Unix(0, 0))
	links.Add(addr("00:00:00:00:00:02"), nil, 30, time.Unix(0, 0))
	if got := e.WeakestLink(); got != 30 {
		t.Fatalf("expected weakest link 30, got %d", got)
	}
}

func TestFloodSkipsArrivalNeighborAndLocksEachSend(t *testing.T) {
	e, sender, locks, links := newTestEngine()
	a := addr("00:00:00:00:00:01")
	b := addr("00:00:00:00:00:02")
	links.Add(a, nil, 50, time.Unix(0, 0))
	links.Add(b, nil, 50, time.Unix(0, 0))

	beacon := e.Assemble(0, nil)
	e.Flood(beacon, a, time.Unix(0, 0), time.Second, nil)

	if len(sender.beacons) != 1 || sender.beacons[0] != b {
		t.Fatalf("expected beacon sent only to %v, got %v", b, sender.beacons)
	}
	if !locks.Has(protocol.TypeSTPBeacon, b) {
		t.Fatal("expected a pending STP-BEACON lock for the sent-to peer")
	}
	if locks.Has(protocol.TypeSTPBeacon, a) {
		t.Fatal("expected no lock for the skipped arrival neighbor")
	}
}

func TestHandleAckClearsLock(t *testing.T) {
	e, _, locks, links := newTestEngine()
	p := addr("00:00:00:00:00:01")
	links.Add(p, nil, 50, time.Unix(0, 0))
	beacon := e.Assemble(0, nil)
	e.Flood(beacon, mac.Zero, time.Unix(0, 0), time.Second, nil)

	e.HandleAck(p)
	if locks.Has(protocol.TypeSTPBeacon, p) {
		t.Fatal("expected lock cleared on ack")
	}
	if !links.Has(p) {
		t.Fatal("ack should not remove the link")
	}
}

func TestHandleNakRemovesLinkAndLock(t *testing.T) {
	e, _, locks, links := newTestEngine()
	p := addr("00:00:00:00:00:01")
	links.Add(p, nil, 50, time.Unix(0, 0))
	beacon := e.Assemble(0, nil)
	e.Flood(beacon, mac.Zero, time.Unix(0, 0), time.Second, nil)

	e.HandleNak(p)
	if locks.Has(protocol.TypeSTPBeacon, p) {
		t.Fatal("expected lock cleared on nak")
	}
	if links.Has(p) {
		t.Fatal("expected link torn down on nak")
	}
}

func TestHandleCycleSendsArcDeleteAndTearsDownEdge(t *testing.T) {
	e, sender, _, links := newTestEngine()
	p := addr("00:00:00:00:00:01")
	links.Add(p, nil, 50, time.Unix(0, 0))

	if err := e.HandleCycle(p); err != nil {
		t.Fatalf("HandleCycle: %v", err)
	}
	if len(sender.arcDels) != 1 || sender.arcDels[0] != p {
		t.Fatal("expected an arc-delete sent to the cycle-forming neighbor")
	}
	if links.Has(p) {
		t.Fatal("expected the half-edge torn down")
	}
}

func TestReconstructBuildsTreeWithBackPointers(t *testing.T) {
	local := addr("00:00:00:00:00:01")
	b := addr("00:00:00:00:00:02")
	client := addr("00:00:00:00:00:0a")

	localStatus := []protocol.StatusRecord{
		{Name: b, NeighborType: protocol.NeighborCloudNbr},
	}
	sched := scheduler.New()
	rbeacons := rbeacon.New(sched)
	rbeacons.Insert(b, local, &protocol.STPBeacon{
		Origin: b,
		Status: []protocol.StatusRecord{
			{Name: local, NeighborType: protocol.NeighborCloudNbr},
			{Name: client, NeighborType: protocol.NeighborNonCloudClient},
		},
	}, time.Unix(0, 0), func(mac.Addr) bool { return true }, false)

	root := Reconstruct(local, localStatus, rbeacons)
	if len(root.Children) != 1 || root.Children[0].Name != b {
		t.Fatalf("expected one child %v, got %+v", b, root.Children)
	}
	bNode := root.Children[0]
	if len(bNode.Children) != 1 || bNode.Children[0].Name != client || !bNode.Children[0].IsAdHocClient {
		t.Fatalf("expected ad-hoc client leaf under %v, got %+v", b, bNode.Children)
	}
	if root.Count() != 2 {
		t.Fatalf("expected box count 2 (local + b), got %d", root.Count())
	}
}

func TestReconstructRejectsMissingBackPointer(t *testing.T) {
	local := addr("00:00:00:00:00:01")
	b := addr("00:00:00:00:00:02")

	localStatus := []protocol.StatusRecord{
		{Name: b, NeighborType: protocol.NeighborCloudNbr},
	}
	sched := scheduler.New()
	rbeacons := rbeacon.New(sched)
	rbeacons.Insert(b, local, &protocol.STPBeacon{
		Origin: b,
		Status: []protocol.StatusRecord{
			// b's status does not list local back as a cloud-nbr.
		},
	}, time.Unix(0, 0), func(mac.Addr) bool { return true }, false)

	root := Reconstruct(local, localStatus, rbeacons)
	if len(root.Children) != 0 {
		t.Fatalf("expected no children without a back-pointer, got %+v", root.Children)
	}
}
