package adhoc

import (
	"testing"
	"time"

	"github.com/meshbox/cloudhub/lock"
	"github.com/meshbox/cloudhub/mac"
	"github.com/meshbox/cloudhub/protocol"
	"github.com/meshbox/cloudhub/scheduler"
)

func addr(s string) mac.Addr {
	a, err := mac.Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestSightClampsFreshClientToFloor(t *testing.T) {
	tbl := New()
	s := addr("00:00:00:00:00:01")
	c := tbl.Sight(s, 1)
	if c.MySig != MinSigStrength {
		t.Fatalf("expected fresh client clamped to %d, got %d", MinSigStrength, c.MySig)
	}
	if c.Owner != Unknown {
		t.Fatal("expected freshly sighted client to start unknown")
	}
}

func TestSightIsIdempotent(t *testing.T) {
	tbl := New()
	s := addr("00:00:00:00:00:01")
	tbl.Sight(s, 40)
	c2 := tbl.Sight(s, 90)
	if c2.MySig != 40 {
		t.Fatal("expected re-sighting an existing client to be a no-op")
	}
}

func TestSightRejectsBeyondMeshWideCap(t *testing.T) {
	tbl := New()
	for i := 0; i < MaxClientsTotal; i++ {
		tbl.Sight(mac.Addr{0, 0, 0, 0, byte(i / 256), byte(i % 256)}, 50)
	}
	if got := len(tbl.All()); got != MaxClientsTotal {
		t.Fatalf("expected table full at %d, got %d", MaxClientsTotal, got)
	}
	extra := addr("00:00:00:00:ff:ff")
	if c := tbl.Sight(extra, 50); c != nil {
		t.Fatalf("expected Sight to reject a new station once the table is full, got %+v", c)
	}
	if _, ok := tbl.Get(extra); ok {
		t.Fatal("expected rejected station not to be tracked")
	}
}

func TestClaimUnknownRespectsCap(t *testing.T) {
	tbl := New()
	for i := 0; i < MaxOwnedPerBox+2; i++ {
		tbl.Sight(mac.Addr{0, 0, 0, 0, 0, byte(i + 1)}, 50)
	}
	claimed := tbl.ClaimUnknown()
	if len(claimed) != MaxOwnedPerBox {
		t.Fatalf("expected at most %d claims, got %d", MaxOwnedPerBox, len(claimed))
	}
	if tbl.OwnedCount() != MaxOwnedPerBox {
		t.Fatalf("expected owned count %d, got %d", MaxOwnedPerBox, tbl.OwnedCount())
	}
}

func TestSmoothDecaysAboveFloor(t *testing.T) {
	tbl := New()
	s := addr("00:00:00:00:00:01")
	c := tbl.Sight(s, 20)
	c.MySig = 20

	deleted := tbl.Smooth(s, nil)
	if deleted {
		t.Fatal("should not delete above the floor yet")
	}
	if c.MySig != 18 {
		t.Fatalf("expected 0.9 decay rounded to nearest int (18), got %d", c.MySig)
	}
}

func TestSmoothAdoptsFreshReading(t *testing.T) {
	tbl := New()
	s := addr("00:00:00:00:00:01")
	tbl.Sight(s, 20)
	fresh := byte(77)
	tbl.Smooth(s, &fresh)
	c, _ := tbl.Get(s)
	if c.MySig != 77 {
		t.Fatalf("expected fresh reading adopted, got %d", c.MySig)
	}
}

func TestSmoothDeletesAtMinFloor(t *testing.T) {
	tbl := New()
	s := addr("00:00:00:00:00:01")
	c := tbl.Sight(s, 20)
	c.MySig = MinSigStrength

	deleted := tbl.Smooth(s, nil)
	if !deleted {
		t.Fatal("expected client deleted once it decays to the floor")
	}
	if _, ok := tbl.Get(s); ok {
		t.Fatal("expected entry removed from the table")
	}
}

func TestBestTakeoverPicksMaxPositiveDiff(t *testing.T) {
	tbl := New()
	a := addr("00:00:00:00:00:01")
	b := addr("00:00:00:00:00:02")
	tbl.Sight(a, 50)
	tbl.Sight(b, 90)
	ca, _ := tbl.Get(a)
	ca.Owner = Other
	ca.OwnerSig = 30 // diff 20
	cb, _ := tbl.Get(b)
	cb.Owner = Other
	cb.OwnerSig = 10 // diff 80

	best, ok := tbl.BestTakeover()
	if !ok || best.Station != b || best.Diff != 80 {
		t.Fatalf("expected best takeover %v diff 80, got %+v ok=%v", b, best, ok)
	}
}

func TestObserveBeaconRowRelinquishesOnRace(t *testing.T) {
	tbl := New()
	local := addr("00:00:00:00:00:ff")
	other := addr("00:00:00:00:00:02")
	s := addr("00:00:00:00:00:01")
	c := tbl.Sight(s, 50)
	c.Owner = Mine

	tbl.ObserveBeaconRow(s, other, local, 70)
	if c.Owner != Other || c.ServerName != other {
		t.Fatalf("expected relinquish to other on race, got owner=%v server=%v", c.Owner, c.ServerName)
	}
}

func TestOrphanDemotesClientsOfLostServer(t *testing.T) {
	tbl := New()
	lost := addr("00:00:00:00:00:02")
	s := addr("00:00:00:00:00:01")
	c := tbl.Sight(s, 50)
	c.Owner = Other
	c.ServerName = lost

	tbl.Orphan(lost)
	if c.Owner != Unknown {
		t.Fatal("expected client orphaned to unknown after its server is lost")
	}
}

type fakeSender struct{ sent []mac.Addr }

func (f *fakeSender) Send(dest mac.Addr, typ protocol.Type) error {
	f.sent = append(f.sent, dest)
	return nil
}

func TestBlockUnblockBroadcastRoundTrip(t *testing.T) {
	sender := &fakeSender{}
	neighbors := []mac.Addr{addr("00:00:00:00:00:01"), addr("00:00:00:00:00:02")}

	if err := BlockBroadcast(sender, neighbors); err != nil {
		t.Fatalf("BlockBroadcast: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatal("expected a block message to every neighbor")
	}

	sender.sent = nil
	if err := UnblockBroadcast(sender, neighbors); err != nil {
		t.Fatalf("UnblockBroadcast: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatal("expected an unblock message to every neighbor")
	}
}

func TestIgnoreAdHocBcastReflectsGrantedLock(t *testing.T) {
	sched := scheduler.New()
	locks := lock.New(sched, nil)
	client := addr("00:00:00:00:00:01")

	if IgnoreAdHocBcast(locks, client) {
		t.Fatal("expected false with no block lock held")
	}
	locks.Insert(lock.ListGranted, protocol.TypeAdHocBcastBlock, client, mac.Zero, nil, time.Unix(0, 0).Add(time.Second))
	if !IgnoreAdHocBcast(locks, client) {
		t.Fatal("expected true once the block lock is granted")
	}
}
