package protocol

import (
	"reflect"
	"testing"

	"github.com/meshbox/cloudhub/mac"
)

func addr(s string) mac.Addr {
	a, err := mac.Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestFrameRoundTripEmpty(t *testing.T) {
	f := &Frame{
		Seq:  7,
		Dest: addr("aa:bb:cc:dd:ee:ff"),
		Type: TypeLocalSTPAddReq,
		Body: &Empty{},
	}
	raw, err := f.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.Seq != f.Seq || got.Dest != f.Dest || got.Type != f.Type {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, f)
	}
}

func TestFrameRoundTripSTPBeacon(t *testing.T) {
	beacon := &STPBeacon{
		Origin:      addr("01:02:03:04:05:06"),
		OriginSeq:   42,
		WeakestLink: 17,
		TweakDB:     -1,
		Status: []StatusRecord{
			{
				Name:                addr("10:20:30:40:50:60"),
				DeviceKind:          DeviceCloudWLAN,
				NeighborType:        NeighborCloudNbr,
				SigStrength:         55,
				PacketsReceived:     100,
				PacketsLost:         2,
				DataPacketsReceived: 90,
				DataPacketsLost:     1,
				PingPacketsReceived: 10,
				PingPacketsLost:     0,
			},
		},
	}
	f := &Frame{Seq: 1, Dest: addr("ff:ff:ff:ff:ff:ff"), Type: TypeSTPBeacon, Body: beacon}
	raw, err := f.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	gotBeacon, ok := got.Body.(*STPBeacon)
	if !ok {
		t.Fatalf("expected *STPBeacon, got %T", got.Body)
	}
	if !reflect.DeepEqual(gotBeacon, beacon) {
		t.Fatalf("beacon mismatch: %+v vs %+v", gotBeacon, beacon)
	}
}

func TestWrappedClientRoundTrip(t *testing.T) {
	w := &WrappedClient{
		K:             1,
		N:             2,
		Originator:    addr("aa:aa:aa:aa:aa:aa"),
		OriginatorSeq: 1000,
		Body:          []byte("hello mesh"),
	}
	raw, err := w.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	var got WrappedClient
	if err := got.Unmarshal(raw); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(&got, w) {
		t.Fatalf("mismatch: %+v vs %+v", got, w)
	}
}

func TestBcastControlRoundTrip(t *testing.T) {
	c := &BcastControl{Owner: addr("11:11:11:11:11:11"), Client: addr("22:22:22:22:22:22")}
	raw, _ := c.Marshal()
	var got BcastControl
	if err := got.Unmarshal(raw); err != nil {
		t.Fatal(err)
	}
	if got != *c {
		t.Fatalf("mismatch: %+v vs %+v", got, c)
	}
}

func TestUnmarshalTooShort(t *testing.T) {
	if _, err := Unmarshal([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for truncated frame")
	}
}

func TestIsTreeUpdateType(t *testing.T) {
	if !TypeLocalLockGrant.IsTreeUpdateType() {
		t.Error("LOCK-GRANT should be a tree-update type")
	}
	if TypePing.IsTreeUpdateType() {
		t.Error("PING should not be a tree-update type")
	}
}
