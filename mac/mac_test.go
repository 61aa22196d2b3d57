package mac

import "testing"

func TestParseAndString(t *testing.T) {
	a, err := Parse("aa:bb:cc:dd:ee:ff")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got, want := a.String(), "aa:bb:cc:dd:ee:ff"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestParseCompact(t *testing.T) {
	a, err := Parse("aabbccddeeff")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, _ := Parse("aa:bb:cc:dd:ee:ff")
	if a != b {
		t.Errorf("compact and colon forms disagree: %v != %v", a, b)
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse("not-a-mac"); err == nil {
		t.Error("expected error for malformed address")
	}
}

func TestZero(t *testing.T) {
	var a Addr
	if !a.IsZero() {
		t.Error("zero-value Addr should report IsZero")
	}
	b, _ := Parse("00:00:00:00:00:01")
	if b.IsZero() {
		t.Error("non-zero Addr reported as zero")
	}
}

func TestFromBytesWrongLength(t *testing.T) {
	if _, err := FromBytes([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for short byte slice")
	}
}

func TestLessTotalOrder(t *testing.T) {
	a, _ := Parse("00:00:00:00:00:01")
	b, _ := Parse("00:00:00:00:00:02")
	if !Less(a, b) {
		t.Error("expected a < b")
	}
	if Less(a, a) {
		t.Error("Less(a, a) should be false")
	}
}
