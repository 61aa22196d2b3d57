package neighbor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/meshbox/cloudhub/mac"
)

func a(s string) mac.Addr {
	addr, err := mac.Parse(s)
	if err != nil {
		panic(err)
	}
	return addr
}

func TestReconcileAddsAndRemoves(t *testing.T) {
	tbl := New()
	changed := tbl.Reconcile([]Source{{Name: a("00:00:00:00:00:01"), SigStrength: 50}}, nil)
	if !changed {
		t.Fatal("expected change on first reconcile")
	}
	if _, ok := tbl.Get(a("00:00:00:00:00:01")); !ok {
		t.Fatal("expected entry to be present")
	}

	changed = tbl.Reconcile(nil, nil)
	if !changed {
		t.Fatal("expected change when source disappears")
	}
	if _, ok := tbl.Get(a("00:00:00:00:00:01")); ok {
		t.Fatal("entry should have been removed")
	}
}

func TestReconcileIdempotent(t *testing.T) {
	tbl := New()
	src := []Source{{Name: a("00:00:00:00:00:01"), SigStrength: 50}}
	tbl.Reconcile(src, nil)
	changed := tbl.Reconcile(src, nil)
	if changed {
		t.Fatal("repeating the same reconcile should report no change")
	}
}

func TestReconcilePinsEthernetSignal(t *testing.T) {
	tbl := New()
	name := a("00:00:00:00:00:01")
	eth := a("aa:aa:aa:aa:aa:aa")
	tbl.Reconcile(
		[]Source{{Name: name, SigStrength: 10}},
		[]Source{{Name: name, EthName: &eth}},
	)
	e, _ := tbl.Get(name)
	if e.SigStrength != MaxSigStrength {
		t.Fatalf("expected signal strength pinned to max, got %d", e.SigStrength)
	}
	if !e.HasEthernet() {
		t.Fatal("expected HasEthernet true")
	}
}

func TestGetSigStrengthUnknown(t *testing.T) {
	tbl := New()
	if got := tbl.GetSigStrength(a("ff:ff:ff:ff:ff:ff")); got != UnknownSigStrength {
		t.Fatalf("expected sentinel %d, got %d", UnknownSigStrength, got)
	}
}

func TestParseAssociatedPeersFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peers")
	content := "# comment\n00:00:00:00:00:01 42\n00:00:00:00:00:02 7 channel-6\n\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	sources, err := ParseAssociatedPeersFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[0].SigStrength != 42 {
		t.Fatalf("expected sig 42, got %d", sources[0].SigStrength)
	}
}

func TestParseWDSConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wds")
	content := "# wds config\nwlan0.1 00:11:22:33:44:55\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	entries, err := ParseWDSConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Interface != "wlan0.1" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
