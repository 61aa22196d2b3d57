package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestDebugVectorTweakEncoding(t *testing.T) {
	d := NewDebugVector()

	d.ApplyTweak(2000 + OptAdHocClient)
	if !d.Get(OptAdHocClient) {
		t.Fatal("2000+i should set option true")
	}

	d.ApplyTweak(1000 + OptAdHocClient)
	if d.Get(OptAdHocClient) {
		t.Fatal("1000+i should set option false")
	}

	d.ApplyTweak(OptAdHocClient)
	if !d.Get(OptAdHocClient) {
		t.Fatal("bare index should toggle option")
	}
	d.ApplyTweak(OptAdHocClient)
	if d.Get(OptAdHocClient) {
		t.Fatal("second toggle should flip back")
	}
}

func TestDebugVectorOutOfRangeIsNoop(t *testing.T) {
	d := NewDebugVector()
	d.Set(999, true)
	if d.Get(999) {
		t.Fatal("out-of-range Get should be false")
	}
}

func TestLoadCommandFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cmd")
	if err := os.WriteFile(path, []byte("2 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	d := NewDebugVector()
	if err := d.LoadCommandFile(path); err != nil {
		t.Fatal(err)
	}
	if !d.Get(2) {
		t.Fatal("expected option 2 to be set true")
	}
}

func TestLoadCommandFileMissingIsNotError(t *testing.T) {
	d := NewDebugVector()
	if err := d.LoadCommandFile("/nonexistent/path/cloudhub"); err != nil {
		t.Fatalf("missing command file should not error: %v", err)
	}
}

func TestParseFlagsMode(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := ParseFlags(fs, []string{"-local-mac", "02:00:00:00:00:01", "-mode", "wds"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != ModeWDS {
		t.Fatalf("expected ModeWDS, got %v", cfg.Mode)
	}
}

func TestParseFlagsInvalidMode(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	if _, err := ParseFlags(fs, []string{"-local-mac", "02:00:00:00:00:01", "-mode", "bogus"}); err == nil {
		t.Fatal("expected error for invalid mode")
	}
}
