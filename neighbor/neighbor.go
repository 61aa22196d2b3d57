// Package neighbor implements the neighbor table (C1): who we can hear
// directly over wireless or wired Ethernet, with signal strength.
// Reconciliation against the two
// authoritative source files follows §4.1; the table is keyed by box
// name, replacing the C original's index-parallel arrays (§9).
package neighbor

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/meshbox/cloudhub/mac"
)

// MaxSigStrength is the signal-strength value an Ethernet-connected
// neighbor is pinned to, regardless of its wireless reading (§4.1).
const MaxSigStrength = 100

// UnknownSigStrength is returned by GetSigStrength for a box not
// currently in the table, so callers never need to special-case
// absence ("very weak, fake", §4.1).
const UnknownSigStrength = 1

// Entry is one neighbor table row (§3). Per-edge flow-control counters
// live in the STP link list (C4, package stp) once a neighbor becomes a
// tree edge; this table only tracks what we can hear, not what we have
// agreed to forward over.
type Entry struct {
	Name        mac.Addr
	EthName     *mac.Addr // non-nil iff heard on the wire
	SigStrength byte
}

// HasEthernet reports whether this neighbor is reachable over the wire.
func (e *Entry) HasEthernet() bool { return e.EthName != nil }

// Table is the neighbor table (C1), exclusively owned by the event loop.
type Table struct {
	entries map[mac.Addr]*Entry
}

// New returns an empty Table.
func New() *Table {
	return &Table{entries: make(map[mac.Addr]*Entry)}
}

// Get returns the entry for name, if present.
func (t *Table) Get(name mac.Addr) (*Entry, bool) {
	e, ok := t.entries[name]
	return e, ok
}

// All returns every current entry. Callers must not retain the slice
// across a mutating call.
func (t *Table) All() []*Entry {
	out := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}

// GetSigStrength implements §4.1's absence-tolerant lookup.
func (t *Table) GetSigStrength(name mac.Addr) byte {
	e, ok := t.entries[name]
	if !ok {
		return UnknownSigStrength
	}
	return e.SigStrength
}

// Source describes one line read from an authoritative peer-discovery
// file: a wireless peer with a signal reading, or a wired-beacon peer
// (signal strength is not carried on the wire for wired entries).
type Source struct {
	Name        mac.Addr
	SigStrength byte
	EthName     *mac.Addr
}

// Reconcile applies §4.1's three-step reconciliation against the
// current wireless-associated-peers source and wired-beacon source. It
// returns true iff the table changed, so callers know to re-send their
// own beacon.
func (t *Table) Reconcile(wireless, wired []Source) bool {
	changed := false

	present := make(map[mac.Addr]bool, len(wireless)+len(wired))
	for _, s := range wireless {
		present[s.Name] = true
	}
	for _, s := range wired {
		present[s.Name] = true
	}

	// Step 1: remove anything in the table but in neither source.
	for name := range t.entries {
		if !present[name] {
			delete(t.entries, name)
			changed = true
		}
	}

	// Step 2: append anything in a source but not in the table.
	for _, s := range wireless {
		if _, ok := t.entries[s.Name]; !ok {
			t.entries[s.Name] = &Entry{Name: s.Name, SigStrength: s.SigStrength}
			changed = true
		}
	}
	wiredByName := make(map[mac.Addr]Source, len(wired))
	for _, s := range wired {
		wiredByName[s.Name] = s
		if _, ok := t.entries[s.Name]; !ok {
			t.entries[s.Name] = &Entry{Name: s.Name}
			changed = true
		}
	}

	// Step 3: for entries present in both, update the eth_mac? bit to
	// match the wired source, and pin signal strength when Ethernet is
	// present.
	for name, e := range t.entries {
		_, haveWired := wiredByName[name]
		hadEth := e.HasEthernet()
		if haveWired && !hadEth {
			self := name
			e.EthName = &self
			changed = true
		} else if !haveWired && hadEth {
			e.EthName = nil
			changed = true
		}
		if e.HasEthernet() {
			e.SigStrength = MaxSigStrength
		}
	}

	// Refresh wireless signal strengths for entries without Ethernet.
	for _, s := range wireless {
		e := t.entries[s.Name]
		if e != nil && !e.HasEthernet() {
			e.SigStrength = s.SigStrength
		}
	}

	return changed
}

// ParseAssociatedPeersFile reads the per-line "MAC signal [channel noise rate]"
// wireless-association source file (§6).
func ParseAssociatedPeersFile(path string) ([]Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Source
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		addr, err := mac.Parse(fields[0])
		if err != nil {
			continue
		}
		sig, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		out = append(out, Source{Name: addr, SigStrength: byte(sig)})
	}
	return out, scanner.Err()
}

// ParseWiredBeaconFile reads the per-line "ethMAC wirelessMAC" wired
// discovery source file (§6).
func ParseWiredBeaconFile(path string) ([]Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Source
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		eth, err := mac.Parse(fields[0])
		if err != nil {
			continue
		}
		wireless, err := mac.Parse(fields[1])
		if err != nil {
			continue
		}
		out = append(out, Source{Name: wireless, EthName: &eth})
	}
	return out, scanner.Err()
}

// WDSEntry is one interface-name/MAC pair from a WDS configuration file.
type WDSEntry struct {
	Interface string
	Addr      mac.Addr
}

// ParseWDSConfig reads a WDS configuration file: comment lines beginning
// '#' are skipped, the remainder lists interface-name/MAC pairs (§6,
// supplemented from original_source/update_wrt_wds.c).
func ParseWDSConfig(path string) ([]WDSEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []WDSEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		addr, err := mac.Parse(fields[1])
		if err != nil {
			continue
		}
		out = append(out, WDSEntry{Interface: fields[0], Addr: addr})
	}
	return out, scanner.Err()
}
