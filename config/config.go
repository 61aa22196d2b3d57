// Package config holds cloudhub's runtime-mutable debug vector and the
// CLI-populated daemon configuration described in §6 of the
// specification.
package config

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/meshbox/cloudhub/mac"
)

// Debug option indices, matching the excerpt of recognized options in §6.
const (
	OptSequenceFlowControl = iota
	OptAdHocClient
	OptCloudPageAnnounce
	OptDisableWirelessTx
	OptScaleTimersByMeshSize
	OptScaleTimersDebug20x
	OptDuplicateSuppression

	optCount
)

var optionNames = [optCount]string{
	OptSequenceFlowControl:   "sequence-flow-control",
	OptAdHocClient:           "ad-hoc-client",
	OptCloudPageAnnounce:     "cloud-page-announce",
	OptDisableWirelessTx:     "disable-wireless-tx",
	OptScaleTimersByMeshSize: "scale-timers-by-mesh-size",
	OptScaleTimersDebug20x:   "scale-timers-debug-20x",
	OptDuplicateSuppression:  "duplicate-suppression",
}

// DebugVector is the protocol-wide remote-configuration vector db[].
// It is tunable locally via a one-line command file and remotely via a
// beacon's tweak_db field.
type DebugVector struct {
	values [optCount]bool
}

// NewDebugVector returns a vector with every option false.
func NewDebugVector() *DebugVector {
	return &DebugVector{}
}

// Get returns the current value of option i, or false if i is out of range.
func (d *DebugVector) Get(i int) bool {
	if i < 0 || i >= optCount {
		return false
	}
	return d.values[i]
}

// Set assigns option i unconditionally.
func (d *DebugVector) Set(i int, value bool) {
	if i < 0 || i >= optCount {
		return
	}
	d.values[i] = value
}

// Toggle flips option i.
func (d *DebugVector) Toggle(i int) {
	if i < 0 || i >= optCount {
		return
	}
	d.values[i] = !d.values[i]
}

// Name returns the descriptive name of option i.
func (d *DebugVector) Name(i int) string {
	if i < 0 || i >= optCount {
		return ""
	}
	return optionNames[i]
}

// ApplyTweak applies the wire encoding carried in a beacon's tweak_db
// field: 1000+i sets option i false, 2000+i sets option i true,
// anything else (a bare index) toggles option i.
func (d *DebugVector) ApplyTweak(tweak int) {
	switch {
	case tweak >= 1000 && tweak < 1000+optCount:
		d.Set(tweak-1000, false)
	case tweak >= 2000 && tweak < 2000+optCount:
		d.Set(tweak-2000, true)
	case tweak >= 0 && tweak < optCount:
		d.Toggle(tweak)
	}
}

// LoadCommandFile reads a one-line local tuning command of the form
// "<index> <0|1>" and applies it. Absence of the file is not an error.
func (d *DebugVector) LoadCommandFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return scanner.Err()
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) != 2 {
		return fmt.Errorf("config: malformed debug command line %q", scanner.Text())
	}
	idx, err := strconv.Atoi(fields[0])
	if err != nil {
		return err
	}
	val, err := strconv.Atoi(fields[1])
	if err != nil {
		return err
	}
	d.Set(idx, val != 0)
	return nil
}

// Mode selects whether ad-hoc stations or WDS peers are admitted.
type Mode int

const (
	ModeAdHoc Mode = iota
	ModeWDS
)

// Config is the daemon's CLI surface (§6): device names, beacon/neighbor
// files, output files, operating mode, debug-vector initial state, and
// the simulation-pipe directory.
type Config struct {
	LocalAddr mac.Addr
	UDPPort   int

	WirelessDevice string
	WiredDevice    string

	NeighborFile string
	WiredBeaconFile string
	WDSConfigFile   string

	TopologyHTMLFile string
	ScanHTMLFile     string
	StatusFile       string
	ParmFeedbackFile string
	DebugLogFile     string

	Mode Mode

	SimPipeDir string

	Debug *DebugVector
}

// ParseFlags populates a Config from command-line arguments, following
// the flag.FlagSet style used by the teacher's cmd/monitor.
func ParseFlags(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{Debug: NewDebugVector()}

	localMAC := fs.String("local-mac", "", "this box's own wireless MAC address (required)")
	udpPort := fs.Int("udp-port", 7983, "UDP multicast port backing the transport layer")
	wireless := fs.String("wireless-device", "wlan0", "wireless interface name")
	wired := fs.String("wired-device", "", "wired (Ethernet) interface name, if any")
	neighborFile := fs.String("neighbor-file", "/tmp/cloudhub.neighbors", "associated-peers file")
	wiredBeaconFile := fs.String("wired-beacon-file", "/tmp/cloudhub.wired", "wired-beacon file")
	wdsFile := fs.String("wds-config-file", "", "WDS interface/MAC config file")
	topoHTML := fs.String("topology-html", "", "cloud topology HTML output path")
	scanHTML := fs.String("scan-html", "", "wifi scan HTML output path")
	statusFile := fs.String("status-file", "", "LED-daemon status file path")
	parmFeedback := fs.String("parm-feedback-file", "", "parameter-change feedback file")
	debugLog := fs.String("debug-log", "", "optional debug log path")
	mode := fs.String("mode", "ad-hoc", "operating mode: ad-hoc or wds")
	simPipeDir := fs.String("sim-pipe-dir", "", "simulation pipe directory (testing only)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *localMAC == "" {
		return nil, fmt.Errorf("config: -local-mac is required")
	}
	addr, err := mac.Parse(*localMAC)
	if err != nil {
		return nil, fmt.Errorf("config: -local-mac: %w", err)
	}
	cfg.LocalAddr = addr
	cfg.UDPPort = *udpPort

	cfg.WirelessDevice = *wireless
	cfg.WiredDevice = *wired
	cfg.NeighborFile = *neighborFile
	cfg.WiredBeaconFile = *wiredBeaconFile
	cfg.WDSConfigFile = *wdsFile
	cfg.TopologyHTMLFile = *topoHTML
	cfg.ScanHTMLFile = *scanHTML
	cfg.StatusFile = *statusFile
	cfg.ParmFeedbackFile = *parmFeedback
	cfg.DebugLogFile = *debugLog
	cfg.SimPipeDir = *simPipeDir

	switch *mode {
	case "ad-hoc":
		cfg.Mode = ModeAdHoc
	case "wds":
		cfg.Mode = ModeWDS
	default:
		return nil, fmt.Errorf("config: unknown mode %q", *mode)
	}

	return cfg, nil
}
