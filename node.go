// Package cloudhub implements the distributed control plane of a
// self-organizing wireless mesh daemon (see spec.md/SPEC_FULL.md):
// neighbor discovery, spanning-tree formation and repair, STP beacon
// flooding, ad-hoc client arbitration, and payload forwarding. Node is
// the single type that owns every table and drives them from one
// event-loop goroutine, generalizing zeromq-gyre's Node/handler()
// shape (command channel + inbox channel + ticker, all funneled
// through one select) to this spec's own protocol.
package cloudhub

import (
	"fmt"
	"sync"
	"time"

	"github.com/meshbox/cloudhub/adhoc"
	"github.com/meshbox/cloudhub/beaconengine"
	"github.com/meshbox/cloudhub/config"
	"github.com/meshbox/cloudhub/forward"
	"github.com/meshbox/cloudhub/lock"
	"github.com/meshbox/cloudhub/logging"
	"github.com/meshbox/cloudhub/mac"
	"github.com/meshbox/cloudhub/neighbor"
	"github.com/meshbox/cloudhub/rbeacon"
	"github.com/meshbox/cloudhub/scheduler"
	"github.com/meshbox/cloudhub/stp"
	"github.com/meshbox/cloudhub/transport"
)

// Node-local scheduler kinds. Kinds 1/2/4 are claimed by lock, rbeacon
// and beaconengine respectively; Node's own periodic tasks start at 10
// to leave room for those packages to grow without collision.
const (
	kindNeighborPoll scheduler.Kind = 10 + iota
	kindAdHocTick
	kindJoinCheck
	kindSwapCheck
	kindSafetyTick
)

// neighborPollInterval is how often the two authoritative peer-discovery
// files are re-read (§4.1).
const neighborPollInterval = 2 * time.Second

// adHocTickInterval drives §4.7's periodic ownership optimization and
// signal-strength smoothing.
const adHocTickInterval = 1 * time.Second

// joinCheckInterval drives §4.5.1 step 1's "periodic check connectivity".
const joinCheckInterval = 3 * time.Second

// swapCheckInterval drives §4.5.2's periodic scan for a better-signal
// replacement of an existing tree edge.
const swapCheckInterval = 3 * time.Second

// safetyInterval is §5's "1-second safety interval forces a tick even
// if all other deadlines are far".
const safetyInterval = 1 * time.Second

// ackTimeout is how long a beacon send waits for STP-BEACON-RECV before
// its pending lock expires (§4.6).
const ackTimeout = 2 * time.Second

// bcastBlockTimeout bounds how long a BCAST-BLOCK lock may be held if
// the matching UNBLOCK is lost (§4.7).
const bcastBlockTimeout = 2 * time.Second

// cmd is an internal command sent from a public API method into the
// event-loop goroutine, mirroring zeromq-gyre/gyre.go's cmds channel.
type cmd struct {
	kind    string
	dest    mac.Addr
	payload []byte
	done    chan error
}

const (
	cmdSendPayload  = "SEND_PAYLOAD"
	cmdReloadConfig = "RELOAD_CONFIG"
)

// Status is the §6 "status file" triple consumed by the out-of-scope
// LED daemon: {box-count, local-weakest-link, weak-box-count}. Node
// computes it; writing it to disk is left to the caller.
type Status struct {
	BoxCount         int
	LocalWeakestLink uint16
	WeakBoxCount     int
}

// Node owns every control-plane table (C1-C9) and the single goroutine
// that drives them. All fields below the constructor are touched only
// from run(), per §5's single-threaded cooperative model.
type Node struct {
	local mac.Addr
	cfg   *config.Config
	tr    transport.Transport
	log   logging.Logger

	sched *scheduler.Scheduler

	neighbors *neighbor.Table
	rbeacons  *rbeacon.Table
	locks     *lock.Table
	links     *stp.List
	stpEngine *stp.Engine
	beacons   *beaconengine.Engine
	clients   *adhoc.Table
	dedup     *forward.Dedup
	reasm     *forward.Reassembler

	// pendingSwap names the local-swap attempt currently in flight, if
	// any; the engine serializes mutations via DoingTreeUpdate so at
	// most one is ever outstanding.
	pendingSwap *stp.CandidatePair
	swapNewDone bool
	swapOldDone bool

	// ctrlSeq tracks the per-link sequence byte for peers not (yet, or
	// ever) an STP link entry, e.g. during join negotiation before the
	// edge exists (§6's "1-byte per-link sequence number").
	ctrlSeq map[mac.Addr]byte

	cmds   chan *cmd
	events chan *Event
	quit   chan struct{}
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewNode constructs a Node wired to the given transport and logger but
// does not start its event loop; call Start to do so. Following
// NewNode's pattern in the teacher, the only fatal errors here are
// construction-time ones (§7): an invalid local address.
func NewNode(cfg *config.Config, tr transport.Transport, log logging.Logger) (*Node, error) {
	if cfg.LocalAddr.IsZero() {
		return nil, fmt.Errorf("cloudhub: config has no local address")
	}
	if log == nil {
		log = logging.NewDefault()
	}

	n := &Node{
		local:   cfg.LocalAddr,
		cfg:     cfg,
		tr:      tr,
		log:     log.With("box", cfg.LocalAddr.String()),
		sched:   scheduler.New(),
		cmds:    make(chan *cmd, 256),
		events:  make(chan *Event, 256),
		quit:    make(chan struct{}),
		ctrlSeq: make(map[mac.Addr]byte),
	}

	n.neighbors = neighbor.New()
	n.locks = lock.New(n.sched, n.onLockExpire)
	n.rbeacons = rbeacon.New(n.sched)
	n.links = stp.New()
	n.clients = adhoc.New()
	n.clients.SetScaling(cfg.Debug.Get(config.OptScaleTimersByMeshSize), cfg.Debug.Get(config.OptScaleTimersDebug20x))
	n.dedup = forward.NewDedup(n.local)
	n.reasm = forward.NewReassembler()

	d := &dispatcher{node: n}
	n.stpEngine = stp.NewEngine(n.local, n.links, n.locks, n.rbeacons, d)
	n.beacons = beaconengine.New(n.local, n.links, n.locks, n.rbeacons, d, n.sched)

	return n, nil
}

// Start launches the event-loop goroutine and arms the initial round of
// periodic tasks.
func (n *Node) Start() {
	n.startOnce.Do(func() {
		now := time.Now()
		n.sched.Schedule(now.Add(neighborPollInterval), kindNeighborPoll, nil)
		n.sched.Schedule(now.Add(adHocTickInterval), kindAdHocTick, nil)
		n.sched.Schedule(now.Add(joinCheckInterval), kindJoinCheck, nil)
		n.sched.Schedule(now.Add(swapCheckInterval), kindSwapCheck, nil)
		n.sched.Schedule(now.Add(safetyInterval), kindSafetyTick, nil)
		n.beacons.ScheduleNext(now, randevalMeanWakeup(n.cfg), n.cfg.Debug.Get(config.OptScaleTimersByMeshSize))

		n.wg.Add(1)
		go n.run()
	})
}

// Stop shuts the event loop down and releases the transport.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.quit)
		n.wg.Wait()
		n.tr.Close()
		close(n.events)
	})
}

// Chan returns the channel Node delivers Events on.
func (n *Node) Chan() <-chan *Event {
	return n.events
}

// SendPayload queues a locally originated client payload for
// transmission, stamping it with the next per-originator sequence
// number (§4.8). It returns once the send has been accepted by the
// event loop, not once delivery is confirmed (§1 Non-goals: no
// exactly-once guarantee).
func (n *Node) SendPayload(payload []byte) error {
	done := make(chan error, 1)
	select {
	case n.cmds <- &cmd{kind: cmdSendPayload, payload: payload, done: done}:
	case <-n.quit:
		return transport.ErrClosed
	}
	select {
	case err := <-done:
		return err
	case <-n.quit:
		return transport.ErrClosed
	}
}

func randevalMeanWakeup(cfg *config.Config) time.Duration {
	return 500 * time.Millisecond
}

// run is the single event-loop goroutine (§5): one select over
// transport receives, API commands, and the earliest scheduled
// deadline, with timed events handled in the fixed order Pop returns
// them.
func (n *Node) run() {
	defer n.wg.Done()

	timer := time.NewTimer(safetyInterval)
	defer timer.Stop()

	for {
		n.rearm(timer)

		select {
		case <-n.quit:
			return

		case f, ok := <-n.tr.Recv():
			if !ok {
				return
			}
			n.dispatchFrame(f)

		case c := <-n.cmds:
			n.handleCmd(c)

		case now := <-timer.C:
			for _, ev := range n.sched.Pop(now) {
				n.handleTimedEvent(now, ev)
			}
		}
	}
}

func (n *Node) rearm(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	deadline, ok := n.sched.NextDeadline()
	now := time.Now()
	if !ok || deadline.Before(now) {
		deadline = now
	}
	d := deadline.Sub(now)
	if d > safetyInterval {
		d = safetyInterval
	}
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

func (n *Node) handleCmd(c *cmd) {
	switch c.kind {
	case cmdSendPayload:
		c.done <- n.sendLocalPayload(c.payload)
	case cmdReloadConfig:
		c.done <- nil
	}
}

func (n *Node) emit(ev *Event) {
	select {
	case n.events <- ev:
	default:
		n.log.Warnf("event channel full, dropping %s", ev.Type)
	}
}
