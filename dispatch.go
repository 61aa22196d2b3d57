package cloudhub

import (
	"time"

	"github.com/meshbox/cloudhub/adhoc"
	"github.com/meshbox/cloudhub/beaconengine"
	"github.com/meshbox/cloudhub/config"
	"github.com/meshbox/cloudhub/forward"
	"github.com/meshbox/cloudhub/lock"
	"github.com/meshbox/cloudhub/mac"
	"github.com/meshbox/cloudhub/neighbor"
	"github.com/meshbox/cloudhub/protocol"
	"github.com/meshbox/cloudhub/rbeacon"
	"github.com/meshbox/cloudhub/scheduler"
	"github.com/meshbox/cloudhub/stp"
	"github.com/meshbox/cloudhub/transport"
)

// dispatchFrame routes a raw received frame by EtherType (§6): control
// traffic to handleControl, wrapped client payloads to handlePayload.
// The wired-discovery-beacon EtherType is a neighbor-table hint, not a
// control message, so it updates C1 directly rather than going through
// handleControl's message-type switch.
func (n *Node) dispatchFrame(f transport.Frame) {
	switch f.EtherType {
	case protocol.EtherCloudMsg:
		frame, err := protocol.Unmarshal(f.Payload)
		if err != nil {
			n.log.Warnf("dropping malformed control frame from %s: %v", f.Src, err)
			return
		}
		n.handleControl(f.Src, frame)

	case protocol.EtherWrappedClient:
		wc := &protocol.WrappedClient{}
		if err := wc.Unmarshal(f.Payload); err != nil {
			n.log.Warnf("dropping malformed payload frame from %s: %v", f.Src, err)
			return
		}
		n.handlePayload(f.Src, wc)

	case protocol.EtherEthBeacon:
		n.observeWiredHint(f.Src)

	default:
		// LL_SHELL_MSG and anything else: out-of-scope collaborators
		// named in §1, not decoded here.
	}
}

func (n *Node) observeWiredHint(src mac.Addr) {
	if e, ok := n.neighbors.Get(src); ok && !e.HasEthernet() {
		self := src
		e.EthName = &self
	}
}

// handleControl implements the per-type branches of §4.2 (beacon
// ack/nak/cycle), §4.5 (join and swap), §4.7 (broadcast suppression),
// and §4.8's optional sequence-based flow control.
func (n *Node) handleControl(src mac.Addr, f *protocol.Frame) {
	now := time.Now()

	switch f.Type {
	case protocol.TypeSTPBeacon:
		n.handleBeacon(src, f.Body.(*protocol.STPBeacon), now)

	case protocol.TypeSTPBeaconRecv:
		n.beacons.HandleAck(src)

	case protocol.TypeSTPBeaconNak:
		n.beacons.HandleNak(src)
		n.emit(&Event{Type: EventTreeEdgeRemoved, Peer: src})

	case protocol.TypeSTPArcDelete:
		n.links.Delete(src)
		n.emit(&Event{Type: EventTreeEdgeRemoved, Peer: src})

	case protocol.TypeLocalSTPAddReq:
		n.handleAddReq(src, now)

	case protocol.TypeLocalSTPAdded:
		n.handleAdded(src, now)

	case protocol.TypeLocalSTPRefused:
		n.releaseCollapsed(n.stpEngine.AbortSwap())

	case protocol.TypeLocalLockReqOld, protocol.TypeLocalLockReqNew:
		if err := n.stpEngine.HandleLockReq(f.Type, src, now); err != nil {
			n.log.Warnf("lock request from %s rejected: %v", src, err)
		}

	case protocol.TypeLocalLockGrant:
		n.handleLockGrant(src, now)

	case protocol.TypeLocalLockDeny:
		n.releaseCollapsed(n.stpEngine.AbortSwap())
		n.pendingSwap = nil

	case protocol.TypeLocalSTPAddChangedReq:
		if err := n.stpEngine.HandleAddChangedReq(src, nil, n.neighbors.GetSigStrength(src), now); err != nil {
			n.log.Warnf("add-changed-req from %s failed: %v", src, err)
		}
		n.emit(&Event{Type: EventTreeEdgeAdded, Peer: src})

	case protocol.TypeLocalSTPAddedChanged:
		n.handleSwapLeg(src, true)

	case protocol.TypeLocalSTPDeleteReq:
		if err := n.stpEngine.HandleDeleteReq(src); err != nil {
			n.log.Warnf("delete-req from %s failed: %v", src, err)
		}
		n.emit(&Event{Type: EventTreeEdgeRemoved, Peer: src})

	case protocol.TypeLocalSTPDeleted:
		n.handleSwapLeg(src, false)

	case protocol.TypeLocalAddRelease, protocol.TypeLocalDeleteRelease:
		// HandleAddReq/HandleAddChangedReq/HandleDeleteReq act on the edge
		// unconditionally and never hold a grant for it, so these two
		// releases have nothing to clear; recognized and dropped to avoid
		// the "unrecognized message type" warning.

	case protocol.TypeLocalLockRelease:
		n.releaseGrantedFor(src, protocol.TypeLocalLockReqOld, protocol.TypeLocalLockReqNew)

	case protocol.TypePing:
		n.sendFrame(src, protocol.TypePingResponse, &protocol.Empty{})

	case protocol.TypePingResponse:
		// Nothing to do: a PING's only purpose is liveness, and C1's
		// membership is driven by the reconciliation files, not by
		// ping replies.

	case protocol.TypeSequence:
		n.handleSequence(src, f.Body.(*protocol.Sequence))

	case protocol.TypeAckSequence:
		n.handleAckSequence(src, f.Body.(*protocol.AckSequence))

	case protocol.TypeAdHocBcastBlock:
		n.handleBcastBlock(f.Body.(*protocol.BcastControl), now)

	case protocol.TypeAdHocBcastUnblock:
		n.locks.Delete(lock.ListGranted, protocol.TypeAdHocBcastBlock, f.Body.(*protocol.BcastControl).Client)

	case protocol.TypeScanResults, protocol.TypeParmChangeStart, protocol.TypeParmChangeReady,
		protocol.TypeParmChangeNotReady, protocol.TypeParmChangeGo, protocol.TypeNonlocalReserved:
		// Reserved or out-of-scope beyond the lock core they may reuse
		// (§1, SPEC_FULL.md's DOMAIN STACK section); logged and dropped.
		n.log.Debugf("dropping unimplemented message type %s from %s", f.Type, src)

	default:
		n.log.Warnf("dropping unrecognized message type %s from %s", f.Type, src)
	}
}

// handleBeacon implements §4.2: cycle detection, the nak branch for a
// non-STP-neighbor sender, and the ack + flood + tree-reconstruction
// path for a legitimate beacon.
func (n *Node) handleBeacon(src mac.Addr, beacon *protocol.STPBeacon, now time.Time) {
	if beacon.Origin == n.local {
		if err := n.beacons.HandleCycle(src); err != nil {
			n.log.Warnf("failed to send arc-delete to %s: %v", src, err)
		}
		n.emit(&Event{Type: EventTreeEdgeRemoved, Peer: src})
		return
	}

	if !n.links.Has(src) {
		n.sendFrame(src, protocol.TypeSTPBeaconNak, &protocol.Empty{})
		return
	}

	n.sendFrame(src, protocol.TypeSTPBeaconRecv, &protocol.Empty{})

	_, inserted := n.rbeacons.Insert(beacon.Origin, src, beacon, now, n.links.Has, n.cfg.Debug.Get(config.OptScaleTimersByMeshSize))
	if !inserted {
		return
	}

	for _, row := range beacon.Status {
		if row.NeighborType == protocol.NeighborNonCloudClient {
			prev, had := n.clients.Get(row.Name)
			wasMine := had && prev.Owner == adhoc.Mine
			n.clients.ObserveBeaconRow(row.Name, beacon.Origin, n.local, row.SigStrength)
			if c, ok := n.clients.Get(row.Name); wasMine && (!ok || c.Owner != adhoc.Mine) {
				n.emit(&Event{Type: EventClientReleased, Peer: row.Name})
			}
		}
	}

	n.beacons.Flood(beacon, src, now, ackTimeout, n.localStatus())
}

func (n *Node) handleAddReq(src mac.Addr, now time.Time) {
	accepted, err := n.stpEngine.HandleAddReq(src, nil, n.neighbors.GetSigStrength(src), now)
	if err != nil {
		n.log.Warnf("add-req from %s failed: %v", src, err)
		return
	}
	if !accepted {
		return
	}
	n.emit(&Event{Type: EventTreeEdgeAdded, Peer: src})
	n.floodKnownBeaconsTo(src, now)
}

func (n *Node) handleAdded(src mac.Addr, now time.Time) {
	n.stpEngine.HandleAdded(src, nil, n.neighbors.GetSigStrength(src), now)
	n.emit(&Event{Type: EventTreeEdgeAdded, Peer: src})
	n.floodKnownBeaconsTo(src, now)
}

// floodKnownBeaconsTo sends our own beacon and every beacon we know
// about to a newly added neighbor, so the joined partition converges
// fast (§4.5.1 steps 2 and 3).
func (n *Node) floodKnownBeaconsTo(dest mac.Addr, now time.Time) {
	own := n.beacons.Assemble(int16(n.tweakDB()), n.localStatus())
	n.beacons.SendOne(dest, own, now, ackTimeout)
	for _, e := range n.rbeacons.All() {
		known := &protocol.STPBeacon{
			Origin:      e.Origin,
			OriginSeq:   e.LastSeenOriginatorSeq,
			WeakestLink: e.WeakestLink,
			Status:      e.Status,
		}
		n.beacons.SendOne(dest, known, now, ackTimeout)
	}
}

func (n *Node) handleLockGrant(src mac.Addr, now time.Time) {
	grantType := protocol.TypeLocalLockReqOld
	if n.pendingSwap != nil && src == n.pendingSwap.New {
		grantType = protocol.TypeLocalLockReqNew
	}
	ready := n.stpEngine.HandleLockGrant(grantType, src, now)
	if ready && n.pendingSwap != nil {
		if err := n.stpEngine.CompleteSwap(n.pendingSwap.Old, n.pendingSwap.New); err != nil {
			n.log.Warnf("completing swap failed: %v", err)
		}
	}
}

// handleSwapLeg records completion of one leg of an in-flight swap
// (§4.5.2 step 4). Once both STP-ADDED-CHANGED and STP-DELETED have
// arrived, FinishSwap runs and the pending swap is cleared.
func (n *Node) handleSwapLeg(src mac.Addr, isNewLeg bool) {
	if n.pendingSwap == nil {
		return
	}
	if isNewLeg {
		n.swapNewDone = true
	} else {
		n.swapOldDone = true
	}
	if n.swapNewDone && n.swapOldDone {
		now := time.Now()
		n.stpEngine.FinishSwap(n.pendingSwap.Old, n.pendingSwap.New, nil, n.neighbors.GetSigStrength(n.pendingSwap.New), now)
		n.emit(&Event{Type: EventTreeEdgeAdded, Peer: n.pendingSwap.New})
		n.emit(&Event{Type: EventTreeEdgeRemoved, Peer: n.pendingSwap.Old})
		n.pendingSwap = nil
		n.swapNewDone, n.swapOldDone = false, false
	}
}

func (n *Node) releaseCollapsed(releaseOwned, releaseGranted []*lock.Record) {
	for _, rec := range releaseGranted {
		n.log.Debugf("tree-update state collapsed, was granted to %s for %s", rec.Peer, rec.Type)
	}
	_ = releaseOwned
	n.pendingSwap = nil
	n.swapNewDone, n.swapOldDone = false, false
}

// releaseGrantedFor deletes whichever of the candidate lock types is
// currently granted to peer, implementing the release messages of
// §4.3 whose exact originating lock type isn't named on the wire.
func (n *Node) releaseGrantedFor(peer mac.Addr, candidates ...protocol.Type) {
	for _, typ := range candidates {
		n.locks.Delete(lock.ListGranted, typ, peer)
	}
}

func (n *Node) handleSequence(src mac.Addr, seq *protocol.Sequence) {
	lk, ok := n.links.Get(src)
	if !ok {
		return
	}
	ack, resynced := forward.HandleSequence(lk, *seq)
	if resynced {
		n.log.Warnf("resynced receive sequence from %s after %d consecutive mismatches", src, forward.MaxSequenceError)
	}
	n.sendFrame(src, protocol.TypeAckSequence, &ack)
}

func (n *Node) handleAckSequence(src mac.Addr, ack *protocol.AckSequence) {
	lk, ok := n.links.Get(src)
	if !ok {
		return
	}
	forward.HandleAckSequence(lk, *ack)
}

func (n *Node) handleBcastBlock(body *protocol.BcastControl, now time.Time) {
	n.locks.Insert(lock.ListGranted, protocol.TypeAdHocBcastBlock, body.Client, body.Owner, nil, now.Add(bcastBlockTimeout))
}

// handleTimedEvent dispatches one scheduler.Event to the owning table
// or Node-local periodic task, in the fixed order Pop returned them
// (§5's ordering guarantee).
func (n *Node) handleTimedEvent(now time.Time, ev scheduler.Event) {
	switch ev.Kind {
	case lock.SchedKind():
		n.locks.Expire(ev)

	case rbeacon.SchedKind():
		if origin, ok := n.rbeaconExpire(ev); ok {
			n.clients.Orphan(origin)
			n.emit(&Event{Type: EventNeighborLost, Peer: origin})
		}

	case beaconengine.BeaconSchedKind:
		n.sendOwnBeacon(now)

	case kindNeighborPoll:
		n.pollNeighbors(now)

	case kindAdHocTick:
		n.adHocTick(now)

	case kindJoinCheck:
		n.joinCheck(now)

	case kindSwapCheck:
		n.swapCheck(now)

	case kindSafetyTick:
		n.sched.Schedule(now.Add(safetyInterval), kindSafetyTick, nil)
	}
}

func (n *Node) rbeaconExpire(ev scheduler.Event) (mac.Addr, bool) {
	return n.rbeacons.Expire(ev)
}

func (n *Node) sendOwnBeacon(now time.Time) {
	beacon := n.beacons.Assemble(int16(n.tweakDB()), n.localStatus())
	n.beacons.Flood(beacon, mac.Zero, now, ackTimeout, n.localStatus())
	n.beacons.ScheduleNext(now, randevalMeanWakeup(n.cfg), n.cfg.Debug.Get(config.OptScaleTimersByMeshSize))
}

func (n *Node) tweakDB() int {
	// The remote tweak_db field is only ever set on outgoing beacons in
	// response to an operator-issued change; absent one, -1 is a no-op
	// per config.DebugVector.ApplyTweak's switch.
	return -1
}

// localStatus builds this box's own beacon status array (§4.6) from
// the neighbor and STP link tables: one row per STP neighbor, one per
// other directly-heard neighbor, and (if ad-hoc-client mode is on) one
// per owned client.
func (n *Node) localStatus() []protocol.StatusRecord {
	var rows []protocol.StatusRecord

	for _, lk := range n.links.All() {
		rows = append(rows, protocol.StatusRecord{
			Name:         lk.Peer,
			DeviceKind:   protocol.DeviceCloudWLAN,
			NeighborType: protocol.NeighborCloudNbr,
			SigStrength:  lk.SigStrength,
		})
	}

	for _, e := range n.neighbors.All() {
		if n.links.Has(e.Name) {
			continue
		}
		kind := protocol.DeviceWLAN
		if e.HasEthernet() {
			kind = protocol.DeviceEth
		}
		rows = append(rows, protocol.StatusRecord{
			Name:         e.Name,
			DeviceKind:   kind,
			NeighborType: protocol.NeighborCloudNonNbr,
			SigStrength:  e.SigStrength,
		})
	}

	if n.cfg.Debug.Get(config.OptAdHocClient) {
		for _, c := range n.clients.All() {
			if c.Owner != adhoc.Mine {
				continue
			}
			rows = append(rows, protocol.StatusRecord{
				Name:         c.Station,
				DeviceKind:   protocol.DeviceAdHoc,
				NeighborType: protocol.NeighborNonCloudClient,
				SigStrength:  c.MySig,
			})
		}
	}

	return rows
}

// pollNeighbors re-reads the two reconciliation source files (§4.1) and
// re-arms itself.
func (n *Node) pollNeighbors(now time.Time) {
	defer n.sched.Schedule(now.Add(neighborPollInterval), kindNeighborPoll, nil)

	var wireless, wired []neighbor.Source
	if n.cfg.NeighborFile != "" {
		if sources, err := neighbor.ParseAssociatedPeersFile(n.cfg.NeighborFile); err == nil {
			wireless = sources
		}
	}
	if n.cfg.WiredBeaconFile != "" {
		if sources, err := neighbor.ParseWiredBeaconFile(n.cfg.WiredBeaconFile); err == nil {
			wired = sources
		}
	}
	// In WDS mode, peers named in the WDS interface-config file reach us
	// over a dedicated point-to-point wired-equivalent link, so they
	// reconcile as wired evidence exactly like a wired-beacon sighting
	// (§4.1, §6).
	if n.cfg.Mode == config.ModeWDS && n.cfg.WDSConfigFile != "" {
		if entries, err := neighbor.ParseWDSConfig(n.cfg.WDSConfigFile); err == nil {
			for _, e := range entries {
				addr := e.Addr
				wired = append(wired, neighbor.Source{Name: e.Addr, EthName: &addr})
			}
		}
	}

	before := n.neighbors.All()
	beforeSet := make(map[mac.Addr]bool, len(before))
	for _, e := range before {
		beforeSet[e.Name] = true
	}

	changed := n.neighbors.Reconcile(wireless, wired)
	if !changed {
		return
	}

	afterSet := make(map[mac.Addr]bool)
	for _, e := range n.neighbors.All() {
		afterSet[e.Name] = true
		if !beforeSet[e.Name] {
			n.emit(&Event{Type: EventNeighborDiscovered, Peer: e.Name})
		}
	}
	for name := range beforeSet {
		if !afterSet[name] {
			n.emit(&Event{Type: EventNeighborLost, Peer: name})
		}
	}

	// A membership change triggers a re-send of our own beacon (§4.1).
	n.sendOwnBeacon(now)
}

// adHocTick runs §4.7's periodic optimization: claim newly-sighted
// clients up to the per-box cap, smooth signal strengths (deleting
// clients that decay past the floor), and attempt one takeover.
func (n *Node) adHocTick(now time.Time) {
	defer n.sched.Schedule(now.Add(adHocTickInterval), kindAdHocTick, nil)

	if !n.cfg.Debug.Get(config.OptAdHocClient) {
		return
	}

	for _, station := range n.clients.ClaimUnknown() {
		n.emit(&Event{Type: EventClientClaimed, Peer: station})
	}

	for _, c := range n.clients.All() {
		wasMine := c.Owner == adhoc.Mine
		if n.clients.Smooth(c.Station, nil) && wasMine {
			n.emit(&Event{Type: EventClientReleased, Peer: c.Station})
		}
	}

	if cand, ok := n.clients.BestTakeover(); ok {
		if n.clients.TryTakeover(cand, n.rbeacons.Len()) {
			n.emit(&Event{Type: EventClientClaimed, Peer: cand.Station})
			n.sendOwnBeacon(now)
		}
	}
}

// joinCheck runs §4.5.1 step 1: pick a neighbor we can hear but have no
// tree edge or beacon from, and attempt to join it.
func (n *Node) joinCheck(now time.Time) {
	defer n.sched.Schedule(now.Add(joinCheckInterval), kindJoinCheck, nil)

	if n.stpEngine.DoingTreeUpdate() {
		return
	}

	var candidates []mac.Addr
	for _, e := range n.neighbors.All() {
		candidates = append(candidates, e.Name)
	}

	hasBeaconFrom := func(peer mac.Addr) bool {
		_, ok := n.rbeacons.Get(peer)
		return ok
	}

	peer, ok := stp.SelectJoinCandidate(candidates, n.links, hasBeaconFrom)
	if !ok {
		return
	}
	if err := n.stpEngine.InitiateJoin(peer, now); err != nil {
		n.log.Debugf("join attempt toward %s not started: %v", peer, err)
	}
}

// swapCheck runs §4.5.2's periodic scan for a better-signal replacement
// of an existing tree edge: any directly-heard neighbor not already a
// tree edge, with stronger signal than some current link, is a
// candidate; the best one is gated behind InitiateSwap's random
// acceptance evaluator.
func (n *Node) swapCheck(now time.Time) {
	defer n.sched.Schedule(now.Add(swapCheckInterval), kindSwapCheck, nil)

	if n.stpEngine.DoingTreeUpdate() {
		return
	}

	var pairs []stp.CandidatePair
	for _, lk := range n.links.All() {
		for _, e := range n.neighbors.All() {
			if n.links.Has(e.Name) {
				continue
			}
			diff := int(e.SigStrength) - int(lk.SigStrength)
			if diff <= 0 {
				continue
			}
			pairs = append(pairs, stp.NewCandidatePair(lk.Peer, e.Name, diff))
		}
	}

	best, ok := stp.SelectSwapCandidate(pairs)
	if !ok {
		return
	}
	if err := n.stpEngine.InitiateSwap(best.Old, best.New, best.Diff, n.rbeacons.Len(), now); err != nil {
		n.log.Debugf("swap attempt %s->%s not started: %v", best.Old, best.New, err)
		return
	}
	if n.stpEngine.DoingTreeUpdate() {
		pair := best
		n.pendingSwap = &pair
	}
}

// onLockExpire is the lock.Table's ExpiryHandler (§4.3): a lost ack
// during a tree mutation collapses the whole attempt via AbortSwap,
// releasing any other leg that did get granted; other lock kinds have
// no further action beyond their own removal, which Table.Expire has
// already done by the time this runs.
func (n *Node) onLockExpire(list lock.List, rec *lock.Record) {
	switch rec.Type {
	case protocol.TypeLocalSTPAddReq, protocol.TypeLocalLockReqOld, protocol.TypeLocalLockReqNew:
		n.releaseCollapsed(n.stpEngine.AbortSwap())

	case protocol.TypeSTPBeacon:
		// ack lost; sendFrame's own unroutable counter already covers
		// persistent failures, a single missed ack is not acted on.

	case protocol.TypeAdHocBcastBlock:
		// lost UNBLOCK: letting the grant simply expire restores normal
		// forwarding for that client.

	default:
		n.log.Debugf("lock %s/%s expired in %s list with no specific handler", rec.Type, rec.Peer, list)
	}
}
