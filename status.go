package cloudhub

import "github.com/meshbox/cloudhub/rbeacon"

// Status returns the §6 status-file triple as currently known: the
// count of boxes reachable in the last tree-reconstruction sweep (§4.6),
// this box's own weakest outgoing link metric, and how many known boxes
// report a weakest-link metric below GoodThreshold.
func (n *Node) Status() Status {
	boxCount := n.rbeacons.Len() + 1
	if tree := n.beacons.Tree; tree != nil {
		boxCount = tree.Count()
	}
	weak := 0
	for _, e := range n.rbeacons.All() {
		if e.WeakestLink < rbeacon.GoodThreshold {
			weak++
		}
	}
	return Status{
		BoxCount:         boxCount,
		LocalWeakestLink: n.beacons.WeakestLink(),
		WeakBoxCount:     weak,
	}
}
