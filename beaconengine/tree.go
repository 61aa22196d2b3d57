package beaconengine

import (
	"github.com/meshbox/cloudhub/mac"
	"github.com/meshbox/cloudhub/protocol"
	"github.com/meshbox/cloudhub/rbeacon"
)

// TreeNode is one node of the reconstructed mesh model (§4.6): a box
// with its tree-edge children, or a leaf representing an owned ad-hoc
// client.
type TreeNode struct {
	Name          mac.Addr
	IsAdHocClient bool
	Children      []*TreeNode
}

// Reconstruct rebuilds the box's current model of the mesh (§4.6):
// starting from the local box as root, at each frontier node it
// enumerates cloud-nbr status rows, keeps those with a valid
// back-pointer (the other side's own status array names this node back
// as a cloud-nbr too), and attaches them as children; non-cloud-client
// rows become ad-hoc-client leaves. localStatus is this box's own
// freshly assembled status array; rbeacons supplies every other box's
// freshest known status array.
func Reconstruct(local mac.Addr, localStatus []protocol.StatusRecord, rbeacons *rbeacon.Table) *TreeNode {
	statusOf := func(x mac.Addr) []protocol.StatusRecord {
		if x == local {
			return localStatus
		}
		if e, ok := rbeacons.Get(x); ok {
			return e.Status
		}
		return nil
	}

	visited := map[mac.Addr]bool{local: true}

	var build func(mac.Addr) *TreeNode
	build = func(x mac.Addr) *TreeNode {
		node := &TreeNode{Name: x}
		for _, s := range statusOf(x) {
			switch s.NeighborType {
			case protocol.NeighborCloudNbr:
				if visited[s.Name] {
					continue
				}
				back := statusOf(s.Name)
				hasBackPointer := false
				for _, bs := range back {
					if bs.Name == x && bs.NeighborType == protocol.NeighborCloudNbr {
						hasBackPointer = true
						break
					}
				}
				if !hasBackPointer {
					continue
				}
				visited[s.Name] = true
				node.Children = append(node.Children, build(s.Name))
			case protocol.NeighborNonCloudClient:
				node.Children = append(node.Children, &TreeNode{Name: s.Name, IsAdHocClient: true})
			}
		}
		return node
	}
	return build(local)
}

// Count returns the number of cloud boxes (non-ad-hoc-client nodes) in
// the tree rooted at n, used to fill in the status file's box-count
// field.
func (n *TreeNode) Count() int {
	if n == nil {
		return 0
	}
	count := 1
	for _, c := range n.Children {
		if !c.IsAdHocClient {
			count += c.Count()
		}
	}
	return count
}
