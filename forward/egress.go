package forward

import "github.com/meshbox/cloudhub/mac"

// ArrivalDevice names where a payload frame arrived, so fan-out can
// exclude it (§4.8: "never onto the device the frame arrived on").
type ArrivalDevice int

const (
	ArrivedWireless ArrivalDevice = iota
	ArrivedWired
	ArrivedSTPNeighbor
)

// FanOutPlan is the set of egress decisions for one payload (§4.8).
type FanOutPlan struct {
	Wired      bool
	Wireless   bool
	Neighbors  []mac.Addr
}

// FanOutInput bundles everything ComputeFanOut needs, letting it stay a
// pure function over caller-supplied facts rather than importing every
// table it would otherwise need (rbeacon, stp, neighbor), avoiding
// import cycles.
type FanOutInput struct {
	Arrived        ArrivalDevice
	ArrivedVia     mac.Addr // valid iff Arrived == ArrivedSTPNeighbor
	Source         mac.Addr
	HaveWired      bool
	HaveWireless   bool
	STPNeighbors   []mac.Addr
	SeesDirectly   func(neighbor, source mac.Addr) bool
}

// ComputeFanOut implements §4.8's egress rules.
func ComputeFanOut(in FanOutInput) FanOutPlan {
	plan := FanOutPlan{}

	if in.HaveWired && in.Arrived != ArrivedWired {
		plan.Wired = true
	}
	if in.HaveWireless && in.Arrived != ArrivedWireless {
		plan.Wireless = true
	}

	for _, n := range in.STPNeighbors {
		if in.Arrived == ArrivedSTPNeighbor && n == in.ArrivedVia {
			continue
		}
		if in.SeesDirectly != nil && in.SeesDirectly(n, in.Source) {
			continue
		}
		plan.Neighbors = append(plan.Neighbors, n)
	}

	return plan
}
