// Package transport defines the Transport collaborator that cloudhub's
// control plane sends and receives frames through. Raw-socket setup and
// Layer-2 packet framing are explicitly out of scope for this
// specification (§1); Transport is the named seam a real deployment
// plugs a raw-Ethernet or pcap implementation into. This package ships
// two concrete implementations: a UDP-multicast one (standing in for
// the real link layer, grounded on the teacher's own beacon discovery
// code) and an in-memory one for tests.
package transport

import (
	"errors"

	"github.com/meshbox/cloudhub/mac"
	"github.com/meshbox/cloudhub/protocol"
)

// Broadcast is the sentinel destination meaning "every box on the
// segment", used for beacon floods and other one-to-many sends.
var Broadcast mac.Addr // zero value

// Frame is a received raw frame, already demultiplexed by EtherType but
// not yet decoded into a protocol.Frame (control) or protocol.WrappedClient
// (payload) — the caller does that, since the two subsystems decode
// differently.
type Frame struct {
	Src       mac.Addr
	Dst       mac.Addr // Broadcast for flooded frames
	EtherType protocol.EtherType
	Payload   []byte
}

// Transport is the raw send/receive collaborator. Implementations need
// not guarantee delivery or ordering; cloudhub's control plane is built
// to tolerate loss (§1 Non-goals).
type Transport interface {
	// LocalAddr is this box's own address, used to stamp Src on sends
	// and to recognize frames addressed to us.
	LocalAddr() mac.Addr

	// Send transmits a frame to dst (Broadcast for a flood). Send must
	// not block indefinitely; a slow or unreachable peer should return
	// promptly so the caller can count it toward its unroutable-send
	// threshold (§4.4).
	Send(dst mac.Addr, etherType protocol.EtherType, payload []byte) error

	// Recv delivers every frame addressed to us or to Broadcast.
	Recv() <-chan Frame

	// Close releases the underlying socket(s).
	Close() error
}

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport: closed")
