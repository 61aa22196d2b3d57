package transport

import (
	"sync"

	"github.com/meshbox/cloudhub/mac"
	"github.com/meshbox/cloudhub/protocol"
)

// Network is a shared in-memory segment that MemoryTransports attach
// to, playing the role of the out-of-scope "simulation pipe directory"
// named in §6's CLI surface: a test fixture, not a protocol module.
type Network struct {
	mu    sync.Mutex
	ports map[mac.Addr]*MemoryTransport
}

// NewNetwork returns an empty in-memory segment.
func NewNetwork() *Network {
	return &Network{ports: make(map[mac.Addr]*MemoryTransport)}
}

// Attach creates and registers a MemoryTransport for local on this
// segment.
func (n *Network) Attach(local mac.Addr) *MemoryTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := &MemoryTransport{
		local: local,
		net:   n,
		recv:  make(chan Frame, 256),
	}
	n.ports[local] = t
	return t
}

func (n *Network) detach(local mac.Addr) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.ports, local)
}

func (n *Network) deliver(f Frame) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for addr, t := range n.ports {
		if addr == f.Src {
			continue
		}
		if f.Dst != Broadcast && f.Dst != addr {
			continue
		}
		select {
		case t.recv <- f:
		default:
		}
	}
}

// MemoryTransport is a Transport backed by an in-process Network,
// used by cloudhub's scenario tests to drive several Nodes without any
// real socket.
type MemoryTransport struct {
	local  mac.Addr
	net    *Network
	recv   chan Frame
	closed bool
	mu     sync.Mutex
}

func (t *MemoryTransport) LocalAddr() mac.Addr { return t.local }

func (t *MemoryTransport) Send(dst mac.Addr, etherType protocol.EtherType, payload []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.mu.Unlock()

	cp := append([]byte(nil), payload...)
	t.net.deliver(Frame{Src: t.local, Dst: dst, EtherType: etherType, Payload: cp})
	return nil
}

func (t *MemoryTransport) Recv() <-chan Frame { return t.recv }

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.net.detach(t.local)
	close(t.recv)
	return nil
}
