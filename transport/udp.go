package transport

import (
	"bytes"
	"encoding/binary"
	"net"
	"strconv"
	"sync"

	"golang.org/x/net/ipv4"

	"github.com/meshbox/cloudhub/logging"
	"github.com/meshbox/cloudhub/mac"
	"github.com/meshbox/cloudhub/protocol"
)

// udpGroup is the IPv4 multicast group cloudhub boxes rendezvous on,
// playing the role the teacher's beacon package assigns to its own
// discovery multicast group.
const udpGroup = "224.0.1.84"

const frameHeaderSize = 2 + mac.Size + mac.Size // etherType + src + dst

// UDPTransport emulates the out-of-scope Layer-2 broadcast domain with
// IPv4 UDP multicast, following zeromq-gyre/beacon/beacon.go's use of
// golang.org/x/net/ipv4 packet connections almost line for line: join a
// multicast group on every local interface, read in a background
// goroutine, write under a mutex.
type UDPTransport struct {
	mu      sync.Mutex
	conn    *ipv4.PacketConn
	outAddr *net.UDPAddr
	local   mac.Addr
	recv    chan Frame
	log     logging.Logger
	closed  bool
	wg      sync.WaitGroup
}

// NewUDPTransport binds a multicast socket on port and joins the
// cloudhub discovery group on every available interface.
func NewUDPTransport(local mac.Addr, port int, log logging.Logger) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	pconn := ipv4.NewPacketConn(conn)
	pconn.SetMulticastLoopback(true)

	ifs, err := net.Interfaces()
	if err != nil {
		conn.Close()
		return nil, err
	}
	group := &net.UDPAddr{IP: net.ParseIP(udpGroup)}
	joined := false
	for _, iface := range ifs {
		if pconn.JoinGroup(&iface, group) == nil {
			joined = true
		}
	}
	if !joined {
		conn.Close()
		return nil, errClosedOrNoIface("transport: could not join multicast group on any interface")
	}

	t := &UDPTransport{
		conn:    pconn,
		outAddr: &net.UDPAddr{IP: net.ParseIP(udpGroup), Port: port},
		local:   local,
		recv:    make(chan Frame, 256),
		log:     log,
	}
	t.wg.Add(1)
	go t.listen()
	return t, nil
}

func errClosedOrNoIface(msg string) error {
	return &net.OpError{Op: "join", Err: simpleErr(msg)}
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func (t *UDPTransport) LocalAddr() mac.Addr { return t.local }

// Send frames as [etherType:2][src:6][dst:6][payload...] over the
// shared multicast group; receivers filter by dst themselves, emulating
// per-destination unicast over a broadcast-domain Layer-2 segment.
func (t *UDPTransport) Send(dst mac.Addr, etherType protocol.EtherType, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, uint16(etherType))
	buf.Write(t.local.Bytes())
	buf.Write(dst.Bytes())
	buf.Write(payload)

	_, err := t.conn.WriteTo(buf.Bytes(), nil, t.outAddr)
	return err
}

func (t *UDPTransport) Recv() <-chan Frame { return t.recv }

func (t *UDPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	err := t.conn.Close()
	t.wg.Wait()
	close(t.recv)
	return err
}

func (t *UDPTransport) listen() {
	defer t.wg.Done()
	buf := make([]byte, 65535)
	for {
		n, _, _, err := t.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		if n < frameHeaderSize {
			continue
		}
		frame := parseFrame(buf[:n])
		if frame.Src == t.local {
			continue // our own multicast echo
		}
		if frame.Dst != Broadcast && frame.Dst != t.local {
			continue // addressed to someone else on the shared segment
		}

		select {
		case t.recv <- frame:
		default:
			t.log.Warnf("transport: receive queue full, dropping frame from %s", frame.Src)
		}
	}
}

func parseFrame(raw []byte) Frame {
	var f Frame
	f.EtherType = protocol.EtherType(binary.BigEndian.Uint16(raw[0:2]))
	src, _ := mac.FromBytes(raw[2 : 2+mac.Size])
	dst, _ := mac.FromBytes(raw[2+mac.Size : 2+2*mac.Size])
	f.Src = src
	f.Dst = dst
	f.Payload = append([]byte(nil), raw[frameHeaderSize:]...)
	return f
}
