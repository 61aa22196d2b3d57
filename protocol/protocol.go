// Package protocol implements the cloudhub wire protocol (§6): the
// EtherType-selected outer frame, the common control-frame envelope
// (per-link sequence number, ultimate-destination name, message-type
// discriminator), and the closed set of message bodies. Field order and
// width are byte-exact across boxes, following the teacher's own
// Marshal/Unmarshal codec style (zeromq-gyre/zre/msg).
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/meshbox/cloudhub/mac"
)

// EtherType selects which subsystem a raw frame belongs to.
type EtherType uint16

// The daemon-specific EtherTypes of §6.
const (
	EtherCloudMsg      EtherType = 0x2983
	EtherEthBeacon     EtherType = 0x2984
	EtherLinkLevelShell EtherType = 0x2985
	EtherWrappedClient EtherType = 0x2986
)

// Type is the 1-byte message-type discriminator. The full set is closed;
// unrecognized values are dropped per §7.
type Type byte

const (
	TypeUnknown Type = iota

	TypeSTPBeacon
	TypeSTPBeaconRecv // ack
	TypeSTPBeaconNak
	TypeSTPArcDelete

	TypeLocalSTPAddReq
	TypeLocalSTPAdded
	TypeLocalSTPAddChangedReq
	TypeLocalSTPAddedChanged
	TypeLocalSTPDeleteReq
	TypeLocalSTPDeleted
	TypeLocalSTPRefused

	TypeLocalLockReqNew
	TypeLocalLockReqOld
	TypeLocalLockGrant
	TypeLocalLockDeny

	TypeLocalAddRelease
	TypeLocalDeleteRelease
	TypeLocalLockRelease

	// NonlocalReserved covers the NONLOCAL-* tags, reserved but not
	// implemented (original_source's cloud_msg.c ships them as empty
	// stubs; kept here only so the closed set is complete, per §6).
	TypeNonlocalReserved

	TypePing
	TypePingResponse

	TypeSequence
	TypeAckSequence

	TypeAdHocBcastBlock
	TypeAdHocBcastUnblock

	TypeScanResults

	TypeParmChangeStart
	TypeParmChangeReady
	TypeParmChangeNotReady
	TypeParmChangeGo
)

func (t Type) String() string {
	names := map[Type]string{
		TypeUnknown:               "UNKNOWN",
		TypeSTPBeacon:             "STP-BEACON",
		TypeSTPBeaconRecv:         "STP-BEACON-RECV",
		TypeSTPBeaconNak:          "STP-BEACON-NAK",
		TypeSTPArcDelete:          "STP-ARC-DELETE",
		TypeLocalSTPAddReq:        "LOCAL-STP-ADD-REQ",
		TypeLocalSTPAdded:         "LOCAL-STP-ADDED",
		TypeLocalSTPAddChangedReq: "LOCAL-STP-ADD-CHANGED-REQ",
		TypeLocalSTPAddedChanged:  "LOCAL-STP-ADDED-CHANGED",
		TypeLocalSTPDeleteReq:     "LOCAL-STP-DELETE-REQ",
		TypeLocalSTPDeleted:       "LOCAL-STP-DELETED",
		TypeLocalSTPRefused:       "LOCAL-STP-REFUSED",
		TypeLocalLockReqNew:       "LOCAL-LOCK-REQ-NEW",
		TypeLocalLockReqOld:       "LOCAL-LOCK-REQ-OLD",
		TypeLocalLockGrant:        "LOCAL-LOCK-GRANT",
		TypeLocalLockDeny:         "LOCAL-LOCK-DENY",
		TypeLocalAddRelease:       "LOCAL-ADD-RELEASE",
		TypeLocalDeleteRelease:    "LOCAL-DELETE-RELEASE",
		TypeLocalLockRelease:      "LOCAL-LOCK-RELEASE",
		TypeNonlocalReserved:      "NONLOCAL-*",
		TypePing:                  "PING",
		TypePingResponse:          "PING-RESPONSE",
		TypeSequence:              "SEQUENCE",
		TypeAckSequence:           "ACK-SEQUENCE",
		TypeAdHocBcastBlock:       "AD-HOC-BCAST-BLOCK",
		TypeAdHocBcastUnblock:     "AD-HOC-BCAST-UNBLOCK",
		TypeScanResults:           "SCAN-RESULTS",
		TypeParmChangeStart:       "PARM-CHANGE-START",
		TypeParmChangeReady:       "PARM-CHANGE-READY",
		TypeParmChangeNotReady:    "PARM-CHANGE-NOT-READY",
		TypeParmChangeGo:          "PARM-CHANGE-GO",
	}
	if n, ok := names[t]; ok {
		return n
	}
	return fmt.Sprintf("Type(%d)", byte(t))
}

// IsTreeUpdateType reports whether t belongs to one of the two
// tree-mutation protocols (§4.5), used by doing_stp_update's
// equivalent predicate.
func (t Type) IsTreeUpdateType() bool {
	switch t {
	case TypeLocalSTPAddReq, TypeLocalSTPAdded, TypeLocalSTPAddChangedReq,
		TypeLocalSTPAddedChanged, TypeLocalSTPDeleteReq, TypeLocalSTPDeleted,
		TypeLocalSTPRefused, TypeLocalLockReqNew, TypeLocalLockReqOld,
		TypeLocalLockGrant, TypeLocalLockDeny:
		return true
	}
	return false
}

// Body is implemented by every message payload type.
type Body interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

// Frame is a fully decoded control frame: the common envelope plus its
// typed body.
type Frame struct {
	Seq  byte
	Dest mac.Addr // ultimate mesh destination, not next-hop
	Type Type
	Body Body
}

// Marshal encodes the envelope and body into the bytes that follow the
// Ethernet header on the wire.
func (f *Frame) Marshal() ([]byte, error) {
	var bodyBytes []byte
	var err error
	if f.Body != nil {
		bodyBytes, err = f.Body.Marshal()
		if err != nil {
			return nil, err
		}
	}

	buf := new(bytes.Buffer)
	buf.WriteByte(f.Seq)
	buf.Write(f.Dest.Bytes())
	buf.WriteByte(byte(f.Type))
	buf.Write(bodyBytes)
	return buf.Bytes(), nil
}

// Unmarshal decodes the envelope and dispatches to the body type
// registered for f.Type via NewBody.
func Unmarshal(raw []byte) (*Frame, error) {
	if len(raw) < 1+mac.Size+1 {
		return nil, errors.New("protocol: frame too short")
	}
	f := &Frame{}
	f.Seq = raw[0]
	dest, err := mac.FromBytes(raw[1 : 1+mac.Size])
	if err != nil {
		return nil, err
	}
	f.Dest = dest
	f.Type = Type(raw[1+mac.Size])

	body := NewBody(f.Type)
	rest := raw[1+mac.Size+1:]
	if body != nil {
		if err := body.Unmarshal(rest); err != nil {
			return nil, fmt.Errorf("protocol: decoding %s body: %w", f.Type, err)
		}
	}
	f.Body = body
	return f, nil
}

// NewBody constructs the zero-value Body for a message type: an Empty
// for name-only messages that carry no body fields at all, and nil for
// a type with no defined body (reserved or unrecognized).
func NewBody(t Type) Body {
	switch t {
	case TypeSTPBeacon:
		return &STPBeacon{}
	case TypePing, TypePingResponse, TypeSTPBeaconRecv, TypeSTPBeaconNak,
		TypeSTPArcDelete, TypeLocalSTPAddReq, TypeLocalSTPAdded,
		TypeLocalSTPAddChangedReq, TypeLocalSTPAddedChanged,
		TypeLocalSTPDeleteReq, TypeLocalSTPDeleted, TypeLocalSTPRefused,
		TypeLocalLockReqNew, TypeLocalLockReqOld, TypeLocalLockGrant,
		TypeLocalLockDeny, TypeLocalAddRelease, TypeLocalDeleteRelease,
		TypeLocalLockRelease:
		return &Empty{}
	case TypeSequence:
		return &Sequence{}
	case TypeAckSequence:
		return &AckSequence{}
	case TypeAdHocBcastBlock, TypeAdHocBcastUnblock:
		return &BcastControl{}
	case TypeScanResults:
		return &ScanResults{}
	case TypeParmChangeStart, TypeParmChangeReady, TypeParmChangeNotReady, TypeParmChangeGo:
		return &ParmChange{}
	default:
		return nil
	}
}

// Empty is the body for every control message that carries no fields
// beyond the common envelope (the peers involved are already named by
// the envelope's Dest field and the frame's Ethernet source address).
type Empty struct{}

func (e *Empty) Marshal() ([]byte, error)   { return nil, nil }
func (e *Empty) Unmarshal(b []byte) error   { return nil }

func putUint16(buf *bytes.Buffer, v uint16) {
	binary.Write(buf, binary.BigEndian, v)
}

func getUint16(r *bytes.Reader) (uint16, error) {
	var v uint16
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}
