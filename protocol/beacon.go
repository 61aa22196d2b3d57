package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/meshbox/cloudhub/mac"
)

// DeviceKind enumerates the status-record device_kind field.
type DeviceKind byte

const (
	DeviceWDS DeviceKind = iota
	DeviceAdHoc
	DeviceWLAN
	DeviceWLANMon
	DeviceEth
	DeviceCloudWLAN
	DeviceCloudEth
	DeviceCloudWDS
)

// NeighborType enumerates the status-record neighbor_type field.
type NeighborType byte

const (
	NeighborUnknown NeighborType = iota
	NeighborCloudNbr
	NeighborCloudNonNbr
	NeighborNonCloudClient
	NeighborNonCloudNonClient
)

// StatusRecord is one row of a beacon's status array (§4.6): one entry
// per local interface, per STP neighbor, per directly heard neighbor,
// and optionally per owned ad-hoc client.
type StatusRecord struct {
	Name               mac.Addr
	DeviceKind         DeviceKind
	NeighborType       NeighborType
	SigStrength        byte
	PacketsReceived    uint32
	PacketsLost        uint32
	DataPacketsReceived uint32
	DataPacketsLost     uint32
	PingPacketsReceived uint32
	PingPacketsLost     uint32
}

func (s *StatusRecord) marshal(buf *bytes.Buffer) {
	buf.Write(s.Name.Bytes())
	buf.WriteByte(byte(s.DeviceKind))
	buf.WriteByte(byte(s.NeighborType))
	buf.WriteByte(s.SigStrength)
	binary.Write(buf, binary.BigEndian, s.PacketsReceived)
	binary.Write(buf, binary.BigEndian, s.PacketsLost)
	binary.Write(buf, binary.BigEndian, s.DataPacketsReceived)
	binary.Write(buf, binary.BigEndian, s.DataPacketsLost)
	binary.Write(buf, binary.BigEndian, s.PingPacketsReceived)
	binary.Write(buf, binary.BigEndian, s.PingPacketsLost)
}

const statusRecordWire = mac.Size + 1 + 1 + 1 + 4*6

func unmarshalStatusRecord(r *bytes.Reader) (StatusRecord, error) {
	var s StatusRecord
	nameBytes := make([]byte, mac.Size)
	if _, err := r.Read(nameBytes); err != nil {
		return s, err
	}
	name, err := mac.FromBytes(nameBytes)
	if err != nil {
		return s, err
	}
	s.Name = name

	var kind, ntype, sig byte
	for _, p := range []*byte{&kind, &ntype, &sig} {
		b, err := r.ReadByte()
		if err != nil {
			return s, err
		}
		*p = b
	}
	s.DeviceKind = DeviceKind(kind)
	s.NeighborType = NeighborType(ntype)
	s.SigStrength = sig

	fields := []*uint32{&s.PacketsReceived, &s.PacketsLost, &s.DataPacketsReceived, &s.DataPacketsLost, &s.PingPacketsReceived, &s.PingPacketsLost}
	for _, f := range fields {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return s, err
		}
	}
	return s, nil
}

// STPBeacon is the periodic flooded beacon (§4.6): originator, weakest
// outgoing link metric, the debug-vector tweak, and the status array.
type STPBeacon struct {
	Origin        mac.Addr
	OriginSeq     uint16
	WeakestLink   uint16
	TweakDB       int16
	Status        []StatusRecord
}

func (b *STPBeacon) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(b.Origin.Bytes())
	binary.Write(buf, binary.BigEndian, b.OriginSeq)
	binary.Write(buf, binary.BigEndian, b.WeakestLink)
	binary.Write(buf, binary.BigEndian, b.TweakDB)
	binary.Write(buf, binary.BigEndian, uint16(len(b.Status)))
	for i := range b.Status {
		b.Status[i].marshal(buf)
	}
	return buf.Bytes(), nil
}

func (b *STPBeacon) Unmarshal(data []byte) error {
	r := bytes.NewReader(data)
	nameBytes := make([]byte, mac.Size)
	if _, err := r.Read(nameBytes); err != nil {
		return err
	}
	origin, err := mac.FromBytes(nameBytes)
	if err != nil {
		return err
	}
	b.Origin = origin

	if err := binary.Read(r, binary.BigEndian, &b.OriginSeq); err != nil {
		return err
	}
	if err := binary.Read(r, binary.BigEndian, &b.WeakestLink); err != nil {
		return err
	}
	if err := binary.Read(r, binary.BigEndian, &b.TweakDB); err != nil {
		return err
	}
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return err
	}
	b.Status = make([]StatusRecord, 0, count)
	for i := uint16(0); i < count; i++ {
		rec, err := unmarshalStatusRecord(r)
		if err != nil {
			return errors.New("protocol: truncated status record")
		}
		b.Status = append(b.Status, rec)
	}
	return nil
}
