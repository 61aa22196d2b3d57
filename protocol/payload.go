package protocol

import (
	"bytes"
	"encoding/binary"

	"github.com/meshbox/cloudhub/mac"
)

// WrappedClient is the payload frame carried under EtherWrappedClient
// (§4.8): "piece K of N" fragmentation (N is at most 2 for MTU reasons),
// the originator's identity, and its per-originator sequence number.
type WrappedClient struct {
	K             byte
	N             byte
	Originator    mac.Addr
	OriginatorSeq uint16
	Body          []byte
}

func (w *WrappedClient) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(w.K)
	buf.WriteByte(w.N)
	buf.Write(w.Originator.Bytes())
	binary.Write(buf, binary.BigEndian, w.OriginatorSeq)
	binary.Write(buf, binary.BigEndian, uint16(len(w.Body)))
	buf.Write(w.Body)
	return buf.Bytes(), nil
}

func (w *WrappedClient) Unmarshal(data []byte) error {
	r := bytes.NewReader(data)
	k, err := r.ReadByte()
	if err != nil {
		return err
	}
	n, err := r.ReadByte()
	if err != nil {
		return err
	}
	w.K, w.N = k, n

	nameBytes := make([]byte, mac.Size)
	if _, err := r.Read(nameBytes); err != nil {
		return err
	}
	origin, err := mac.FromBytes(nameBytes)
	if err != nil {
		return err
	}
	w.Originator = origin

	if err := binary.Read(r, binary.BigEndian, &w.OriginatorSeq); err != nil {
		return err
	}
	var bodyLen uint16
	if err := binary.Read(r, binary.BigEndian, &bodyLen); err != nil {
		return err
	}
	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := r.Read(body); err != nil {
			return err
		}
	}
	w.Body = body
	return nil
}
