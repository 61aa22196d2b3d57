package protocol

import (
	"bytes"
	"encoding/binary"
)

// Sequence precedes a payload transmission when the optional
// sequence-based flow control (§4.8) is enabled.
type Sequence struct {
	SendSeq    uint16
	MessageLen uint16
}

func (s *Sequence) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, s.SendSeq)
	binary.Write(buf, binary.BigEndian, s.MessageLen)
	return buf.Bytes(), nil
}

func (s *Sequence) Unmarshal(data []byte) error {
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.BigEndian, &s.SendSeq); err != nil {
		return err
	}
	return binary.Read(r, binary.BigEndian, &s.MessageLen)
}

// AckSequence answers a Sequence frame.
type AckSequence struct {
	SendSeq    uint16
	MessageLen uint16
}

func (a *AckSequence) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, a.SendSeq)
	binary.Write(buf, binary.BigEndian, a.MessageLen)
	return buf.Bytes(), nil
}

func (a *AckSequence) Unmarshal(data []byte) error {
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.BigEndian, &a.SendSeq); err != nil {
		return err
	}
	return binary.Read(r, binary.BigEndian, &a.MessageLen)
}
