package protocol

import (
	"bytes"
	"encoding/binary"
)

// ScanResults carries the raw payload of a wifi-scan report. §1 places
// the scan renderer itself (the HTML page generator) out of scope; this
// type only models enough of the wire body for the control frame to
// round-trip, since SCAN-RESULTS is part of the closed message-type set
// named in §6.
type ScanResults struct {
	Raw []byte
}

func (s *ScanResults) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, uint16(len(s.Raw)))
	buf.Write(s.Raw)
	return buf.Bytes(), nil
}

func (s *ScanResults) Unmarshal(data []byte) error {
	r := bytes.NewReader(data)
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return err
	}
	raw := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(raw); err != nil {
			return err
		}
	}
	s.Raw = raw
	return nil
}
