package protocol

import (
	"bytes"

	"github.com/meshbox/cloudhub/mac"
)

// BcastControl is the body for AD-HOC-BCAST-BLOCK and
// AD-HOC-BCAST-UNBLOCK, naming (owning-box, originating-client) (§4.7).
type BcastControl struct {
	Owner  mac.Addr
	Client mac.Addr
}

func (c *BcastControl) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(c.Owner.Bytes())
	buf.Write(c.Client.Bytes())
	return buf.Bytes(), nil
}

func (c *BcastControl) Unmarshal(data []byte) error {
	if len(data) < mac.Size*2 {
		return errShortBody
	}
	owner, err := mac.FromBytes(data[:mac.Size])
	if err != nil {
		return err
	}
	client, err := mac.FromBytes(data[mac.Size : mac.Size*2])
	if err != nil {
		return err
	}
	c.Owner = owner
	c.Client = client
	return nil
}
