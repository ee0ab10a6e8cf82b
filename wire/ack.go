package wire

// Ack is the shared 4-byte layout of DAO-ACK and DCO-ACK: instance,
// reserved, sequence, status (RFC 6550 §6.5, and the DCO-ACK extension
// this implementation carries alongside it).
type Ack struct {
	InstanceID uint8
	Sequence   uint8
	Status     uint8
}

// ParseAck decodes a DAO-ACK or DCO-ACK payload.
func ParseAck(buf []byte) (*Ack, error) {
	if len(buf) < 4 {
		return nil, ErrMalformed
	}
	return &Ack{
		InstanceID: buf[0],
		// buf[1] reserved
		Sequence: buf[2],
		Status:   buf[3],
	}, nil
}

// Encode renders the 4-byte ack payload.
func (a *Ack) Encode() []byte {
	return []byte{a.InstanceID, 0, a.Sequence, a.Status}
}
