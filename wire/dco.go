package wire

// DCO is a decoded Destination Cleanup Object: a DAO-shaped message
// that asks a downstream node to drop a stale route instead of
// installing one (the storing-mode route-cleanup extension this
// implementation carries alongside base RFC 6550).
type DCO struct {
	InstanceID   uint8
	DAGIDPresent bool
	ACKRequested bool
	Sequence     uint8
	DAGID        [16]byte

	Target  *TargetOption
	Transit *TransitOption
}

// ParseDCO decodes a DCO payload. Its base layout is identical to a
// DAO's.
func ParseDCO(buf []byte) (*DCO, error) {
	d, err := ParseDAO(buf)
	if err != nil {
		return nil, err
	}
	return &DCO{
		InstanceID:   d.InstanceID,
		DAGIDPresent: d.DAGIDPresent,
		ACKRequested: d.ACKRequested,
		Sequence:     d.Sequence,
		DAGID:        d.DAGID,
		Target:       d.Target,
		Transit:      d.Transit,
	}, nil
}

// DCOBuildParams holds everything Encode needs to render a DCO
// withdrawing one target from one next hop.
type DCOBuildParams struct {
	InstanceID    uint8
	SpecifyDAG    bool
	DAGID         [16]byte
	ACKRequested  bool
	Sequence      uint8
	TargetPrefix  [16]byte
	PathSequence  uint8
}

// EncodeDCO renders a DCO with a single TARGET suboption (a full
// /128) and a 4-byte TRANSIT suboption carrying the path sequence
// being invalidated.
func EncodeDCO(p DCOBuildParams) []byte {
	buf := make([]byte, daoHeaderLen, daoHeaderLen+16+20+6)
	buf[0] = p.InstanceID
	flags := uint8(0)
	if p.SpecifyDAG {
		flags |= FlagDAGIDPresent
	}
	if p.ACKRequested {
		flags |= FlagACKRequested
	}
	buf[1] = flags
	buf[3] = p.Sequence
	if p.SpecifyDAG {
		buf = append(buf, p.DAGID[:]...)
	}

	buf = append(buf, OptionTarget, 18, 0, 128)
	buf = append(buf, p.TargetPrefix[:]...)

	buf = append(buf, OptionTransit, 4, 0, 0, p.PathSequence, 0)
	return buf
}
