package wire

// DAO is a decoded Destination Advertisement Object (RFC 6550 §6.4).
//
// Target and Transit mirror the reference decoder's single-slot
// handling: a DAO carrying more than one TARGET/TRANSIT suboption
// leaves only the last of each.
type DAO struct {
	InstanceID    uint8
	DAGIDPresent  bool
	ACKRequested  bool
	Sequence      uint8
	DAGID         [16]byte // valid only if DAGIDPresent

	Target  *TargetOption
	Transit *TransitOption
}

const daoHeaderLen = 4 // instance(1)+flags(1)+reserved(1)+sequence(1)

// ParseDAO decodes a DAO payload. When the D flag is set, the caller
// is responsible for comparing DAGID against the expected DODAG
// before acting on the message (the reference implementation silently
// drops DAOs for a foreign DAG at that point, not here).
func ParseDAO(buf []byte) (*DAO, error) {
	if len(buf) < daoHeaderLen {
		return nil, ErrMalformed
	}
	d := &DAO{
		InstanceID: buf[0],
	}
	flags := buf[1]
	d.DAGIDPresent = flags&FlagDAGIDPresent != 0
	d.ACKRequested = flags&FlagACKRequested != 0
	// buf[2] reserved
	d.Sequence = buf[3]

	pos := daoHeaderLen
	if d.DAGIDPresent {
		if len(buf) < pos+16 {
			return nil, ErrMalformed
		}
		copy(d.DAGID[:], buf[pos:pos+16])
		pos += 16
	}

	opts := NewOptions(buf[pos:])
	for {
		opt, ok := opts.Next()
		if !ok {
			break
		}
		switch opt.Type {
		case OptionTarget:
			d.Target = opt.Target
		case OptionTransit:
			d.Transit = opt.Transit
		}
	}
	if opts.Err() != nil {
		return nil, opts.Err()
	}
	return d, nil
}

// DAOBuildParams holds everything Encode needs to render a DAO for one
// target toward one parent (storing mode) or toward the root
// (non-storing mode, where ParentAddress is required).
type DAOBuildParams struct {
	InstanceID    uint8
	SpecifyDAG    bool
	DAGID         [16]byte
	ACKRequested  bool
	Sequence      uint8
	TargetPrefix  [16]byte
	TargetLength  uint8
	Storing       bool // selects a 4-byte (storing) or 20-byte (non-storing) transit option
	PathSequence  uint8
	Lifetime      uint8
	ParentAddress [16]byte // non-storing mode only
}

// Encode renders a DAO with a single TARGET suboption and a single
// TRANSIT suboption, the shape every sender in this implementation
// produces (RFC 6550 §6.4, §6.7.8).
func Encode(p DAOBuildParams) []byte {
	buf := make([]byte, daoHeaderLen, daoHeaderLen+16+24+24)
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

	n := prefixBytes(p.TargetLength)
	target := make([]byte, 2+n)
	target[1] = p.TargetLength
	copy(target[2:], p.TargetPrefix[:n])
	buf = append(buf, OptionTarget, uint8(2+n))
	buf = append(buf, target...)

	if p.Storing {
		buf = append(buf, OptionTransit, 4, 0, 0, p.PathSequence, p.Lifetime)
	} else {
		transit := make([]byte, 4+16)
		transit[2] = p.PathSequence
		transit[3] = p.Lifetime
		copy(transit[4:], p.ParentAddress[:])
		buf = append(buf, OptionTransit, 20)
		buf = append(buf, transit...)
	}
	return buf
}
