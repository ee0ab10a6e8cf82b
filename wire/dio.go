package wire

// DIO is a decoded DODAG Information Object (RFC 6550 §6.3).
//
// The suboption fields are pointers because each is optional; a
// repeated occurrence of the same suboption type overwrites the
// previous one, matching the reference decoder's single-slot struct.
type DIO struct {
	InstanceID uint8
	Version    uint8
	Rank       uint16
	Grounded   bool
	MOP        uint8
	Preference uint8
	DTSN       uint8
	DAGID      [16]byte

	MetricContainer *MetricContainer
	RouteInfo       *RouteInfo
	DAGConfig       *DAGConfig
	PrefixInfo      *PrefixInfo
}

const dioHeaderLen = 24 // instance(1)+version(1)+rank(2)+flags(1)+dtsn(1)+reserved(2)+dagid(16)

// ParseDIO decodes a DIO payload: the fixed 24-byte header followed by
// zero or more suboptions.
func ParseDIO(buf []byte) (*DIO, error) {
	if len(buf) < dioHeaderLen {
		return nil, ErrMalformed
	}
	dio := &DIO{
		InstanceID: buf[0],
		Version:    buf[1],
		Rank:       get16(buf, 2),
	}
	flags := buf[4]
	dio.Grounded = flags&FlagGrounded != 0
	dio.MOP = (flags & mopMask) >> mopShift
	dio.Preference = flags & preferenceMask
	dio.DTSN = buf[5]
	// buf[6:8] reserved
	copy(dio.DAGID[:], buf[8:24])

	opts := NewOptions(buf[dioHeaderLen:])
	for {
		opt, ok := opts.Next()
		if !ok {
			break
		}
		switch opt.Type {
		case OptionDAGMetricContainer:
			dio.MetricContainer = opt.MetricContainer
		case OptionRouteInfo:
			dio.RouteInfo = opt.RouteInfo
		case OptionDAGConfig:
			dio.DAGConfig = opt.DAGConfig
		case OptionPrefixInfo:
			dio.PrefixInfo = opt.PrefixInfo
		}
	}
	if opts.Err() != nil {
		return nil, opts.Err()
	}
	return dio, nil
}

// Encode renders the DIO as wire bytes, in the same option order the
// reference sender uses: metric container, then DAG configuration,
// then prefix information.
func (d *DIO) Encode() []byte {
	buf := make([]byte, dioHeaderLen, dioHeaderLen+64)
	buf[0] = d.InstanceID
	buf[1] = d.Version
	put16(buf, 2, d.Rank)

	flags := (d.MOP << mopShift) & mopMask
	flags |= d.Preference & preferenceMask
	if d.Grounded {
		flags |= FlagGrounded
	}
	buf[4] = flags
	buf[5] = d.DTSN
	copy(buf[8:24], d.DAGID[:])

	if d.MetricContainer != nil {
		buf = append(buf, encodeMetricContainer(d.MetricContainer)...)
	}
	if d.DAGConfig != nil {
		buf = append(buf, encodeDAGConfig(d.DAGConfig)...)
	}
	if d.PrefixInfo != nil {
		buf = append(buf, encodePrefixInfo(d.PrefixInfo)...)
	}
	return buf
}

func encodeMetricContainer(mc *MetricContainer) []byte {
	buf := make([]byte, 6, 8)
	buf[0] = OptionDAGMetricContainer
	buf[1] = 6
	buf[2] = mc.MetricType
	buf[3] = mc.Flags >> 1
	buf[4] = (mc.Flags & 1) << 7
	buf[4] |= (mc.Aggregate << 4) | mc.Precedence
	switch mc.MetricType {
	case MetricTypeETX:
		buf[5] = 2
		buf = append(buf, 0, 0)
		put16(buf, 6, mc.ETX)
	case MetricTypeEnergy:
		buf[5] = 2
		buf = append(buf, mc.EnergyFlags, mc.EnergyEst)
	}
	return buf
}

func encodeDAGConfig(c *DAGConfig) []byte {
	buf := make([]byte, 16)
	buf[0] = OptionDAGConfig
	buf[1] = 14
	buf[2] = 0 // no auth, path control subfield reserved
	buf[3] = c.IntervalDoublings
	buf[4] = c.IntervalMin
	buf[5] = c.Redundancy
	put16(buf, 6, c.MaxRankIncrease)
	put16(buf, 8, c.MinHopRankIncrease)
	put16(buf, 10, c.OCP)
	buf[12] = 0 // reserved
	buf[13] = c.DefaultLifetime
	put16(buf, 14, c.LifetimeUnit)
	return buf
}

func encodePrefixInfo(p *PrefixInfo) []byte {
	buf := make([]byte, 32)
	buf[0] = OptionPrefixInfo
	buf[1] = 30
	buf[2] = p.PrefixLength
	buf[3] = p.Flags
	put32(buf, 4, p.Lifetime) // valid lifetime, mirrored into preferred below
	put32(buf, 8, p.Lifetime)
	// buf[12:16] reserved
	copy(buf[16:32], p.Prefix[:])
	return buf
}
