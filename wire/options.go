package wire

// Option is one decoded RPL suboption from a DIO, DAO or DCO option
// stream. Type tells the caller which of the typed fields is valid;
// unrecognized types still yield Raw so callers can skip past them.
type Option struct {
	Type uint8
	Raw  []byte // full suboption payload, excluding the 2-byte type+len header (empty for Pad1)

	MetricContainer *MetricContainer
	RouteInfo       *RouteInfo
	DAGConfig       *DAGConfig
	PrefixInfo      *PrefixInfo
	Target          *TargetOption
	Transit         *TransitOption
}

// MetricContainer is the decoded DAG_METRIC_CONTAINER suboption
// (RPL_OPTION_DAG_METRIC_CONTAINER). Only the ETX and energy metric
// object types are understood; others decode with ObjRaw populated.
type MetricContainer struct {
	MetricType uint8
	Flags      uint8
	Aggregate  uint8
	Precedence uint8
	Length     uint8

	ETX          uint16 // valid when MetricType == MetricTypeETX
	EnergyFlags  uint8  // valid when MetricType == MetricTypeEnergy
	EnergyEst    uint8
	ObjRaw       []byte // populated instead of ETX/Energy for unrecognized metric types
}

const (
	MetricTypeNone   = 0
	MetricTypeETX    = 7
	MetricTypeEnergy = 1
)

// RouteInfo is the decoded ROUTE_INFO suboption.
type RouteInfo struct {
	PrefixLength uint8
	Flags        uint8 // includes the route preference bits
	Lifetime     uint32
	Prefix       [16]byte
}

// DAGConfig is the decoded DAG_CONFIGURATION suboption, carrying the
// trickle parameters and OCP a node should adopt from its DODAG.
type DAGConfig struct {
	IntervalDoublings uint8
	IntervalMin       uint8
	Redundancy        uint8
	MaxRankIncrease   uint16
	MinHopRankIncrease uint16
	OCP               uint16
	DefaultLifetime   uint8
	LifetimeUnit      uint16
}

// PrefixInfo is the decoded PREFIX_INFORMATION suboption used to
// distribute a global prefix alongside the DODAG.
type PrefixInfo struct {
	PrefixLength uint8
	Flags        uint8
	Lifetime     uint32 // the "preferred lifetime" field; valid lifetime is not tracked
	Prefix       [16]byte
}

// TargetOption is the decoded RPL_TARGET suboption carried in DAO and
// DCO messages, naming the destination being (de)registered.
type TargetOption struct {
	PrefixLength uint8
	Prefix       [16]byte
}

// TransitOption is the decoded TRANSIT_INFORMATION suboption.
// ParentAddress is only populated for non-storing DAOs, where it
// carries 20 bytes of payload instead of 4.
type TransitOption struct {
	PathSequence  uint8
	Lifetime      uint8
	ParentAddress [16]byte
	HasParent     bool
}

// Options is a pull iterator over a suboption stream, the same shape
// as the teacher's netlink attribute walkers: call Next until it
// returns false, then check Err.
type Options struct {
	buf []byte
	pos int
	err error
}

// NewOptions returns an iterator over buf, a suboption stream as found
// after the fixed header of a DIO, DAO or DCO payload.
func NewOptions(buf []byte) *Options {
	return &Options{buf: buf}
}

// Err returns the first decode error encountered, or nil if iteration
// completed cleanly.
func (o *Options) Err() error {
	return o.err
}

// Next decodes the next suboption and reports whether one was found.
func (o *Options) Next() (Option, bool) {
	if o.err != nil || o.pos >= len(o.buf) {
		return Option{}, false
	}
	i := o.pos
	buf := o.buf
	optType := buf[i]

	if optType == OptionPad1 {
		o.pos = i + 1
		return Option{Type: optType}, true
	}

	if i+1 >= len(buf) {
		o.err = ErrMalformed
		return Option{}, false
	}
	length := int(buf[i+1])
	total := 2 + length
	if i+total > len(buf) {
		o.err = ErrMalformed
		return Option{}, false
	}
	payload := buf[i+2 : i+total]
	o.pos = i + total

	opt := Option{Type: optType, Raw: payload}
	var err error
	switch optType {
	case OptionDAGMetricContainer:
		opt.MetricContainer, err = parseMetricContainer(payload)
	case OptionRouteInfo:
		opt.RouteInfo, err = parseRouteInfo(payload)
	case OptionDAGConfig:
		opt.DAGConfig, err = parseDAGConfig(payload)
	case OptionPrefixInfo:
		opt.PrefixInfo, err = parsePrefixInfo(payload)
	case OptionTarget:
		opt.Target, err = parseTargetOption(payload)
	case OptionTransit:
		opt.Transit, err = parseTransitOption(payload)
	}
	if err != nil {
		o.err = err
		return Option{}, false
	}
	return opt, true
}

func parseMetricContainer(p []byte) (*MetricContainer, error) {
	if len(p) < 4 {
		return nil, ErrMalformed
	}
	mc := &MetricContainer{
		MetricType: p[0],
		Flags:      (p[1] << 1) | (p[2] >> 7),
		Aggregate:  (p[2] >> 4) & 0x3,
		Precedence: p[2] & 0xf,
		Length:     p[3],
	}
	rest := p[4:]
	switch mc.MetricType {
	case MetricTypeNone:
	case MetricTypeETX:
		if len(rest) < 2 {
			return nil, ErrMalformed
		}
		mc.ETX = get16(rest, 0)
	case MetricTypeEnergy:
		if len(rest) < 2 {
			return nil, ErrMalformed
		}
		mc.EnergyFlags = rest[0]
		mc.EnergyEst = rest[1]
	default:
		mc.ObjRaw = rest
	}
	return mc, nil
}

func parseRouteInfo(p []byte) (*RouteInfo, error) {
	if len(p) < 6 {
		return nil, ErrMalformed
	}
	ri := &RouteInfo{
		PrefixLength: p[0],
		Flags:        p[1],
		Lifetime:     get32(p, 2),
	}
	if ri.PrefixLength > 128 {
		return nil, ErrMalformed
	}
	n := prefixBytes(ri.PrefixLength)
	if 6+n > len(p) {
		return nil, ErrMalformed
	}
	copy(ri.Prefix[:], p[6:6+n])
	return ri, nil
}

func parseDAGConfig(p []byte) (*DAGConfig, error) {
	// Wire payload is 14 bytes: pathcontrol(1, unused) + 13 bytes of config.
	if len(p) != 14 {
		return nil, ErrMalformed
	}
	return &DAGConfig{
		IntervalDoublings:  p[1],
		IntervalMin:        p[2],
		Redundancy:         p[3],
		MaxRankIncrease:    get16(p, 4),
		MinHopRankIncrease: get16(p, 6),
		OCP:                get16(p, 8),
		// p[10] reserved
		DefaultLifetime: p[11],
		LifetimeUnit:    get16(p, 12),
	}, nil
}

func parsePrefixInfo(p []byte) (*PrefixInfo, error) {
	if len(p) != 30 {
		return nil, ErrMalformed
	}
	pi := &PrefixInfo{
		PrefixLength: p[0],
		Flags:        p[1],
		// p[2:6] valid lifetime, ignored
		Lifetime: get32(p, 6),
		// p[10:14] reserved
	}
	copy(pi.Prefix[:], p[14:30])
	return pi, nil
}

func parseTargetOption(p []byte) (*TargetOption, error) {
	if len(p) < 2 {
		return nil, ErrMalformed
	}
	t := &TargetOption{PrefixLength: p[1]}
	if t.PrefixLength > 128 {
		return nil, ErrMalformed
	}
	n := prefixBytes(t.PrefixLength)
	if 2+n > len(p) {
		return nil, ErrMalformed
	}
	copy(t.Prefix[:], p[2:2+n])
	return t, nil
}

func parseTransitOption(p []byte) (*TransitOption, error) {
	if len(p) < 4 {
		return nil, ErrMalformed
	}
	// p[0] flags, p[1] path control: both ignored on input.
	t := &TransitOption{
		PathSequence: p[2],
		Lifetime:     p[3],
	}
	if len(p) >= 20 {
		copy(t.ParentAddress[:], p[4:20])
		t.HasParent = true
	}
	return t, nil
}
