// Package stats defines prometheus metric types for the RPL engine
// and a thin Collector adapter implementing rpl.Metrics, mirroring
// the teacher's metrics package (promauto-registered counters) and
// the narrow-interface-at-the-call-site pattern the engine expects.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/llnroute/rpl-node/wire"
)

var (
	// MalformedMsgs counts messages rejected during decode, labeled by
	// ICMPv6 RPL message code.
	MalformedMsgs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpl_malformed_msgs_total",
			Help: "Number of malformed RPL control messages discarded, by message code.",
		}, []string{"code"})

	// DIORecvd counts every DIO successfully decoded.
	DIORecvd = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rpl_dio_recvd_total",
			Help: "Number of DIOs received and decoded.",
		},
	)

	// DAOForwarded counts DAOs relayed toward a preferred parent,
	// whether storing-mode forwarding or a non-storing-mode relay.
	DAOForwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rpl_dao_forwarded_total",
			Help: "Number of DAOs forwarded upward on behalf of a child.",
		},
	)

	// MemOverflows counts DAO admissions refused because the neighbor
	// cache was at capacity; a refused DIS admission is not counted.
	MemOverflows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rpl_mem_overflows_total",
			Help: "Number of neighbor-cache admissions refused for lack of room.",
		},
	)

	// DCOIgnored counts DCOs that did not pass the cleanup-acceptance
	// gate (no matching route, stale path sequence, or own-address
	// protection).
	DCOIgnored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rpl_dco_ignored_total",
			Help: "Number of DCOs discarded without removing a route.",
		},
	)

	// LoopDetected counts DAO registrations refused because the
	// sender was found to be this node's own ancestor.
	LoopDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rpl_loop_detected_total",
			Help: "Number of routing loops detected and poisoned via DAO processing.",
		},
	)

	// LocalRepairs counts times an instance tore down its preferred
	// parent and reset trickle after exhausting DAO retransmissions or
	// receiving a DAO-NACK.
	LocalRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpl_local_repairs_total",
			Help: "Number of local repairs triggered, by instance and reason.",
		}, []string{"instance", "reason"})

	// ParentChanges counts preferred-parent switches.
	ParentChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpl_parent_changes_total",
			Help: "Number of preferred-parent changes, by instance.",
		}, []string{"instance"})

	// RouteChanges counts route installs and removals.
	RouteChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpl_route_changes_total",
			Help: "Number of downward route installs/removals, by kind.",
		}, []string{"kind"})

	// RankHistogram is registered for the distribution of computed
	// ranks across instances; no code in this module observes into it.
	RankHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "rpl_rank_histogram",
			Help: "Distribution of this node's computed rank across instances.",
			Buckets: []float64{
				128, 256, 384, 512, 768, 1024, 1536, 2048, 3072, 4096,
				6144, 8192, 12288, 16384, 24576, 32768, 49152, 65535,
			},
		},
	)
)

// Collector implements rpl.Metrics by incrementing the package-level
// prometheus counters above. It is stateless; a single instance can
// be shared across every Engine in a process.
type Collector struct{}

// NewCollector returns a Collector ready to pass as an Engine's
// Metrics field.
func NewCollector() Collector {
	return Collector{}
}

func (Collector) IncMalformed(code wire.Code) {
	MalformedMsgs.WithLabelValues(code.String()).Inc()
}

func (Collector) IncDIORecv() {
	DIORecvd.Inc()
}

func (Collector) IncDAOForwarded() {
	DAOForwarded.Inc()
}

func (Collector) IncMemOverflow() {
	MemOverflows.Inc()
}

func (Collector) IncDCOIgnored() {
	DCOIgnored.Inc()
}

func (Collector) IncLoopDetected() {
	LoopDetected.Inc()
}
