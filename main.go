// Command rpl-node runs a single RPL control-plane node: it opens an
// ICMPv6 socket on the named interface, joins one DODAG instance, and
// serializes inbound messages and trickle-timer fires onto a single
// dispatch goroutine, the scheduling model package rpl's doc comment
// requires of its caller.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/logx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/llnroute/rpl-node/dag"
	"github.com/llnroute/rpl-node/ipstack"
	"github.com/llnroute/rpl-node/of"
	"github.com/llnroute/rpl-node/of/mrhof"
	"github.com/llnroute/rpl-node/of/of0"
	"github.com/llnroute/rpl-node/rpl"
	"github.com/llnroute/rpl-node/rplconf"
	"github.com/llnroute/rpl-node/rplevents"
	"github.com/llnroute/rpl-node/snapshot"
	"github.com/llnroute/rpl-node/stats"
	"github.com/llnroute/rpl-node/zstd"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	iface            = flag.String("iface", "", "Network interface to run RPL on.")
	instanceID       = flag.Uint("instance", 1, "RPL instance ID to join.")
	objFnName        = flag.String("of", "mrhof", "Objective function to run: mrhof or of0.")
	isRoot           = flag.Bool("root", false, "Run as the DODAG root for this instance.")
	leafOnly         = flag.Bool("leaf", false, "Run in leaf mode (§9): advertise InfiniteRank, send no multicast DIOs, and ignore multicast DIS.")
	promPort         = flag.String("prom", ":9090", "Prometheus metrics export address and port.")
	snapshotPath     = flag.String("snapshot.file", "", "If set, append a snapshot.Report to this file every snapshot.interval.")
	snapshotPeriod   = flag.Duration("snapshot.interval", 30*time.Second, "How often to append a state snapshot, if snapshot.file is set.")
	snapshotCompress = flag.Bool("snapshot.compress", false, "Pipe the snapshot file through an external zstd process; the file is then recreated at startup rather than appended to.")

	mainCtx, mainCancel = context.WithCancel(context.Background())

	// oneSecondLog rate-limits noisy recv-error/snapshot-write-failure
	// logging to at most once a second, so a persistently broken
	// socket or disk doesn't flood the log.
	oneSecondLog = logx.NewLogEvery(nil, time.Second)
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment variables")
	defer mainCancel()

	if *iface == "" {
		log.Fatal("-iface is required")
	}

	promSrv := prometheusx.MustStartPrometheus(*promPort)
	defer promSrv.Shutdown(mainCtx)

	conn, err := ipstack.Listen(*iface)
	rtx.Must(err, "Could not open ICMPv6 socket on %q", *iface)
	defer conn.Close()

	cfg := rplconf.Default()
	cfg.Interface = *iface
	cfg.LeafOnly = *leafOnly

	objFn, err := selectOF(*objFnName, cfg.MinHopRankIncrease)
	rtx.Must(err, "Could not select objective function")

	events := rplevents.NullBroadcaster()
	if *rplevents.Filename != "" {
		srv := rplevents.New(*rplevents.Filename)
		rtx.Must(srv.Listen(), "Could not listen on %q", *rplevents.Filename)
		go func() {
			rtx.Must(srv.Serve(mainCtx), "Event socket server died")
		}()
		events = srv
	}

	e := rpl.New(cfg, conn)
	e.Metrics = stats.NewCollector()
	e.Events = events

	instance := e.CreateInstance(uint8(*instanceID), objFn)
	if *isRoot {
		instance.CurrentDAG = dag.NewDAG(instance, rootDAGID(uint8(*instanceID)))
		instance.CurrentDAG.Rank = dag.RootRank
		instance.Trickle.Reset()
	}

	ctx, stop := signal.NotifyContext(mainCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *snapshotPath != "" {
		go runSnapshotLoop(ctx, e, *snapshotPath, *snapshotPeriod, *snapshotCompress)
	}

	recvC := make(chan recvMsg, 16)
	go recvLoop(ctx, conn, recvC)

	dispatchLoop(ctx, e, recvC)
}

// selectOF resolves the -of flag to a concrete objective function,
// scaled by the node's configured MinHopRankIncrease where that
// applies.
func selectOF(name string, minHopRankIncrease uint16) (of.OF, error) {
	switch name {
	case "mrhof":
		return mrhof.New(), nil
	case "of0":
		return of0.New(minHopRankIncrease), nil
	default:
		return nil, unknownOFError(name)
	}
}

type unknownOFError string

func (e unknownOFError) Error() string {
	return "unknown objective function " + string(e)
}

// rootDAGID derives a stable per-instance DODAGID for a node running
// as root; a real deployment would derive this from the root's own
// global address instead of a fixed pattern.
func rootDAGID(instanceID uint8) [16]byte {
	var id [16]byte
	id[0] = instanceID
	return id
}

// recvMsg is one decoded inbound ICMPv6 RPL message, handed from
// recvLoop to dispatchLoop over a channel so the two run on separate
// goroutines without touching engine state concurrently.
type recvMsg struct {
	code     uint8
	payload  []byte
	src, dst netip.Addr
}

// recvLoop blocks on conn.Recv and forwards every decoded message to
// out until ctx is canceled or the socket errors.
func recvLoop(ctx context.Context, conn *ipstack.Conn, out chan<- recvMsg) {
	buf := make([]byte, 1500)
	for {
		code, payload, src, dst, err := conn.Recv(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			oneSecondLog.Println("recv error:", err)
			continue
		}
		msg := recvMsg{code: code, src: src, dst: dst}
		msg.payload = append(msg.payload, payload...)
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// dispatchLoop is the single goroutine package rpl requires: it
// drains both inbound messages and e.Actions (trickle and DAO
// retransmit timer fires),
// the only two sources of engine-state mutation outside of a
// synchronous call, so neither ever runs concurrently with the other.
func dispatchLoop(ctx context.Context, e *rpl.Engine, recvC <-chan recvMsg) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-recvC:
			e.Dispatch(msg.code, msg.payload, msg.src, msg.dst)
		case fn := <-e.Actions:
			fn()
		}
	}
}

// snapshotSink opens path as a snapshot.Writer destination, piping
// through an external zstd process when compress is set (mirroring
// the teacher's own zstd-archive-on-disk convention) rather than
// writing newline-delimited JSON directly.
func snapshotSink(path string, compress bool) (io.WriteCloser, error) {
	if compress {
		return zstd.NewWriter(path)
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// runSnapshotLoop appends a snapshot.Report of e's state to path every
// period until ctx is canceled.
func runSnapshotLoop(ctx context.Context, e *rpl.Engine, path string, period time.Duration, compress bool) {
	f, err := snapshotSink(path, compress)
	if err != nil {
		log.Printf("snapshot: could not open %q: %v", path, err)
		return
	}
	defer f.Close()
	w := snapshot.NewWriter(f)

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			// snapshot.Of reads engine state, so it must run on the
			// dispatch goroutine like everything else that touches e.
			e.Enqueue(func() {
				if err := w.Write(snapshot.Of(e, now)); err != nil {
					oneSecondLog.Println("snapshot: write failed:", err)
				}
			})
		}
	}
}
