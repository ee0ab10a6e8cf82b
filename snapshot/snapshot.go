// Package snapshot flattens an Engine's live state — instances, DAGs,
// parents, and downward routes — into CSV-friendly rows, the same
// flatten-for-export role the teacher's snapshot package plays for
// netlink connection records, adapted from per-connection TCP
// counters to per-instance RPL state.
package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/llnroute/rpl-node/dag"
	"github.com/llnroute/rpl-node/rpl"
	"github.com/llnroute/rpl-node/routetable"
)

// InstanceRow is one instance's summary: its objective function,
// current DAG membership, and computed rank.
type InstanceRow struct {
	Timestamp  time.Time
	InstanceID uint8
	OF         string `csv:",omitempty"`
	DAGID      string `csv:",omitempty"`
	Rank       uint16
	IsRoot     bool
	MOP        uint8
	ParentLL   string `csv:",omitempty"`
}

// ParentRow is one candidate or preferred parent known to an
// instance's current DAG.
type ParentRow struct {
	Timestamp  time.Time
	InstanceID uint8
	LLAddr     string
	Rank       uint16
	LinkMetric uint16
	Preferred  bool
	Stale      bool
}

// RouteRow is one downward route entry from the route table.
type RouteRow struct {
	Timestamp time.Time
	Prefix    string
	NextHop   string
	Lifetime  uint32
	Pending   bool
	NoPath    bool
}

// Report bundles every row kind captured from one call to Of, the
// unit written to and read back from the snapshot stream.
type Report struct {
	Timestamp time.Time
	Instances []InstanceRow
	Parents   []ParentRow
	Routes    []RouteRow
}

// Of flattens e's current state into a Report, timestamped now.
func Of(e *rpl.Engine, now time.Time) Report {
	r := Report{Timestamp: now}
	for id, instance := range e.Instances {
		r.Instances = append(r.Instances, instanceRow(now, id, instance))
		if instance.CurrentDAG == nil {
			continue
		}
		for _, p := range instance.CurrentDAG.Parents {
			r.Parents = append(r.Parents, ParentRow{
				Timestamp:  now,
				InstanceID: id,
				LLAddr:     p.LLAddr,
				Rank:       p.Rank,
				LinkMetric: p.LinkMetric,
				Preferred:  instance.CurrentDAG.PreferredParent == p,
				Stale:      p.Stale,
			})
		}
	}
	e.Routes.All(func(route *routetable.Route) bool {
		r.Routes = append(r.Routes, RouteRow{
			Timestamp: now,
			Prefix:    route.Prefix.String(),
			NextHop:   route.NextHop.String(),
			Lifetime:  route.Lifetime,
			Pending:   route.Pending,
			NoPath:    route.NoPath,
		})
		return true
	})
	return r
}

func instanceRow(now time.Time, id uint8, instance *dag.Instance) InstanceRow {
	row := InstanceRow{
		Timestamp:  now,
		InstanceID: id,
		MOP:        uint8(instance.MOP),
		Rank:       65535,
	}
	if instance.OF != nil {
		row.OF = instance.OF.Name()
	}
	if d := instance.CurrentDAG; d != nil {
		row.DAGID = dagIDString(d.DAGID)
		row.Rank = d.Rank
		row.IsRoot = instance.IsRoot()
		if d.PreferredParent != nil {
			row.ParentLL = d.PreferredParent.LLAddr
		}
	}
	return row
}

func dagIDString(id [16]byte) string {
	return fmt.Sprintf("%x", id)
}

// Writer emits Reports as newline-delimited JSON, the transport the
// daemon uses to periodically publish a state dump for cmd/rplstat to
// consume, mirroring the teacher's archive-record stream shape.
type Writer struct {
	enc *json.Encoder
}

// NewWriter wraps w as a Report stream writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// Write appends one Report to the stream.
func (w *Writer) Write(r Report) error {
	return w.enc.Encode(r)
}

// Reader reads back a stream of Reports written by Writer.
type Reader struct {
	dec *json.Decoder
}

// NewReader wraps r as a Report stream reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: json.NewDecoder(r)}
}

// Next decodes the next Report, returning io.EOF once the stream is
// exhausted.
func (r *Reader) Next() (*Report, error) {
	var rep Report
	if err := r.dec.Decode(&rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// LoadAll reads every Report from r and flattens them into one set of
// rows per kind, the shape cmd/rplstat hands to gocsv.
func LoadAll(r io.Reader) ([]InstanceRow, []ParentRow, []RouteRow, error) {
	rdr := NewReader(r)
	var instances []InstanceRow
	var parents []ParentRow
	var routes []RouteRow
	for {
		rep, err := rdr.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, nil, err
		}
		instances = append(instances, rep.Instances...)
		parents = append(parents, rep.Parents...)
		routes = append(routes, rep.Routes...)
	}
	return instances, parents, routes, nil
}
