// Package rplevents broadcasts engine state changes over a Unix
// domain socket as newline-delimited JSON, adapted from the teacher's
// eventsocket package (TCP flow open/close events) to RPL's parent
// switches, route changes, and local repairs.
package rplevents

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/llnroute/rpl-node/stats"
)

//go:generate stringer -type=EventKind

// EventKind distinguishes the three notifications the engine emits.
type EventKind int

const (
	// ParentChange is sent when an instance's preferred parent switches.
	ParentChange = EventKind(iota)
	// RouteChange is sent when a downward route is installed or removed.
	RouteChange
	// Repair is sent when an instance completes a local repair.
	Repair
)

// Event is the JSONL payload sent down the socket to clients. Event
// and Timestamp are filled in for every kind; the remaining fields
// are populated only for the kind they describe.
type Event struct {
	Event     EventKind
	Timestamp time.Time

	InstanceID uint8  `json:",omitempty"`
	LLAddr     string `json:",omitempty"`

	Prefix  string `json:",omitempty"`
	NextHop string `json:",omitempty"`
	Removed bool   `json:",omitempty"`

	Reason string `json:",omitempty"`
}

// Broadcaster is the interface the engine's rpl.Events field is bound
// to. Construct one with New or use NullBroadcaster when no socket is
// wanted.
type Broadcaster interface {
	Listen() error
	Serve(context.Context) error
	ParentChanged(instanceID uint8, lladdr string)
	RouteChanged(prefix netip.Prefix, nextHop netip.Addr, removed bool)
	LocalRepair(instanceID uint8, reason string)
}

type server struct {
	eventC       chan *Event
	filename     string
	clients      map[net.Conn]struct{}
	unixListener net.Listener
	mutex        sync.Mutex
	servingWG    sync.WaitGroup
}

// New makes a new Broadcaster that serves clients on the provided
// Unix domain socket path.
func New(filename string) Broadcaster {
	return &server{
		filename: filename,
		eventC:   make(chan *Event, 100),
		clients:  make(map[net.Conn]struct{}),
	}
}

func (s *server) addClient(c net.Conn) {
	log.Println("Adding new RPL event client", c)
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.clients[c] = struct{}{}
}

func (s *server) removeClient(c net.Conn) {
	s.servingWG.Add(1)
	defer s.servingWG.Done()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.clients[c]; !ok {
		log.Println("Tried to remove RPL event client", c, "that was not present")
		return
	}
	delete(s.clients, c)
}

func (s *server) sendToAllListeners(data string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for c := range s.clients {
		if _, err := fmt.Fprintln(c, data); err != nil {
			log.Println("Write to client", c, "failed with error", err, "- removing the client.")
			go s.removeClient(c)
			go c.Close()
		}
	}
}

func (s *server) notifyClients(ctx context.Context) {
	s.servingWG.Add(1)
	defer s.servingWG.Done()
	for ctx.Err() == nil {
		event := <-s.eventC
		var b []byte
		var err error
		if event != nil {
			b, err = json.Marshal(*event)
		}
		if event == nil || err != nil {
			log.Printf("WARNING: bad event received %v (err: %v)\n", event, err)
			continue
		}
		s.sendToAllListeners(string(b))
	}
}

// Listen binds the Unix domain socket, clearing any stale socket file
// left behind by an unclean shutdown. Call Serve afterward to start
// accepting connections.
func (s *server) Listen() error {
	s.servingWG.Add(1)
	var err error
	os.Remove(s.filename)
	s.unixListener, err = net.Listen("unix", s.filename)
	return err
}

// Serve accepts client connections until ctx is canceled. Intended to
// run in its own goroutine after Listen.
func (s *server) Serve(ctx context.Context) error {
	defer s.servingWG.Done()
	derivedCtx, derivedCancel := context.WithCancel(ctx)
	defer derivedCancel()

	go s.notifyClients(derivedCtx)

	s.servingWG.Add(1)
	go func() {
		<-derivedCtx.Done()
		s.unixListener.Close()
		close(s.eventC)
		s.servingWG.Done()
	}()

	var err error
	for derivedCtx.Err() == nil {
		var conn net.Conn
		conn, err = s.unixListener.Accept()
		if err != nil {
			log.Printf("Could not Accept on socket %q: %s\n", s.filename, err)
			continue
		}
		s.addClient(conn)
	}
	return err
}

// ParentChanged notifies listeners that instanceID switched its
// preferred parent to lladdr, and bumps the corresponding counter.
func (s *server) ParentChanged(instanceID uint8, lladdr string) {
	s.eventC <- &Event{
		Event:      ParentChange,
		Timestamp:  time.Now(),
		InstanceID: instanceID,
		LLAddr:     lladdr,
	}
	stats.ParentChanges.WithLabelValues(instanceIDLabel(instanceID)).Inc()
}

// RouteChanged notifies listeners that a downward route to prefix via
// nextHop was installed (removed=false) or withdrawn (removed=true).
func (s *server) RouteChanged(prefix netip.Prefix, nextHop netip.Addr, removed bool) {
	s.eventC <- &Event{
		Event:     RouteChange,
		Timestamp: time.Now(),
		Prefix:    prefix.String(),
		NextHop:   nextHop.String(),
		Removed:   removed,
	}
	kind := "install"
	if removed {
		kind = "remove"
	}
	stats.RouteChanges.WithLabelValues(kind).Inc()
}

// LocalRepair notifies listeners that instanceID completed a local
// repair for the given reason.
func (s *server) LocalRepair(instanceID uint8, reason string) {
	s.eventC <- &Event{
		Event:      Repair,
		Timestamp:  time.Now(),
		InstanceID: instanceID,
		Reason:     reason,
	}
	stats.LocalRepairs.WithLabelValues(instanceIDLabel(instanceID), reason).Inc()
}

func instanceIDLabel(id uint8) string {
	return fmt.Sprintf("%d", id)
}

type nullServer struct{}

func (nullServer) Listen() error                                                    { return nil }
func (nullServer) Serve(context.Context) error                                      { return nil }
func (nullServer) ParentChanged(instanceID uint8, lladdr string)                    {}
func (nullServer) RouteChanged(prefix netip.Prefix, nextHop netip.Addr, removed bool) {}
func (nullServer) LocalRepair(instanceID uint8, reason string)                      {}

// NullBroadcaster returns a Broadcaster that does nothing, for code
// paths that want an rpl.Events value without wiring a real socket.
func NullBroadcaster() Broadcaster {
	return nullServer{}
}
