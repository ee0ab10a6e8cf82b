// example-eventclient is a minimal reference implementation of an
// rplevents client, adapted from cmd/example-eventsocket-client.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/llnroute/rpl-node/rplevents"
)

var (
	mainCtx, mainCancel = context.WithCancel(context.Background())
)

// handler implements rplevents.Handler, handing every received event
// off to a buffered channel so HandleEvent never blocks the socket's
// read loop on slow processing.
type handler struct {
	events chan rplevents.Event
}

func (h *handler) HandleEvent(ctx context.Context, ev rplevents.Event) {
	h.events <- ev
}

// processEvents logs every event received by the handler until ctx is
// canceled.
func (h *handler) processEvents(ctx context.Context) {
	for {
		select {
		case ev := <-h.events:
			switch ev.Event {
			case rplevents.ParentChange:
				log.Println("parent-change", ev.InstanceID, ev.LLAddr, ev.Timestamp)
			case rplevents.RouteChange:
				log.Println("route-change", ev.Prefix, ev.NextHop, "removed=", ev.Removed, ev.Timestamp)
			case rplevents.Repair:
				log.Println("local-repair", ev.InstanceID, ev.Reason, ev.Timestamp)
			default:
				log.Println("unknown event type:", ev.Event)
			}
		case <-ctx.Done():
			log.Println("shutdown")
			return
		}
	}
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment variables")
	defer mainCancel()

	if *rplevents.Filename == "" {
		panic("-rpl.eventsocket path is required")
	}

	h := &handler{events: make(chan rplevents.Event, 100)}

	// Process events received by the handler. The goroutine will block
	// until an event occurs.
	go h.processEvents(mainCtx)

	// Begin listening on the eventsocket for new events, and dispatch
	// them to the given handler.
	go rplevents.MustRun(mainCtx, *rplevents.Filename, h)

	<-mainCtx.Done()
	fmt.Println("ok")
}
