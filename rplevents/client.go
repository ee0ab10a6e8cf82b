package rplevents

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"net"
	"strings"

	"github.com/m-lab/go/rtx"
)

// Filename is the standard flag naming the Unix-domain socket used by
// both client and server, the same one-true-flag-name convention the
// teacher's eventsocket.Filename establishes.
var Filename = flag.String("rpl.eventsocket", "", "The filename of the unix-domain socket on which RPL events are served.")

// Handler receives decoded Events as they arrive over the socket.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event)
}

// MustRun connects to socket and dispatches decoded events to handler
// until ctx is canceled. Any error other than the connection closing
// normally is fatal.
func MustRun(ctx context.Context, socket string, handler Handler) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c, err := net.Dial("unix", socket)
	rtx.Must(err, "Could not connect to %q", socket)
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	s := bufio.NewScanner(c)
	for s.Scan() {
		var ev Event
		rtx.Must(json.Unmarshal(s.Bytes(), &ev), "Could not unmarshal event")
		handler.HandleEvent(ctx, ev)
	}

	err = s.Err()
	if err != nil && strings.Contains(err.Error(), "use of closed network connection") {
		err = nil
	}
	rtx.Must(err, "Scanning of %q died with non-EOF error", socket)
}
