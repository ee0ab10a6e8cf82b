package rplevents

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/netip"
	"os"
	"testing"
	"time"
)

func TestServerBroadcastsParentAndRouteEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()
	sockPath := dir + "/rplevents.sock"

	srv := New(sockPath).(*server)
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve(ctx)

	c, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	for {
		srv.mutex.Lock()
		n := len(srv.clients)
		srv.mutex.Unlock()
		if n > 0 {
			break
		}
	}

	srv.ParentChanged(1, "fe80::1")
	r := bufio.NewScanner(c)
	if !r.Scan() {
		t.Fatal("expected a line from the parent-change event")
	}
	var ev Event
	if err := json.Unmarshal(r.Bytes(), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Event != ParentChange || ev.InstanceID != 1 || ev.LLAddr != "fe80::1" {
		t.Errorf("got %+v, want a ParentChange event for instance 1 / fe80::1", ev)
	}

	srv.RouteChanged(netip.MustParsePrefix("2001:db8::/64"), netip.MustParseAddr("fe80::2"), true)
	if !r.Scan() {
		t.Fatal("expected a line from the route-change event")
	}
	if err := json.Unmarshal(r.Bytes(), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Event != RouteChange || !ev.Removed || ev.Prefix != "2001:db8::/64" {
		t.Errorf("got %+v, want a removed RouteChange event for 2001:db8::/64", ev)
	}

	os.Remove(sockPath) // server already owns the listener; this just tidies up stray state
	cancel()
	srv.servingWG.Wait()
}

func TestNullBroadcasterNeverBlocks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NullBroadcaster()
	if err := b.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := b.Serve(ctx); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	b.ParentChanged(1, "fe80::1")
	b.RouteChanged(netip.MustParsePrefix("2001:db8::/64"), netip.Addr{}, false)
	b.LocalRepair(1, "test")
}

func TestLocalRepairEvent(t *testing.T) {
	dir := t.TempDir()
	srv := New(dir + "/rplevents2.sock").(*server)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve(ctx)

	c, err := net.Dial("unix", dir+"/rplevents2.sock")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	for {
		srv.mutex.Lock()
		n := len(srv.clients)
		srv.mutex.Unlock()
		if n > 0 {
			break
		}
	}

	before := time.Now()
	srv.LocalRepair(3, "dao-ack timeout")
	r := bufio.NewScanner(c)
	if !r.Scan() {
		t.Fatal("expected a line from the local-repair event")
	}
	var ev Event
	if err := json.Unmarshal(r.Bytes(), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Event != Repair || ev.InstanceID != 3 || ev.Reason != "dao-ack timeout" {
		t.Errorf("got %+v, want a Repair event for instance 3", ev)
	}
	if ev.Timestamp.Before(before) {
		t.Error("expected the event timestamp to be recorded after the call")
	}
	cancel()
}
