package ingress

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
)

const testPoll = 50 * time.Millisecond

var ignoreVolatile = cmpopts.IgnoreFields(Event{}, "ID", "At")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func startServer(t *testing.T, opts Options) (*Server, int) {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = testPoll
	}
	srv := NewServer(opts, quietLogger())
	port := freePort(t)
	if err := srv.Start("127.0.0.1", port); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv, port
}

func dial(t *testing.T, port int) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func localAddr(conn net.Conn) Address {
	return addressOf(conn.LocalAddr())
}

func write(t *testing.T, conn net.Conn, s string) {
	t.Helper()
	if _, err := conn.Write([]byte(s)); err != nil {
		t.Fatalf("write %q: %v", s, err)
	}
}

// waitEvents drains srv until n events have been collected.
func waitEvents(t *testing.T, srv *Server, n int) []Event {
	t.Helper()
	deadline := time.NewTimer(3 * time.Second)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	var got []Event
	for {
		got = append(got, srv.Events().Drain()...)
		if len(got) >= n {
			return got
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			t.Fatalf("timeout: got %d events, want %d: %+v", len(got), n, got)
		}
	}
}

func assertQuiet(t *testing.T, srv *Server, d time.Duration) {
	t.Helper()
	time.Sleep(d)
	if extra := srv.Events().Drain(); len(extra) != 0 {
		t.Fatalf("unexpected events: %+v", extra)
	}
}

func TestStart_RejectsInvalidPort(t *testing.T) {
	srv := NewServer(Options{}, quietLogger())
	for _, port := range []int{0, -1, 65536, 70000} {
		err := srv.Start("127.0.0.1", port)
		var portErr *InvalidPortError
		if !errors.As(err, &portErr) {
			t.Fatalf("Start(port=%d) error = %v, want InvalidPortError", port, err)
		}
		if portErr.Port != port {
			t.Errorf("InvalidPortError.Port = %d, want %d", portErr.Port, port)
		}
		if srv.Accepting() || srv.Addr() != nil {
			t.Fatalf("server accepting after invalid port %d", port)
		}
	}
}

func TestStart_Accepting(t *testing.T) {
	srv, port := startServer(t, Options{})
	if !srv.Accepting() {
		t.Fatal("Accepting() = false after Start")
	}
	if got := srv.Addr().(*net.TCPAddr).Port; got != port {
		t.Fatalf("Addr port = %d, want %d", got, port)
	}
	if err := srv.Start("127.0.0.1", port); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start error = %v, want ErrAlreadyRunning", err)
	}
}

func TestStart_AddressInUse(t *testing.T) {
	_, port := startServer(t, Options{})

	other := NewServer(Options{PollInterval: testPoll}, quietLogger())
	err := other.Start("127.0.0.1", port)
	var bindErr *BindError
	if !errors.As(err, &bindErr) {
		t.Fatalf("Start on busy port error = %v, want BindError", err)
	}
	if !errors.Is(err, syscall.EADDRINUSE) {
		t.Errorf("BindError does not unwrap to EADDRINUSE: %v", err)
	}
	if other.Accepting() {
		t.Fatal("second server accepting after bind failure")
	}
}

func TestSession_JSONObjectKeepsKeyOrder(t *testing.T) {
	srv, port := startServer(t, Options{})
	conn := dial(t, port)
	addr := localAddr(conn)

	write(t, conn, "{\"temp\":22,\"hum\":55}\n")

	got := waitEvents(t, srv, 2)
	want := []Event{
		{Kind: EventConnected, Addr: addr},
		{Kind: EventMessage, Addr: addr, Text: "JSON: temp=22, hum=55"},
	}
	if diff := cmp.Diff(want, got, ignoreVolatile); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if got[0].ID != got[1].ID || got[0].ID == uuid.Nil {
		t.Fatalf("event IDs = %s,%s, want same non-nil id", got[0].ID, got[1].ID)
	}
	assertQuiet(t, srv, 2*testPoll)
}

func TestSession_TextNumbersAndBlankLines(t *testing.T) {
	srv, port := startServer(t, Options{})
	conn := dial(t, port)
	addr := localAddr(conn)

	write(t, conn, "hello world\n42\n\n   \r\n  padded  \r\ncaf\xc3\xa9 \xff\n")

	got := waitEvents(t, srv, 5)
	want := []Event{
		{Kind: EventConnected, Addr: addr},
		{Kind: EventMessage, Addr: addr, Text: "hello world"},
		{Kind: EventMessage, Addr: addr, Text: "JSON: 42"},
		{Kind: EventMessage, Addr: addr, Text: "padded"},
		{Kind: EventMessage, Addr: addr, Text: "café �"},
	}
	if diff := cmp.Diff(want, got, ignoreVolatile); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	assertQuiet(t, srv, 2*testPoll)
}

func TestSession_BuffersAcrossReads(t *testing.T) {
	srv, port := startServer(t, Options{})
	conn := dial(t, port)
	addr := localAddr(conn)

	waitEvents(t, srv, 1)

	write(t, conn, `{"a":1}`)
	time.Sleep(2 * testPoll)
	write(t, conn, `{"b":2}`)
	assertQuiet(t, srv, 2*testPoll)

	// A multi-byte character split across writes survives.
	write(t, conn, "\xc3")
	time.Sleep(2 * testPoll)
	write(t, conn, "\xa9\n")

	got := waitEvents(t, srv, 1)
	want := []Event{{Kind: EventMessage, Addr: addr, Text: `{"a":1}{"b":2}é`}}
	if diff := cmp.Diff(want, got, ignoreVolatile); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_ConcurrentClients(t *testing.T) {
	srv, port := startServer(t, Options{})
	const n = 8

	conns := make([]net.Conn, n)
	var wg sync.WaitGroup
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
			if err != nil {
				t.Errorf("dial %d: %v", i, err)
				return
			}
			conns[i] = conn
		}(i)
	}
	wg.Wait()
	t.Cleanup(func() {
		for _, c := range conns {
			if c != nil {
				c.Close()
			}
		}
	})
	if t.Failed() {
		t.FailNow()
	}

	got := waitEvents(t, srv, n)
	connected := make(map[Address]int)
	for _, ev := range got {
		if ev.Kind != EventConnected {
			t.Fatalf("unexpected event %+v", ev)
		}
		connected[ev.Addr]++
	}

	snap := srv.Clients()
	if len(snap) != n {
		t.Fatalf("Clients() has %d entries, want %d", len(snap), n)
	}
	for _, a := range snap {
		if connected[a] != 1 {
			t.Errorf("address %s has %d Connected events, want 1", a, connected[a])
		}
	}
	for i := 1; i < len(snap); i++ {
		if snap[i-1].String() >= snap[i].String() {
			t.Fatalf("Clients() not sorted/distinct: %v", snap)
		}
	}
}

func TestSession_PeerCloseEmitsOneDisconnect(t *testing.T) {
	srv, port := startServer(t, Options{})
	conn := dial(t, port)
	addr := localAddr(conn)

	write(t, conn, "first\nsecond\npartial")
	conn.Close()

	got := waitEvents(t, srv, 4)
	want := []Event{
		{Kind: EventConnected, Addr: addr},
		{Kind: EventMessage, Addr: addr, Text: "first"},
		{Kind: EventMessage, Addr: addr, Text: "second"},
		{Kind: EventDisconnected, Addr: addr, Reason: ReasonPeerClosed},
	}
	if diff := cmp.Diff(want, got, ignoreVolatile); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if len(srv.Clients()) != 0 {
		t.Fatalf("Clients() = %v, want empty", srv.Clients())
	}

	srv.Stop()
	if extra := srv.Events().Drain(); len(extra) != 0 {
		t.Fatalf("Stop re-emitted events: %+v", extra)
	}
}

func TestSession_ResetEmitsOneDisconnect(t *testing.T) {
	srv, port := startServer(t, Options{})
	conn := dial(t, port)
	waitEvents(t, srv, 1)

	conn.(*net.TCPConn).SetLinger(0)
	conn.Close()

	got := waitEvents(t, srv, 1)
	if got[0].Kind != EventDisconnected {
		t.Fatalf("event = %+v, want Disconnected", got[0])
	}
	assertQuiet(t, srv, 2*testPoll)
	if len(srv.Clients()) != 0 {
		t.Fatalf("Clients() = %v, want empty", srv.Clients())
	}
}

func TestSession_LineTooLong(t *testing.T) {
	srv, port := startServer(t, Options{MaxLineBytes: 16})
	conn := dial(t, port)
	addr := localAddr(conn)

	write(t, conn, "short\n")
	write(t, conn, "this line never ends and is far too long")

	got := waitEvents(t, srv, 3)
	want := []Event{
		{Kind: EventConnected, Addr: addr},
		{Kind: EventMessage, Addr: addr, Text: "short"},
		{Kind: EventDisconnected, Addr: addr, Reason: ReasonLineTooLong},
	}
	if diff := cmp.Diff(want, got, ignoreVolatile); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatal("connection still open after line limit")
	}
}

func TestStop_DisconnectsEveryClientOnce(t *testing.T) {
	srv, port := startServer(t, Options{})
	const k = 5

	conns := make([]net.Conn, k)
	for i := range conns {
		conns[i] = dial(t, port)
	}
	connected := waitEvents(t, srv, k)
	ids := make(map[uuid.UUID]bool)
	for _, ev := range connected {
		ids[ev.ID] = true
	}

	srv.Stop()

	got := srv.Events().Drain()
	if len(got) != k {
		t.Fatalf("Stop produced %d events, want %d: %+v", len(got), k, got)
	}
	seen := make(map[uuid.UUID]bool)
	for _, ev := range got {
		if ev.Kind != EventDisconnected || ev.Reason != ReasonServerStopped {
			t.Fatalf("unexpected event %+v", ev)
		}
		if !ids[ev.ID] || seen[ev.ID] {
			t.Fatalf("unknown or duplicate Disconnected for %s", ev.ID)
		}
		seen[ev.ID] = true
	}

	if srv.Accepting() {
		t.Fatal("Accepting() = true after Stop")
	}
	if len(srv.Clients()) != 0 {
		t.Fatalf("Clients() = %v after Stop", srv.Clients())
	}
	for i, c := range conns {
		_ = c.SetReadDeadline(time.Now().Add(time.Second))
		if _, err := c.Read(make([]byte, 1)); err == nil {
			t.Errorf("client %d still connected after Stop", i)
		}
	}

	srv.Stop()
	assertQuiet(t, srv, 2*testPoll)

	if _, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 200*time.Millisecond); err == nil {
		t.Fatal("dial succeeded after Stop")
	}
}

func TestStop_RestartOnSamePort(t *testing.T) {
	srv, port := startServer(t, Options{})
	conn := dial(t, port)
	waitEvents(t, srv, 1)
	srv.Stop()
	conn.Close()
	srv.Events().Drain()

	if err := srv.Start("127.0.0.1", port); err != nil {
		t.Fatalf("restart: %v", err)
	}
	next := dial(t, port)
	write(t, next, "again\n")

	got := waitEvents(t, srv, 2)
	if got[0].Kind != EventConnected || got[1].Text != "again" {
		t.Fatalf("events after restart = %+v", got)
	}
}
