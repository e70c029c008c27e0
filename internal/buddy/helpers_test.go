package buddy

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/onionchat/internal/onion"
	"github.com/danmuck/onionchat/internal/protocol/session"
)

const waitTimeout = 3 * time.Second

func newAddress(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return onion.FromPublicKey(pub)
}

type dialed struct {
	addr string
	conn net.Conn
}

// pipeDialer hands the remote end of every dial to the test.
type pipeDialer struct {
	mu    sync.Mutex
	err   error
	count int
	peers chan dialed
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{peers: make(chan dialed, 16)}
}

func (d *pipeDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d.mu.Lock()
	d.count++
	err := d.err
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	local, remote := net.Pipe()
	d.peers <- dialed{addr: addr, conn: remote}
	return local, nil
}

func (d *pipeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

func (d *pipeDialer) next(t *testing.T) dialed {
	t.Helper()
	select {
	case p := <-d.peers:
		return p
	case <-time.After(waitTimeout):
		t.Fatalf("no outbound dial")
		return dialed{}
	}
}

type testEnv struct {
	list   *List
	dialer *pipeDialer
	events *ChanObserver
	own    string
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Hostname = newAddress(t)
	cfg.ProfileName = "alice"
	cfg.Session = session.Config{
		DeadConnectionTimeout: time.Minute,
		ReapInterval:          time.Hour,
		ConnectTimeout:        time.Second,
		WriteTimeout:          time.Second,
	}
	for _, f := range mutate {
		f(&cfg)
	}
	env := &testEnv{
		dialer: newPipeDialer(),
		events: NewChanObserver(256),
		own:    cfg.Hostname,
	}
	env.list = NewList(cfg, env.dialer, WithObserver(env.events))
	t.Cleanup(env.list.Close)
	return env
}

// lineStream collects lines read from the remote end of a connection.
type lineStream struct {
	conn  net.Conn
	lines chan string
}

func readLines(conn net.Conn) *lineStream {
	s := &lineStream{conn: conn, lines: make(chan string, 64)}
	go func() {
		defer close(s.lines)
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			s.lines <- strings.TrimSuffix(line, "\n")
		}
	}()
	return s
}

func (s *lineStream) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got, ok := <-s.lines:
		if !ok {
			t.Fatalf("stream closed, wanted %q", want)
		}
		if got != want {
			t.Fatalf("unexpected line: got=%q want=%q", got, want)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func (s *lineStream) expectNone(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case got, ok := <-s.lines:
		if ok {
			t.Fatalf("unexpected line %q", got)
		}
	case <-time.After(within):
	}
}

// expectClosed waits for the stream to end.
func (s *lineStream) expectClosed(t *testing.T) {
	t.Helper()
	for {
		select {
		case got, ok := <-s.lines:
			if !ok {
				return
			}
			t.Fatalf("unexpected line before close: %q", got)
		case <-time.After(waitTimeout):
			t.Fatalf("stream not closed")
		}
	}
}

func write(t *testing.T, conn net.Conn, data string) {
	t.Helper()
	_ = conn.SetWriteDeadline(time.Now().Add(waitTimeout))
	if _, err := conn.Write([]byte(data)); err != nil {
		t.Fatalf("write %q: %v", data, err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func (e *testEnv) nextEvent(t *testing.T, kind EventKind) Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-e.events.C:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", kind)
			return Event{}
		}
	}
}

// peer is the remote side of a completed handshake.
type peer struct {
	address string
	buddy   *Buddy
	inConn  *Conn
	in      net.Conn    // writes arrive on our inbound connection
	out     *lineStream // lines we send on our outbound connection
}

// handshake drives a full ping/pong exchange from a remote peer.
func (e *testEnv) handshake(t *testing.T, address string) *peer {
	t.Helper()
	local, remote := net.Pipe()
	c := e.list.accept(local)
	if c == nil {
		t.Fatalf("accept refused")
	}
	write(t, remote, "ping "+address+" remotecookie\n")

	d := e.dialer.next(t)
	if d.addr != address+".onion:11009" {
		t.Fatalf("unexpected dial target %q", d.addr)
	}
	out := readLines(d.conn)
	b, ok := e.list.Get(address)
	if !ok {
		t.Fatalf("buddy not created")
	}
	out.expect(t, "ping "+e.own+" "+b.cookie)
	out.expect(t, "pong remotecookie")
	out.expect(t, "client "+DefaultClientName)
	out.expect(t, "version "+DefaultClientVersion)
	out.expect(t, "profile_name alice")
	out.expect(t, "profile_text ")
	out.expect(t, "status available")

	write(t, remote, "pong "+b.cookie+"\n")
	if ev := e.nextEvent(t, EventStatus); ev.Status != StatusOnline || ev.Address != address {
		t.Fatalf("unexpected status event: %+v", ev)
	}
	if c.Buddy() != b {
		t.Fatalf("inbound connection not bound")
	}
	return &peer{address: address, buddy: b, inConn: c, in: remote, out: out}
}

var errDialRefused = errors.New("dial refused")
