package mux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakePTY stands in for a shell: tests push output through emit and see
// what the server wrote in input.
type fakePTY struct {
	outR *io.PipeReader
	outW *io.PipeWriter

	mu    sync.Mutex
	input bytes.Buffer

	exited atomic.Bool
	taken  atomic.Bool
}

func newFakePTY() *fakePTY {
	r, w := io.Pipe()
	return &fakePTY{outR: r, outW: w}
}

type fakeWriter struct{ p *fakePTY }

func (w fakeWriter) Write(b []byte) (int, error) {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	return w.p.input.Write(b)
}

func (w fakeWriter) Close() error { return nil }

func (p *fakePTY) TakeWriter() (io.WriteCloser, error) {
	if !p.taken.CompareAndSwap(false, true) {
		return nil, errors.New("taken")
	}
	return fakeWriter{p}, nil
}

func (p *fakePTY) CloneReader() (io.ReadCloser, error) { return p.outR, nil }

func (p *fakePTY) Exited() bool { return p.exited.Load() }

func (p *fakePTY) emit(t *testing.T, s string) {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		_, err := p.outW.Write([]byte(s))
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("emit: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pty reader stalled")
	}
}

func (p *fakePTY) waitInput(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		got := p.input.String()
		p.mu.Unlock()
		if strings.Contains(got, want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pty never received %q", want)
}

type testServer struct {
	srv  *Server
	path string
	errc chan error
}

func startServer(t *testing.T, p PTY) *testServer {
	t.Helper()
	dir, err := os.MkdirTemp("", "mux")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "s.sock")
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ts := &testServer{
		srv:  NewServer(p, Options{PollInterval: 10 * time.Millisecond, QueueDepth: 64}),
		path: path,
		errc: make(chan error, 1),
	}
	go func() { ts.errc <- ts.srv.Serve(context.Background(), ln) }()
	t.Cleanup(func() {
		ts.srv.Shutdown()
		select {
		case <-ts.errc:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ts
}

// connect dials the server and waits until it is subscribed, so output
// emitted afterwards is guaranteed to reach it.
func (ts *testServer) connect(t *testing.T) net.Conn {
	t.Helper()
	before := ts.active()
	var conn net.Conn
	var err error
	for i := 0; i < 100; i++ {
		conn, err = net.Dial("unix", ts.path)
		if err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for ts.active() <= before {
		if time.Now().After(deadline) {
			t.Fatal("client never became active")
		}
		time.Sleep(2 * time.Millisecond)
	}
	return conn
}

func (ts *testServer) active() int {
	n := 0
	for _, c := range ts.srv.Clients() {
		if c.State == StateActive.String() {
			n++
		}
	}
	return n
}

func readUntil(t *testing.T, conn net.Conn, want string) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	var out bytes.Buffer
	buf := make([]byte, 4096)
	for !strings.Contains(out.String(), want) {
		n, err := conn.Read(buf)
		out.Write(buf[:n])
		if err != nil {
			t.Fatalf("read waiting for %q: %v (got %q)", want, err, out.String())
		}
	}
	return out.String()
}

func expectEOF(t *testing.T, conn net.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 4096)
	for {
		_, err := conn.Read(buf)
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !strings.Contains(err.Error(), "reset") {
			t.Fatalf("read = %v, want end of stream", err)
		}
		return
	}
}

func TestAllClientsSeeIdenticalOutput(t *testing.T) {
	p := newFakePTY()
	ts := startServer(t, p)

	clients := []net.Conn{ts.connect(t), ts.connect(t), ts.connect(t)}

	var want strings.Builder
	for i := 0; i < 100; i++ {
		line := fmt.Sprintf("line-%03d\r\n", i)
		want.WriteString(line)
		p.emit(t, line)
	}

	for i, conn := range clients {
		got := readUntil(t, conn, "line-099\r\n")
		if got != want.String() {
			t.Errorf("client %d stream differs:\n got %q\nwant %q", i, got, want.String())
		}
	}
}

func TestLateClientGetsNoHistory(t *testing.T) {
	p := newFakePTY()
	ts := startServer(t, p)

	early := ts.connect(t)
	p.emit(t, "history\n")
	readUntil(t, early, "history\n")

	late := ts.connect(t)
	p.emit(t, "fresh\n")

	if got := readUntil(t, late, "fresh\n"); strings.Contains(got, "history") {
		t.Errorf("late client replayed history: %q", got)
	}
	readUntil(t, early, "fresh\n")
}

func TestClientInputReachesPTY(t *testing.T) {
	p := newFakePTY()
	ts := startServer(t, p)

	a := ts.connect(t)
	if _, err := a.Write([]byte("echo hi\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	p.waitInput(t, "echo hi\n")
}

func TestDroppingOneClientLeavesOthersStreaming(t *testing.T) {
	p := newFakePTY()
	ts := startServer(t, p)

	a := ts.connect(t)
	b := ts.connect(t)

	if _, err := a.Write([]byte("pwd\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	p.waitInput(t, "pwd\n")
	p.emit(t, "/home/user\r\n")
	readUntil(t, a, "/home/user")
	readUntil(t, b, "/home/user")

	a.Close()
	for i := 0; i < 20; i++ {
		p.emit(t, fmt.Sprintf("tick-%02d\n", i))
	}
	readUntil(t, b, "tick-19\n")

	deadline := time.Now().Add(2 * time.Second)
	for ts.active() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("active clients = %d, want 1", ts.active())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStalledClientDoesNotBlockReader(t *testing.T) {
	p := newFakePTY()
	ts := startServer(t, p)

	stalled := ts.connect(t)
	healthy := ts.connect(t)

	const chunks = 400
	chunk := strings.Repeat("x", 8191) + "\n"

	var received atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 65536)
		for received.Load() < int64(chunks*len(chunk)) {
			n, err := healthy.Read(buf)
			received.Add(int64(n))
			if err != nil {
				return
			}
		}
	}()

	// Far more than the stalled client's socket buffer plus its 64-chunk
	// queue. The healthy client is kept within a few chunks of the reader
	// so only the stalled one can overflow.
	for i := 0; i < chunks; i++ {
		deadline := time.Now().Add(5 * time.Second)
		for received.Load() < int64((i-8)*len(chunk)) {
			if time.Now().After(deadline) {
				t.Fatalf("healthy client stuck at %d bytes", received.Load())
			}
			time.Sleep(time.Millisecond)
		}
		p.emit(t, chunk)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("healthy client starved by stalled one")
	}
	if got := received.Load(); got != int64(chunks*len(chunk)) {
		t.Fatalf("healthy client got %d bytes, want %d", got, chunks*len(chunk))
	}

	expectEOF(t, stalled)
}

func TestShellExitStopsServer(t *testing.T) {
	p := newFakePTY()
	ts := startServer(t, p)

	a := ts.connect(t)
	b := ts.connect(t)

	p.exited.Store(true)
	select {
	case err := <-ts.errc:
		if err != nil {
			t.Fatalf("Serve = %v", err)
		}
		ts.errc <- nil
	case <-time.After(2 * time.Second):
		t.Fatal("server still running after shell exit")
	}
	expectEOF(t, a)
	expectEOF(t, b)
}

func TestPTYEndOfStreamStopsServer(t *testing.T) {
	p := newFakePTY()
	ts := startServer(t, p)

	a := ts.connect(t)
	p.emit(t, "last words\n")
	p.outW.Close()

	readUntil(t, a, "last words\n")
	expectEOF(t, a)
	select {
	case <-ts.errc:
		ts.errc <- nil
	case <-time.After(2 * time.Second):
		t.Fatal("server still running after pty EOF")
	}
}

func TestServeFailsWhenWriterTaken(t *testing.T) {
	p := newFakePTY()
	if _, err := p.TakeWriter(); err != nil {
		t.Fatal(err)
	}

	dir, err := os.MkdirTemp("", "mux")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: filepath.Join(dir, "s.sock"), Net: "unix"})
	if err != nil {
		t.Fatal(err)
	}

	if err := NewServer(p, Options{}).Serve(context.Background(), ln); err == nil {
		t.Fatal("Serve succeeded without a pty writer")
	}
}

func TestDetachStopsOnlyThatClient(t *testing.T) {
	p := newFakePTY()
	ts := startServer(t, p)

	a := ts.connect(t)
	b := ts.connect(t)

	clients := ts.srv.Clients()
	if len(clients) != 2 {
		t.Fatalf("Clients = %+v, want 2", clients)
	}
	// Clients is oldest first, so a is clients[0].
	if err := ts.srv.Detach(clients[0].ID); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	expectEOF(t, a)

	p.emit(t, "after-detach\n")
	readUntil(t, b, "after-detach")

	if err := ts.srv.Detach("missing"); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("Detach(missing) = %v, want ErrUnknownClient", err)
	}
}
