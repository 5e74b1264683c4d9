package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"
)

const (
	// DefaultPollInterval is how long one accept attempt waits before the
	// listener re-checks the shell and the shutdown token.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultQueueDepth bounds each client's pending output chunks and the
	// shared input queue.
	DefaultQueueDepth = 256
	// DefaultReadBuffer is the largest single read from the pty or a socket.
	DefaultReadBuffer = 128 * 128
)

const (
	// drainTimeout bounds how long Serve waits for clients to release
	// their sockets.
	drainTimeout = 2 * time.Second
	// exitGrace bounds how long Serve waits, after the shell exits, for the
	// pty reader to deliver the shell's last output.
	exitGrace = 250 * time.Millisecond
)

// ErrUnknownClient is returned by Detach for an id that is not attached.
var ErrUnknownClient = errors.New("no such client")

// PTY is the terminal a Server multiplexes. *pty.Session implements it.
type PTY interface {
	TakeWriter() (io.WriteCloser, error)
	CloneReader() (io.ReadCloser, error)
	Exited() bool
}

// Options tune a Server. Zero values select the defaults.
type Options struct {
	PollInterval time.Duration
	QueueDepth   int
	ReadBuffer   int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = DefaultQueueDepth
	}
	if o.ReadBuffer <= 0 {
		o.ReadBuffer = DefaultReadBuffer
	}
	return o
}

// ClientInfo describes one attached client.
type ClientInfo struct {
	ID          string    `json:"id"`
	State       string    `json:"state"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Server shares one pty between every client that connects to its
// listener. Output is read once and broadcast; input from all clients is
// aggregated onto the pty's single writer.
type Server struct {
	pty  PTY
	opts Options

	broadcaster *Broadcaster
	aggregator  *Aggregator
	registry    *Registry

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewServer returns a server for p. Serve must be called to start it.
func NewServer(p PTY, opts Options) *Server {
	opts = opts.withDefaults()
	return &Server{
		pty:         p,
		opts:        opts,
		broadcaster: NewBroadcaster(opts.QueueDepth),
		aggregator:  NewAggregator(opts.QueueDepth),
		registry:    NewRegistry(),
	}
}

// Serve runs the accept loop on ln until ctx is cancelled, Shutdown is
// called, the pty reaches end of stream, or the shell exits. Every client
// is stopped before Serve returns. Serve closes ln.
//
// The pty reader goroutine keeps its descriptor until the pty reports end
// of stream, so callers close the pty session after Serve returns.
func (s *Server) Serve(ctx context.Context, ln *net.UnixListener) error {
	defer ln.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	writer, err := s.pty.TakeWriter()
	if err != nil {
		return fmt.Errorf("take pty writer: %w", err)
	}
	reader, err := s.pty.CloneReader()
	if err != nil {
		writer.Close()
		return fmt.Errorf("clone pty reader: %w", err)
	}

	go func() {
		defer reader.Close()
		if err := s.broadcaster.Run(ctx, reader, s.opts.ReadBuffer); err != nil {
			log.Printf("[MUX] PTY read error: %v", err)
		} else {
			log.Printf("[MUX] PTY output closed")
		}
		cancel()
	}()

	go func() {
		defer writer.Close()
		if err := s.aggregator.Run(ctx, writer); err != nil {
			log.Printf("[MUX] PTY write error: %v", err)
		}
		cancel()
	}()

	log.Printf("[MUX] Listening on %s", ln.Addr())
	serveErr := s.acceptLoop(ctx, ln)
	if s.pty.Exited() {
		select {
		case <-s.broadcaster.Done():
		case <-time.After(exitGrace):
		}
	}
	cancel()

	select {
	case <-s.broadcaster.Done():
		// Every subscription is closed; clients stop on their own once
		// their queued output is written.
		s.drain()
	default:
	}

	for _, err := range s.registry.StopAll() {
		log.Printf("[MUX] Warning: %v", err)
	}
	s.drain()

	log.Printf("[MUX] Server stopped")
	return serveErr
}

// Shutdown stops a running Serve. It does not wait for Serve to return.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Detach disconnects the client with the given id. Other clients and the
// session are unaffected.
func (s *Server) Detach(id string) error {
	c := s.registry.Get(id)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}
	log.Printf("[MUX] Detaching client %s", id)
	return c.Stop()
}

// Clients returns the currently registered clients, oldest first.
func (s *Server) Clients() []ClientInfo {
	conns := s.registry.List()
	infos := make([]ClientInfo, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, ClientInfo{
			ID:          c.ID,
			State:       c.State().String(),
			ConnectedAt: c.ConnectedAt,
		})
	}
	return infos
}

func (s *Server) acceptLoop(ctx context.Context, ln *net.UnixListener) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if s.pty.Exited() {
			log.Printf("[MUX] Shell exited, shutting down")
			return nil
		}

		if err := ln.SetDeadline(time.Now().Add(s.opts.PollInterval)); err != nil {
			return fmt.Errorf("set accept deadline: %w", err)
		}
		conn, err := ln.AcceptUnix()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.attach(conn)
	}
}

func (s *Server) attach(conn *net.UnixConn) {
	c := NewConnection(conn, s.opts.ReadBuffer)
	sub := s.broadcaster.Subscribe()
	c.Start(sub, s.broadcaster, s.aggregator)

	if n := s.registry.EvictClosed(); n > 0 {
		log.Printf("[MUX] Evicted %d closed client(s)", n)
	}
	s.registry.Add(c)
	log.Printf("[MUX] Client %s connected (%d attached)", c.ID, s.registry.Count())
}

func (s *Server) drain() {
	deadline := time.After(drainTimeout)
	for _, c := range s.registry.List() {
		select {
		case <-c.Closed():
		case <-deadline:
			log.Printf("[MUX] Warning: client %s did not close in time", c.ID)
			return
		}
	}
}
