package mux

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// State is a client connection's lifecycle stage.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateStopping
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Connection is one attached client. It owns the socket and two pumps:
// socket → aggregator and subscription → socket. Whichever side fails
// first, or the server shutting down, stops the whole connection.
type Connection struct {
	ID          string
	ConnectedAt time.Time

	conn       *net.UnixConn
	readBuffer int
	state      atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	stopErr  error

	pumps  sync.WaitGroup
	closed chan struct{}
}

// NewConnection wraps an accepted socket. The connection runs until one of
// its pumps ends, its subscription overflows, or Stop is called.
func NewConnection(conn *net.UnixConn, readBuffer int) *Connection {
	if readBuffer < 1 {
		readBuffer = DefaultReadBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
		conn:        conn,
		readBuffer:  readBuffer,
		ctx:         ctx,
		cancel:      cancel,
		closed:      make(chan struct{}),
	}
}

// State returns the current lifecycle stage.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Start runs the pumps. sub must already be subscribed to b.
func (c *Connection) Start(sub *Subscription, b *Broadcaster, agg *Aggregator) {
	c.state.Store(int32(StateActive))

	c.pumps.Add(2)
	go c.pumpInput(agg)
	go c.pumpOutput(sub)

	go func() {
		select {
		case <-c.ctx.Done():
		case <-sub.Overflow():
			log.Printf("[MUX] Client %s fell behind, disconnecting", c.ID)
			c.Stop()
		}
	}()

	go func() {
		c.pumps.Wait()
		b.Unsubscribe(sub)
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Printf("[MUX] Client %s: close socket: %v", c.ID, err)
		}
		c.state.Store(int32(StateClosed))
		close(c.closed)
		log.Printf("[MUX] Client %s disconnected", c.ID)
	}()
}

// Stop shuts the socket down in both directions, which unblocks both pumps.
// Only the first call does anything; it is safe from any goroutine.
func (c *Connection) Stop() error {
	c.stopOnce.Do(func() {
		c.state.CompareAndSwap(int32(StateActive), int32(StateStopping))
		c.state.CompareAndSwap(int32(StateConnecting), int32(StateStopping))
		c.stopErr = shutdown(c.conn)
		c.cancel()
	})
	return c.stopErr
}

// Stopped reports whether Stop has run.
func (c *Connection) Stopped() bool {
	return c.ctx.Err() != nil
}

// Closed is closed once both pumps have exited and the socket is released.
func (c *Connection) Closed() <-chan struct{} {
	return c.closed
}

// IsClosed reports whether the connection has fully wound down.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Connection) pumpInput(agg *Aggregator) {
	defer c.pumps.Done()
	defer c.Stop()

	buf := make([]byte, c.readBuffer)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if subErr := agg.Submit(c.ctx, chunk); subErr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (c *Connection) pumpOutput(sub *Subscription) {
	defer c.pumps.Done()
	defer c.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case chunk, ok := <-sub.C():
			if !ok {
				return
			}
			if _, err := c.conn.Write(chunk); err != nil {
				return
			}
		}
	}
}

// shutdown issues shutdown(2) with SHUT_RDWR on the socket. Unlike Close it
// keeps the descriptor valid for goroutines still inside Read or Write.
func shutdown(conn *net.UnixConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	}
	var opErr error
	if err := raw.Control(func(fd uintptr) {
		opErr = unix.Shutdown(int(fd), unix.SHUT_RDWR)
	}); err != nil {
		return err
	}
	if opErr != nil && !errors.Is(opErr, unix.ENOTCONN) {
		return fmt.Errorf("shutdown socket: %w", opErr)
	}
	return nil
}
