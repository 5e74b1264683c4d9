package mux

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Subscription is one member of a Broadcaster. Chunks arrive on C in the
// order they were read from the pty. C is closed when the subscription is
// revoked: by Unsubscribe, by overflowing its queue, or by the broadcaster
// reaching the end of the pty stream.
type Subscription struct {
	ch       chan []byte
	overflow chan struct{}
	revoked  bool // guarded by Broadcaster.mu
}

// C returns the delivery channel. Chunks must not be modified; the same
// slice is shared with every other subscriber.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Overflowed reports whether the subscription was revoked because its
// consumer fell a full queue behind.
func (s *Subscription) Overflowed() bool {
	select {
	case <-s.overflow:
		return true
	default:
		return false
	}
}

// Overflow is closed when the subscription is revoked for falling behind.
func (s *Subscription) Overflow() <-chan struct{} {
	return s.overflow
}

// Broadcaster is the single reader of pty output. Every chunk it reads is
// offered to each current subscriber's bounded queue without blocking; a
// subscriber whose queue is full is revoked so one stalled client never
// holds up the reader or anyone else.
type Broadcaster struct {
	depth int

	mu      sync.Mutex
	members map[*Subscription]struct{}
	ended   bool

	done chan struct{}
}

// NewBroadcaster returns a broadcaster whose subscribers each buffer up to
// depth chunks.
func NewBroadcaster(depth int) *Broadcaster {
	if depth < 1 {
		depth = 1
	}
	return &Broadcaster{
		depth:   depth,
		members: make(map[*Subscription]struct{}),
		done:    make(chan struct{}),
	}
}

// Subscribe adds a member. It receives every chunk read after this call and
// nothing from before. Subscribing after the stream ended yields an already
// closed subscription.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := &Subscription{
		ch:       make(chan []byte, b.depth),
		overflow: make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ended {
		sub.revoked = true
		close(sub.ch)
		return sub
	}
	b.members[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a member and closes its channel. It is safe to call
// more than once and concurrently with delivery.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revokeLocked(sub)
}

// Len returns the number of current members.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.members)
}

// Done is closed once Run has returned and every subscription is closed.
func (b *Broadcaster) Done() <-chan struct{} {
	return b.done
}

// Publish offers chunk to every member. The chunk is shared, not copied.
func (b *Broadcaster) Publish(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.members {
		select {
		case sub.ch <- chunk:
		default:
			close(sub.overflow)
			b.revokeLocked(sub)
		}
	}
}

// Run reads r until end of stream and publishes each chunk. bufSize bounds
// a single read. Run returns nil on io.EOF, which is how a pty reports that
// the shell went away, and stops early when ctx is cancelled. Either way
// every subscription is closed before Run returns.
func (b *Broadcaster) Run(ctx context.Context, r io.Reader, bufSize int) error {
	defer b.end()

	if bufSize < 1 {
		bufSize = DefaultReadBuffer
	}
	buf := make([]byte, bufSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			b.Publish(chunk)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (b *Broadcaster) end() {
	b.mu.Lock()
	b.ended = true
	for sub := range b.members {
		b.revokeLocked(sub)
	}
	b.mu.Unlock()
	close(b.done)
}

func (b *Broadcaster) revokeLocked(sub *Subscription) {
	if sub.revoked {
		return
	}
	sub.revoked = true
	delete(b.members, sub)
	close(sub.ch)
}
