package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrAggregatorStopped is returned by Submit once the consumer has exited.
var ErrAggregatorStopped = errors.New("input aggregator stopped")

// Aggregator funnels input chunks from every client onto the single pty
// writer. Chunks are written in the order they reach the queue, each with
// one Write call, so a chunk is never split or interleaved with another.
// No ordering between different clients is promised.
type Aggregator struct {
	queue chan []byte
	done  chan struct{}
}

// NewAggregator returns an aggregator whose queue holds depth chunks.
func NewAggregator(depth int) *Aggregator {
	if depth < 1 {
		depth = 1
	}
	return &Aggregator{
		queue: make(chan []byte, depth),
		done:  make(chan struct{}),
	}
}

// Submit queues chunk for the pty. It blocks while the queue is full and
// gives up when ctx is cancelled or the consumer has stopped. The caller
// must not modify chunk afterwards.
func (a *Aggregator) Submit(ctx context.Context, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	select {
	case <-a.done:
		return ErrAggregatorStopped
	default:
	}
	select {
	case a.queue <- chunk:
		return nil
	case <-a.done:
		return ErrAggregatorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run has returned.
func (a *Aggregator) Done() <-chan struct{} {
	return a.done
}

// Run is the sole consumer: it drains the queue into w until ctx is
// cancelled or a write fails.
func (a *Aggregator) Run(ctx context.Context, w io.Writer) error {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk := <-a.queue:
			if _, err := w.Write(chunk); err != nil {
				return fmt.Errorf("write %d bytes to pty: %w", len(chunk), err)
			}
		}
	}
}
