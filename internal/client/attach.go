// Package client attaches a local terminal to a running session.
package client

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"
)

// ClearScreen clears the terminal and homes the cursor.
const ClearScreen = "\x1b[2J\x1b[H"

// Attach relays in to conn and conn to out until the session closes the
// connection or ctx is cancelled. When in reaches end of stream the write
// half of conn is closed and Attach keeps relaying output until the server
// hangs up. A normal hangup returns nil.
func Attach(ctx context.Context, conn *net.UnixConn, in io.Reader, out io.Writer) error {
	outputDone := make(chan error, 1)
	go func() {
		_, err := io.Copy(out, conn)
		outputDone <- err
	}()

	inputDone := make(chan error, 1)
	go func() {
		_, err := io.Copy(conn, in)
		if err == nil {
			err = conn.CloseWrite()
		}
		inputDone <- err
	}()

	var err error
	select {
	case err = <-outputDone:
	case err = <-inputDone:
		if err == nil {
			// Stdin ended; wait for the server to finish the stream.
			select {
			case err = <-outputDone:
			case <-ctx.Done():
			}
		}
	case <-ctx.Done():
	}
	conn.Close()

	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// MakeRaw puts fd into raw mode when it is a terminal and returns a function
// restoring the previous state.
func MakeRaw(fd int) (func(), error) {
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() { _ = term.Restore(fd, oldState) }, nil
}

// SizeFunc reports the local terminal size.
type SizeFunc func() (cols, rows int, err error)

// TerminalSize returns a SizeFunc for the terminal on fd.
func TerminalSize(fd int) SizeFunc {
	return func() (int, int, error) {
		return term.GetSize(fd)
	}
}

// WatchResize calls send with the current size once, then again on every
// SIGWINCH until ctx is cancelled. Failures are passed to onError, which
// may be nil.
func WatchResize(ctx context.Context, size SizeFunc, send func(rows, cols uint16) error, onError func(error)) {
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)

	push := func() {
		cols, rows, err := size()
		if err == nil && (cols <= 0 || rows <= 0) {
			return
		}
		if err == nil {
			err = send(uint16(rows), uint16(cols))
		}
		if err != nil && onError != nil {
			onError(err)
		}
	}

	push()
	for {
		select {
		case <-ctx.Done():
			return
		case <-winch:
			push()
		}
	}
}
