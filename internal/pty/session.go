package pty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/PiranhaCodes/ptymux/internal/fd"
)

// ErrWriterTaken is returned by TakeWriter once the session's single write
// handle has been issued.
var ErrWriterTaken = errors.New("pty writer already taken")

// Size is a terminal window size.
type Size struct {
	Rows        uint16 `json:"rows"`
	Cols        uint16 `json:"cols"`
	PixelWidth  uint16 `json:"xpixel,omitempty"`
	PixelHeight uint16 `json:"ypixel,omitempty"`
}

// Session is a shell running on the worker side of a pseudo-terminal. The
// session owns the controller descriptor and the child process.
type Session struct {
	controller  *fd.FileDescriptor
	cmd         *exec.Cmd
	writerTaken atomic.Bool

	// signals keeps the job-control handlers installed while the shell runs.
	signals chan os.Signal

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

// Pid returns the shell's process id.
func (s *Session) Pid() int {
	return s.cmd.Process.Pid
}

// Done is closed once the shell has exited and been reaped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Exited reports whether the shell has exited, without blocking.
func (s *Session) Exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the shell exits and returns its exit error, nil for a
// clean exit or an *exec.ExitError otherwise.
func (s *Session) Wait() error {
	<-s.done
	return s.waitErr
}

// TakeWriter returns the only write handle the session will ever issue.
// Later calls fail with ErrWriterTaken; the first handle stays valid.
func (s *Session) TakeWriter() (io.WriteCloser, error) {
	if !s.writerTaken.CompareAndSwap(false, true) {
		return nil, ErrWriterTaken
	}
	w, err := s.controller.Duplicate()
	if err != nil {
		s.writerTaken.Store(false)
		return nil, fmt.Errorf("duplicate pty writer: %w", err)
	}
	return w, nil
}

// CloneReader returns an independent read handle over the controller.
// Concurrent readers split the output between them; the server keeps a
// single reader and fans out instead.
func (s *Session) CloneReader() (io.ReadCloser, error) {
	r, err := s.controller.Duplicate()
	if err != nil {
		return nil, fmt.Errorf("duplicate pty reader: %w", err)
	}
	return r, nil
}

// Resize sets the terminal size seen by the shell.
func (s *Session) Resize(size Size) error {
	ws := &unix.Winsize{
		Row:    size.Rows,
		Col:    size.Cols,
		Xpixel: size.PixelWidth,
		Ypixel: size.PixelHeight,
	}
	if err := unix.IoctlSetWinsize(s.controller.Fd(), unix.TIOCSWINSZ, ws); err != nil {
		return fmt.Errorf("resize pty to %dx%d: %w", size.Cols, size.Rows, err)
	}
	return nil
}

// Size returns the terminal size currently set on the pty.
func (s *Session) Size() (Size, error) {
	ws, err := unix.IoctlGetWinsize(s.controller.Fd(), unix.TIOCGWINSZ)
	if err != nil {
		return Size{}, fmt.Errorf("query pty size: %w", err)
	}
	return Size{
		Rows:        ws.Row,
		Cols:        ws.Col,
		PixelWidth:  ws.Xpixel,
		PixelHeight: ws.Ypixel,
	}, nil
}

func (s *Session) wait() {
	s.waitErr = s.cmd.Wait()
	close(s.done)
}
