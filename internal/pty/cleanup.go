package pty

import (
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// hangupGrace is how long Close waits after SIGHUP before killing the shell.
const hangupGrace = 500 * time.Millisecond

// Close tears the session down: the shell is hung up, killed if it is still
// around after a short grace period, reaped, and the controller descriptor
// is released. Close is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.terminate()
		signal.Stop(s.signals)
		if err := s.controller.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}

func (s *Session) terminate() error {
	if s.Exited() {
		return nil
	}

	pid := s.cmd.Process.Pid
	// Interactive shells ignore SIGTERM; a hangup is what a closing terminal
	// would deliver.
	if err := s.cmd.Process.Signal(syscall.SIGHUP); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Printf("[PTY] Warning: failed to send SIGHUP to process %d: %v", pid, err)
	}

	select {
	case <-s.done:
		return nil
	case <-time.After(hangupGrace):
	}

	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Printf("[PTY] Warning: failed to kill process %d: %v", pid, err)
		return err
	}
	<-s.done
	return nil
}
