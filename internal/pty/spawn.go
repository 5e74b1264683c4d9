package pty

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	ptylib "github.com/creack/pty"

	"github.com/PiranhaCodes/ptymux/internal/fd"
)

// Open allocates a pseudo-terminal pair and starts cmd on its worker side.
//
// The child gets duplicates of the worker as stdin, stdout and stderr,
// becomes a session leader and takes the worker as its controlling
// terminal. The job-control signals are reset to their default action in
// the child even when this process ignores them, and every descriptor other
// than the three standard streams is marked close-on-exec before the fork.
//
// The worker is closed in the parent once the child is running; reads on
// the controller report io.EOF when the shell and all its children have
// let go of it.
func Open(cmd *exec.Cmd) (*Session, error) {
	// creack/pty opens /dev/ptmx, grants and unlocks the worker, resolves
	// its name and opens it with O_NOCTTY.
	controllerFile, workerFile, err := ptylib.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open pty: %w", err)
	}

	controller, err := fd.FromFile(controllerFile)
	controllerFile.Close()
	if err != nil {
		workerFile.Close()
		return nil, fmt.Errorf("failed to take pty controller: %w", err)
	}

	worker, err := fd.FromFile(workerFile)
	workerName := workerFile.Name()
	workerFile.Close()
	if err != nil {
		controller.Close()
		return nil, fmt.Errorf("failed to take pty worker %s: %w", workerName, err)
	}
	defer worker.Close()

	signals := catchJobControlSignals()
	if err := spawn(cmd, worker, workerName); err != nil {
		signal.Stop(signals)
		controller.Close()
		return nil, err
	}

	sess := &Session{
		controller: controller,
		cmd:        cmd,
		signals:    signals,
		done:       make(chan struct{}),
	}
	go sess.wait()

	log.Printf("[PTY] Spawned %s (pid %d) on %s", cmd.Path, cmd.Process.Pid, workerName)
	return sess, nil
}

// spawn starts cmd with the worker as its standard streams and controlling
// terminal. Each stream is a separate duplicate so the worker's own
// lifetime is not tied to the child's use of it.
func spawn(cmd *exec.Cmd, worker *fd.FileDescriptor, workerName string) error {
	streams := make([]*os.File, 0, 3)
	defer func() {
		for _, f := range streams {
			f.Close()
		}
	}()
	for range 3 {
		f, err := worker.File(workerName)
		if err != nil {
			return fmt.Errorf("failed to duplicate pty worker: %w", err)
		}
		streams = append(streams, f)
	}

	cmd.Stdin = streams[0]
	cmd.Stdout = streams[1]
	cmd.Stderr = streams[2]
	cmd.ExtraFiles = nil

	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
	cmd.SysProcAttr.Setctty = true
	cmd.SysProcAttr.Ctty = 0 // fd 0 in the child is the worker

	if err := closeInheritedOnExec(); err != nil {
		return fmt.Errorf("failed to isolate descriptors for %s: %w", cmd.Path, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn %s: %w", cmd.Path, err)
	}
	return nil
}
