package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/PiranhaCodes/ptymux/internal/api"
	"github.com/PiranhaCodes/ptymux/internal/mux"
	"github.com/PiranhaCodes/ptymux/internal/pty"
	"github.com/PiranhaCodes/ptymux/internal/socket"
)

func newServerCmd(opts *rootOptions) *cobra.Command {
	var shell string
	cmd := &cobra.Command{
		Use:   "server <name>",
		Short: "Start a shell session and serve it on a named socket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if shell != "" {
				opts.config.Shell = shell
			}
			return runServer(cmd.Context(), opts, args[0])
		},
	}
	cmd.Flags().StringVar(&shell, "shell", "", "shell to run (overrides config)")
	return cmd
}

func runServer(parent context.Context, opts *rootOptions, name string) error {
	cfg := opts.config
	dataPath, ctlPath, err := opts.paths(name)
	if err != nil {
		return err
	}

	shell, err := pty.DetectShell(cfg.Shell)
	if err != nil {
		return err
	}

	unlock, err := socket.Lock(cfg.RuntimeDir, name)
	if err != nil {
		return err
	}
	defer unlock()

	ln, err := socket.Bind(dataPath)
	if err != nil {
		return fmt.Errorf("bind %s: %w", dataPath, err)
	}
	defer ln.Close()

	ctlLn, err := socket.Bind(ctlPath)
	if err != nil {
		return fmt.Errorf("bind %s: %w", ctlPath, err)
	}
	defer ctlLn.Close()

	// Subscribe before the shell is forked. The session also catches SIGHUP
	// while it runs, so a hangup of the daemon has to stop it here.
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	shellCmd := exec.Command(shell, cfg.ShellArgs...)
	shellCmd.Env = append(os.Environ(), "PTYMUX_SESSION="+name)
	sess, err := pty.Open(shellCmd)
	if err != nil {
		return fmt.Errorf("start %s: %w", shell, err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Printf("[PTY] Session teardown: %v", err)
		}
	}()

	if err := sess.Resize(pty.Size{Rows: cfg.Rows, Cols: cfg.Cols}); err != nil {
		log.Printf("[PTY] Failed to set initial size %dx%d: %v", cfg.Cols, cfg.Rows, err)
	}

	srv := mux.NewServer(sess, mux.Options{
		PollInterval: cfg.PollInterval,
		QueueDepth:   cfg.QueueDepth,
		ReadBuffer:   cfg.ReadBuffer,
	})

	ctlCtx, cancelCtl := context.WithCancel(ctx)
	ctlDone := make(chan error, 1)
	go func() {
		ctlDone <- api.NewServer(name, sess, srv).Serve(ctlCtx, ctlLn)
	}()

	log.Printf("[PTYMUX] Session %s serving %s (pid %d) on %s", name, shell, sess.Pid(), dataPath)
	err = srv.Serve(ctx, ln)

	cancelCtl()
	if ctlErr := <-ctlDone; ctlErr != nil {
		log.Printf("[API] Control socket: %v", ctlErr)
	}

	if closeErr := sess.Close(); closeErr != nil {
		log.Printf("[PTY] Session teardown: %v", closeErr)
	}
	log.Printf("[PTYMUX] Session %s stopped (shell %s)", name, describeExit(sess.Wait()))

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// describeExit renders the shell's exit for the stop log line.
func describeExit(err error) string {
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return "exit status 0"
	case errors.As(err, &exitErr):
		return exitErr.ProcessState.String()
	default:
		return err.Error()
	}
}
