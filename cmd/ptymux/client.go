package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/PiranhaCodes/ptymux/internal/api"
	"github.com/PiranhaCodes/ptymux/internal/client"
	"github.com/PiranhaCodes/ptymux/internal/socket"
)

// exitNotice is printed whenever an attached client returns, however the
// session ended.
const exitNotice = "[ptymux: detached]"

func newClientCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "client <name>",
		Aliases: []string{"attach"},
		Short:   "Attach this terminal to a running session",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context(), opts, args[0])
		},
	}
}

func runClient(parent context.Context, opts *rootOptions, name string) error {
	dataPath, ctlPath, err := opts.paths(name)
	if err != nil {
		return err
	}
	conn, err := socket.Dial(dataPath)
	if err != nil {
		return fmt.Errorf("connect to session %s: %w", name, err)
	}

	stdin := int(os.Stdin.Fd())
	restore, err := client.MakeRaw(stdin)
	if err != nil {
		conn.Close()
		return fmt.Errorf("raw mode: %w", err)
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	fmt.Fprint(os.Stdout, client.ClearScreen)

	stdout := int(os.Stdout.Fd())
	if term.IsTerminal(stdout) {
		go client.WatchResize(ctx, client.TerminalSize(stdout), func(rows, cols uint16) error {
			return api.Resize(ctlPath, rows, cols)
		}, nil)
	}

	err = client.Attach(ctx, conn, os.Stdin, os.Stdout)
	restore()
	fmt.Fprintf(os.Stdout, "\r\n%s\r\n", exitNotice)
	return err
}
