package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/PiranhaCodes/ptymux/internal/api"
	"github.com/PiranhaCodes/ptymux/internal/socket"
)

func newListCmd(opts *rootOptions) *cobra.Command {
	var showClients bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions in the runtime directory",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := socket.List(opts.config.RuntimeDir)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPID\tSIZE\tCLIENTS")
			for _, name := range names {
				status, err := api.Status(socket.ControlPath(opts.config.RuntimeDir, name))
				if err != nil {
					fmt.Fprintf(w, "%s\t-\t-\tunreachable\n", name)
					continue
				}
				fmt.Fprintf(w, "%s\t%d\t%dx%d\t%d\n", name, status.Pid, status.Cols, status.Rows, status.Count)
				if showClients {
					for _, c := range status.Clients {
						fmt.Fprintf(w, "  %s\t\t%s\tsince %s\n", c.ID, c.State, c.ConnectedAt.Format(time.Kitchen))
					}
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVarP(&showClients, "clients", "c", false, "also list each session's attached clients")
	return cmd
}

func newDetachCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "detach <name> <client-id>",
		Short: "Disconnect one client from a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, ctlPath, err := opts.paths(args[0])
			if err != nil {
				return err
			}
			if err := api.Detach(ctlPath, args[1]); err != nil {
				return fmt.Errorf("detach %s from %s: %w", args[1], args[0], err)
			}
			return nil
		},
	}
}

func newKillCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "kill <name>",
		Short: "Stop a running session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, ctlPath, err := opts.paths(args[0])
			if err != nil {
				return err
			}
			if err := api.Kill(ctlPath); err != nil {
				return fmt.Errorf("kill %s: %w", args[0], err)
			}
			fmt.Fprintf(os.Stderr, "session %s stopping\n", args[0])
			return nil
		},
	}
}
