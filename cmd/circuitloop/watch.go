package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/circuitloop/internal/orchestrator"
	"github.com/dusk-indust/circuitloop/internal/remote"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		server string
		after  int
	)
	cmd := &cobra.Command{
		Use:   "watch RUN_ID",
		Short: "Follow the progress events of a run on a circuitloop server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			obs := remote.NewObserver(server, nil)
			ch, err := obs.Watch(ctx, args[0], after)
			if err != nil {
				return err
			}
			for ev := range ch {
				if ev.Err != nil {
					a.logger.Warn("skipping malformed event", "run_id", args[0], "error", ev.Err)
					continue
				}
				fmt.Fprintf(a.out, "%4d %s\n", ev.Seq, orchestrator.FormatEvent(ev.Event()))
			}
			return ctx.Err()
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://127.0.0.1:8080", "circuitloop server URL")
	cmd.Flags().IntVar(&after, "after", 0, "skip events up to and including this sequence number")
	return cmd
}
