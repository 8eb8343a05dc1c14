package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/circuitloop/internal/rebuild"
)

func newRebuildCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild FILE",
		Short: "Print trace statements synthesized from net intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			src, err := readSource(args[0])
			if err != nil {
				return err
			}
			res := rebuild.Rebuild(src)
			if res.Reason != "" {
				return fmt.Errorf("rebuild: %s", res.Reason)
			}
			for _, s := range res.Statements() {
				fmt.Fprintln(a.out, s)
			}
			return nil
		},
	}
}
