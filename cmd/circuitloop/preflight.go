package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/circuitloop/internal/classify"
	"github.com/dusk-indust/circuitloop/internal/preflight"
	"github.com/dusk-indust/circuitloop/internal/source"
)

func newPreflightCmd(a *app) *cobra.Command {
	var asJSON, noSyntax bool
	cmd := &cobra.Command{
		Use:   "preflight FILE",
		Short: "Check a design source without compiling it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(args[0])
			if err != nil {
				return err
			}
			an := &preflight.Analyzer{Logger: a.logger}
			if !noSyntax {
				an.Syntax = source.NewTreeSitterChecker()
			}
			cls := classify.Classify(an.Run(cmd.Context(), src), classify.History{})

			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(cls.Diagnostics); err != nil {
					return err
				}
			} else {
				for _, d := range cls.Diagnostics {
					fmt.Fprintln(a.out, d.String())
				}
			}

			if n := cls.BlockingCount(); n > 0 {
				return fmt.Errorf("preflight: %d blocking diagnostic(s)", n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print diagnostics as JSON")
	cmd.Flags().BoolVar(&noSyntax, "no-syntax", false, "skip the full-grammar syntax gate")
	return cmd
}
