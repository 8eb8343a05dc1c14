package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/circuitloop/internal/circuit"
	"github.com/dusk-indust/circuitloop/internal/export"
	"github.com/dusk-indust/circuitloop/internal/graph"
)

func newDiagramCmd(a *app) *cobra.Command {
	var (
		storeKind string
		dbPath    string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "diagram FILE",
		Short: "Compile a design and render its connectivity as Mermaid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src, err := readSource(args[0])
			if err != nil {
				return err
			}
			c, err := a.collaborators().compiler.Compile(ctx, circuit.Request{Source: src})
			if err != nil {
				return fmt.Errorf("diagram: compile: %w", err)
			}

			store, err := openGraphStore(storeKind, dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := graph.Load(ctx, store, c); err != nil {
				return fmt.Errorf("diagram: load graph: %w", err)
			}
			text, err := export.GenerateMermaid(ctx, store)
			if err != nil {
				return fmt.Errorf("diagram: %w", err)
			}

			if output == "" {
				_, err = fmt.Fprint(a.out, text)
				return err
			}
			if err := os.WriteFile(output, []byte(text), 0o644); err != nil {
				return fmt.Errorf("diagram: write %s: %w", output, err)
			}
			a.logger.Info("diagram written", "path", output)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&storeKind, "store", "mem", "graph store: mem or kuzu")
	fl.StringVar(&dbPath, "db", "", "kuzu database directory (default: in-memory)")
	fl.StringVarP(&output, "output", "o", "", "write the diagram to this file instead of stdout")
	return cmd
}
