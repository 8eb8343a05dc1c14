package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dusk-indust/circuitloop/internal/export"
	"github.com/dusk-indust/circuitloop/internal/orchestrator"
	"github.com/dusk-indust/circuitloop/internal/remote"
	"github.com/dusk-indust/circuitloop/internal/session"
)

type convergeFlags struct {
	sessionID string
	budget    int
	asJSON    bool
	write     bool
	preview   string
	server    string
	quiet     bool
}

func newConvergeCmd(a *app) *cobra.Command {
	var f convergeFlags
	cmd := &cobra.Command{
		Use:   "converge FILE",
		Short: "Compile, review and repair a design until it is exportable",
		Long: `Runs the convergence loop on FILE. Progress is printed to stderr as
the loop moves through its states. The command fails unless the run
converged with no blocking diagnostics left.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if f.server != "" {
				return a.convergeRemote(ctx, args[0], f)
			}
			return a.convergeLocal(ctx, args[0], f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.sessionID, "session", "", "session ID (default: a new random ID)")
	fl.IntVar(&f.budget, "budget", 0, "attempt budget (default from config)")
	fl.BoolVar(&f.asJSON, "json", false, "print the run report as JSON")
	fl.BoolVar(&f.write, "write", false, "write the repaired source back to FILE")
	fl.StringVar(&f.preview, "preview", "", "write the manufacturing preview to this path")
	fl.StringVar(&f.server, "server", "", "run on a circuitloop server at this URL instead of locally")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "suppress progress lines")
	return cmd
}

func (a *app) convergeLocal(ctx context.Context, path string, f convergeFlags) error {
	src, err := readSource(path)
	if err != nil {
		return err
	}
	id := f.sessionID
	if id == "" {
		id = uuid.NewString()
	}

	store, err := a.sessions()
	if err != nil {
		return err
	}
	defer store.Close()

	bl, err := baseline(ctx, store, id)
	if err != nil {
		a.logger.Warn("session lookup failed", "session_id", id, "error", err)
	}

	cfg := a.cfg.Loop
	if f.budget > 0 {
		cfg.AttemptBudget = f.budget
	}
	ctrl := a.controller(cfg, a.collaborators())

	em := orchestrator.NewEmitter(
		orchestrator.WithSessionID(id),
		orchestrator.WithEmitterLogger(a.logger),
	)
	if !f.quiet {
		em.Subscribe(func(ev orchestrator.Event) {
			fmt.Fprintln(a.errOut, orchestrator.FormatEvent(ev))
		})
	}

	res := ctrl.Run(ctx, orchestrator.Request{
		SessionID:  id,
		Source:     src,
		SessionDir: a.cfg.Session.Dir,
		Baseline:   bl,
	}, em)

	if res.Outcome == orchestrator.OutcomeConverged {
		if err := session.RecordConverged(ctx, store, id, res.Circuit, res.Source, res.Findings()); err != nil {
			a.logger.Warn("session not updated", "session_id", id, "error", err)
		}
	}
	if f.write && res.Source != "" && res.Source != src {
		if err := os.WriteFile(path, []byte(res.Source), 0o644); err != nil {
			return fmt.Errorf("write design: %w", err)
		}
	}
	if f.preview != "" && res.Preview != nil {
		if err := os.WriteFile(f.preview, []byte(res.Preview.Content), 0o644); err != nil {
			return fmt.Errorf("write preview: %w", err)
		}
	}

	if f.asJSON {
		if err := export.WriteJSON(a.out, export.BuildReport(res)); err != nil {
			return err
		}
	} else {
		printOutcome(a, id, res.Summary)
	}

	if res.Err != nil {
		return fmt.Errorf("converge: %w", res.Err)
	}
	return export.Gate(res.Summary)
}

func (a *app) convergeRemote(ctx context.Context, path string, f convergeFlags) error {
	src, err := readSource(path)
	if err != nil {
		return err
	}
	id := f.sessionID
	if id == "" {
		id = uuid.NewString()
	}

	obs := remote.NewObserver(f.server, nil)
	started, err := obs.Start(ctx, remote.StartRunRequest{SessionID: id, Source: src})
	if err != nil {
		return err
	}
	a.logger.Info("run started", "run_id", started.ID, "server", f.server)

	if err := a.follow(ctx, obs, started.ID, 0, f.quiet); err != nil {
		if errors.Is(err, context.Canceled) {
			_ = obs.Cancel(context.WithoutCancel(ctx), started.ID)
		}
		return err
	}

	info, err := obs.Get(ctx, started.ID)
	if err != nil {
		return err
	}
	if f.write && info.Source != "" && info.Source != src {
		if err := os.WriteFile(path, []byte(info.Source), 0o644); err != nil {
			return fmt.Errorf("write design: %w", err)
		}
	}
	if f.asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(info); err != nil {
			return err
		}
	} else if info.Summary != nil {
		printOutcome(a, id, *info.Summary)
	}

	if info.Error != "" {
		return fmt.Errorf("converge: %s", info.Error)
	}
	if info.Summary == nil {
		return fmt.Errorf("converge: run %s ended without a summary", started.ID)
	}
	return export.Gate(*info.Summary)
}

// follow prints a run's events until its terminal event.
func (a *app) follow(ctx context.Context, obs *remote.Observer, runID string, after int, quiet bool) error {
	ch, err := obs.Watch(ctx, runID, after)
	if err != nil {
		return err
	}
	for ev := range ch {
		if ev.Err != nil {
			a.logger.Warn("skipping malformed event", "run_id", runID, "error", ev.Err)
			continue
		}
		if !quiet {
			fmt.Fprintln(a.errOut, orchestrator.FormatEvent(ev.Event()))
		}
	}
	return ctx.Err()
}

func printOutcome(a *app, sessionID string, s orchestrator.FinalSummary) {
	fmt.Fprintf(a.out, "session %s: %s after %d attempt(s), readiness %d\n",
		sessionID, s.Outcome, s.AttemptsUsed, s.ReadinessScore)
	for _, b := range s.UnresolvedBlockers {
		fmt.Fprintf(a.out, "  blocking: %s\n", b)
	}
}
