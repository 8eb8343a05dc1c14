package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dusk-indust/circuitloop/internal/circuit"
	"github.com/dusk-indust/circuitloop/internal/compile"
	"github.com/dusk-indust/circuitloop/internal/export"
	"github.com/dusk-indust/circuitloop/internal/orchestrator"
	"github.com/dusk-indust/circuitloop/internal/remote"
	"github.com/dusk-indust/circuitloop/internal/review"
	"github.com/dusk-indust/circuitloop/internal/session"
	"github.com/dusk-indust/circuitloop/internal/source"
)

// collaborators holds the compiler, reviewer and previewer a loop runs
// against.
type collaborators struct {
	compiler  circuit.Compiler
	reviewer  circuit.Reviewer
	previewer circuit.Previewer
}

// local returns the in-process collaborators.
func (a *app) local() collaborators {
	return collaborators{
		compiler:  compile.Local{},
		reviewer:  &review.RuleReviewer{Rules: a.cfg.Review, Logger: a.logger},
		previewer: export.BOM{},
	}
}

// collaborators returns the remote collaborators when an endpoint is
// configured, and the in-process ones otherwise.
func (a *app) collaborators() collaborators {
	cc := a.cfg.Collaborator
	if cc.Endpoint == "" {
		return a.local()
	}
	client := remote.NewClient(cc.Endpoint,
		remote.WithTimeout(cc.Timeout),
		remote.WithRetry(cc.MaxTries, 200*time.Millisecond),
		remote.WithClientLogger(a.logger),
	)
	a.logger.Info("using remote collaborators", "endpoint", cc.Endpoint)
	return collaborators{compiler: client, reviewer: client, previewer: client}
}

// sessions opens the configured session store.
func (a *app) sessions() (session.Store, error) {
	sc := a.cfg.Session
	if sc.Dir == "" {
		return session.NewMemStore(sc.TTL), nil
	}
	store, err := session.OpenBadger(session.BadgerOptions{
		Path:   sc.Dir,
		TTL:    sc.TTL,
		Logger: a.logger,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (a *app) controller(cfg orchestrator.Config, cs collaborators) *orchestrator.Controller {
	return orchestrator.New(cfg, cs.compiler, cs.reviewer,
		orchestrator.WithPreviewer(cs.previewer),
		orchestrator.WithSyntaxChecker(source.NewTreeSitterChecker()),
		orchestrator.WithLogger(a.logger),
	)
}

// baseline returns the session's last converged circuit, or nil.
func baseline(ctx context.Context, store session.Store, id string) (*circuit.Circuit, error) {
	sc, ok, err := store.Get(ctx, id)
	if err != nil || !ok {
		return nil, err
	}
	return sc.LastConverged, nil
}

func readSource(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read design: %w", err)
	}
	return string(data), nil
}
