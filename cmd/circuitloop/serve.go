package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/circuitloop/internal/mcptools"
	"github.com/dusk-indust/circuitloop/internal/remote"
	"github.com/dusk-indust/circuitloop/internal/source"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		addr          string
		collaborators bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the runs API, event streams and collaborator RPC over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc := a.cfg.Server
			if cmd.Flags().Changed("addr") {
				sc.Addr = addr
			}
			if cmd.Flags().Changed("collaborators") {
				sc.ServeCollaborators = collaborators
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := a.sessions()
			if err != nil {
				return err
			}
			defer store.Close()

			opts := []remote.ServerOption{
				remote.WithSessions(store),
				remote.WithServerLogger(a.logger),
				remote.WithKeepAlive(sc.KeepAlive),
				remote.WithRunRetention(sc.RunTTL, sc.MaxRuns),
			}
			if sc.ServeCollaborators {
				l := a.local()
				opts = append(opts, remote.WithCollaborators(l.compiler, l.reviewer, l.previewer))
			}

			srv := remote.NewServer(a.controller(a.cfg.Loop, a.collaborators()), opts...)
			if err := srv.Start(ctx, sc.Addr); err != nil {
				return err
			}
			fmt.Fprintf(a.errOut, "circuitloop %s listening on http://%s\n", version, srv.Addr())

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&collaborators, "collaborators", false, "expose the local compiler, reviewer and previewer at /rpc")
	return cmd
}

func newServeMCPCmd(a *app) *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "serve-mcp",
		Short: "Run as an MCP server on stdio or streamable HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := a.sessions()
			if err != nil {
				return err
			}
			defer store.Close()

			cs := a.collaborators()
			svc := mcptools.NewService(mcptools.Deps{
				Config:    a.cfg.Loop,
				Compiler:  cs.compiler,
				Reviewer:  cs.reviewer,
				Previewer: cs.previewer,
				Syntax:    source.NewTreeSitterChecker(),
				Sessions:  store,
				Logger:    a.logger,
			})
			server := mcptools.NewMCPServer(svc)

			if httpAddr != "" {
				a.logger.Info("serving MCP over HTTP", "addr", httpAddr)
				return mcptools.ServeHTTP(ctx, server, httpAddr)
			}
			return mcptools.RunStdio(ctx, server)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve streamable HTTP on this address instead of stdio")
	return cmd
}
