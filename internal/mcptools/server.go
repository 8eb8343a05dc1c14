package mcptools

import (
	"context"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// NewMCPServer creates an MCP server with the four circuitloop tools
// registered.
func NewMCPServer(svc *Service) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "circuitloop",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "preflight_source",
		Description: "Check design source for connectivity defects before compiling: traces with a missing endpoint, selectors naming unknown components or pins, and parse errors. Returns classified diagnostics.",
	}, svc.PreflightSource)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "rebuild_traces",
		Description: "Synthesize trace statements from the net intent declared in component connections maps. Returns the traces in deterministic order, or a reason when no intent exists.",
	}, svc.RebuildTraces)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "classify_diagnostics",
		Description: "Classify raw findings into auto-fixable, should-demote and must-repair families, taking earlier attempts into account, and select the repair strategy when anything blocks.",
	}, svc.ClassifyDiagnostics)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "converge_design",
		Description: "Run the validate-and-repair loop on a design until it converges or the attempt budget is spent. Returns the final summary, the strategies applied, a progress log and the repaired source.",
	}, svc.ConvergeDesign)

	return server
}

// RunStdio runs the MCP server on stdio transport, blocking until stdin is
// closed or the context is cancelled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// ServeHTTP exposes the MCP server over streamable HTTP on addr until ctx
// is cancelled.
func ServeHTTP(ctx context.Context, server *mcp.Server, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
