package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/aretw0/journeys/internal/cli"
	"github.com/aretw0/journeys/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Exposes journeys to AI agents as MCP tools (create_journey, trigger_journey,
get_run_status, get_run_trace, get_journey_graph) and resources (journeys://list).

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.

With --workers, the worker pool runs in the same process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		transport, _ := cmd.Flags().GetString("transport")
		port, _ := cmd.Flags().GetInt("port")
		withWorkers, _ := cmd.Flags().GetBool("workers")

		ctx := cli.NewSignalContext(context.Background())
		defer ctx.Cancel()
		if withWorkers {
			go func() {
				if err := app.RunWorkers(ctx); err != nil {
					app.Logger.Error("workers stopped", "err", err)
				}
			}()
		}

		srv := mcp.NewServer(app.Engine, mcp.WithLogger(app.Logger))
		switch transport {
		case "stdio":
			// Keep stray log output off the JSON-RPC stream.
			log.SetOutput(os.Stderr)
			app.Logger.Info("starting mcp server (stdio)")
			return srv.ServeStdio()
		case "sse":
			addr := fmt.Sprintf(":%d", port)
			return srv.ServeSSE(ctx, addr, fmt.Sprintf("http://localhost:%d", port))
		default:
			return fmt.Errorf("unknown transport: %s. Supported: stdio, sse", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().Int("port", 8080, "Port to listen on (only for SSE)")
	mcpCmd.Flags().Bool("workers", false, "Run the worker pool in this process")
}
