package main

import (
	"context"
	"os"

	"github.com/aretw0/journeys/internal/cli"
	"github.com/aretw0/journeys/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the workers",
	Long: `Starts the HTTP API (journeys, triggers, run status and traces, /metrics) and,
unless --no-workers is set, a worker pool consuming the run queue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = app.Config.HTTP.Addr
		}
		noWorkers, _ := cmd.Flags().GetBool("no-workers")

		if cli.IsTerminal(os.Stderr) {
			tui.PrintBanner(os.Stderr)
		}
		ctx := cli.NewSignalContext(context.Background())
		defer ctx.Cancel()

		err = app.Serve(ctx, addr, !noWorkers)
		if sig := ctx.Signal(); sig != nil {
			app.Logger.Info("shutdown complete", "signal", sig.String())
		}
		return err
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the worker pool only",
	Long:  `Consumes the run queue until interrupted. Use with a shared queue backend (redis).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := cli.NewSignalContext(context.Background())
		defer ctx.Cancel()
		return app.RunWorkers(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, workerCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (default from config, :5000)")
	serveCmd.Flags().Bool("no-workers", false, "Serve the API without consuming the queue")
}
