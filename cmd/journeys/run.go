package main

import (
	"fmt"

	"github.com/aretw0/journeys/internal/cli"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Inspect and manage runs",
}

var runStatusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Print the status of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		status, err := app.Engine.RunStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return cli.WriteJSON(cmd.OutOrStdout(), status)
	},
}

var runTraceCmd = &cobra.Command{
	Use:   "trace <run-id>",
	Short: "Print the execution trace of a run",
	Long:  `Prints the trace as a rendered Markdown report on a terminal and as JSON otherwise.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		trace, err := app.Engine.RunTrace(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		return cli.WriteTrace(cmd.OutOrStdout(), trace, output)
	},
}

var runListCmd = &cobra.Command{
	Use:   "list <journey-id>",
	Short: "List the runs of a journey",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		runs, err := app.Engine.ListRuns(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, id := range runs {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

var runAbandonCmd = &cobra.Command{
	Use:   "abandon <run-id>",
	Short: "Close an in-progress run as failed",
	Long: `Marks a run whose step can no longer progress (unknown operator, deleted node,
dead-lettered delivery) as failed. Runs never fail on their own.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.Engine.AbandonRun(cmd.Context(), args[0]); err != nil {
			return err
		}
		cli.PrintSystemMessage(cmd.OutOrStdout(), "run %q abandoned", args[0])
		return nil
	},
}

func init() {
	runTraceCmd.Flags().StringP("output", "o", cli.OutputAuto, "Output format: auto, json or markdown")

	runCmd.AddCommand(runStatusCmd, runTraceCmd, runListCmd, runAbandonCmd)
	rootCmd.AddCommand(runCmd)
}
