package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/journeys/internal/cli"
	"github.com/aretw0/journeys/internal/presentation/graph"
	"github.com/aretw0/journeys/internal/validator"
	"github.com/aretw0/journeys/pkg/adapters/file"
	"github.com/spf13/cobra"
)

var journeyCmd = &cobra.Command{
	Use:     "journey",
	Aliases: []string{"journeys"},
	Short:   "Manage journey definitions",
}

var journeyApplyCmd = &cobra.Command{
	Use:   "apply <file>...",
	Short: "Validate and store journey definitions from JSON or YAML files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			journey, err := file.Decode(data, filepath.Ext(path))
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			id, err := app.Engine.CreateJourney(cmd.Context(), journey)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			cli.PrintSystemMessage(cmd.OutOrStdout(), "journey %q applied from %s", id, path)
			for _, w := range validator.Lint(journey) {
				cli.PrintSystemMessage(cmd.OutOrStdout(), "warning: %s", w)
			}
		}
		return nil
	},
}

var journeyLintCmd = &cobra.Command{
	Use:   "lint <file>...",
	Short: "Check journey files without storing them",
	Long: `Validates each file with the rules applied on create, then reports
nodes that are unreachable or never lead to the end of the journey.
Exits with an error when any file is invalid or has warnings.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		out := cmd.OutOrStdout()
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			journey, err := file.Decode(data, filepath.Ext(path))
			if err == nil {
				err = journey.Validate()
			}
			if err != nil {
				failed++
				fmt.Fprintf(out, "%s: %v\n", path, err)
				continue
			}
			warnings := validator.Lint(journey)
			for _, w := range warnings {
				fmt.Fprintf(out, "%s: %s\n", path, w)
			}
			if len(warnings) > 0 {
				failed++
				continue
			}
			fmt.Fprintf(out, "%s: ok\n", path)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed lint", failed, len(args))
		}
		return nil
	},
}

var journeyGetCmd = &cobra.Command{
	Use:   "get <journey-id>",
	Short: "Print a journey definition as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		journey, err := app.Engine.GetJourney(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return cli.WriteJSON(cmd.OutOrStdout(), journey)
	},
}

var journeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored journeys",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		list, err := app.Engine.ListJourneys(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, j := range list {
			fmt.Fprintf(out, "%s\t%s\t%d nodes\n", j.ID, j.Name, len(j.Nodes))
		}
		return nil
	},
}

var journeyGraphCmd = &cobra.Command{
	Use:   "graph <journey-id>",
	Short: "Export a journey as a Mermaid or Graphviz diagram",
	Long: `Outputs the journey as a Mermaid flowchart (graph TD) or a Graphviz digraph.
With --run, the nodes visited by that run are highlighted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		journey, err := app.Engine.GetJourney(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		var overlay *graph.Overlay
		if runID, _ := cmd.Flags().GetString("run"); runID != "" {
			trace, err := app.Engine.RunTrace(cmd.Context(), runID)
			if err != nil {
				return err
			}
			overlay = graph.OverlayFromTrace(trace)
		}

		format, _ := cmd.Flags().GetString("format")
		var output string
		switch format {
		case "mermaid":
			output = graph.GenerateMermaid(journey, overlay)
		case "dot":
			if output, err = graph.GenerateDOT(journey, overlay); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported format %q (want mermaid or dot)", format)
		}
		fmt.Fprint(cmd.OutOrStdout(), output)
		return nil
	},
}

var journeyDeleteCmd = &cobra.Command{
	Use:   "delete <journey-id>",
	Short: "Remove a journey definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.Engine.DeleteJourney(cmd.Context(), args[0]); err != nil {
			return err
		}
		cli.PrintSystemMessage(cmd.OutOrStdout(), "journey %q deleted", args[0])
		return nil
	},
}

func init() {
	journeyGraphCmd.Flags().String("format", "mermaid", "Diagram format: mermaid or dot")
	journeyGraphCmd.Flags().String("run", "", "Highlight the progress of a run")

	journeyCmd.AddCommand(journeyApplyCmd, journeyLintCmd, journeyGetCmd, journeyListCmd, journeyGraphCmd, journeyDeleteCmd)
	rootCmd.AddCommand(journeyCmd)
}
