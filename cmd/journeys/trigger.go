package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/journeys/internal/cli"
	"github.com/aretw0/journeys/pkg/domain"
	"github.com/spf13/cobra"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger <journey-id>",
	Short: "Start a run of a journey for a patient",
	Long: `Starts a run and prints its id. The patient is given either as JSON with --patient
or with the individual flags. With --wait, workers run in this process until the run closes
and the trace is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patient, err := patientFromFlags(cmd)
		if err != nil {
			return err
		}

		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		wait, _ := cmd.Flags().GetDuration("wait")
		if wait <= 0 {
			runID, err := app.Engine.Trigger(cmd.Context(), args[0], patient)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), runID)
			return nil
		}

		sig := cli.NewSignalContext(cmd.Context())
		defer sig.Cancel()
		ctx, cancel := context.WithTimeout(sig, wait)
		defer cancel()
		workers := make(chan error, 1)
		go func() { workers <- app.RunWorkers(ctx) }()

		runID, err := app.Engine.Trigger(ctx, args[0], patient)
		if err != nil {
			return err
		}
		trace, waitErr := app.Engine.Wait(ctx, runID)
		cancel()
		if err := <-workers; err != nil {
			return err
		}
		if trace != nil {
			output, _ := cmd.Flags().GetString("output")
			if err := cli.WriteTrace(cmd.OutOrStdout(), trace, output); err != nil {
				return err
			}
		}
		return waitErr
	},
}

func patientFromFlags(cmd *cobra.Command) (domain.PatientContext, error) {
	var p domain.PatientContext
	if raw, _ := cmd.Flags().GetString("patient"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return p, fmt.Errorf("error parsing --patient JSON: %w", err)
		}
		return p, nil
	}
	p.ID, _ = cmd.Flags().GetString("patient-id")
	p.Age, _ = cmd.Flags().GetFloat64("age")
	lang, _ := cmd.Flags().GetString("language")
	p.Language = domain.Language(lang)
	condition, _ := cmd.Flags().GetString("condition")
	p.Condition = domain.Procedure(condition)
	return p, nil
}

func init() {
	triggerCmd.Flags().String("patient", "", `Patient as JSON, e.g. {"id":"p-1","age":70,"language":"en","condition":"hip_replacement"}`)
	triggerCmd.Flags().String("patient-id", "", "Patient id")
	triggerCmd.Flags().Float64("age", 0, "Patient age")
	triggerCmd.Flags().String("language", string(domain.LanguageEnglish), "Patient language: en or es")
	triggerCmd.Flags().String("condition", string(domain.ProcedureHipReplacement), "Patient condition: hip_replacement or knee_replacement")
	triggerCmd.Flags().Duration("wait", 0, "Run workers in-process and wait up to this long for the run to close")
	triggerCmd.Flags().StringP("output", "o", cli.OutputAuto, "Trace output format with --wait: auto, json or markdown")
	triggerCmd.MarkFlagsMutuallyExclusive("patient", "patient-id")

	rootCmd.AddCommand(triggerCmd)
}
