/*
Package journeys executes patient journeys: directed flowcharts of MESSAGE, DELAY and CONDITIONAL steps applied to a patient, one step at a time, through a job queue.

# Concept

A journey is a graph of typed nodes with a designated start node. Triggering a journey for a patient creates a run. The engine enqueues the run's current node, a worker claims it, executes the node's effect, records the step in the run's trace and enqueues the successor. Delays are expressed as scheduled deliveries, so no worker ever sleeps.

Every run has an append-only trace (status, current node and the ordered steps with their results) that can be queried at any time.

# Key Features

  - Stateless workers: each delivery carries only the run id, journey id, current node and patient. The definition is re-read on every step.
  - Pluggable adapters: journey stores (memory, Redis, SQLite, filesystem), trace stores (memory, Redis, SQLite) and queues (memory, Redis).
  - Deterministic conditions: CONDITIONAL nodes compare a patient field with a literal using one of the operators in domain.Operators.
  - Observability: lifecycle hooks for runs and steps, with Prometheus and slog implementations in pkg/observability.

# Usage

	package main

	import (
		"context"
		"log"

		"github.com/aretw0/journeys"
		"github.com/aretw0/journeys/pkg/domain"
	)

	func main() {
		eng, err := journeys.New(journeys.WithJourneys(&domain.Journey{
			ID:          "hello",
			Name:        "Hello",
			StartNodeID: "greet",
			Nodes: []domain.Node{
				&domain.MessageNode{ID: "greet", Message: "Hello!"},
			},
		}))
		if err != nil {
			log.Fatal(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go eng.Run(ctx) // worker pool

		runID, err := eng.Trigger(ctx, "hello", domain.PatientContext{
			ID: "p-1", Age: 70, Language: domain.LanguageEnglish, Condition: domain.ProcedureHipReplacement,
		})
		if err != nil {
			log.Fatal(err)
		}
		trace, err := eng.Wait(ctx, runID)
		if err != nil {
			log.Fatal(err)
		}
		log.Println(trace.Status)
	}
*/
package journeys
