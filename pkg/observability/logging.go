package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/journeys/pkg/domain"
)

// LoggingHooks returns lifecycle hooks that write one audit line per event.
func LoggingHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnRunStart: func(ctx context.Context, e *domain.RunEvent) {
			logger.InfoContext(ctx, string(e.Type), "run_id", e.RunID, "journey_id", e.JourneyID)
		},
		OnStepBegin: func(ctx context.Context, e *domain.StepEvent) {
			logger.DebugContext(ctx, string(e.Type),
				"run_id", e.RunID, "node_id", e.NodeID, "node_type", e.NodeType, "seq", e.Seq)
		},
		OnStepFinish: func(ctx context.Context, e *domain.StepEvent) {
			logger.InfoContext(ctx, string(e.Type),
				"run_id", e.RunID, "node_id", e.NodeID, "node_type", e.NodeType,
				"seq", e.Seq, "duration", e.Duration)
		},
		OnStepError: func(ctx context.Context, e *domain.StepEvent) {
			logger.WarnContext(ctx, string(e.Type),
				"run_id", e.RunID, "node_id", e.NodeID, "kind", e.Kind, "err", e.Err)
		},
		OnRunComplete: func(ctx context.Context, e *domain.RunEvent) {
			logger.InfoContext(ctx, string(e.Type), "run_id", e.RunID, "journey_id", e.JourneyID, "status", e.Status)
		},
	}
}
