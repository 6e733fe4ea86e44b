package runtime

import (
	"context"
	"log/slog"

	"github.com/aretw0/journeys/pkg/ports"
)

// LogMessenger delivers messages by logging them. It is the engine's default channel.
type LogMessenger struct {
	logger *slog.Logger
}

// NewLogMessenger creates a messenger that writes each message to logger.
func NewLogMessenger(logger *slog.Logger) *LogMessenger {
	return &LogMessenger{logger: logger}
}

func (m *LogMessenger) Send(ctx context.Context, msg ports.Message) error {
	m.logger.InfoContext(ctx, "message sent",
		"run_id", msg.RunID,
		"journey_id", msg.JourneyID,
		"node_id", msg.NodeID,
		"patient_id", msg.Patient.ID,
		"language", msg.Patient.Language,
		"text", msg.Text)
	return nil
}
