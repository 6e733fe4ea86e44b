package lambdatransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/aretw0/journeys/internal/logging"
	"github.com/aretw0/journeys/pkg/domain"
)

// Triggerer starts journey runs.
type Triggerer interface {
	Trigger(ctx context.Context, journeyID string, patient domain.PatientContext) (string, error)
}

// TriggerRequest is the body of one SQS record.
type TriggerRequest struct {
	JourneyID string                `json:"journeyId"`
	Patient   domain.PatientContext `json:"patient"`
}

type Handler struct {
	svc    Triggerer
	logger *slog.Logger
}

func NewHandler(svc Triggerer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// HandleSQS triggers one run per record. Records that may succeed on retry are
// reported as batch item failures; malformed records and unknown journeys are
// logged and dropped.
//
// A record whose run was created but whose first step could not be enqueued is
// not redelivered: a retry would start another run. The run id is logged so the
// open trace can be abandoned.
func (h *Handler) HandleSQS(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		runID, err := h.trigger(ctx, rec.Body)
		switch {
		case err == nil:
			h.logger.Info("run triggered", "message_id", rec.MessageId, "run_id", runID)
		case permanent(err):
			h.logger.Warn("dropping trigger", "message_id", rec.MessageId, "err", err)
		case runID != "":
			h.logger.Error("run created but not started", "message_id", rec.MessageId, "run_id", runID, "err", err)
		default:
			h.logger.Error("trigger failed", "message_id", rec.MessageId, "err", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (h *Handler) trigger(ctx context.Context, body string) (string, error) {
	var in TriggerRequest
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return h.svc.Trigger(ctx, in.JourneyID, in.Patient)
}

func permanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrNotFound)
}
