package ports

import (
	"context"

	"github.com/aretw0/journeys/pkg/domain"
)

// Message is the content of a MESSAGE node addressed to a patient.
type Message struct {
	RunID     string
	JourneyID string
	NodeID    string
	Patient   domain.PatientContext
	Text      string
	// DedupeKey is stable across redeliveries of the same step ("runId:nodeId").
	DedupeKey string
}

// Messenger delivers messages to patients.
type Messenger interface {
	Send(ctx context.Context, msg Message) error
}
