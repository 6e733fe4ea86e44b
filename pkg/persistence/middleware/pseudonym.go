package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/aretw0/journeys/pkg/domain"
	"github.com/aretw0/journeys/pkg/ports"
)

// MinKeyLength is the shortest key NewPseudonymizer accepts.
const MinKeyLength = 16

type pseudonymizer struct {
	ports.TraceStore
	key []byte
}

// NewPseudonymizer creates a middleware that replaces the patient id of every new trace
// with a keyed digest before it is stored. Age, language and condition are kept as is.
//
// The in-flight run keeps the real id, so messages still reach the patient.
// Only the persisted trace, and everything read back from it, carries the pseudonym.
func NewPseudonymizer(key []byte) (Middleware, error) {
	if len(key) < MinKeyLength {
		return nil, fmt.Errorf("%w: pseudonym key must be at least %d bytes", domain.ErrInvalidInput, MinKeyLength)
	}
	k := append([]byte(nil), key...)
	return func(next ports.TraceStore) ports.TraceStore {
		return &pseudonymizer{TraceStore: next, key: k}
	}, nil
}

// Pseudonym returns the stable pseudonym of patientID under key.
func Pseudonym(key []byte, patientID string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(patientID))
	return "p_" + hex.EncodeToString(mac.Sum(nil)[:16])
}

func (m *pseudonymizer) Create(ctx context.Context, trace *domain.Trace) error {
	// Clone to avoid side effects on the caller's trace.
	masked := trace.Clone()
	masked.PatientContext.ID = Pseudonym(m.key, trace.PatientContext.ID)
	return m.TraceStore.Create(ctx, masked)
}
