package memory

import (
	"context"
	"sync"

	"github.com/aretw0/journeys/pkg/ports"
)

// Messenger implements ports.Messenger by recording messages in memory.
// A message whose DedupeKey was already sent is dropped.
type Messenger struct {
	mu   sync.Mutex
	sent []ports.Message
	seen map[string]bool
}

// NewMessenger creates an empty recording messenger.
func NewMessenger() *Messenger {
	return &Messenger{seen: make(map[string]bool)}
}

// Send records msg unless its dedupe key was already seen.
func (m *Messenger) Send(ctx context.Context, msg ports.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.DedupeKey != "" {
		if m.seen[msg.DedupeKey] {
			return nil
		}
		m.seen[msg.DedupeKey] = true
	}
	m.sent = append(m.sent, msg)
	return nil
}

// Sent returns a copy of every delivered message in order.
func (m *Messenger) Sent() []ports.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.Message(nil), m.sent...)
}
