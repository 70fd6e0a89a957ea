package testsupport

import (
	"context"
	"sync"

	"github.com/Lllllllleong/imageexportflow/internal/mail"
)

// RecordingMailer records every message it is asked to send.
type RecordingMailer struct {
	// FailOn makes the n-th send (1-based) return Err. Zero never fails.
	FailOn int
	Err    error

	mu       sync.Mutex
	attempts int
	sent     []mail.Message
}

func (m *RecordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.FailOn > 0 && m.attempts == m.FailOn {
		return m.Err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// Sent returns the delivered messages in send order.
func (m *RecordingMailer) Sent() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.sent...)
}

// Attempts returns the number of Send calls, failed ones included.
func (m *RecordingMailer) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}
