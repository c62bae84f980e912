package telegraph

import (
	"context"
	"fmt"
	"sync"
)

// MockAdapter implements Adapter for testing. It records sent messages.
type MockAdapter struct {
	mu      sync.Mutex
	name    string
	sent    []OutboundMessage
	sendErr error
}

// NewMockAdapter creates a MockAdapter reporting the given platform name.
func NewMockAdapter(name string) *MockAdapter {
	return &MockAdapter{name: name}
}

// Name returns the configured platform name.
func (m *MockAdapter) Name() string { return m.name }

// Send records the outbound message.
func (m *MockAdapter) Send(ctx context.Context, msg OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	if msg.Text == "" && len(msg.Events) == 0 {
		return fmt.Errorf("mock adapter: empty message")
	}
	m.sent = append(m.sent, msg)
	return nil
}

// SetSendError makes subsequent Send calls fail with err.
func (m *MockAdapter) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// Sent returns a copy of all messages sent so far.
func (m *MockAdapter) Sent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
