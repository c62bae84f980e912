package telegraph

import (
	"context"
	"errors"
	"testing"
)

// Compile-time interface compliance check.
var _ Adapter = (*MockAdapter)(nil)

func TestMockAdapter_RecordsSends(t *testing.T) {
	m := NewMockAdapter("mock")
	ctx := context.Background()

	if err := m.Send(ctx, OutboundMessage{Text: "one"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := m.Send(ctx, OutboundMessage{Events: []FormattedEvent{{Title: "two"}}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	sent := m.Sent()
	if len(sent) != 2 || sent[0].Text != "one" {
		t.Errorf("sent = %+v", sent)
	}
	if m.Name() != "mock" {
		t.Errorf("Name = %q", m.Name())
	}
}

func TestMockAdapter_Errors(t *testing.T) {
	m := NewMockAdapter("mock")
	if err := m.Send(context.Background(), OutboundMessage{}); err == nil {
		t.Error("empty message should fail")
	}
	m.SetSendError(errors.New("boom"))
	if err := m.Send(context.Background(), OutboundMessage{Text: "x"}); err == nil {
		t.Error("expected injected error")
	}
	if len(m.Sent()) != 0 {
		t.Errorf("sent = %d, want 0", len(m.Sent()))
	}
}
