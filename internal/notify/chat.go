package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/conductor/internal/telegraph"
)

// Chat posts selected events to chat platforms: new submissions and failed
// periodic scripts. Only project rooms are considered, so an event sent to
// both the project and manager rooms is posted once.
type Chat struct {
	adapters []telegraph.Adapter
}

// NewChat returns a Chat posting through the given adapters.
func NewChat(adapters ...telegraph.Adapter) *Chat {
	return &Chat{adapters: adapters}
}

// Notify formats the event and posts it to every adapter.
func (c *Chat) Notify(ctx context.Context, room, event string, payload any) error {
	if IsManagerRoom(room) {
		return nil
	}
	evt, ok := format(event, payload)
	if !ok {
		return nil
	}
	msg := telegraph.OutboundMessage{Text: evt.Title, Events: []telegraph.FormattedEvent{evt}}

	var errs []error
	for _, a := range c.adapters {
		if err := a.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("notify: post to %s: %w", a.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func format(event string, payload any) (telegraph.FormattedEvent, bool) {
	switch p := payload.(type) {
	case Submitted:
		if event != EventNewPendingChanges {
			return telegraph.FormattedEvent{}, false
		}
		return telegraph.FormatSubmission(telegraph.Submission{
			Project:      p.Project,
			SubmittedBy:  p.SubmittedBy,
			Role:         p.SubmittedByRole,
			SubmissionID: p.SubmissionID,
			Counts:       p.Counts,
		}), true
	case ScriptRun:
		if p.Passed {
			return telegraph.FormattedEvent{}, false
		}
		return telegraph.FormatScriptRun(telegraph.ScriptRun{
			Project: p.Project,
			Name:    p.Name,
			Passed:  p.Passed,
			Output:  p.Output,
		}), true
	}
	return telegraph.FormattedEvent{}, false
}
