package evaluation

import (
	"context"
	"fmt"

	"github.com/ricesearch/tsrr/internal/bus"
)

// RunEventHandlers receive decoded run events. Either field may be nil.
type RunEventHandlers struct {
	Completed func(ctx context.Context, ev CompletedEvent)
	Failed    func(ctx context.Context, ev FailedEvent)
}

// SubscribeRunEvents subscribes h to the evaluation topics on b.
func SubscribeRunEvents(ctx context.Context, b bus.Bus, h RunEventHandlers) error {
	if h.Completed != nil {
		err := b.Subscribe(ctx, bus.TopicEvaluationCompleted, func(ctx context.Context, event bus.Event) error {
			var ev CompletedEvent
			if err := bus.DecodePayload(event, &ev); err != nil {
				return fmt.Errorf("decoding completed event %s: %w", event.ID, err)
			}
			h.Completed(ctx, ev)
			return nil
		})
		if err != nil {
			return err
		}
	}

	if h.Failed != nil {
		err := b.Subscribe(ctx, bus.TopicEvaluationFailed, func(ctx context.Context, event bus.Event) error {
			var ev FailedEvent
			if err := bus.DecodePayload(event, &ev); err != nil {
				return fmt.Errorf("decoding failed event %s: %w", event.ID, err)
			}
			h.Failed(ctx, ev)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
