package bus

import (
	"context"
	"time"
)

// MetricsRecorder receives bus activity. *metrics.Metrics satisfies it;
// the interface lives here so bus does not import metrics.
type MetricsRecorder interface {
	RecordBusPublish(topic string, latency time.Duration, err error)
	RecordBusDelivery(topic string, err error)
}

// InstrumentedBus reports publishes and handler deliveries of another Bus.
type InstrumentedBus struct {
	inner    Bus
	recorder MetricsRecorder
}

// NewInstrumentedBus wraps inner. A nil recorder turns instrumentation off.
func NewInstrumentedBus(inner Bus, recorder MetricsRecorder) *InstrumentedBus {
	return &InstrumentedBus{inner: inner, recorder: recorder}
}

// Publish forwards to the wrapped bus and records latency and outcome.
func (b *InstrumentedBus) Publish(ctx context.Context, topic string, event Event) error {
	start := time.Now()
	err := b.inner.Publish(ctx, topic, event)
	if b.recorder != nil {
		b.recorder.RecordBusPublish(topic, time.Since(start), err)
	}
	return err
}

// Subscribe registers handler so that every delivery, and whether the
// handler failed, is recorded against the topic.
func (b *InstrumentedBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	if b.recorder == nil {
		return b.inner.Subscribe(ctx, topic, handler)
	}
	return b.inner.Subscribe(ctx, topic, func(ctx context.Context, event Event) error {
		err := handler(ctx, event)
		b.recorder.RecordBusDelivery(topic, err)
		return err
	})
}

// Close closes the wrapped bus.
func (b *InstrumentedBus) Close() error {
	return b.inner.Close()
}
