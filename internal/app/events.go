/**
 * @description
 * Shared cycle plumbing: outcome event publishing, per-cycle counters and the
 * pause between items.
 */
package app

import (
	"context"
	"log/slog"
	"time"
)

// EventPublisher defines the interface for publishing internal events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// EventNotifier fans an event out to the merchant's webhook endpoints.
type EventNotifier interface {
	Trigger(ctx context.Context, merchantID, eventType string, data interface{}) error
}

// CycleStats summarizes one processing cycle.
type CycleStats struct {
	Selected  int           `json:"selected"`
	Succeeded int           `json:"succeeded"`
	Retried   int           `json:"retried"`
	Failed    int           `json:"failed"`
	Errors    int           `json:"errors"`
	Duration  time.Duration `json:"duration"`
}

func (s *CycleStats) record(t Transition, err error) {
	if err != nil {
		s.Errors++
		return
	}
	switch t {
	case TransitionAdvance:
		s.Succeeded++
	case TransitionRetry:
		s.Retried++
	case TransitionTerminal:
		s.Failed++
	}
}

func publish(ctx context.Context, publisher EventPublisher, logger *slog.Logger, exchange, routingKey string, body interface{}) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, exchange, routingKey, body); err != nil {
		logger.Warn("failed to publish event", "routing_key", routingKey, "error", err)
	}
}

// pause waits d between items. A zero delay returns immediately.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
