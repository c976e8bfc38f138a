/**
 * @description
 * Recurring subscription billing cycle: selects due subscriptions, submits one
 * charge per subscription and records the outcome through the retry state machine.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/subpay/scheduler-service/internal/domain"
)

// BillingCycleName identifies the billing cycle in logs, locks and the ops API.
const BillingCycleName = "billing"

// SubscriptionStore defines the database operations needed by the billing cycle.
type SubscriptionStore interface {
	GetDueSubscriptions(ctx context.Context, now time.Time) ([]domain.Subscription, error)
	RecordChargeSuccess(ctx context.Context, id int64, nextPaymentAt time.Time, signature string) error
	RecordChargeRetry(ctx context.Context, id int64, retryCount int, nextPaymentAt time.Time, diagnostic string) error
	RecordChargeFailure(ctx context.Context, id int64, retryCount int, diagnostic string) error
}

// BillingOptions tunes the billing cycle.
type BillingOptions struct {
	Policy    BillingRetryPolicy
	ItemDelay time.Duration
	Exchange  string
}

// BillingCycle contains the logic for the recurring charge job.
type BillingCycle struct {
	store     SubscriptionStore
	submitter ChargeSubmitter
	notifier  EventNotifier
	publisher EventPublisher
	opts      BillingOptions
	logger    *slog.Logger
	now       func() time.Time
}

// NewBillingCycle creates a new billing cycle. notifier and publisher may be nil.
func NewBillingCycle(store SubscriptionStore, submitter ChargeSubmitter, notifier EventNotifier, publisher EventPublisher, logger *slog.Logger, opts BillingOptions) *BillingCycle {
	return &BillingCycle{
		store:     store,
		submitter: submitter,
		notifier:  notifier,
		publisher: publisher,
		opts:      opts,
		logger:    logger.With("cycle", BillingCycleName),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (c *BillingCycle) Name() string { return BillingCycleName }

// Run processes every due subscription once, strictly in due order.
// A failure on one subscription never stops the rest of the batch.
func (c *BillingCycle) Run(ctx context.Context) (CycleStats, error) {
	started := c.now()

	subs, err := c.selectDue(ctx, started)
	if err != nil {
		return CycleStats{}, fmt.Errorf("failed to get due subscriptions: %w", err)
	}

	stats := CycleStats{Selected: len(subs)}
	if len(subs) == 0 {
		c.logger.Debug("no subscriptions due for billing")
		return stats, nil
	}

	c.logger.Info("found subscriptions due for billing", "count", len(subs))

	for i, sub := range subs {
		if i > 0 {
			if err := pause(ctx, c.opts.ItemDelay); err != nil {
				stats.Duration = c.now().Sub(started)
				return stats, err
			}
		}

		transition, err := c.processSubscription(ctx, sub)
		if err != nil {
			c.logger.Error("failed to record charge outcome", "subscription_id", sub.ID, "error", err)
		}
		stats.record(transition, err)
	}

	stats.Duration = c.now().Sub(started)
	c.logger.Info("billing cycle finished",
		"selected", stats.Selected,
		"succeeded", stats.Succeeded,
		"retried", stats.Retried,
		"failed", stats.Failed,
		"errors", stats.Errors,
	)
	return stats, nil
}

// selectDue returns the eligible subscriptions ordered oldest due first.
func (c *BillingCycle) selectDue(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	subs, err := c.store.GetDueSubscriptions(ctx, now)
	if err != nil {
		return nil, err
	}

	due := make([]domain.Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.IsDue(now) {
			due = append(due, sub)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NextPaymentAt.Before(due[j].NextPaymentAt)
	})
	return due, nil
}

func (c *BillingCycle) processSubscription(ctx context.Context, sub domain.Subscription) (Transition, error) {
	c.logger.Info("processing subscription", "subscription_id", sub.ID, "subscription_pda", sub.SubscriptionPDA, "retry_count", sub.RetryCount)

	result := c.attempt(ctx, sub)
	now := c.now()

	switch r := result.(type) {
	case domain.Success:
		next := sub.NextPeriodFrom()
		if err := c.store.RecordChargeSuccess(ctx, sub.ID, next, r.Reference); err != nil {
			return TransitionAdvance, err
		}
		c.logger.Info("subscription charged", "subscription_id", sub.ID, "signature", r.Reference, "next_payment_at", next)
		c.emit(ctx, sub, domain.EventPaymentSucceeded, domain.RoutingSubscriptionCharged, domain.PaymentEvent{
			Status:        "succeeded",
			Signature:     r.Reference,
			NextPaymentAt: &next,
		})
		return TransitionAdvance, nil

	case domain.Failure:
		diagnostic := r.Diagnostic()
		decision := c.opts.Policy.OnFailure(sub.RetryCount, now, r.Permanent())

		switch decision.Transition {
		case TransitionRetry:
			if err := c.store.RecordChargeRetry(ctx, sub.ID, decision.Count, decision.NextAt, diagnostic); err != nil {
				return TransitionRetry, err
			}
			c.logger.Warn("charge failed, retry scheduled",
				"subscription_id", sub.ID, "retry_count", decision.Count, "next_payment_at", decision.NextAt, "error", diagnostic)
			c.emit(ctx, sub, domain.EventPaymentFailed, domain.RoutingSubscriptionChargeFailed, domain.PaymentEvent{
				Status:        "retry_scheduled",
				RetryCount:    decision.Count,
				NextPaymentAt: &decision.NextAt,
				FailureReason: &diagnostic,
			})
		case TransitionTerminal:
			if err := c.store.RecordChargeFailure(ctx, sub.ID, decision.Count, diagnostic); err != nil {
				return TransitionTerminal, err
			}
			c.logger.Error("charge failed, subscription marked failed",
				"subscription_id", sub.ID, "retry_count", decision.Count, "permanent", r.Permanent(), "error", diagnostic)
			c.emit(ctx, sub, domain.EventSubscriptionFailed, domain.RoutingSubscriptionFailed, domain.PaymentEvent{
				Status:        string(domain.SubscriptionFailed),
				RetryCount:    decision.Count,
				FailureReason: &diagnostic,
			})
		}
		return decision.Transition, nil

	default:
		return TransitionRetry, fmt.Errorf("unexpected charge result %T", result)
	}
}

// attempt calls the submitter, turning a panic or nil result into a Failure.
func (c *BillingCycle) attempt(ctx context.Context, sub domain.Subscription) (result domain.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			result = domain.Failure{Err: fmt.Errorf("charge submission panicked: %v", rec)}
		}
	}()

	result = c.submitter.SubmitCharge(ctx, sub)
	if result == nil {
		result = domain.Failure{Err: errors.New("charge submitter returned no result")}
	}
	return result
}

func (c *BillingCycle) emit(ctx context.Context, sub domain.Subscription, eventType, routingKey string, event domain.PaymentEvent) {
	event.SubscriptionID = sub.ID
	event.MerchantID = sub.MerchantID
	event.SubscriptionPDA = sub.SubscriptionPDA
	event.Amount = sub.Amount
	event.Timestamp = c.now()

	publish(ctx, c.publisher, c.logger, c.opts.Exchange, routingKey, event)

	if c.notifier == nil {
		return
	}
	if err := c.notifier.Trigger(ctx, sub.MerchantID, eventType, event); err != nil {
		c.logger.Warn("failed to trigger merchant webhook", "subscription_id", sub.ID, "event_type", eventType, "error", err)
	}
}
