/**
 * @description
 * Webhook dispatcher: creates one delivery per subscribed endpoint when an event
 * happens and retries pending deliveries on the webhook retry cycle.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/subpay/scheduler-service/internal/domain"
	"github.com/subpay/scheduler-service/internal/store"
)

// WebhookRetryCycleName identifies the webhook retry cycle.
const WebhookRetryCycleName = "webhook-retries"

// DeliveryStore defines the database operations needed for webhook delivery.
type DeliveryStore interface {
	ListActiveEndpoints(ctx context.Context, merchantID, eventType string) ([]domain.WebhookEndpoint, error)
	CreateDelivery(ctx context.Context, delivery domain.WebhookDelivery) (int64, error)
	GetRetryableDeliveries(ctx context.Context, now time.Time, maxAttempts, limit int) ([]domain.WebhookDelivery, error)
	RecordDeliverySuccess(ctx context.Context, id int64, attempts int, statusCode int, body string) error
	RecordDeliveryRetry(ctx context.Context, id int64, attempts int, nextRetryAt time.Time, statusCode *int, diagnostic string) error
	RecordDeliveryFailure(ctx context.Context, id int64, attempts int, statusCode *int, diagnostic string) error
}

// WebhookOptions tunes webhook delivery.
type WebhookOptions struct {
	Policy    WebhookRetryPolicy
	BatchSize int
	ItemDelay time.Duration
	Exchange  string
}

// WebhookDispatcher creates deliveries when events happen and retries
// pending deliveries on its own cycle.
type WebhookDispatcher struct {
	store     DeliveryStore
	deliverer WebhookDeliverer
	publisher EventPublisher
	opts      WebhookOptions
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// NewWebhookDispatcher creates a dispatcher. publisher may be nil.
func NewWebhookDispatcher(store DeliveryStore, deliverer WebhookDeliverer, publisher EventPublisher, logger *slog.Logger, opts WebhookOptions) *WebhookDispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &WebhookDispatcher{
		store:     store,
		deliverer: deliverer,
		publisher: publisher,
		opts:      opts,
		logger:    logger.With("cycle", WebhookRetryCycleName),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Trigger creates one delivery per active endpoint subscribed to eventType and
// makes the first attempt right away. Failed first attempts are left for the retry cycle.
func (d *WebhookDispatcher) Trigger(ctx context.Context, merchantID, eventType string, data interface{}) error {
	endpoints, err := d.store.ListActiveEndpoints(ctx, merchantID, eventType)
	if err != nil {
		return fmt.Errorf("failed to list webhook endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		return nil
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	eventID := d.newID()
	createdAt := d.now()

	var errs []error
	for _, ep := range endpoints {
		if !ep.Active || !ep.Subscribes(eventType) {
			continue
		}

		// Rows start with the first retry already scheduled, so a first attempt whose
		// outcome is never recorded is still picked up by the retry cycle.
		firstRetryAt := createdAt.Add(d.opts.Policy.Backoff.Delay(1))
		delivery := domain.WebhookDelivery{
			EventID:        eventID,
			EndpointID:     ep.ID,
			MerchantID:     ep.MerchantID,
			URL:            ep.URL,
			Secret:         ep.Secret,
			EndpointActive: true,
			EventType:      eventType,
			Payload:        payload,
			Status:         domain.DeliveryPending,
			AttemptCount:   1,
			NextRetryAt:    &firstRetryAt,
			CreatedAt:      createdAt,
		}

		id, err := d.store.CreateDelivery(ctx, delivery)
		if err != nil {
			if errors.Is(err, store.ErrDuplicateDelivery) {
				d.logger.Info("webhook delivery already exists", "event_id", eventID, "endpoint_id", ep.ID)
				continue
			}
			errs = append(errs, fmt.Errorf("endpoint %d: %w", ep.ID, err))
			continue
		}
		delivery.ID = id

		if _, err := d.deliver(ctx, delivery, 1); err != nil {
			errs = append(errs, fmt.Errorf("delivery %d: %w", id, err))
		}
	}

	return errors.Join(errs...)
}

func (d *WebhookDispatcher) Name() string { return WebhookRetryCycleName }

// Run retries due pending deliveries, oldest retry time first, at most BatchSize per cycle.
func (d *WebhookDispatcher) Run(ctx context.Context) (CycleStats, error) {
	started := d.now()

	deliveries, err := d.selectRetryable(ctx, started)
	if err != nil {
		return CycleStats{}, fmt.Errorf("failed to get retryable webhook deliveries: %w", err)
	}

	stats := CycleStats{Selected: len(deliveries)}
	if len(deliveries) == 0 {
		d.logger.Debug("no webhook deliveries to retry")
		return stats, nil
	}

	d.logger.Info("retrying webhook deliveries", "count", len(deliveries))

	for i, delivery := range deliveries {
		if i > 0 {
			if err := pause(ctx, d.opts.ItemDelay); err != nil {
				stats.Duration = d.now().Sub(started)
				return stats, err
			}
		}

		transition, err := d.deliver(ctx, delivery, delivery.AttemptCount+1)
		if err != nil {
			d.logger.Error("failed to record delivery outcome", "delivery_id", delivery.ID, "error", err)
		}
		stats.record(transition, err)
	}

	stats.Duration = d.now().Sub(started)
	d.logger.Info("webhook retry cycle finished",
		"selected", stats.Selected,
		"delivered", stats.Succeeded,
		"retried", stats.Retried,
		"failed", stats.Failed,
		"errors", stats.Errors,
	)
	return stats, nil
}

func (d *WebhookDispatcher) selectRetryable(ctx context.Context, now time.Time) ([]domain.WebhookDelivery, error) {
	deliveries, err := d.store.GetRetryableDeliveries(ctx, now, d.opts.Policy.MaxAttempts, d.opts.BatchSize)
	if err != nil {
		return nil, err
	}

	eligible := make([]domain.WebhookDelivery, 0, len(deliveries))
	for _, delivery := range deliveries {
		if delivery.IsRetryable(now, d.opts.Policy.MaxAttempts) {
			eligible = append(eligible, delivery)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].NextRetryAt.Before(*eligible[j].NextRetryAt)
	})
	if len(eligible) > d.opts.BatchSize {
		eligible = eligible[:d.opts.BatchSize]
	}
	return eligible, nil
}

// deliver makes attempt number attempts for the delivery and records its outcome.
func (d *WebhookDispatcher) deliver(ctx context.Context, delivery domain.WebhookDelivery, attempts int) (Transition, error) {
	result := d.attempt(ctx, delivery)
	now := d.now()

	switch r := result.(type) {
	case domain.Success:
		if err := d.store.RecordDeliverySuccess(ctx, delivery.ID, attempts, r.StatusCode, r.Body); err != nil {
			return TransitionAdvance, err
		}
		d.logger.Info("webhook delivered", "delivery_id", delivery.ID, "event_type", delivery.EventType, "attempt", attempts, "status_code", r.StatusCode)
		d.emit(ctx, delivery, attempts, domain.RoutingWebhookDelivered, string(domain.DeliveryDelivered), nil)
		return TransitionAdvance, nil

	case domain.Failure:
		diagnostic := r.Diagnostic()
		statusCode := domain.StatusCodePtr(r.StatusCode)
		decision := d.opts.Policy.OnFailure(attempts, now, r.Permanent())

		switch decision.Transition {
		case TransitionRetry:
			if err := d.store.RecordDeliveryRetry(ctx, delivery.ID, decision.Count, decision.NextAt, statusCode, diagnostic); err != nil {
				return TransitionRetry, err
			}
			d.logger.Warn("webhook delivery failed, retry scheduled",
				"delivery_id", delivery.ID, "attempt", attempts, "next_retry_at", decision.NextAt, "error", diagnostic)
		case TransitionTerminal:
			if err := d.store.RecordDeliveryFailure(ctx, delivery.ID, decision.Count, statusCode, diagnostic); err != nil {
				return TransitionTerminal, err
			}
			d.logger.Error("webhook delivery failed permanently",
				"delivery_id", delivery.ID, "attempt", attempts, "error", diagnostic)
			d.emit(ctx, delivery, attempts, domain.RoutingWebhookFailed, string(domain.DeliveryFailed), &diagnostic)
		}
		return decision.Transition, nil

	default:
		return TransitionRetry, fmt.Errorf("unexpected delivery result %T", result)
	}
}

// attempt calls the deliverer, turning a panic or nil result into a Failure.
func (d *WebhookDispatcher) attempt(ctx context.Context, delivery domain.WebhookDelivery) (result domain.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			result = domain.Failure{Err: fmt.Errorf("webhook delivery panicked: %v", rec)}
		}
	}()

	result = d.deliverer.Deliver(ctx, domain.WebhookRequest{
		DeliveryID: delivery.ID,
		URL:        delivery.URL,
		Secret:     delivery.Secret,
		Envelope:   delivery.Envelope(),
	})
	if result == nil {
		result = domain.Failure{Err: errors.New("webhook deliverer returned no result")}
	}
	return result
}

func (d *WebhookDispatcher) emit(ctx context.Context, delivery domain.WebhookDelivery, attempts int, routingKey, status string, reason *string) {
	publish(ctx, d.publisher, d.logger, d.opts.Exchange, routingKey, domain.DeliveryEvent{
		DeliveryID:    delivery.ID,
		EventID:       delivery.EventID,
		EndpointID:    delivery.EndpointID,
		MerchantID:    delivery.MerchantID,
		EventType:     delivery.EventType,
		Status:        status,
		AttemptCount:  attempts,
		FailureReason: reason,
		Timestamp:     d.now(),
	})
}
