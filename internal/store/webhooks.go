/**
 * @description
 * PostgreSQL queries for webhook endpoints and delivery retry state.
 */
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/subpay/scheduler-service/internal/domain"
)

// ListActiveEndpoints returns the merchant's active endpoints subscribed to eventType.
// An endpoint with an empty events list receives every event.
func (r *Repository) ListActiveEndpoints(ctx context.Context, merchantID, eventType string) ([]domain.WebhookEndpoint, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, merchant_id, url, secret, events, active
		FROM webhook_endpoints
		WHERE merchant_id = $1
		  AND active = TRUE
		  AND (cardinality(events) = 0 OR $2 = ANY(events) OR '*' = ANY(events))
		ORDER BY id ASC
	`, merchantID, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []domain.WebhookEndpoint
	for rows.Next() {
		var ep domain.WebhookEndpoint
		if err := rows.Scan(&ep.ID, &ep.MerchantID, &ep.URL, &ep.Secret, &ep.Events, &ep.Active); err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

// CreateDelivery inserts a pending delivery for its first attempt. NextRetryAt is
// stored as given so an unrecorded first attempt still becomes retryable.
// The (event_id, endpoint_id) pair is unique; a repeat returns ErrDuplicateDelivery.
func (r *Repository) CreateDelivery(ctx context.Context, delivery domain.WebhookDelivery) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO webhook_deliveries (event_id, endpoint_id, event_type, payload, status, attempt_count, next_retry_at, created_at)
		VALUES ($1, $2, $3, $4::jsonb, 'pending', $5, $6, $7)
		RETURNING id
	`,
		delivery.EventID,
		delivery.EndpointID,
		delivery.EventType,
		string(delivery.Payload),
		delivery.AttemptCount,
		delivery.NextRetryAt,
		delivery.CreatedAt,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicateDelivery
		}
		return 0, fmt.Errorf("failed to create webhook delivery: %w", err)
	}
	return id, nil
}

// GetRetryableDeliveries returns pending deliveries whose retry time has elapsed,
// whose attempt budget is not exhausted and whose endpoint is still active.
// Oldest retry time first, capped at limit rows.
func (r *Repository) GetRetryableDeliveries(ctx context.Context, now time.Time, maxAttempts, limit int) ([]domain.WebhookDelivery, error) {
	rows, err := r.db.Query(ctx, `
		SELECT d.id, d.event_id, d.endpoint_id, e.merchant_id, e.url, e.secret, e.active,
		       d.event_type, d.payload::text, d.status, d.attempt_count, d.next_retry_at,
		       d.last_status_code, d.last_error, d.created_at
		FROM webhook_deliveries d
		JOIN webhook_endpoints e ON e.id = d.endpoint_id
		WHERE d.status = 'pending'
		  AND d.next_retry_at <= $1
		  AND d.attempt_count < $2
		  AND e.active = TRUE
		ORDER BY d.next_retry_at ASC, d.id ASC
		LIMIT $3
	`, now, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deliveries := make([]domain.WebhookDelivery, 0, limit)
	for rows.Next() {
		var (
			d       domain.WebhookDelivery
			payload string
		)
		if err := rows.Scan(
			&d.ID,
			&d.EventID,
			&d.EndpointID,
			&d.MerchantID,
			&d.URL,
			&d.Secret,
			&d.EndpointActive,
			&d.EventType,
			&payload,
			&d.Status,
			&d.AttemptCount,
			&d.NextRetryAt,
			&d.LastStatusCode,
			&d.LastError,
			&d.CreatedAt,
		); err != nil {
			return nil, err
		}
		d.Payload = []byte(payload)
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// RecordDeliverySuccess marks the delivery delivered and appends a log row.
func (r *Repository) RecordDeliverySuccess(ctx context.Context, id int64, attempts int, statusCode int, body string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE webhook_deliveries
			SET status = 'delivered',
			    attempt_count = $2,
			    last_status_code = $3,
			    last_error = NULL,
			    next_retry_at = NULL,
			    delivered_at = NOW(),
			    updated_at = NOW()
			WHERE id = $1
		`, id, attempts, domain.StatusCodePtr(statusCode))
		if err != nil {
			return fmt.Errorf("failed to mark delivery %d delivered: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrDeliveryNotFound
		}
		return insertDeliveryLog(ctx, tx, id, attempts, "delivered", domain.StatusCodePtr(statusCode), nullableText(body), nil)
	})
}

// RecordDeliveryRetry keeps the delivery pending and schedules the next attempt.
func (r *Repository) RecordDeliveryRetry(ctx context.Context, id int64, attempts int, nextRetryAt time.Time, statusCode *int, diagnostic string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE webhook_deliveries
			SET status = 'pending',
			    attempt_count = $2,
			    next_retry_at = $3,
			    last_status_code = $4,
			    last_error = $5,
			    updated_at = NOW()
			WHERE id = $1
		`, id, attempts, nextRetryAt, statusCode, nullableText(diagnostic))
		if err != nil {
			return fmt.Errorf("failed to reschedule delivery %d: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrDeliveryNotFound
		}
		return insertDeliveryLog(ctx, tx, id, attempts, "retry_scheduled", statusCode, nil, nullableText(diagnostic))
	})
}

// RecordDeliveryFailure moves the delivery to the terminal 'failed' state.
func (r *Repository) RecordDeliveryFailure(ctx context.Context, id int64, attempts int, statusCode *int, diagnostic string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE webhook_deliveries
			SET status = 'failed',
			    attempt_count = $2,
			    next_retry_at = NULL,
			    last_status_code = $3,
			    last_error = $4,
			    updated_at = NOW()
			WHERE id = $1
		`, id, attempts, statusCode, nullableText(diagnostic))
		if err != nil {
			return fmt.Errorf("failed to mark delivery %d failed: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrDeliveryNotFound
		}
		return insertDeliveryLog(ctx, tx, id, attempts, "failed", statusCode, nil, nullableText(diagnostic))
	})
}

func insertDeliveryLog(ctx context.Context, tx pgx.Tx, deliveryID int64, attempt int, status string, statusCode *int, body, errorMessage *string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO webhook_delivery_logs (delivery_id, attempt, status, status_code, response_body, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, deliveryID, attempt, status, statusCode, body, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to append delivery log: %w", err)
	}
	return nil
}
