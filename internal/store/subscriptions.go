/**
 * @description
 * PostgreSQL queries for due subscriptions and for recording charge outcomes.
 */
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/subpay/scheduler-service/internal/domain"
)

const subscriptionColumns = `
	id, merchant_id, subscription_pda, subscriber_wallet, amount, period_seconds,
	next_payment_at, status, retry_count, last_payment_at, payment_count`

func scanSubscription(row pgx.Row) (domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID,
		&sub.MerchantID,
		&sub.SubscriptionPDA,
		&sub.SubscriberWallet,
		&sub.Amount,
		&sub.PeriodSeconds,
		&sub.NextPaymentAt,
		&sub.Status,
		&sub.RetryCount,
		&sub.LastPaymentAt,
		&sub.PaymentCount,
	)
	return sub, err
}

// GetDueSubscriptions fetches every 'active' subscription whose next payment
// time has elapsed, oldest due first. Paused, cancelled and failed rows are never returned.
func (r *Repository) GetDueSubscriptions(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	query := `
		SELECT` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = 'active'
		  AND next_payment_at <= $1
		ORDER BY next_payment_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

// GetSubscription loads one subscription by id.
func (r *Repository) GetSubscription(ctx context.Context, id int64) (*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// RecordChargeSuccess advances the schedule, clears the retry counter and
// appends a 'success' payment log carrying the transaction signature.
func (r *Repository) RecordChargeSuccess(ctx context.Context, id int64, nextPaymentAt time.Time, signature string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE subscriptions
			SET next_payment_at = $2,
			    retry_count = 0,
			    last_payment_at = NOW(),
			    payment_count = payment_count + 1,
			    updated_at = NOW()
			WHERE id = $1
		`, id, nextPaymentAt)
		if err != nil {
			return fmt.Errorf("failed to advance subscription %d: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrSubscriptionNotFound
		}
		return insertPaymentLog(ctx, tx, id, "success", nullableText(signature), nil, 0)
	})
}

// RecordChargeRetry stores the new retry count and the rescheduled payment time.
// The status column is left untouched so a concurrent pause or cancel is not overwritten.
func (r *Repository) RecordChargeRetry(ctx context.Context, id int64, retryCount int, nextPaymentAt time.Time, diagnostic string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE subscriptions
			SET retry_count = $2,
			    next_payment_at = $3,
			    updated_at = NOW()
			WHERE id = $1
		`, id, retryCount, nextPaymentAt)
		if err != nil {
			return fmt.Errorf("failed to reschedule subscription %d: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrSubscriptionNotFound
		}
		return insertPaymentLog(ctx, tx, id, "retry_scheduled", nil, nullableText(diagnostic), retryCount)
	})
}

// RecordChargeFailure moves the subscription to the terminal 'failed' state.
func (r *Repository) RecordChargeFailure(ctx context.Context, id int64, retryCount int, diagnostic string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE subscriptions
			SET status = 'failed',
			    retry_count = $2,
			    updated_at = NOW()
			WHERE id = $1
		`, id, retryCount)
		if err != nil {
			return fmt.Errorf("failed to mark subscription %d failed: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrSubscriptionNotFound
		}
		return insertPaymentLog(ctx, tx, id, "failed", nil, nullableText(diagnostic), retryCount)
	})
}

// ListPaymentLogs returns the audit trail for one subscription, newest first.
func (r *Repository) ListPaymentLogs(ctx context.Context, subscriptionID int64, limit int) ([]domain.PaymentLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, subscription_id, status, signature, error_message, retry_count, created_at
		FROM payment_logs
		WHERE subscription_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, subscriptionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []domain.PaymentLog
	for rows.Next() {
		var entry domain.PaymentLog
		if err := rows.Scan(
			&entry.ID,
			&entry.SubscriptionID,
			&entry.Status,
			&entry.Signature,
			&entry.ErrorMessage,
			&entry.RetryCount,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func insertPaymentLog(ctx context.Context, tx pgx.Tx, subscriptionID int64, status string, signature, errorMessage *string, retryCount int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payment_logs (subscription_id, status, signature, error_message, retry_count)
		VALUES ($1, $2, $3, $4, $5)
	`, subscriptionID, status, signature, errorMessage, retryCount)
	if err != nil {
		return fmt.Errorf("failed to append payment log: %w", err)
	}
	return nil
}
