/**
 * @description
 * Domain models for recurring subscription billing handled by the scheduler-service.
 */
package domain

import "time"

// SubscriptionStatus is the single canonical lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPaused    SubscriptionStatus = "paused"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionFailed    SubscriptionStatus = "failed"
)

// Terminal reports whether no further automatic charges will happen in this state.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionCancelled || s == SubscriptionFailed
}

// Subscription represents a subscriber's recurring obligation to a merchant.
type Subscription struct {
	ID               int64              `json:"id"`
	MerchantID       string             `json:"merchant_id"`
	SubscriptionPDA  string             `json:"subscription_pda"`
	SubscriberWallet string             `json:"subscriber_wallet"`
	Amount           int64              `json:"amount"`
	PeriodSeconds    int64              `json:"period_seconds"`
	NextPaymentAt    time.Time          `json:"next_payment_at"`
	Status           SubscriptionStatus `json:"status"`
	RetryCount       int                `json:"retry_count"`
	LastPaymentAt    *time.Time         `json:"last_payment_at,omitempty"`
	PaymentCount     int                `json:"payment_count"`
}

// Period returns the billing period as a duration.
func (s Subscription) Period() time.Duration {
	return time.Duration(s.PeriodSeconds) * time.Second
}

// IsDue reports whether the subscription should be charged at now.
// Only active subscriptions whose next payment time has elapsed qualify.
func (s Subscription) IsDue(now time.Time) bool {
	return s.Status == SubscriptionActive && !s.NextPaymentAt.After(now)
}

// NextPeriodFrom advances the schedule by exactly one period from the prior due time.
func (s Subscription) NextPeriodFrom() time.Time {
	return s.NextPaymentAt.Add(s.Period())
}

// PaymentLog is an append-only audit row for one charge attempt.
type PaymentLog struct {
	ID             int64     `json:"id"`
	SubscriptionID int64     `json:"subscription_id"`
	Status         string    `json:"status"`
	Signature      *string   `json:"signature,omitempty"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	RetryCount     int       `json:"retry_count"`
	CreatedAt      time.Time `json:"created_at"`
}
