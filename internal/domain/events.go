/**
 * @description
 * Outcome events published to the message broker after each billing or webhook attempt.
 */
package domain

import "time"

// Webhook event types sent to merchants.
const (
	EventPaymentSucceeded   = "payment.succeeded"
	EventPaymentFailed      = "payment.failed"
	EventSubscriptionFailed = "subscription.failed"
)

// Routing keys for internal events published to the message broker.
const (
	RoutingSubscriptionCharged      = "subscription.charged"
	RoutingSubscriptionChargeFailed = "subscription.charge_failed"
	RoutingSubscriptionFailed       = "subscription.failed"
	RoutingWebhookDelivered         = "webhook.delivered"
	RoutingWebhookFailed            = "webhook.failed"
)

// PaymentEvent is the payload for billing outcome notifications.
type PaymentEvent struct {
	SubscriptionID  int64      `json:"subscription_id"`
	MerchantID      string     `json:"merchant_id"`
	SubscriptionPDA string     `json:"subscription_pda"`
	Amount          int64      `json:"amount"`
	Status          string     `json:"status"`
	Signature       string     `json:"signature,omitempty"`
	RetryCount      int        `json:"retry_count"`
	NextPaymentAt   *time.Time `json:"next_payment_at,omitempty"`
	FailureReason   *string    `json:"failure_reason,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
}

// DeliveryEvent is the payload for webhook delivery outcomes published internally.
type DeliveryEvent struct {
	DeliveryID    int64     `json:"delivery_id"`
	EventID       string    `json:"event_id"`
	EndpointID    int64     `json:"endpoint_id"`
	MerchantID    string    `json:"merchant_id"`
	EventType     string    `json:"event_type"`
	Status        string    `json:"status"`
	AttemptCount  int       `json:"attempt_count"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
