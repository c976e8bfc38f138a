/**
 * @description
 * Domain models for merchant webhook endpoints and their deliveries.
 */
package domain

import (
	"encoding/json"
	"time"
)

// DeliveryStatus is the lifecycle state of one outbound webhook delivery.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// WebhookEndpoint is a merchant-registered URL receiving event notifications.
type WebhookEndpoint struct {
	ID         int64    `json:"id"`
	MerchantID string   `json:"merchant_id"`
	URL        string   `json:"url"`
	Secret     string   `json:"-"`
	Events     []string `json:"events"`
	Active     bool     `json:"active"`
}

// Subscribes reports whether the endpoint wants eventType. An empty event list means all events.
func (e WebhookEndpoint) Subscribes(eventType string) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, ev := range e.Events {
		if ev == eventType || ev == "*" {
			return true
		}
	}
	return false
}

// WebhookDelivery is one event notification bound to one endpoint.
// URL, Secret and EndpointActive are joined from the parent endpoint when loaded.
type WebhookDelivery struct {
	ID             int64           `json:"id"`
	EventID        string          `json:"event_id"`
	EndpointID     int64           `json:"endpoint_id"`
	MerchantID     string          `json:"merchant_id"`
	URL            string          `json:"url"`
	Secret         string          `json:"-"`
	EndpointActive bool            `json:"endpoint_active"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         DeliveryStatus  `json:"status"`
	AttemptCount   int             `json:"attempt_count"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
	LastStatusCode *int            `json:"last_status_code,omitempty"`
	LastError      *string         `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// IsRetryable reports whether the delivery is eligible for the retry cycle at now.
func (d WebhookDelivery) IsRetryable(now time.Time, maxAttempts int) bool {
	if d.Status != DeliveryPending || !d.EndpointActive || d.AttemptCount >= maxAttempts {
		return false
	}
	return d.NextRetryAt != nil && !d.NextRetryAt.After(now)
}

// Envelope builds the JSON document sent to the endpoint for this delivery.
func (d WebhookDelivery) Envelope() WebhookEnvelope {
	return WebhookEnvelope{
		ID:        d.EventID,
		Type:      d.EventType,
		CreatedAt: d.CreatedAt.UTC(),
		Data:      d.Payload,
	}
}

// WebhookEnvelope is the wire format of an outbound webhook body.
type WebhookEnvelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// WebhookRequest carries everything the deliverer needs for one POST.
type WebhookRequest struct {
	DeliveryID int64
	URL        string
	Secret     string
	Envelope   WebhookEnvelope
}
