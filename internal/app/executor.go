/**
 * @description
 * Ports for the side effects a cycle performs: submitting an on-chain charge and
 * delivering a signed webhook.
 */
package app

import (
	"context"

	"github.com/subpay/scheduler-service/internal/domain"
)

// ChargeSubmitter submits one subscription charge and waits for its confirmation.
// It performs no persistence.
type ChargeSubmitter interface {
	SubmitCharge(ctx context.Context, sub domain.Subscription) domain.Result
}

// WebhookDeliverer performs one signed webhook POST. It performs no persistence.
type WebhookDeliverer interface {
	Deliver(ctx context.Context, req domain.WebhookRequest) domain.Result
}
