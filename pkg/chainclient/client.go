/**
 * @description
 * Client for submitting recurring charge instructions to the on-chain charge relayer.
 * The relayer is treated as an opaque instruction endpoint: the client submits a charge
 * for a subscription account and waits for the resulting transaction to confirm.
 */
package chainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/subpay/scheduler-service/internal/domain"
)

const (
	statusConfirmed = "confirmed"
	statusFinalized = "finalized"
	statusFailed    = "failed"
)

// Client submits charges and waits for their confirmation.
type Client struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	confirmTimeout time.Duration
	pollInterval   time.Duration
}

// NewClient creates a new charge relayer client. confirmTimeout bounds the whole
// submit-and-confirm exchange for one subscription.
func NewClient(baseURL, apiKey string, confirmTimeout, pollInterval time.Duration) *Client {
	normalizedURL := strings.TrimSuffix(baseURL, "/")
	return &Client{
		baseURL:        normalizedURL,
		apiKey:         apiKey,
		httpClient:     &http.Client{Timeout: 15 * time.Second},
		confirmTimeout: confirmTimeout,
		pollInterval:   pollInterval,
	}
}

type chargeRequest struct {
	SubscriptionID   int64  `json:"subscription_id"`
	SubscriptionPDA  string `json:"subscription_account"`
	SubscriberWallet string `json:"subscriber"`
	Amount           int64  `json:"amount"`
}

type chargeResponse struct {
	Signature string `json:"signature"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// SubmitCharge submits the charge instruction referencing the subscription's on-chain
// account and waits for confirmation. Any rejection, timeout or network error is a Failure.
func (c *Client) SubmitCharge(ctx context.Context, sub domain.Subscription) domain.Result {
	if c.baseURL == "" {
		return domain.Failure{Err: fmt.Errorf("charge relayer base URL is not configured")}
	}

	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	submitted, err := c.submit(ctx, sub)
	if err != nil {
		return domain.Failure{Err: err}
	}
	switch submitted.Status {
	case statusConfirmed, statusFinalized:
		return domain.Success{Reference: submitted.Signature}
	case statusFailed:
		return domain.Failure{Err: fmt.Errorf("charge %s rejected: %s", submitted.Signature, submitted.Error)}
	}

	return c.awaitConfirmation(ctx, submitted.Signature)
}

func (c *Client) submit(ctx context.Context, sub domain.Subscription) (*chargeResponse, error) {
	body, err := json.Marshal(chargeRequest{
		SubscriptionID:   sub.ID,
		SubscriptionPDA:  sub.SubscriptionPDA,
		SubscriberWallet: sub.SubscriberWallet,
		Amount:           sub.Amount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal charge payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/charges", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", c.apiKey)
	}

	var resp chargeResponse
	status, err := c.do(req, &resp)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return nil, fmt.Errorf("%w: subscription account %s rejected with status %d: %s", domain.ErrPermanent, sub.SubscriptionPDA, status, resp.Error)
	case status >= 400:
		return nil, fmt.Errorf("charge relayer returned status %d: %s", status, resp.Error)
	case resp.Signature == "":
		return nil, errors.New("charge relayer returned no transaction signature")
	}
	return &resp, nil
}

// awaitConfirmation polls the relayer until the transaction settles or ctx expires.
// The charge is already submitted, so transport errors and 429 or 5xx responses are
// polled through; the last of them is kept for the timeout diagnostic.
func (c *Client) awaitConfirmation(ctx context.Context, signature string) domain.Result {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		select {
		case <-ctx.Done():
			err := fmt.Errorf("confirmation of %s timed out: %w", signature, ctx.Err())
			if lastErr != nil {
				err = fmt.Errorf("%w (last poll error: %v)", err, lastErr)
			}
			return domain.Failure{Err: err}
		case <-ticker.C:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/charges/"+signature, nil)
		if err != nil {
			return domain.Failure{Err: fmt.Errorf("failed to create request: %w", err)}
		}
		if c.apiKey != "" {
			req.Header.Set("X-Internal-API-Key", c.apiKey)
		}

		var resp chargeResponse
		status, err := c.do(req, &resp)
		switch {
		case err != nil:
			// An error caused by ctx expiring says nothing about the relayer.
			if ctx.Err() == nil {
				lastErr = err
			}
			continue
		case status == http.StatusTooManyRequests || status >= 500:
			lastErr = fmt.Errorf("charge relayer returned status %d while confirming %s", status, signature)
			continue
		case status >= 400:
			return domain.Failure{Err: fmt.Errorf("charge relayer returned status %d while confirming %s", status, signature)}
		}

		switch resp.Status {
		case statusConfirmed, statusFinalized:
			return domain.Success{Reference: signature}
		case statusFailed:
			return domain.Failure{Err: fmt.Errorf("charge %s rejected: %s", signature, resp.Error)}
		}
	}
}

func (c *Client) do(req *http.Request, out *chargeResponse) (int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request to charge relayer: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read charge relayer response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil && resp.StatusCode < 400 {
			return resp.StatusCode, fmt.Errorf("failed to decode charge relayer response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
