/**
 * @description
 * Client for delivering signed webhook notifications to merchant endpoints.
 */
package webhookclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/subpay/scheduler-service/internal/domain"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	EventHeader     = "X-Webhook-Event"
	IDHeader        = "X-Webhook-Id"
	TimestampHeader = "X-Webhook-Timestamp"

	userAgent    = "subpay-webhooks/1.0"
	maxBodyBytes = 1000
)

// Client posts webhook envelopes with an HMAC-SHA256 signature header.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a webhook client whose requests are bounded by timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Sign returns the hex HMAC-SHA256 of body keyed by secret, prefixed with the algorithm.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value against body in constant time.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// Deliver sends one webhook. Any network error or non-2xx response is a Failure;
// a 410 Gone response is marked permanent.
func (c *Client) Deliver(ctx context.Context, req domain.WebhookRequest) domain.Result {
	body, err := json.Marshal(req.Envelope)
	if err != nil {
		return domain.Failure{Err: fmt.Errorf("failed to marshal webhook payload: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewBuffer(body))
	if err != nil {
		return domain.Failure{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set(SignatureHeader, Sign(req.Secret, body))
	httpReq.Header.Set(EventHeader, req.Envelope.Type)
	httpReq.Header.Set(IDHeader, req.Envelope.ID)
	httpReq.Header.Set(TimestampHeader, strconv.FormatInt(time.Now().Unix(), 10))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.Failure{Err: fmt.Errorf("failed to execute webhook request: %w", err)}
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	respBody := responseSnippet(raw)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if readErr != nil {
			respBody = fmt.Sprintf("%s [failed to read response body: %v]", respBody, readErr)
		}
		return domain.Success{StatusCode: resp.StatusCode, Body: respBody}
	}

	err = fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	if resp.StatusCode == http.StatusGone {
		err = fmt.Errorf("%w: endpoint returned status %d", domain.ErrPermanent, resp.StatusCode)
	}
	if readErr != nil {
		err = fmt.Errorf("%w (failed to read response body: %v)", err, readErr)
	}
	return domain.Failure{Err: err, StatusCode: resp.StatusCode, Body: respBody}
}

// responseSnippet returns the captured body as valid UTF-8 text without NUL bytes.
// Invalid sequences, including a rune split by the read limit, are dropped.
func responseSnippet(raw []byte) string {
	return strings.ReplaceAll(strings.ToValidUTF8(string(raw), ""), "\x00", "")
}
