/**
 * @description
 * Retry state machine for billing charges and webhook deliveries: the webhook
 * backoff table and the policies that turn a failed attempt into a retry or a terminal state.
 */
package app

import "time"

// BackoffTable is a fixed, indexed sequence of retry delays.
type BackoffTable []time.Duration

// DefaultWebhookBackoff is 1m, 5m, 15m, 1h and then 6h for every later attempt.
var DefaultWebhookBackoff = BackoffTable{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	6 * time.Hour,
}

// Delay returns the wait after the given 1-based attempt failed.
// Attempts past the end of the table reuse the last entry.
func (t BackoffTable) Delay(attempt int) time.Duration {
	if len(t) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx > len(t)-1 {
		idx = len(t) - 1
	}
	return t[idx]
}

// Transition is the state change the outcome recorder applies to an item.
type Transition int

const (
	// TransitionAdvance keeps the item live and moves its schedule forward after a success.
	TransitionAdvance Transition = iota
	// TransitionRetry keeps the item live and reschedules it after a failure.
	TransitionRetry
	// TransitionTerminal moves the item to its terminal failed state.
	TransitionTerminal
)

func (t Transition) String() string {
	switch t {
	case TransitionAdvance:
		return "advance"
	case TransitionRetry:
		return "retry"
	case TransitionTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// RetryDecision is what to persist after a failed attempt.
type RetryDecision struct {
	Transition Transition
	// Count is the retry or attempt counter to store.
	Count  int
	NextAt time.Time
}

// BillingRetryPolicy retries a failed charge after a fixed delay until
// MaxRetries retries have been spent; the next failure is terminal.
type BillingRetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultBillingRetryPolicy is 8 hours between attempts, 3 retries after the first charge.
var DefaultBillingRetryPolicy = BillingRetryPolicy{MaxRetries: 3, Delay: 8 * time.Hour}

// OnFailure decides the transition for a subscription whose current retry count is
// retryCount when its charge fails at now.
func (p BillingRetryPolicy) OnFailure(retryCount int, now time.Time, permanent bool) RetryDecision {
	if permanent || retryCount >= p.MaxRetries {
		return RetryDecision{Transition: TransitionTerminal, Count: retryCount}
	}
	return RetryDecision{
		Transition: TransitionRetry,
		Count:      retryCount + 1,
		NextAt:     now.Add(p.Delay),
	}
}

// WebhookRetryPolicy retries with a backoff table until MaxAttempts attempts were made.
type WebhookRetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffTable
}

// DefaultWebhookRetryPolicy allows 5 attempts in total.
var DefaultWebhookRetryPolicy = WebhookRetryPolicy{MaxAttempts: 5, Backoff: DefaultWebhookBackoff}

// OnFailure decides the transition after attempt number attempts failed at now.
func (p WebhookRetryPolicy) OnFailure(attempts int, now time.Time, permanent bool) RetryDecision {
	if permanent || attempts >= p.MaxAttempts {
		return RetryDecision{Transition: TransitionTerminal, Count: attempts}
	}
	return RetryDecision{
		Transition: TransitionRetry,
		Count:      attempts,
		NextAt:     now.Add(p.Backoff.Delay(attempts)),
	}
}
