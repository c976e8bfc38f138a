/**
 * @description
 * Outcome of a single charge or webhook attempt.
 */
package domain

import (
	"errors"
	"strings"
)

// ErrPermanent marks an executor failure that retrying cannot fix,
// such as a closed on-chain account or an endpoint answering 410 Gone.
var ErrPermanent = errors.New("permanent failure")

// Result is the outcome of one external action. It is either Success or Failure.
type Result interface {
	isResult()
}

// Success is a confirmed external action.
type Success struct {
	// Reference is the transaction signature for charges; empty for webhooks.
	Reference  string
	StatusCode int
	Body       string
}

// Failure is a rejected, timed out or unreachable external action.
type Failure struct {
	Err        error
	StatusCode int
	Body       string
}

func (Success) isResult() {}
func (Failure) isResult() {}

// Diagnostic returns the raw error text kept for audit logs.
func (f Failure) Diagnostic() string {
	if f.Err == nil {
		return "unknown failure"
	}
	return strings.TrimSpace(f.Err.Error())
}

// Permanent reports whether the failure should skip the remaining retry budget.
func (f Failure) Permanent() bool {
	return errors.Is(f.Err, ErrPermanent)
}

// StatusCodePtr returns nil when no HTTP status was observed.
func StatusCodePtr(code int) *int {
	if code == 0 {
		return nil
	}
	return &code
}
