package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/subpay/scheduler-service/internal/domain"
	"github.com/subpay/scheduler-service/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memSubscriptions returns every row from GetDueSubscriptions unfiltered so the
// cycle's own eligibility filter and ordering are exercised.
type memSubscriptions struct {
	mu     sync.Mutex
	subs   []domain.Subscription
	logs   []domain.PaymentLog
	writes int
	failOn map[int64]error
}

func (m *memSubscriptions) find(id int64) *domain.Subscription {
	for i := range m.subs {
		if m.subs[i].ID == id {
			return &m.subs[i]
		}
	}
	return nil
}

func (m *memSubscriptions) get(id int64) domain.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.find(id)
}

func (m *memSubscriptions) GetDueSubscriptions(_ context.Context, _ time.Time) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Subscription, len(m.subs))
	copy(out, m.subs)
	return out, nil
}

func (m *memSubscriptions) update(id int64, fn func(sub *domain.Subscription), log domain.PaymentLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[id]; err != nil {
		return err
	}
	sub := m.find(id)
	if sub == nil {
		return store.ErrSubscriptionNotFound
	}
	fn(sub)
	log.SubscriptionID = id
	m.logs = append(m.logs, log)
	m.writes++
	return nil
}

func (m *memSubscriptions) RecordChargeSuccess(_ context.Context, id int64, next time.Time, signature string) error {
	return m.update(id, func(sub *domain.Subscription) {
		paid := sub.NextPaymentAt
		sub.NextPaymentAt = next
		sub.RetryCount = 0
		sub.LastPaymentAt = &paid
		sub.PaymentCount++
	}, domain.PaymentLog{Status: "success", Signature: &signature})
}

func (m *memSubscriptions) RecordChargeRetry(_ context.Context, id int64, retryCount int, next time.Time, diagnostic string) error {
	return m.update(id, func(sub *domain.Subscription) {
		sub.RetryCount = retryCount
		sub.NextPaymentAt = next
	}, domain.PaymentLog{Status: "retry_scheduled", ErrorMessage: &diagnostic})
}

func (m *memSubscriptions) RecordChargeFailure(_ context.Context, id int64, retryCount int, diagnostic string) error {
	return m.update(id, func(sub *domain.Subscription) {
		sub.RetryCount = retryCount
		sub.Status = domain.SubscriptionFailed
	}, domain.PaymentLog{Status: "failed", ErrorMessage: &diagnostic})
}

// scriptedSubmitter answers each subscription from a per-ID function.
type scriptedSubmitter struct {
	mu      sync.Mutex
	calls   []int64
	results map[int64]func() domain.Result
}

func (s *scriptedSubmitter) SubmitCharge(_ context.Context, sub domain.Subscription) domain.Result {
	s.mu.Lock()
	s.calls = append(s.calls, sub.ID)
	fn := s.results[sub.ID]
	s.mu.Unlock()
	if fn == nil {
		return domain.Success{Reference: "sig"}
	}
	return fn()
}

type recordedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return p.err
}

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.events))
	for _, e := range p.events {
		keys = append(keys, e.routingKey)
	}
	return keys
}

type notification struct {
	merchantID string
	eventType  string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
	err   error
}

func (n *recordingNotifier) Trigger(_ context.Context, merchantID, eventType string, _ interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{merchantID: merchantID, eventType: eventType})
	return n.err
}

var errStoreDown = errors.New("store unavailable")
