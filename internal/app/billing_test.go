package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/subpay/scheduler-service/internal/domain"
)

const thirtyDays = int64(30 * 24 * 60 * 60)

var billingEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func activeSub(id int64, due time.Time, retryCount int) domain.Subscription {
	return domain.Subscription{
		ID:               id,
		MerchantID:       "merchant-1",
		SubscriptionPDA:  fmt.Sprintf("pda-%d", id),
		SubscriberWallet: fmt.Sprintf("wallet-%d", id),
		Amount:           1_000_000,
		PeriodSeconds:    thirtyDays,
		NextPaymentAt:    due,
		Status:           domain.SubscriptionActive,
		RetryCount:       retryCount,
	}
}

func newTestBilling(st SubscriptionStore, submitter ChargeSubmitter, clock *fixedClock) (*BillingCycle, *recordingPublisher, *recordingNotifier) {
	pub := &recordingPublisher{}
	notifier := &recordingNotifier{}
	cycle := NewBillingCycle(st, submitter, notifier, pub, discardLogger(), BillingOptions{
		Policy:   DefaultBillingRetryPolicy,
		Exchange: "subpay.events",
	})
	cycle.now = clock.Now
	return cycle, pub, notifier
}

func TestBillingCycle_SuccessResetsRetriesAndAdvancesFromPriorDueTime(t *testing.T) {
	due := billingEpoch
	clock := &fixedClock{now: due.Add(3 * time.Hour)}
	st := &memSubscriptions{subs: []domain.Subscription{activeSub(1, due, 2)}}
	cycle, pub, notifier := newTestBilling(st, &scriptedSubmitter{}, clock)

	stats, err := cycle.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Selected)
	assert.Equal(t, 1, stats.Succeeded)

	got := st.get(1)
	assert.Equal(t, 0, got.RetryCount)
	assert.True(t, got.NextPaymentAt.Equal(due.Add(30*24*time.Hour)), "next payment %s", got.NextPaymentAt)
	assert.Equal(t, domain.SubscriptionActive, got.Status)
	assert.Equal(t, 1, got.PaymentCount)

	require.Len(t, st.logs, 1)
	assert.Equal(t, "success", st.logs[0].Status)
	assert.Equal(t, []string{domain.RoutingSubscriptionCharged}, pub.keys())
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, domain.EventPaymentSucceeded, notifier.calls[0].eventType)
}

func TestBillingCycle_FailureSchedulesRetryEightHoursOut(t *testing.T) {
	clock := &fixedClock{now: billingEpoch.Add(time.Minute)}
	st := &memSubscriptions{subs: []domain.Subscription{activeSub(1, billingEpoch, 0)}}
	submitter := &scriptedSubmitter{results: map[int64]func() domain.Result{
		1: func() domain.Result { return domain.Failure{Err: errors.New("insufficient funds")} },
	}}
	cycle, pub, notifier := newTestBilling(st, submitter, clock)

	stats, err := cycle.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)

	got := st.get(1)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, domain.SubscriptionActive, got.Status)
	assert.True(t, got.NextPaymentAt.Equal(clock.Now().Add(8*time.Hour)), "next payment %s", got.NextPaymentAt)

	require.Len(t, st.logs, 1)
	assert.Equal(t, "retry_scheduled", st.logs[0].Status)
	require.NotNil(t, st.logs[0].ErrorMessage)
	assert.Equal(t, "insufficient funds", *st.logs[0].ErrorMessage)
	assert.Equal(t, []string{domain.RoutingSubscriptionChargeFailed}, pub.keys())
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, domain.EventPaymentFailed, notifier.calls[0].eventType)
}

func TestBillingCycle_RetryBudgetExhaustedMarksFailed(t *testing.T) {
	clock := &fixedClock{now: billingEpoch}
	st := &memSubscriptions{subs: []domain.Subscription{activeSub(1, billingEpoch, 0)}}
	submitter := &scriptedSubmitter{results: map[int64]func() domain.Result{
		1: func() domain.Result { return domain.Failure{Err: errors.New("rejected")} },
	}}
	cycle, pub, _ := newTestBilling(st, submitter, clock)

	for i := 1; i <= 3; i++ {
		stats, err := cycle.Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, stats.Retried, "run %d", i)
		require.Equal(t, i, st.get(1).RetryCount)
		clock.Advance(8 * time.Hour)
	}

	stats, err := cycle.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	got := st.get(1)
	assert.Equal(t, domain.SubscriptionFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.Len(t, st.logs, 4)
	assert.Equal(t, domain.RoutingSubscriptionFailed, pub.keys()[3])

	clock.Advance(24 * time.Hour)
	stats, err = cycle.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Selected)
	assert.Len(t, submitter.calls, 4)
}

func TestBillingCycle_PermanentFailureSkipsRetryBudget(t *testing.T) {
	clock := &fixedClock{now: billingEpoch}
	st := &memSubscriptions{subs: []domain.Subscription{activeSub(1, billingEpoch, 0)}}
	submitter := &scriptedSubmitter{results: map[int64]func() domain.Result{
		1: func() domain.Result {
			return domain.Failure{Err: fmt.Errorf("subscription account closed: %w", domain.ErrPermanent), StatusCode: 410}
		},
	}}
	cycle, _, _ := newTestBilling(st, submitter, clock)

	stats, err := cycle.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, domain.SubscriptionFailed, st.get(1).Status)
	assert.Equal(t, 0, st.get(1).RetryCount)
}

func TestBillingCycle_SelectsOnlyEligibleInDueOrder(t *testing.T) {
	now := billingEpoch
	clock := &fixedClock{now: now}

	paused := activeSub(4, now.Add(-time.Hour), 0)
	paused.Status = domain.SubscriptionPaused
	cancelled := activeSub(5, now.Add(-time.Hour), 0)
	cancelled.Status = domain.SubscriptionCancelled
	failed := activeSub(6, now.Add(-time.Hour), 3)
	failed.Status = domain.SubscriptionFailed

	st := &memSubscriptions{subs: []domain.Subscription{
		activeSub(1, now.Add(-time.Minute), 0),
		activeSub(2, now.Add(-2*time.Hour), 0),
		activeSub(3, now, 0),
		paused,
		cancelled,
		failed,
		activeSub(7, now.Add(time.Second), 0),
	}}
	submitter := &scriptedSubmitter{}
	cycle, _, _ := newTestBilling(st, submitter, clock)

	stats, err := cycle.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Selected)
	assert.Equal(t, []int64{2, 1, 3}, submitter.calls)
}

func TestBillingCycle_ItemFailureDoesNotStopBatch(t *testing.T) {
	clock := &fixedClock{now: billingEpoch}
	st := &memSubscriptions{subs: []domain.Subscription{
		activeSub(1, billingEpoch.Add(-3*time.Minute), 0),
		activeSub(2, billingEpoch.Add(-2*time.Minute), 0),
		activeSub(3, billingEpoch.Add(-time.Minute), 0),
	}}
	submitter := &scriptedSubmitter{results: map[int64]func() domain.Result{
		2: func() domain.Result { panic("relayer client exploded") },
	}}
	cycle, _, _ := newTestBilling(st, submitter, clock)

	stats, err := cycle.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, stats.Retried)

	assert.Equal(t, 1, st.get(2).RetryCount)
	assert.Equal(t, 0, st.get(1).RetryCount)
	assert.Equal(t, 0, st.get(3).RetryCount)
	assert.Equal(t, 1, st.get(3).PaymentCount)
}

func TestBillingCycle_StoreErrorIsCountedAndBatchContinues(t *testing.T) {
	clock := &fixedClock{now: billingEpoch}
	st := &memSubscriptions{
		subs: []domain.Subscription{
			activeSub(1, billingEpoch.Add(-2*time.Minute), 0),
			activeSub(2, billingEpoch.Add(-time.Minute), 0),
		},
		failOn: map[int64]error{1: errStoreDown},
	}
	cycle, _, notifier := newTestBilling(st, &scriptedSubmitter{}, clock)

	stats, err := cycle.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, st.get(2).PaymentCount)
	assert.Len(t, notifier.calls, 1)
}

func TestBillingCycle_NoDueWorkIsNoOp(t *testing.T) {
	clock := &fixedClock{now: billingEpoch}
	st := &memSubscriptions{subs: []domain.Subscription{activeSub(1, billingEpoch.Add(time.Hour), 0)}}
	submitter := &scriptedSubmitter{}
	cycle, pub, _ := newTestBilling(st, submitter, clock)

	for i := 0; i < 2; i++ {
		stats, err := cycle.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, CycleStats{}, stats)
	}
	assert.Zero(t, st.writes)
	assert.Empty(t, submitter.calls)
	assert.Empty(t, pub.keys())
}

func TestBillingCycle_ChargedSubscriptionIsNotChargedAgainSamePeriod(t *testing.T) {
	clock := &fixedClock{now: billingEpoch}
	st := &memSubscriptions{subs: []domain.Subscription{activeSub(1, billingEpoch, 0)}}
	submitter := &scriptedSubmitter{}
	cycle, _, _ := newTestBilling(st, submitter, clock)

	_, err := cycle.Run(context.Background())
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)
	stats, err := cycle.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Selected)
	assert.Len(t, submitter.calls, 1)
}

func TestBillingCycle_NilResultTreatedAsFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	submitter := NewMockChargeSubmitter(ctrl)
	submitter.EXPECT().
		SubmitCharge(gomock.Any(), gomock.AssignableToTypeOf(domain.Subscription{})).
		Return(nil).
		Times(1)

	clock := &fixedClock{now: billingEpoch}
	st := &memSubscriptions{subs: []domain.Subscription{activeSub(1, billingEpoch, 0)}}
	cycle, _, _ := newTestBilling(st, submitter, clock)

	stats, err := cycle.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)
	assert.Equal(t, 1, st.get(1).RetryCount)
}

func TestBillingCycle_SubmitsSubscriptionSnapshot(t *testing.T) {
	ctrl := gomock.NewController(t)
	submitter := NewMockChargeSubmitter(ctrl)

	sub := activeSub(9, billingEpoch, 1)
	submitter.EXPECT().
		SubmitCharge(gomock.Any(), sub).
		Return(domain.Success{Reference: "5xSig"})

	clock := &fixedClock{now: billingEpoch}
	st := &memSubscriptions{subs: []domain.Subscription{sub}}
	cycle, pub, _ := newTestBilling(st, submitter, clock)

	_, err := cycle.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	event, ok := pub.events[0].body.(domain.PaymentEvent)
	require.True(t, ok)
	assert.Equal(t, "5xSig", event.Signature)
	assert.Equal(t, int64(9), event.SubscriptionID)
	assert.Equal(t, "subpay.events", pub.events[0].exchange)
}

func TestBillingCycle_CancelledDuringThrottleStops(t *testing.T) {
	clock := &fixedClock{now: billingEpoch}
	st := &memSubscriptions{subs: []domain.Subscription{
		activeSub(1, billingEpoch.Add(-time.Minute), 0),
		activeSub(2, billingEpoch, 0),
	}}
	submitter := &scriptedSubmitter{}
	cycle, _, _ := newTestBilling(st, submitter, clock)
	cycle.opts.ItemDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	submitter.results = map[int64]func() domain.Result{
		1: func() domain.Result {
			cancel()
			return domain.Success{Reference: "sig-1"}
		},
	}

	stats, err := cycle.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, []int64{1}, submitter.calls)
}
