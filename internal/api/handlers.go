/**
 * @description
 * HTTP handlers for inspecting and manually triggering the processing cycles.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/subpay/scheduler-service/internal/app"
	"github.com/subpay/scheduler-service/internal/domain"
	"github.com/subpay/scheduler-service/internal/store"
)

const paymentLogLimit = 20

// CycleRunner is the part of the scheduler exposed over HTTP.
type CycleRunner interface {
	Reports() []app.CycleReport
	RunNow(name string) (app.CycleReport, error)
}

// SubscriptionReader loads a subscription and its payment audit trail.
type SubscriptionReader interface {
	GetSubscription(ctx context.Context, id int64) (*domain.Subscription, error)
	ListPaymentLogs(ctx context.Context, subscriptionID int64, limit int) ([]domain.PaymentLog, error)
}

// Handler holds the dependencies the ops handlers interact with.
type Handler struct {
	cycles        CycleRunner
	subscriptions SubscriptionReader
	logger        *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(cycles CycleRunner, subscriptions SubscriptionReader, logger *slog.Logger) *Handler {
	return &Handler{cycles: cycles, subscriptions: subscriptions, logger: logger}
}

type subscriptionResponse struct {
	Subscription *domain.Subscription `json:"subscription"`
	Payments     []domain.PaymentLog  `json:"payments"`
}

func (h *Handler) handleListCycles(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.cycles.Reports())
}

func (h *Handler) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	report, err := h.cycles.RunNow(name)
	switch {
	case err == nil:
		respondWithJSON(w, http.StatusOK, report)
	case errors.Is(err, app.ErrUnknownCycle):
		http.Error(w, "Unknown cycle", http.StatusNotFound)
	case errors.Is(err, app.ErrCycleBusy), errors.Is(err, app.ErrLockHeld):
		respondWithJSON(w, http.StatusConflict, report)
	case errors.Is(err, app.ErrSchedulerStopped):
		http.Error(w, "Scheduler is shutting down", http.StatusServiceUnavailable)
	default:
		h.logger.Error("manual cycle run failed", "cycle", name, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid subscription id", http.StatusBadRequest)
		return
	}

	sub, err := h.subscriptions.GetSubscription(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			http.Error(w, "Subscription not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load subscription", "subscription_id", id, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	payments, err := h.subscriptions.ListPaymentLogs(r.Context(), id, paymentLogLimit)
	if err != nil {
		h.logger.Error("failed to load payment logs", "subscription_id", id, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if payments == nil {
		payments = []domain.PaymentLog{}
	}

	respondWithJSON(w, http.StatusOK, subscriptionResponse{Subscription: sub, Payments: payments})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
