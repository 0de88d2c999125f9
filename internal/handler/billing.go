// Package handler contains HTTP handlers for the billing backend.
//
// This file implements the billing endpoints backed by billing.Service.
//
// Routes handled:
//   - POST /create-checkout-session -> CreateCheckoutSession
//   - GET  /get-checkout-session    -> GetCheckoutSession
//   - GET  /subscription-status     -> SubscriptionStatus
//   - GET  /resolve-subscription    -> ResolveSubscription
//   - POST /cancel-subscription     -> CancelSubscription
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/DukeRupert/tandem/internal/billing"
	"github.com/DukeRupert/tandem/internal/domain"
	"github.com/DukeRupert/tandem/internal/metrics"
)

// maxBodySize bounds JSON request bodies.
const maxBodySize = 16 << 10

// BillingHandler handles the billing backend endpoints.
type BillingHandler struct {
	billing billing.Service
	logger  *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
// billingService may be nil when Stripe is not configured; every endpoint
// then answers 501.
func NewBillingHandler(billingService billing.Service, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		billing: billingService,
		logger:  logger,
	}
}

// RegisterRoutes registers billing routes on the provided mux. wrap is
// applied to every route, typically rate limiting.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(next http.Handler) http.Handler { return next }
	}
	mux.Handle("POST "+billing.PathCreateCheckoutSession, wrap(http.HandlerFunc(h.CreateCheckoutSession)))
	mux.Handle("GET "+billing.PathGetCheckoutSession, wrap(http.HandlerFunc(h.GetCheckoutSession)))
	mux.Handle("GET "+billing.PathSubscriptionStatus, wrap(http.HandlerFunc(h.SubscriptionStatus)))
	mux.Handle("GET "+billing.PathResolveSubscription, wrap(http.HandlerFunc(h.ResolveSubscription)))
	mux.Handle("POST "+billing.PathCancelSubscription, wrap(http.HandlerFunc(h.CancelSubscription)))
}

// CreateCheckoutSession starts a subscription checkout for a configured price.
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	const op = "handler.create_checkout_session"
	if !h.configured(w, r, op) {
		return
	}

	var req billing.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Request body must be valid JSON."))
		return
	}

	req.PriceID = strings.TrimSpace(req.PriceID)
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)
	if req.PriceID == "" {
		ErrorResponse(w, r, h.logger, domain.NewValidationError(op, "priceId", "Price is required"))
		return
	}
	plan, ok := h.billing.Plan(req.PriceID)
	if !ok {
		ErrorResponse(w, r, h.logger, domain.NewValidationError(op, "priceId", "Unknown price"))
		return
	}
	if req.CustomerEmail != "" {
		if _, err := mail.ParseAddress(req.CustomerEmail); err != nil {
			ErrorResponse(w, r, h.logger, domain.NewValidationError(op, "customerEmail", "Email address is invalid"))
			return
		}
	}

	url, err := h.billing.CreateCheckoutSession(r.Context(), req.PriceID, req.CustomerEmail)
	if err != nil {
		ErrorResponse(w, r, h.logger, billingError(err, op, "The price was not found."))
		return
	}
	metrics.CheckoutSessionsCreated.WithLabelValues(plan).Inc()

	h.logger.Info("checkout session created", "plan", plan)
	writeJSON(w, http.StatusOK, billing.CheckoutResponse{URL: url})
}

// GetCheckoutSession reports the status of a returning checkout session.
func (h *BillingHandler) GetCheckoutSession(w http.ResponseWriter, r *http.Request) {
	const op = "handler.get_checkout_session"
	if !h.configured(w, r, op) {
		return
	}

	sessionID, ok := requireQuery(w, r, h.logger, op, "session_id")
	if !ok {
		return
	}

	sess, err := h.billing.GetCheckoutSession(r.Context(), sessionID)
	if err != nil {
		ErrorResponse(w, r, h.logger, billingError(err, op, "Checkout session not found."))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// SubscriptionStatus reports the current state of a subscription.
func (h *BillingHandler) SubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	const op = "handler.subscription_status"
	if !h.configured(w, r, op) {
		return
	}

	subscriptionID, ok := requireQuery(w, r, h.logger, op, "subscriptionId")
	if !ok {
		return
	}

	sub, err := h.billing.GetSubscription(r.Context(), subscriptionID)
	if err != nil {
		ErrorResponse(w, r, h.logger, billingError(err, op, "Subscription not found."))
		return
	}
	sub.ID = ""
	writeJSON(w, http.StatusOK, sub)
}

// ResolveSubscription finds the most recent subscription for an email.
func (h *BillingHandler) ResolveSubscription(w http.ResponseWriter, r *http.Request) {
	const op = "handler.resolve_subscription"
	if !h.configured(w, r, op) {
		return
	}

	email, ok := requireQuery(w, r, h.logger, op, "email")
	if !ok {
		return
	}
	if _, err := mail.ParseAddress(email); err != nil {
		ErrorResponse(w, r, h.logger, domain.NewValidationError(op, "email", "Email address is invalid"))
		return
	}

	sub, err := h.billing.ResolveSubscription(r.Context(), strings.ToLower(email))
	if err != nil {
		ErrorResponse(w, r, h.logger, billingError(err, op, "No subscription found for this email."))
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// CancelSubscription cancels a subscription immediately or at period end.
func (h *BillingHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	const op = "handler.cancel_subscription"
	if !h.configured(w, r, op) {
		return
	}

	var req billing.CancelRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Request body must be valid JSON."))
		return
	}
	req.SubscriptionID = strings.TrimSpace(req.SubscriptionID)
	if req.SubscriptionID == "" {
		ErrorResponse(w, r, h.logger, domain.NewValidationError(op, "subscriptionId", "Subscription is required"))
		return
	}

	sub, err := h.billing.CancelSubscription(r.Context(), req.SubscriptionID, req.CancelAtPeriodEnd)
	if err != nil {
		ErrorResponse(w, r, h.logger, billingError(err, op, "Subscription not found."))
		return
	}

	h.logger.Info("subscription canceled",
		"subscription_id", sub.ID,
		"status", sub.Status,
		"at_period_end", req.CancelAtPeriodEnd,
	)
	writeJSON(w, http.StatusOK, sub)
}

// =============================================================================
// Helpers
// =============================================================================

// configured writes 501 and returns false when no billing service is set.
func (h *BillingHandler) configured(w http.ResponseWriter, r *http.Request, op string) bool {
	if h.billing != nil {
		return true
	}
	ErrorResponse(w, r, h.logger, domain.Errorf(domain.ENOTIMPL, op, "Billing is not configured."))
	return false
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON body")
	}
	return nil
}

// requireQuery returns a non-empty query parameter or writes a validation error.
func requireQuery(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op, name string) (string, bool) {
	value := strings.TrimSpace(r.URL.Query().Get(name))
	if value == "" {
		ErrorResponse(w, r, logger, domain.NewValidationError(op, name, "This parameter is required"))
		return "", false
	}
	return value, true
}
