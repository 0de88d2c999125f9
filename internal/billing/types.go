package billing

import (
	"errors"
	"fmt"

	"github.com/DukeRupert/tandem/internal/domain"
)

// =============================================================================
// Wire types
// =============================================================================

// CheckoutRequest is the body of POST /create-checkout-session.
type CheckoutRequest struct {
	PriceID       string `json:"priceId"`
	CustomerEmail string `json:"customerEmail,omitempty"`
}

// CheckoutResponse is returned by POST /create-checkout-session.
type CheckoutResponse struct {
	URL string `json:"url"`
}

// CheckoutSession is returned by GET /get-checkout-session.
type CheckoutSession struct {
	SubscriptionID    string `json:"subscriptionId,omitempty"`
	Status            string `json:"status"`
	CurrentPeriodEnd  *int64 `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd *bool  `json:"cancelAtPeriodEnd,omitempty"`
}

// Update converts the session into a billing update of the given kind.
func (s CheckoutSession) Update(kind domain.BillingKind) domain.BillingUpdate {
	return domain.BillingUpdate{
		Kind:              kind,
		SubscriptionID:    s.SubscriptionID,
		Status:            s.Status,
		CurrentPeriodEnd:  s.CurrentPeriodEnd,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
}

// Subscription is returned by the status, resolve and cancel endpoints.
// The status endpoint omits the id.
type Subscription struct {
	ID                string `json:"id,omitempty"`
	Status            string `json:"status"`
	CurrentPeriodEnd  *int64 `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd *bool  `json:"cancel_at_period_end,omitempty"`
}

// Update converts the subscription into a billing update of the given kind.
func (s Subscription) Update(kind domain.BillingKind) domain.BillingUpdate {
	return domain.BillingUpdate{
		Kind:              kind,
		SubscriptionID:    s.ID,
		Status:            s.Status,
		CurrentPeriodEnd:  s.CurrentPeriodEnd,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
}

// CancelRequest is the body of POST /cancel-subscription.
type CancelRequest struct {
	SubscriptionID    string `json:"subscriptionId"`
	CancelAtPeriodEnd bool   `json:"cancelAtPeriodEnd"`
}

// ErrorResponse is the body of every non-2xx response from the backend.
type ErrorResponse struct {
	Error string `json:"error"`
}

// =============================================================================
// Errors
// =============================================================================

// ErrNotFound is returned when the backend has no matching object.
var ErrNotFound = errors.New("billing: not found")

// StatusError is a non-2xx response from the billing backend. It is always
// recoverable and never a definitive statement about access.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("billing %s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("billing %s: status %d", e.Endpoint, e.StatusCode)
}
