// Package billing connects the application to its billing provider.
//
// The client side (Client) calls the billing backend's HTTP endpoints. The
// server side (Service) implements those endpoints on top of Stripe.
package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/subscription"

	"github.com/DukeRupert/tandem/internal/metrics"
)

// Service defines the billing operations behind the backend endpoints.
type Service interface {
	// CreateCheckoutSession creates a subscription-mode Checkout session and
	// returns the URL to redirect the user to.
	CreateCheckoutSession(ctx context.Context, priceID, customerEmail string) (string, error)

	// GetCheckoutSession retrieves a Checkout session with its subscription.
	GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error)

	// GetSubscription retrieves a subscription by ID.
	GetSubscription(ctx context.Context, subscriptionID string) (Subscription, error)

	// ResolveSubscription returns the most recent subscription of any
	// customer with the given email, or ErrNotFound.
	ResolveSubscription(ctx context.Context, email string) (Subscription, error)

	// CancelSubscription cancels immediately, or flags cancel at period end.
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (Subscription, error)

	// Plan returns the plan name ("subscription" or "trial") of a configured
	// price. ok is false for any other price.
	Plan(priceID string) (plan string, ok bool)
}

// PriceConfig holds the Stripe price IDs for each plan.
type PriceConfig struct {
	SubscriptionPriceID string
	TrialPriceID        string
	TrialDays           int64
}

// stripeService is the concrete implementation of Service.
type stripeService struct {
	prices  PriceConfig
	baseURL string
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey is used to authenticate Stripe API calls. The baseURL is the
// public app URL the hosted checkout returns to.
func NewStripeService(secretKey, baseURL string, prices PriceConfig) Service {
	stripe.Key = secretKey

	return &stripeService{
		prices:  prices,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Plan names used for metrics and logs.
const (
	PlanSubscription = "subscription"
	PlanTrial        = "trial"
)

func (s *stripeService) Plan(priceID string) (string, bool) {
	switch {
	case priceID == "":
		return "", false
	case priceID == s.prices.SubscriptionPriceID:
		return PlanSubscription, true
	case priceID == s.prices.TrialPriceID:
		return PlanTrial, true
	}
	return "", false
}

func (s *stripeService) CreateCheckoutSession(ctx context.Context, priceID, customerEmail string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		// Stripe substitutes the placeholder; the client reads it back from
		// the return URL to confirm the checkout.
		SuccessURL: stripe.String(s.baseURL + "/?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(s.baseURL + "/?" + url.Values{"checkout": {"canceled"}}.Encode()),
	}
	params.Context = ctx
	if customerEmail != "" {
		params.CustomerEmail = stripe.String(customerEmail)
	}
	if priceID == s.prices.TrialPriceID && s.prices.TrialDays > 0 {
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			TrialPeriodDays: stripe.Int64(s.prices.TrialDays),
		}
	}

	sess, err := checkoutsession.New(params)
	metrics.BillingAPICall("checkout_session_create", err)
	if err != nil {
		return "", fmt.Errorf("stripe create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (s *stripeService) GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("subscription")

	sess, err := checkoutsession.Get(sessionID, params)
	metrics.BillingAPICall("checkout_session_get", err)
	if err != nil {
		if isStripeNotFound(err) {
			return CheckoutSession{}, ErrNotFound
		}
		return CheckoutSession{}, fmt.Errorf("stripe get checkout session: %w", err)
	}

	out := CheckoutSession{Status: string(sess.Status)}
	if sub := sess.Subscription; sub != nil {
		out.SubscriptionID = sub.ID
		if sub.Status != "" {
			out.Status = string(sub.Status)
			out.CurrentPeriodEnd = periodEnd(sub)
			out.CancelAtPeriodEnd = stripe.Bool(sub.CancelAtPeriodEnd)
		}
	}
	return out, nil
}

func (s *stripeService) GetSubscription(ctx context.Context, subscriptionID string) (Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := subscription.Get(subscriptionID, params)
	metrics.BillingAPICall("subscription_get", err)
	if err != nil {
		if isStripeNotFound(err) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, fmt.Errorf("stripe get subscription: %w", err)
	}
	return subscriptionFromStripe(sub), nil
}

func (s *stripeService) ResolveSubscription(ctx context.Context, email string) (Subscription, error) {
	custParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	custParams.Context = ctx
	custParams.Limit = stripe.Int64(10)

	var latest *stripe.Subscription
	customers := customer.List(custParams)
	for customers.Next() {
		c := customers.Customer()

		subParams := &stripe.SubscriptionListParams{
			Customer: stripe.String(c.ID),
			Status:   stripe.String("all"),
		}
		subParams.Context = ctx
		subParams.Limit = stripe.Int64(10)

		subs := subscription.List(subParams)
		for subs.Next() {
			sub := subs.Subscription()
			if latest == nil || sub.Created > latest.Created {
				latest = sub
			}
		}
		if err := subs.Err(); err != nil {
			metrics.BillingAPICall("subscription_list", err)
			return Subscription{}, fmt.Errorf("stripe list subscriptions: %w", err)
		}
	}
	err := customers.Err()
	metrics.BillingAPICall("customer_list", err)
	if err != nil {
		return Subscription{}, fmt.Errorf("stripe list customers: %w", err)
	}

	if latest == nil {
		return Subscription{}, ErrNotFound
	}
	return subscriptionFromStripe(latest), nil
}

func (s *stripeService) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (Subscription, error) {
	var (
		sub *stripe.Subscription
		err error
	)
	if atPeriodEnd {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		sub, err = subscription.Update(subscriptionID, params)
		metrics.BillingAPICall("subscription_update", err)
	} else {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		sub, err = subscription.Cancel(subscriptionID, params)
		metrics.BillingAPICall("subscription_cancel", err)
	}
	if err != nil {
		if isStripeNotFound(err) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, fmt.Errorf("stripe cancel subscription: %w", err)
	}
	return subscriptionFromStripe(sub), nil
}

// =============================================================================
// Helpers
// =============================================================================

func subscriptionFromStripe(sub *stripe.Subscription) Subscription {
	return Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CurrentPeriodEnd:  periodEnd(sub),
		CancelAtPeriodEnd: stripe.Bool(sub.CancelAtPeriodEnd),
	}
}

func periodEnd(sub *stripe.Subscription) *int64 {
	if sub.CurrentPeriodEnd == 0 {
		return nil
	}
	end := sub.CurrentPeriodEnd
	return &end
}

func isStripeNotFound(err error) bool {
	var stripeErr *stripe.Error
	return errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound
}
