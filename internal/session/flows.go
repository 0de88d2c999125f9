package session

import (
	"context"
	"errors"
	"time"

	"github.com/DukeRupert/tandem/internal/billing"
	"github.com/DukeRupert/tandem/internal/domain"
	"github.com/DukeRupert/tandem/internal/metrics"
)

// Flow names used in logs and metrics.
const (
	FlowCheckout = "checkout"
	FlowRefresh  = "refresh"
	FlowLegacy   = "legacy"
	FlowCancel   = "cancel"
)

// Navigator is the navigable location that carries the checkout session id
// after the hosted checkout redirects back.
type Navigator interface {
	SessionID() string
	ClearSessionID()
}

// Sync runs checkout confirmation, status refresh and legacy resolution in
// order. Each pass reads the record the previous one wrote.
func (s *Session) Sync(ctx context.Context, nav Navigator) domain.Record {
	if nav != nil {
		s.ConfirmCheckout(ctx, nav)
	}
	s.RefreshStatus(ctx)
	return s.ResolveLegacy(ctx)
}

// =============================================================================
// Checkout confirmation
// =============================================================================

// ConfirmCheckout confirms a returning checkout session.
//
// It runs only when nav carries a session id, the record is not already on
// a settled subscription, and no other confirmation is in flight. A past-due,
// incomplete or ending subscription can still be replaced by a new checkout. An accepted status
// advances the record and clears the session id from nav.
func (s *Session) ConfirmCheckout(ctx context.Context, nav Navigator) domain.Record {
	sessionID := nav.SessionID()
	if sessionID == "" {
		return s.Current()
	}

	s.mu.Lock()
	if s.confirming || domain.HasSettledAccess(s.record) {
		current := s.record.Clone()
		s.mu.Unlock()
		metrics.SyncPass(FlowCheckout, metrics.OutcomeSkipped)
		return current
	}
	s.confirming = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.confirming = false
		s.mu.Unlock()
	}()

	sess, err := s.billing.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		s.logger.Warn("checkout confirmation failed", "session_id", sessionID, "error", err)
		metrics.SyncPass(FlowCheckout, metrics.OutcomeFailed)
		return s.Current()
	}

	if !domain.IsCheckoutAccepted(sess.Status) {
		s.logger.Info("checkout session not accepted",
			"session_id", sessionID,
			"status", sess.Status,
		)
		metrics.SyncPass(FlowCheckout, metrics.OutcomeSkipped)
		return s.Current()
	}

	r, _ := s.update(ctx, func(r domain.Record) (domain.Record, error) {
		return domain.ApplyBillingUpdate(r, sess.Update(domain.BillingAdvance)), nil
	})
	nav.ClearSessionID()

	s.logger.Info("checkout confirmed",
		"subscription_id", r.SubscriptionID,
		"status", r.SubscriptionStatus,
	)
	metrics.SyncPass(FlowCheckout, metrics.OutcomeApplied)
	return r
}

// =============================================================================
// Status refresh
// =============================================================================

// RefreshStatus re-reads the subscription from the billing backend. It is a
// no-op without a subscription id, and runs at most once per refresh interval
// for the same subscription id.
func (s *Session) RefreshStatus(ctx context.Context) domain.Record {
	return s.refresh(ctx, false)
}

func (s *Session) refresh(ctx context.Context, bypassRateLimit bool) domain.Record {
	s.mu.Lock()
	subscriptionID := s.record.SubscriptionID
	if subscriptionID == "" {
		current := s.record.Clone()
		s.mu.Unlock()
		return current
	}
	now := s.now()
	if !bypassRateLimit && s.lastCheckedID == subscriptionID && now.Sub(s.lastCheckedAt) < s.cfg.RefreshInterval {
		current := s.record.Clone()
		s.mu.Unlock()
		metrics.SyncPass(FlowRefresh, metrics.OutcomeSkipped)
		return current
	}
	s.lastCheckedID, s.lastCheckedAt = subscriptionID, now
	s.mu.Unlock()

	sub, err := s.billing.SubscriptionStatus(ctx, subscriptionID)
	if err != nil {
		s.logger.Warn("subscription status refresh failed",
			"subscription_id", subscriptionID,
			"error", err,
		)
		metrics.SyncPass(FlowRefresh, metrics.OutcomeFailed)
		return s.Current()
	}
	if sub.ID == "" {
		sub.ID = subscriptionID
	}

	r, applied := s.applyVerified(ctx, subscriptionID, sub)
	if applied {
		metrics.SyncPass(FlowRefresh, metrics.OutcomeApplied)
	} else {
		metrics.SyncPass(FlowRefresh, metrics.OutcomeSkipped)
	}
	return r
}

// applyVerified applies a subscription read back from the provider. A
// granting status or a live grace window advances the record, anything else
// revokes. When expectedID is set and the record has since moved to another
// subscription, the result is stale and dropped.
func (s *Session) applyVerified(ctx context.Context, expectedID string, sub billing.Subscription) (domain.Record, bool) {
	stale := false
	r, _ := s.update(ctx, func(r domain.Record) (domain.Record, error) {
		if r.SubscriptionID != expectedID {
			stale = true
			return r, nil
		}
		return domain.ApplyBillingUpdate(r, verifiedUpdate(r, sub, s.now())), nil
	})
	if stale {
		s.logger.Debug("dropping stale subscription status",
			"subscription_id", sub.ID,
			"current_subscription_id", r.SubscriptionID,
		)
		return r, false
	}
	s.logger.Debug("subscription status applied",
		"subscription_id", r.SubscriptionID,
		"status", r.SubscriptionStatus,
		"access", domain.HasAccess(r, s.now()),
	)
	return r, true
}

// verifiedUpdate picks advance or revoke for a provider response. The grace
// window check falls back to the record's fields where the response is silent.
func verifiedUpdate(r domain.Record, sub billing.Subscription, now time.Time) domain.BillingUpdate {
	cancel := r.CancelAtPeriodEnd
	if sub.CancelAtPeriodEnd != nil {
		cancel = *sub.CancelAtPeriodEnd
	}
	end := r.CurrentPeriodEnd
	if sub.CurrentPeriodEnd != nil {
		end = sub.CurrentPeriodEnd
	}

	if domain.IsGrantingStatus(sub.Status) || domain.InGraceWindow(cancel, end, now) {
		return sub.Update(domain.BillingAdvance)
	}
	return sub.Update(domain.BillingRevoke)
}

// =============================================================================
// Legacy resolution
// =============================================================================

// ResolveLegacy looks up a subscription by email for records that predate
// subscription ids. It is attempted at most once per session and only when
// the record has no subscription id and an email is known.
func (s *Session) ResolveLegacy(ctx context.Context) domain.Record {
	s.mu.Lock()
	email := s.identityEmail
	if email == "" {
		email = s.record.Email
	}
	if s.legacyAttempted || s.record.SubscriptionID != "" || email == "" {
		current := s.record.Clone()
		s.mu.Unlock()
		return current
	}
	s.legacyAttempted = true
	s.mu.Unlock()

	sub, err := s.billing.ResolveSubscription(ctx, email)
	if errors.Is(err, billing.ErrNotFound) {
		s.logger.Debug("no legacy subscription for email")
		metrics.SyncPass(FlowLegacy, metrics.OutcomeSkipped)
		return s.Current()
	}
	if err != nil {
		s.logger.Warn("legacy subscription lookup failed", "error", err)
		metrics.SyncPass(FlowLegacy, metrics.OutcomeFailed)
		return s.Current()
	}

	r, applied := s.applyVerified(ctx, "", sub)
	if applied {
		s.logger.Info("resolved legacy subscription",
			"subscription_id", r.SubscriptionID,
			"status", r.SubscriptionStatus,
		)
		metrics.SyncPass(FlowLegacy, metrics.OutcomeApplied)
	} else {
		metrics.SyncPass(FlowLegacy, metrics.OutcomeSkipped)
	}
	return r
}

// =============================================================================
// Cancellation
// =============================================================================

// Cancel cancels the subscription immediately.
//
// Without a known subscription id it first resolves one by email. After the
// cancel call the status is re-read, bypassing the rate limit, so a renewal
// that raced the cancellation re-advances the record.
func (s *Session) Cancel(ctx context.Context) (domain.Record, error) {
	const op = "session.cancel"

	s.mu.Lock()
	subscriptionID := s.record.SubscriptionID
	email := s.identityEmail
	if email == "" {
		email = s.record.Email
	}
	s.mu.Unlock()

	if subscriptionID == "" {
		if email == "" {
			metrics.SyncPass(FlowCancel, metrics.OutcomeSkipped)
			return s.Current(), domain.NotFound(op, "We couldn't find a subscription for this account.")
		}
		sub, err := s.billing.ResolveSubscription(ctx, email)
		if errors.Is(err, billing.ErrNotFound) || (err == nil && sub.ID == "") {
			metrics.SyncPass(FlowCancel, metrics.OutcomeSkipped)
			return s.Current(), domain.NotFound(op, "We couldn't find a subscription for this account.")
		}
		if err != nil {
			s.logger.Warn("subscription lookup before cancel failed", "error", err)
			metrics.SyncPass(FlowCancel, metrics.OutcomeFailed)
			return s.Current(), domain.Unavailable(err, op, "We couldn't reach billing. Please try again.")
		}
		r, _ := s.applyVerified(ctx, "", sub)
		if !domain.IsGrantingStatus(sub.Status) {
			s.logger.Info("resolved subscription already ended, nothing to cancel",
				"subscription_id", sub.ID,
				"status", sub.Status,
			)
			metrics.SyncPass(FlowCancel, metrics.OutcomeSkipped)
			return r, nil
		}
		subscriptionID = sub.ID
	}

	sub, err := s.billing.CancelSubscription(ctx, subscriptionID, false)
	if err != nil {
		s.logger.Warn("cancel subscription failed",
			"subscription_id", subscriptionID,
			"error", err,
		)
		metrics.SyncPass(FlowCancel, metrics.OutcomeFailed)
		return s.Current(), domain.Unavailable(err, op, "We couldn't cancel your subscription. Please try again.")
	}
	if sub.ID == "" {
		sub.ID = subscriptionID
	}

	s.update(ctx, func(r domain.Record) (domain.Record, error) {
		return domain.ApplyBillingUpdate(r, sub.Update(domain.BillingRevoke)), nil
	})
	s.logger.Info("subscription canceled", "subscription_id", subscriptionID, "status", sub.Status)
	metrics.SyncPass(FlowCancel, metrics.OutcomeApplied)

	return s.refresh(ctx, true), nil
}

// =============================================================================
// Subscribe
// =============================================================================

// Plan selects the price used for checkout.
type Plan string

const (
	PlanSubscription Plan = "subscription"
	PlanTrial        Plan = "trial"
)

// Subscribe starts a hosted checkout for plan and returns its URL.
func (s *Session) Subscribe(ctx context.Context, plan Plan) (string, error) {
	const op = "session.subscribe"

	var priceID string
	switch plan {
	case PlanSubscription:
		priceID = s.cfg.PriceID
	case PlanTrial:
		priceID = s.cfg.TrialPriceID
	default:
		return "", domain.Invalid(op, "Choose the subscription or the trial plan.")
	}
	if priceID == "" {
		return "", domain.Errorf(domain.ENOTIMPL, op, "The %s plan is not available right now.", plan)
	}

	s.mu.Lock()
	email := s.identityEmail
	if email == "" {
		email = s.record.Email
	}
	s.mu.Unlock()

	url, err := s.billing.CreateCheckoutSession(ctx, priceID, email)
	if err != nil {
		s.logger.Warn("create checkout session failed", "plan", plan, "error", err)
		return "", domain.Unavailable(err, op, "We couldn't start checkout. Please try again.")
	}
	s.logger.Info("checkout started", "plan", plan)
	return url, nil
}
