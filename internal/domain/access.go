package domain

import "time"

// Provider subscription statuses observed by the synchronizer.
const (
	StatusActive     = "active"
	StatusTrialing   = "trialing"
	StatusPastDue    = "past_due"
	StatusIncomplete = "incomplete"
	StatusComplete   = "complete" // checkout session status
	StatusCanceled   = "canceled"
	StatusUnpaid     = "unpaid"
)

// grantingStatuses grant premium access. past_due and incomplete are included
// so a payment-processor hiccup does not lock a paying user out.
var grantingStatuses = map[string]bool{
	StatusActive:     true,
	StatusTrialing:   true,
	StatusPastDue:    true,
	StatusIncomplete: true,
}

// checkoutStatuses are accepted when confirming a returning checkout session.
var checkoutStatuses = map[string]bool{
	StatusActive:     true,
	StatusTrialing:   true,
	StatusComplete:   true,
	StatusIncomplete: true,
}

// IsGrantingStatus reports whether status grants access on its own.
func IsGrantingStatus(status string) bool {
	return grantingStatuses[status]
}

// IsCheckoutAccepted reports whether a checkout confirmation with status
// should advance the record.
func IsCheckoutAccepted(status string) bool {
	return checkoutStatuses[status]
}

// InGraceWindow reports whether a cancel-at-period-end subscription is still
// inside its paid period.
func InGraceWindow(cancelAtPeriodEnd bool, periodEnd *int64, now time.Time) bool {
	return cancelAtPeriodEnd && periodEnd != nil && *periodEnd > now.Unix()
}

// HasAccess derives whether the record currently grants premium access.
// It is pure: the same record and instant always produce the same answer.
func HasAccess(r Record, now time.Time) bool {
	if r.IsPremium {
		return true
	}
	if IsGrantingStatus(r.SubscriptionStatus) {
		return true
	}
	return InGraceWindow(r.CancelAtPeriodEnd, r.CurrentPeriodEnd, now)
}

// HasSettledAccess reports whether a new checkout could not improve the
// record: premium was granted manually, or an active or trialing subscription
// is set to renew. Past-due, incomplete and cancel-at-period-end records still
// grant access but are not settled.
func HasSettledAccess(r Record) bool {
	if r.IsPremium {
		return true
	}
	switch r.SubscriptionStatus {
	case StatusActive, StatusTrialing:
		return !r.CancelAtPeriodEnd
	}
	return false
}
