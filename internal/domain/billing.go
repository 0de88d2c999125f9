package domain

// BillingKind distinguishes a provider grant from a provider refusal.
type BillingKind int

const (
	// BillingAdvance adopts a grant reported by the billing provider.
	BillingAdvance BillingKind = iota + 1
	// BillingRevoke records a non-granting status reported by the provider.
	BillingRevoke
)

func (k BillingKind) String() string {
	switch k {
	case BillingAdvance:
		return "advance"
	case BillingRevoke:
		return "revoke"
	}
	return "unknown"
}

// BillingUpdate is a delta of billing fields produced by one synchronization
// pass. Nil pointers and empty strings leave the record's value untouched on
// advance.
type BillingUpdate struct {
	Kind              BillingKind
	SubscriptionID    string
	Status            string
	CurrentPeriodEnd  *int64
	CancelAtPeriodEnd *bool
}

// ApplyBillingUpdate merges a billing delta into the record.
//
// It is the only writer of the subscription fields. Rules:
//   - an update without a status is ambiguous and changes nothing;
//   - a revoke naming a different subscription than the record's is stale and
//     changes nothing;
//   - an advance naming a different subscription drops the old period fields;
//   - IsPremium is never touched.
func ApplyBillingUpdate(r Record, u BillingUpdate) Record {
	if u.Status == "" {
		return r
	}

	switch u.Kind {
	case BillingAdvance:
		out := r.Clone()
		if u.SubscriptionID != "" && u.SubscriptionID != r.SubscriptionID {
			// The old period belongs to the old subscription.
			out.CurrentPeriodEnd = nil
			out.CancelAtPeriodEnd = false
		}
		if u.SubscriptionID != "" {
			out.SubscriptionID = u.SubscriptionID
		}
		out.SubscriptionStatus = u.Status
		if u.CurrentPeriodEnd != nil {
			end := *u.CurrentPeriodEnd
			out.CurrentPeriodEnd = &end
		}
		if u.CancelAtPeriodEnd != nil {
			out.CancelAtPeriodEnd = *u.CancelAtPeriodEnd
		}
		return out

	case BillingRevoke:
		if u.SubscriptionID != "" && r.SubscriptionID != "" && u.SubscriptionID != r.SubscriptionID {
			return r
		}
		out := r.Clone()
		if u.SubscriptionID != "" {
			out.SubscriptionID = u.SubscriptionID
		}
		out.SubscriptionStatus = u.Status
		out.CurrentPeriodEnd = nil
		if u.CurrentPeriodEnd != nil {
			end := *u.CurrentPeriodEnd
			out.CurrentPeriodEnd = &end
		}
		out.CancelAtPeriodEnd = u.CancelAtPeriodEnd != nil && *u.CancelAtPeriodEnd
		return out
	}

	return r
}
