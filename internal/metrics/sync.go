package metrics

// Sync pass outcomes.
const (
	OutcomeApplied = "applied"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// SyncPass records the outcome of one billing synchronization pass.
func SyncPass(flow, outcome string) {
	SyncPassesTotal.WithLabelValues(flow, outcome).Inc()
}

// RemoteStoreCall records one remote profile store call.
func RemoteStoreCall(op, outcome string) {
	RemoteStoreCallsTotal.WithLabelValues(op, outcome).Inc()
}

// BreakerTripped records the remote store circuit breaker opening.
func BreakerTripped() {
	BreakerTripsTotal.Inc()
}

// BillingAPICall records one call to the billing provider.
func BillingAPICall(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	BillingAPICallsTotal.WithLabelValues(operation, status).Inc()
}
