// Package jobs contains the periodic jobs run by `tandem watch`.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/tandem/internal/domain"
	"github.com/DukeRupert/tandem/internal/session"
)

// Job type identifiers.
const (
	JobTypeSyncBilling      = "sync_billing"
	JobTypeReconcileProfile = "reconcile_profile"
)

// Session is the part of *session.Session the jobs drive.
type Session interface {
	Current() domain.Record
	LoadCanonical(ctx context.Context) domain.Record
	Sync(ctx context.Context, nav session.Navigator) domain.Record
}

// =============================================================================
// Billing sync
// =============================================================================

// SyncBillingHandler re-runs the billing synchronization flows and logs
// access transitions.
type SyncBillingHandler struct {
	session Session
	logger  *slog.Logger
	now     func() time.Time
}

// NewSyncBillingHandler creates a new billing sync job.
func NewSyncBillingHandler(s Session, logger *slog.Logger) *SyncBillingHandler {
	return &SyncBillingHandler{session: s, logger: logger, now: time.Now}
}

// Type returns the job type identifier.
func (h *SyncBillingHandler) Type() string {
	return JobTypeSyncBilling
}

// Run performs one sync pass. Flow failures are absorbed by the session, so
// Run only fails when ctx is already done.
func (h *SyncBillingHandler) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	before := h.session.Current()
	after := h.session.Sync(ctx, nil)

	now := h.now()
	was, is := domain.HasAccess(before, now), domain.HasAccess(after, now)
	if was != is {
		h.logger.Info("premium access changed",
			"access", is,
			"subscription_id", after.SubscriptionID,
			"status", after.SubscriptionStatus,
		)
	}
	return nil
}

// =============================================================================
// Profile reconciliation
// =============================================================================

// ReconcileProfileHandler reloads the canonical record so progress saved from
// another device is merged in.
type ReconcileProfileHandler struct {
	session Session
	logger  *slog.Logger
}

// NewReconcileProfileHandler creates a new reconciliation job.
func NewReconcileProfileHandler(s Session, logger *slog.Logger) *ReconcileProfileHandler {
	return &ReconcileProfileHandler{session: s, logger: logger}
}

// Type returns the job type identifier.
func (h *ReconcileProfileHandler) Type() string {
	return JobTypeReconcileProfile
}

// Run reloads and merges the record.
func (h *ReconcileProfileHandler) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	before := h.session.Current()
	after := h.session.LoadCanonical(ctx)

	if gained := len(after.CompletedMissionIDs) - len(before.CompletedMissionIDs); gained > 0 {
		h.logger.Info("merged progress from remote profile",
			"new_completions", gained,
			"streak", after.Streak,
		)
	}
	return nil
}
