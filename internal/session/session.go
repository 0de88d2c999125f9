// Package session owns the canonical progress record for one application
// session on the device.
//
// A Session reconciles the local snapshot with the remote profile document on
// load, runs the billing synchronization flows, and applies user actions. All
// mutation goes through a single lock; I/O runs outside it and every write
// re-reads the current record before applying its change.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/tandem/internal/billing"
	"github.com/DukeRupert/tandem/internal/catalog"
	"github.com/DukeRupert/tandem/internal/domain"
	"github.com/DukeRupert/tandem/internal/identity"
	"github.com/DukeRupert/tandem/internal/profile"
)

// DefaultRefreshInterval is the minimum spacing between status refreshes of
// the same subscription.
const DefaultRefreshInterval = 30 * time.Second

// =============================================================================
// Collaborators
// =============================================================================

// LocalStore is the always-available device snapshot.
type LocalStore interface {
	Read(ctx context.Context) domain.Record
	Write(ctx context.Context, r domain.Record)
	Clear(ctx context.Context) domain.Record
}

// RemoteStore is the best-effort profile document store. *profile.Guarded
// implements it.
type RemoteStore interface {
	profile.Store
	Available() bool
}

// Gateway is the billing backend. *billing.Client implements it.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, priceID, customerEmail string) (string, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (billing.CheckoutSession, error)
	SubscriptionStatus(ctx context.Context, subscriptionID string) (billing.Subscription, error)
	ResolveSubscription(ctx context.Context, email string) (billing.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (billing.Subscription, error)
}

// Config holds session settings.
type Config struct {
	PriceID         string
	TrialPriceID    string
	RefreshInterval time.Duration
	Catalog         *catalog.Catalog
}

// Deps groups the collaborators of a Session. Remote may be nil for a
// local-only session.
type Deps struct {
	Local    LocalStore
	Remote   RemoteStore
	Identity identity.Provider
	Billing  Gateway
	Logger   *slog.Logger
}

// =============================================================================
// Session
// =============================================================================

// Session holds the canonical record and the synchronizer state.
//
// The checkout in-flight flag, the legacy-attempted flag and the refresh rate
// limit live here and last until the process exits.
type Session struct {
	local    LocalStore
	remote   RemoteStore
	identity identity.Provider
	billing  Gateway
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	// saveMu serializes persistence so the last write is always the latest record.
	saveMu sync.Mutex

	mu              sync.Mutex
	record          domain.Record
	loaded          bool
	uid             string
	identityEmail   string
	confirming      bool
	legacyAttempted bool
	lastCheckedID   string
	lastCheckedAt   time.Time
}

// New creates a session. Call LoadCanonical before using the record.
func New(deps Deps, cfg Config) *Session {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default()
	}
	if deps.Identity == nil {
		deps.Identity = identity.Guest{}
	}
	return &Session{
		local:    deps.Local,
		remote:   deps.Remote,
		identity: deps.Identity,
		billing:  deps.Billing,
		cfg:      cfg,
		logger:   deps.Logger,
		now:      time.Now,
		record:   domain.NewRecord(time.Now()),
	}
}

// Current returns a copy of the canonical record.
func (s *Session) Current() domain.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Clone()
}

// Access reports whether the canonical record currently grants premium access.
func (s *Session) Access() bool {
	return domain.HasAccess(s.Current(), s.now())
}

// UserID returns the authenticated user id, or "" for a guest session.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uid
}

// =============================================================================
// Reconciliation
// =============================================================================

// LoadCanonical reconciles the local snapshot with the remote profile and
// persists the result to both. It never fails: remote trouble degrades to the
// current record.
//
// The snapshot is read only on the first load after New or SignOut. Later
// loads merge the remote document into the in-memory record, so writes made
// while the fetch is in flight are kept.
func (s *Session) LoadCanonical(ctx context.Context) domain.Record {
	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()
	if !loaded {
		local := s.local.Read(ctx).PruneReflections(s.cfg.Catalog.Contains)
		s.mu.Lock()
		if !s.loaded {
			s.record = local
			s.loaded = true
		}
		s.mu.Unlock()
	}

	id, err := s.identity.Current(ctx)
	if err != nil {
		s.logger.Warn("failed to resolve identity, continuing as guest", "error", err)
		id = nil
	}

	s.mu.Lock()
	s.uid, s.identityEmail = "", ""
	if id != nil {
		s.uid, s.identityEmail = id.UID, id.Email
	}
	s.mu.Unlock()

	if id == nil || !s.remoteAvailable() {
		return s.Current()
	}

	raw, err := s.remote.Fetch(ctx, id.UID)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		seeded, _ := s.update(ctx, func(cur domain.Record) (domain.Record, error) {
			return seed(cur, id), nil
		})
		s.logger.Info("created remote profile", "user_id", id.UID)
		return seeded

	case err != nil:
		s.logger.Warn("remote profile unavailable, using local snapshot",
			"user_id", id.UID,
			"error", err,
		)
		return s.Current()
	}

	remote := domain.ParseRecord(raw, s.now()).PruneReflections(s.cfg.Catalog.Contains)
	merged, _ := s.update(ctx, func(cur domain.Record) (domain.Record, error) {
		return domain.Merge(cur, remote), nil
	})

	s.logger.Debug("reconciled profile",
		"user_id", id.UID,
		"completed", len(merged.CompletedMissionIDs),
		"streak", merged.Streak,
	)
	return merged
}

// seed builds the first remote document from the local record and the
// identity provider's profile.
func seed(local domain.Record, id *identity.Identity) domain.Record {
	out := local.Clone()
	if (out.Name == "" || out.Name == domain.DefaultName) && id.DisplayName != "" {
		out.Name = id.DisplayName
	}
	if out.Email == "" && id.Email != "" {
		out.Email = id.Email
	}
	return out
}

// =============================================================================
// Persistence
// =============================================================================

func (s *Session) remoteAvailable() bool {
	return s.remote != nil && s.remote.Available()
}

// update applies fn to the current record under the lock and persists the
// result. fn must not perform I/O.
func (s *Session) update(ctx context.Context, fn func(domain.Record) (domain.Record, error)) (domain.Record, error) {
	s.mu.Lock()
	next, err := fn(s.record.Clone())
	if err != nil {
		current := s.record.Clone()
		s.mu.Unlock()
		return current, err
	}
	s.record = next
	s.mu.Unlock()

	s.persist(ctx)
	return next.Clone(), nil
}

// persist writes the latest record to the local snapshot and, best effort,
// to the remote profile. Remote failures are absorbed by the guard.
func (s *Session) persist(ctx context.Context) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	r := s.record.Clone()
	uid := s.uid
	s.mu.Unlock()

	s.local.Write(ctx, r)
	if err := s.pushRemote(ctx, uid, r.ToMap()); err != nil {
		s.logger.Warn("failed to save remote profile", "user_id", uid, "error", err)
	}
}

// pushRemote upserts doc when there is an identity and the remote store is
// still available. A skipped push is not an error.
func (s *Session) pushRemote(ctx context.Context, uid string, doc map[string]any) error {
	if uid == "" || !s.remoteAvailable() {
		return nil
	}
	return s.remote.Upsert(ctx, uid, doc)
}
