package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/tandem/internal/billing"
	"github.com/DukeRupert/tandem/internal/domain"
)

func futureEnd() *int64 { return ptr(epoch.Add(7 * 24 * time.Hour).Unix()) }

// subscribed seeds a local record carrying an active subscription and loads it.
func (h *harness) subscribed(id, status string) {
	h.t.Helper()
	r := domain.NewRecord(epoch)
	r.SubscriptionID = id
	r.SubscriptionStatus = status
	r.CurrentPeriodEnd = futureEnd()
	h.seedLocal(r)
	h.session.LoadCanonical(context.Background())
}

// =============================================================================
// Checkout confirmation
// =============================================================================

func TestConfirmCheckout_AdvancesAndClearsSessionID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.session.LoadCanonical(ctx)
	h.gateway.sessions["cs_1"] = billing.CheckoutSession{
		SubscriptionID:    "sub_1",
		Status:            domain.StatusTrialing,
		CurrentPeriodEnd:  futureEnd(),
		CancelAtPeriodEnd: ptr(false),
	}
	nav := &fakeNav{id: "cs_1"}

	r := h.session.ConfirmCheckout(ctx, nav)

	assert.Equal(t, "sub_1", r.SubscriptionID)
	assert.Equal(t, domain.StatusTrialing, r.SubscriptionStatus)
	assert.True(t, h.session.Access())
	assert.Empty(t, nav.SessionID())
	assert.Equal(t, 1, nav.cleared)

	stored, _ := h.local.stored()
	assert.Equal(t, "sub_1", stored.SubscriptionID)
}

func TestConfirmCheckout_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.session.LoadCanonical(ctx)
	h.gateway.sessions["cs_1"] = billing.CheckoutSession{SubscriptionID: "sub_1", Status: domain.StatusActive}

	first := h.session.ConfirmCheckout(ctx, &fakeNav{id: "cs_1"})
	second := h.session.ConfirmCheckout(ctx, &fakeNav{id: "cs_1"})

	assert.Equal(t, first, second)
	sessions, _, _, _ := h.gateway.counts()
	assert.Equal(t, 1, sessions, "a granted record skips confirmation")
}

func TestConfirmCheckout_ReplacesUnsettledSubscription(t *testing.T) {
	for _, tt := range []struct {
		name   string
		status string
		ending bool
	}{
		{"incomplete", domain.StatusIncomplete, false},
		{"past due", domain.StatusPastDue, false},
		{"ending at period end", domain.StatusActive, true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			r := domain.NewRecord(epoch)
			r.SubscriptionID = "sub_old"
			r.SubscriptionStatus = tt.status
			r.CurrentPeriodEnd = futureEnd()
			r.CancelAtPeriodEnd = tt.ending
			h.seedLocal(r)
			h.session.LoadCanonical(ctx)
			require.True(t, h.session.Access())

			h.gateway.sessions["cs_new"] = billing.CheckoutSession{SubscriptionID: "sub_new", Status: domain.StatusActive}
			nav := &fakeNav{id: "cs_new"}

			got := h.session.ConfirmCheckout(ctx, nav)

			assert.Equal(t, "sub_new", got.SubscriptionID)
			assert.Equal(t, domain.StatusActive, got.SubscriptionStatus)
			assert.False(t, got.CancelAtPeriodEnd)
			assert.Empty(t, nav.SessionID())
			sessions, _, _, _ := h.gateway.counts()
			assert.Equal(t, 1, sessions)
		})
	}
}

func TestConfirmCheckout_SkipsManualPremium(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := domain.NewRecord(epoch)
	r.IsPremium = true
	h.seedLocal(r)
	h.session.LoadCanonical(ctx)

	nav := &fakeNav{id: "cs_1"}
	h.session.ConfirmCheckout(ctx, nav)

	sessions, _, _, _ := h.gateway.counts()
	assert.Zero(t, sessions)
	assert.Equal(t, "cs_1", nav.SessionID())
}

func TestConfirmCheckout_SingleFlight(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.session.LoadCanonical(ctx)
	h.gateway.sessions["cs_1"] = billing.CheckoutSession{SubscriptionID: "sub_1", Status: domain.StatusActive}
	h.gateway.sessionGate = make(chan struct{})
	h.gateway.sessionEntered = make(chan struct{}, 1)
	nav := &fakeNav{id: "cs_1"}

	done := make(chan domain.Record)
	go func() { done <- h.session.ConfirmCheckout(ctx, nav) }()
	<-h.gateway.sessionEntered

	skipped := h.session.ConfirmCheckout(ctx, nav)
	assert.Empty(t, skipped.SubscriptionID, "second confirmation does not wait or apply")

	close(h.gateway.sessionGate)
	r := <-done
	assert.Equal(t, "sub_1", r.SubscriptionID)

	sessions, _, _, _ := h.gateway.counts()
	assert.Equal(t, 1, sessions)
}

func TestConfirmCheckout_NotAccepted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.session.LoadCanonical(ctx)
	h.gateway.sessions["cs_1"] = billing.CheckoutSession{Status: "open"}
	nav := &fakeNav{id: "cs_1"}

	r := h.session.ConfirmCheckout(ctx, nav)

	assert.Empty(t, r.SubscriptionStatus)
	assert.False(t, h.session.Access())
	assert.Equal(t, "cs_1", nav.SessionID(), "session id stays for a later retry")
}

func TestConfirmCheckout_FailureChangesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.session.LoadCanonical(ctx)
	h.gateway.sessionErr = &billing.StatusError{Endpoint: billing.PathGetCheckoutSession, StatusCode: 502}
	nav := &fakeNav{id: "cs_1"}

	before := h.session.Current()
	r := h.session.ConfirmCheckout(ctx, nav)

	assert.Equal(t, before, r)
	assert.Equal(t, "cs_1", nav.SessionID())
	_, writes := h.local.stored()
	assert.Zero(t, writes)
}

func TestConfirmCheckout_NoSessionID(t *testing.T) {
	h := newHarness(t)
	h.session.LoadCanonical(context.Background())

	h.session.ConfirmCheckout(context.Background(), &fakeNav{})

	sessions, _, _, _ := h.gateway.counts()
	assert.Zero(t, sessions)
}

// =============================================================================
// Status refresh
// =============================================================================

func TestRefreshStatus_RateLimited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.subscribed("sub_1", domain.StatusActive)
	h.gateway.statuses = []billing.Subscription{{Status: domain.StatusActive, CurrentPeriodEnd: futureEnd()}}

	h.session.RefreshStatus(ctx)
	h.session.RefreshStatus(ctx)
	_, statuses, _, _ := h.gateway.counts()
	assert.Equal(t, 1, statuses)

	h.clock.Advance(DefaultRefreshInterval + time.Second)
	h.session.RefreshStatus(ctx)
	_, statuses, _, _ = h.gateway.counts()
	assert.Equal(t, 2, statuses)
	assert.Equal(t, []string{"sub_1", "sub_1"}, h.gateway.statusIDs)
}

func TestRefreshStatus_NoSubscription(t *testing.T) {
	h := newHarness(t)
	h.session.LoadCanonical(context.Background())

	h.session.RefreshStatus(context.Background())

	_, statuses, _, _ := h.gateway.counts()
	assert.Zero(t, statuses)
}

func TestRefreshStatus_Outcomes(t *testing.T) {
	pastPeriod := ptr(epoch.Add(-time.Hour).Unix())

	tests := []struct {
		name       string
		sub        billing.Subscription
		wantStatus string
		wantAccess bool
	}{
		{
			name:       "canceled revokes",
			sub:        billing.Subscription{Status: domain.StatusCanceled},
			wantStatus: domain.StatusCanceled,
			wantAccess: false,
		},
		{
			name:       "unpaid revokes",
			sub:        billing.Subscription{Status: domain.StatusUnpaid, CurrentPeriodEnd: pastPeriod},
			wantStatus: domain.StatusUnpaid,
			wantAccess: false,
		},
		{
			name:       "past due keeps access",
			sub:        billing.Subscription{Status: domain.StatusPastDue},
			wantStatus: domain.StatusPastDue,
			wantAccess: true,
		},
		{
			name: "canceled inside the paid period keeps access",
			sub: billing.Subscription{
				Status:            domain.StatusCanceled,
				CurrentPeriodEnd:  futureEnd(),
				CancelAtPeriodEnd: ptr(true),
			},
			wantStatus: domain.StatusCanceled,
			wantAccess: true,
		},
		{
			name: "canceled after the paid period revokes",
			sub: billing.Subscription{
				Status:            domain.StatusCanceled,
				CurrentPeriodEnd:  pastPeriod,
				CancelAtPeriodEnd: ptr(true),
			},
			wantStatus: domain.StatusCanceled,
			wantAccess: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.subscribed("sub_1", domain.StatusActive)
			h.gateway.statuses = []billing.Subscription{tt.sub}

			r := h.session.RefreshStatus(context.Background())

			assert.Equal(t, "sub_1", r.SubscriptionID)
			assert.Equal(t, tt.wantStatus, r.SubscriptionStatus)
			assert.Equal(t, tt.wantAccess, h.session.Access())
		})
	}
}

func TestRefreshStatus_FailureKeepsAccess(t *testing.T) {
	h := newHarness(t)
	h.subscribed("sub_1", domain.StatusActive)
	h.gateway.statusErr = errors.New("connection reset")

	r := h.session.RefreshStatus(context.Background())

	assert.Equal(t, domain.StatusActive, r.SubscriptionStatus)
	assert.True(t, h.session.Access())
}

func TestRefreshStatus_ManualPremiumIsSticky(t *testing.T) {
	h := newHarness(t)
	r := domain.NewRecord(epoch)
	r.IsPremium = true
	r.SubscriptionID = "sub_1"
	r.SubscriptionStatus = domain.StatusActive
	h.seedLocal(r)
	h.session.LoadCanonical(context.Background())
	h.gateway.statuses = []billing.Subscription{{Status: domain.StatusCanceled}}

	got := h.session.RefreshStatus(context.Background())

	assert.True(t, got.IsPremium)
	assert.True(t, h.session.Access())
}

// =============================================================================
// Legacy resolution
// =============================================================================

func TestResolveLegacy_AdoptsSubscription(t *testing.T) {
	h := newHarness(t, withIdentity(ana))
	ctx := context.Background()
	h.session.LoadCanonical(ctx)
	h.gateway.resolved = &billing.Subscription{ID: "sub_9", Status: domain.StatusActive, CurrentPeriodEnd: futureEnd()}

	r := h.session.Sync(ctx, nil)

	assert.Equal(t, "sub_9", r.SubscriptionID)
	assert.True(t, h.session.Access())
	assert.Equal(t, "sub_9", h.remote.doc(ana.UID)[domain.FieldSubscriptionID])
}

func TestResolveLegacy_RunsOnce(t *testing.T) {
	h := newHarness(t, withIdentity(ana))
	ctx := context.Background()
	h.session.LoadCanonical(ctx)

	h.session.ResolveLegacy(ctx)
	h.session.ResolveLegacy(ctx)

	_, _, resolves, _ := h.gateway.counts()
	assert.Equal(t, 1, resolves)
	assert.False(t, h.session.Access())
}

func TestResolveLegacy_RequiresEmail(t *testing.T) {
	h := newHarness(t)
	h.session.LoadCanonical(context.Background())

	h.session.ResolveLegacy(context.Background())

	_, _, resolves, _ := h.gateway.counts()
	assert.Zero(t, resolves)
}

func TestResolveLegacy_UsesRecordEmail(t *testing.T) {
	h := newHarness(t)
	r := domain.NewRecord(epoch)
	r.Email = "bia@example.com"
	h.seedLocal(r)
	h.session.LoadCanonical(context.Background())
	h.gateway.resolved = &billing.Subscription{ID: "sub_2", Status: domain.StatusCanceled}

	got := h.session.ResolveLegacy(context.Background())

	assert.Equal(t, "sub_2", got.SubscriptionID)
	assert.Equal(t, domain.StatusCanceled, got.SubscriptionStatus)
	assert.False(t, h.session.Access())
}

// =============================================================================
// Sync
// =============================================================================

func TestSync_CheckoutThenRefresh(t *testing.T) {
	h := newHarness(t, withIdentity(ana))
	ctx := context.Background()
	h.session.LoadCanonical(ctx)
	h.gateway.sessions["cs_1"] = billing.CheckoutSession{SubscriptionID: "sub_1", Status: domain.StatusComplete}
	h.gateway.statuses = []billing.Subscription{{Status: domain.StatusActive, CurrentPeriodEnd: futureEnd()}}

	r := h.session.Sync(ctx, &fakeNav{id: "cs_1"})

	assert.Equal(t, domain.StatusActive, r.SubscriptionStatus, "refresh reads the id the checkout wrote")
	require.NotNil(t, r.CurrentPeriodEnd)
	_, statuses, resolves, _ := h.gateway.counts()
	assert.Equal(t, 1, statuses)
	assert.Zero(t, resolves, "legacy lookup is skipped once an id is known")
}

// =============================================================================
// Cancellation
// =============================================================================

func TestCancel_RenewalRaceReadvances(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.subscribed("sub_1", domain.StatusActive)
	renewedEnd := ptr(epoch.Add(30 * 24 * time.Hour).Unix())
	h.gateway.statuses = []billing.Subscription{
		{Status: domain.StatusActive, CurrentPeriodEnd: futureEnd()},
		{Status: domain.StatusActive, CurrentPeriodEnd: renewedEnd},
	}
	h.gateway.canceled = billing.Subscription{ID: "sub_1", Status: domain.StatusCanceled}

	h.session.RefreshStatus(ctx)
	r, err := h.session.Cancel(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusActive, r.SubscriptionStatus)
	assert.Equal(t, renewedEnd, r.CurrentPeriodEnd)
	assert.True(t, h.session.Access())

	_, statuses, _, cancels := h.gateway.counts()
	assert.Equal(t, 2, statuses, "the re-check bypasses the rate limit")
	assert.Equal(t, 1, cancels)
	assert.Equal(t, []bool{false}, h.gateway.cancelAtEnd)
}

func TestCancel_Revokes(t *testing.T) {
	h := newHarness(t)
	h.subscribed("sub_1", domain.StatusActive)
	h.gateway.canceled = billing.Subscription{ID: "sub_1", Status: domain.StatusCanceled}
	h.gateway.statuses = []billing.Subscription{{Status: domain.StatusCanceled}}

	r, err := h.session.Cancel(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCanceled, r.SubscriptionStatus)
	assert.Nil(t, r.CurrentPeriodEnd)
	assert.False(t, h.session.Access())
}

func TestCancel_NoSubscriptionNoEmail(t *testing.T) {
	h := newHarness(t)
	h.session.LoadCanonical(context.Background())

	_, err := h.session.Cancel(context.Background())

	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
	_, _, resolves, cancels := h.gateway.counts()
	assert.Zero(t, resolves)
	assert.Zero(t, cancels)
}

func TestCancel_ResolvesByEmail(t *testing.T) {
	h := newHarness(t, withIdentity(ana))
	h.session.LoadCanonical(context.Background())
	h.gateway.resolved = &billing.Subscription{ID: "sub_7", Status: domain.StatusActive}
	h.gateway.canceled = billing.Subscription{ID: "sub_7", Status: domain.StatusCanceled}
	h.gateway.statuses = []billing.Subscription{{Status: domain.StatusCanceled}}

	r, err := h.session.Cancel(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "sub_7", r.SubscriptionID)
	assert.Equal(t, domain.StatusCanceled, r.SubscriptionStatus)
	assert.Equal(t, []string{"sub_7"}, h.gateway.statusIDs)
}

func TestCancel_ResolvedSubscriptionAlreadyEnded(t *testing.T) {
	h := newHarness(t, withIdentity(ana))
	h.session.LoadCanonical(context.Background())
	h.gateway.resolved = &billing.Subscription{ID: "sub_7", Status: domain.StatusCanceled}

	r, err := h.session.Cancel(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "sub_7", r.SubscriptionID)
	assert.Equal(t, domain.StatusCanceled, r.SubscriptionStatus)
	assert.False(t, h.session.Access())
	_, _, resolves, cancels := h.gateway.counts()
	assert.Equal(t, 1, resolves)
	assert.Zero(t, cancels, "an ended subscription is not canceled again")
}

func TestCancel_ResolveNotFound(t *testing.T) {
	h := newHarness(t, withIdentity(ana))
	h.session.LoadCanonical(context.Background())

	_, err := h.session.Cancel(context.Background())

	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
	_, _, _, cancels := h.gateway.counts()
	assert.Zero(t, cancels)
}

func TestCancel_FailureLeavesRecord(t *testing.T) {
	h := newHarness(t)
	h.subscribed("sub_1", domain.StatusActive)
	h.gateway.cancelErr = &billing.StatusError{Endpoint: billing.PathCancelSubscription, StatusCode: 500}

	before := h.session.Current()
	r, err := h.session.Cancel(context.Background())

	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
	assert.Equal(t, "We couldn't cancel your subscription. Please try again.", domain.ErrorMessage(err))
	assert.Equal(t, before, r)
	assert.True(t, h.session.Access())
}

// =============================================================================
// Subscribe
// =============================================================================

func TestSubscribe(t *testing.T) {
	h := newHarness(t, withIdentity(ana))
	ctx := context.Background()
	h.session.LoadCanonical(ctx)
	h.gateway.checkoutURL = "https://checkout.example/cs_1"

	url, err := h.session.Subscribe(ctx, PlanSubscription)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example/cs_1", url)

	_, err = h.session.Subscribe(ctx, PlanTrial)
	require.NoError(t, err)

	assert.Equal(t, []string{"price_sub", "price_trial"}, h.gateway.createPrices)
	assert.Equal(t, []string{"ana@example.com", "ana@example.com"}, h.gateway.createEmails)
}

func TestSubscribe_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.session.LoadCanonical(ctx)

	_, err := h.session.Subscribe(ctx, Plan("lifetime"))
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	assert.Empty(t, h.gateway.createPrices)

	h.gateway.createErr = errors.New("connection refused")
	_, err = h.session.Subscribe(ctx, PlanSubscription)
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))

	h.session.cfg.TrialPriceID = ""
	_, err = h.session.Subscribe(ctx, PlanTrial)
	assert.Equal(t, domain.ENOTIMPL, domain.ErrorCode(err))
}
