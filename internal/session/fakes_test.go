package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/tandem/internal/billing"
	"github.com/DukeRupert/tandem/internal/catalog"
	"github.com/DukeRupert/tandem/internal/domain"
	"github.com/DukeRupert/tandem/internal/identity"
	"github.com/DukeRupert/tandem/internal/profile"
)

// =============================================================================
// Clock
// =============================================================================

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// =============================================================================
// Local store
// =============================================================================

type memLocal struct {
	mu     sync.Mutex
	record *domain.Record
	writes int
	now    func() time.Time
}

func (m *memLocal) Read(context.Context) domain.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return domain.NewRecord(m.now())
	}
	return m.record.Clone()
}

func (m *memLocal) Write(_ context.Context, r domain.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := r.Clone()
	m.record = &c
	m.writes++
}

func (m *memLocal) Clear(context.Context) domain.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record = nil
	return domain.NewRecord(m.now())
}

func (m *memLocal) stored() (domain.Record, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return domain.Record{}, m.writes
	}
	return m.record.Clone(), m.writes
}

// =============================================================================
// Remote store
// =============================================================================

// fakeRemote is an in-memory profile.Store that merges on write and counts calls.
type fakeRemote struct {
	mu        sync.Mutex
	docs      map[string]map[string]any
	fetchErr  error
	upsertErr error
	fetches   int
	upserts   int

	fetchGate    chan struct{} // when set, Fetch reads the doc then blocks until closed
	fetchEntered chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{docs: map[string]map[string]any{}}
}

func (f *fakeRemote) Fetch(_ context.Context, uid string) (map[string]any, error) {
	f.mu.Lock()
	f.fetches++
	if f.fetchErr != nil {
		err := f.fetchErr
		f.mu.Unlock()
		return nil, err
	}
	doc, ok := f.docs[uid]
	if !ok {
		f.mu.Unlock()
		return nil, profile.ErrNotFound
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	gate, entered := f.fetchGate, f.fetchEntered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return out, nil
}

// holdFetches makes the next fetches return the document as it was when they
// started, only after gate is closed.
func (f *fakeRemote) holdFetches(gate, entered chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchGate, f.fetchEntered = gate, entered
}

func (f *fakeRemote) Upsert(_ context.Context, uid string, doc map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.upsertErr != nil {
		return f.upsertErr
	}
	existing, ok := f.docs[uid]
	if !ok {
		existing = map[string]any{}
		f.docs[uid] = existing
	}
	for k, v := range doc {
		existing[k] = v
	}
	return nil
}

func (f *fakeRemote) setUpsertErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertErr = err
}

func (f *fakeRemote) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches, f.upserts
}

func (f *fakeRemote) doc(uid string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[uid]
}

// alwaysAvailable adapts a plain Store to RemoteStore without a breaker.
type alwaysAvailable struct {
	profile.Store
}

func (alwaysAvailable) Available() bool { return true }

// =============================================================================
// Billing gateway
// =============================================================================

type fakeGateway struct {
	mu sync.Mutex

	checkoutURL  string
	createErr    error
	createPrices []string
	createEmails []string

	sessions       map[string]billing.CheckoutSession
	sessionErr     error
	sessionCalls   int
	sessionGate    chan struct{} // when set, GetCheckoutSession blocks until closed
	sessionEntered chan struct{}

	statuses    []billing.Subscription // served in order, the last one repeats
	statusErr   error
	statusCalls int
	statusIDs   []string

	resolved     *billing.Subscription
	resolveErr   error
	resolveCalls int

	canceled    billing.Subscription
	cancelErr   error
	cancelCalls int
	cancelAtEnd []bool
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, priceID, email string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createPrices = append(g.createPrices, priceID)
	g.createEmails = append(g.createEmails, email)
	if g.createErr != nil {
		return "", g.createErr
	}
	return g.checkoutURL, nil
}

func (g *fakeGateway) GetCheckoutSession(_ context.Context, sessionID string) (billing.CheckoutSession, error) {
	g.mu.Lock()
	g.sessionCalls++
	gate, entered := g.sessionGate, g.sessionEntered
	g.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sessionErr != nil {
		return billing.CheckoutSession{}, g.sessionErr
	}
	sess, ok := g.sessions[sessionID]
	if !ok {
		return billing.CheckoutSession{}, &billing.StatusError{Endpoint: billing.PathGetCheckoutSession, StatusCode: 404}
	}
	return sess, nil
}

func (g *fakeGateway) SubscriptionStatus(_ context.Context, subscriptionID string) (billing.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls++
	g.statusIDs = append(g.statusIDs, subscriptionID)
	if g.statusErr != nil {
		return billing.Subscription{}, g.statusErr
	}
	if len(g.statuses) == 0 {
		return billing.Subscription{}, errors.New("no scripted status")
	}
	sub := g.statuses[0]
	if len(g.statuses) > 1 {
		g.statuses = g.statuses[1:]
	}
	return sub, nil
}

func (g *fakeGateway) ResolveSubscription(_ context.Context, email string) (billing.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolveCalls++
	if g.resolveErr != nil {
		return billing.Subscription{}, g.resolveErr
	}
	if g.resolved == nil {
		return billing.Subscription{}, billing.ErrNotFound
	}
	return *g.resolved, nil
}

func (g *fakeGateway) CancelSubscription(_ context.Context, subscriptionID string, atPeriodEnd bool) (billing.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls++
	g.cancelAtEnd = append(g.cancelAtEnd, atPeriodEnd)
	if g.cancelErr != nil {
		return billing.Subscription{}, g.cancelErr
	}
	return g.canceled, nil
}

func (g *fakeGateway) counts() (sessions, statuses, resolves, cancels int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessionCalls, g.statusCalls, g.resolveCalls, g.cancelCalls
}

// =============================================================================
// Navigator
// =============================================================================

type fakeNav struct {
	mu      sync.Mutex
	id      string
	cleared int
}

func (n *fakeNav) SessionID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.id
}

func (n *fakeNav) ClearSessionID() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.id = ""
	n.cleared++
}

// =============================================================================
// Harness
// =============================================================================

var epoch = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	t       *testing.T
	clock   *clock
	local   *memLocal
	remote  *fakeRemote
	gateway *fakeGateway
	ident   *identity.Static
	session *Session
}

type harnessOption func(*harness, *Deps)

// withGuardedRemote routes the remote store through the real circuit breaker.
func withGuardedRemote() harnessOption {
	return func(h *harness, d *Deps) {
		d.Remote = profile.NewGuarded(h.remote, time.Second, d.Logger)
	}
}

func withIdentity(id *identity.Identity) harnessOption {
	return func(h *harness, d *Deps) {
		h.ident.ID = id
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	c := &clock{now: epoch}
	h := &harness{
		t:       t,
		clock:   c,
		local:   &memLocal{now: c.Now},
		remote:  newFakeRemote(),
		gateway: &fakeGateway{sessions: map[string]billing.CheckoutSession{}},
		ident:   &identity.Static{},
	}
	deps := Deps{
		Local:    h.local,
		Identity: h.ident,
		Billing:  h.gateway,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	deps.Remote = alwaysAvailable{h.remote}
	for _, opt := range opts {
		opt(h, &deps)
	}

	h.session = New(deps, Config{
		PriceID:      "price_sub",
		TrialPriceID: "price_trial",
		Catalog:      catalog.Default(),
	})
	h.session.now = c.Now
	return h
}

// seedLocal stores r as the device snapshot.
func (h *harness) seedLocal(r domain.Record) {
	h.local.Write(context.Background(), r)
	h.local.mu.Lock()
	h.local.writes = 0
	h.local.mu.Unlock()
}

func ptr[T any](v T) *T { return &v }
