package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/photocredit/internal/gateway"
	"github.com/mmeshcher/photocredit/internal/metrics"
	"github.com/mmeshcher/photocredit/internal/model"
	"github.com/mmeshcher/photocredit/internal/repository"
)

type fakeRepo struct {
	mu        sync.Mutex
	nextID    int64
	users     map[int64]*model.User
	ledgers   map[int64]*model.Ledger
	purchases map[string]model.Purchase

	// lookupBarrier задерживает ответ на проверку покупки, пока её не выполнят все участники гонки.
	lookupBarrier *sync.WaitGroup

	fulfillCalls int
	fulfillErr   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:     make(map[int64]*model.User),
		ledgers:   make(map[int64]*model.Ledger),
		purchases: make(map[string]model.Purchase),
	}
}

func (r *fakeRepo) Close() error { return nil }

func (r *fakeRepo) CreateUser(_ context.Context, email string, hash []byte) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Email == email {
			return 0, repository.ErrUserExists
		}
	}
	r.nextID++
	r.users[r.nextID] = &model.User{ID: r.nextID, Email: email, PasswordHash: hash}
	return r.nextID, nil
}

func (r *fakeRepo) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *fakeRepo) GetUserByID(_ context.Context, id int64) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

func (r *fakeRepo) GetLedger(_ context.Context, userID int64) (*model.Ledger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.ledgers[userID]
	if !ok {
		return &model.Ledger{UserID: userID, Credits: decimal.Zero}, nil
	}
	cp := *l
	return &cp, nil
}

func (r *fakeRepo) GetPurchaseBySession(_ context.Context, sessionID string) (*model.Purchase, error) {
	r.mu.Lock()
	p, ok := r.purchases[sessionID]
	r.mu.Unlock()

	// Все участники гонки успевают прочитать состояние до первой записи.
	if r.lookupBarrier != nil {
		r.lookupBarrier.Done()
		r.lookupBarrier.Wait()
	}

	if !ok {
		return nil, repository.ErrPurchaseNotFound
	}
	return &p, nil
}

func (r *fakeRepo) ListPurchases(_ context.Context, userID int64) ([]model.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Purchase
	for _, p := range r.purchases {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

func (r *fakeRepo) Fulfill(_ context.Context, p model.Purchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fulfillCalls++
	if r.fulfillErr != nil {
		return r.fulfillErr
	}
	if _, ok := r.purchases[p.SessionID]; ok {
		return fmt.Errorf("%w: %s", repository.ErrPurchaseExists, p.SessionID)
	}

	l, ok := r.ledgers[p.UserID]
	if !ok {
		l = &model.Ledger{UserID: p.UserID, Credits: decimal.Zero}
		r.ledgers[p.UserID] = l
	}
	l.Credits = l.Credits.Add(p.Credits)
	r.purchases[p.SessionID] = p
	return nil
}

func (r *fakeRepo) setCredits(userID int64, credits string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledgers[userID] = &model.Ledger{UserID: userID, Credits: decimal.RequireFromString(credits)}
}

func (r *fakeRepo) addUser(id int64, email string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id] = &model.User{ID: id, Email: email}
	if id > r.nextID {
		r.nextID = id
	}
}

type fakeGateway struct {
	mu       sync.Mutex
	sessions map[string]*gateway.CheckoutSession
	prices   []gateway.Price

	ensureCalls int
	created     []gateway.CheckoutParams
	retrieveErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: make(map[string]*gateway.CheckoutSession)}
}

func (g *fakeGateway) RetrieveCheckoutSession(_ context.Context, id string) (*gateway.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.retrieveErr != nil {
		return nil, g.retrieveErr
	}
	s, ok := g.sessions[id]
	if !ok {
		return nil, &gateway.UpstreamError{StatusCode: 404, Message: "No such checkout.session: " + id}
	}
	return s, nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, p gateway.CheckoutParams) (*gateway.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.created = append(g.created, p)
	id := fmt.Sprintf("cs_test_%d", len(g.created))
	return &gateway.CheckoutSession{ID: id, URL: "https://checkout.example.com/" + id}, nil
}

func (g *fakeGateway) EnsurePrice(ctx context.Context, entry model.CatalogEntry, marker string) (*gateway.Price, error) {
	prices, err := g.EnsurePrices(ctx, []model.CatalogEntry{entry}, marker)
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, gateway.ErrUnownedPrice
	}
	return &prices[0], nil
}

func (g *fakeGateway) EnsurePrices(_ context.Context, entries []model.CatalogEntry, marker string) ([]gateway.Price, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ensureCalls++
	var out []gateway.Price
	for _, e := range entries {
		for _, p := range g.prices {
			if p.LookupKey == e.LookupKey && p.OwnedBy(marker) {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (g *fakeGateway) addSession(s *gateway.CheckoutSession) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[s.ID] = s
}

type fakeMetrics struct {
	mu       sync.Mutex
	outcomes []string
	granted  decimal.Decimal
	checkout int
}

func (m *fakeMetrics) RecordFulfillment(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *fakeMetrics) RecordCreditsGranted(credits decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.granted = m.granted.Add(credits)
}

func (m *fakeMetrics) RecordCheckoutCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkout++
}

func paidSession(id string, userID int64, creditsPerUnit string, quantity int64) *gateway.CheckoutSession {
	return &gateway.CheckoutSession{
		ID:            id,
		PaymentStatus: gateway.PaymentStatusPaid,
		AmountTotal:   500,
		Currency:      "usd",
		Metadata:      map[string]string{gateway.MetadataUserID: fmt.Sprint(userID)},
		LineItems: &gateway.LineItemList{Data: []gateway.LineItem{{
			ID:       "li_1",
			Quantity: quantity,
			Price: &gateway.Price{
				ID: "price_1",
				Metadata: map[string]string{
					gateway.MetadataApp:     "photocredit",
					gateway.MetadataCredits: creditsPerUnit,
				},
			},
		}}},
	}
}

func newTestService(repo *fakeRepo, gw *fakeGateway, m *fakeMetrics) *Service {
	return NewService(repo, gw, Options{
		AppName:    "photocredit",
		AppBaseURL: "https://photos.example.com",
		Metrics:    m,
		BcryptCost: bcrypt.MinCost,
	})
}

func TestConfirmCheckout_CreditsOnce(t *testing.T) {
	repo := newFakeRepo()
	repo.setCredits(1, "5.00")
	gw := newFakeGateway()
	gw.addSession(paidSession("cs_1", 1, "20", 1))
	m := &fakeMetrics{}
	svc := newTestService(repo, gw, m)

	principal := &model.Principal{UserID: 1, Email: "user@example.com"}

	first, err := svc.ConfirmCheckout(context.Background(), principal, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "paid", first.Status)
	assert.True(t, decimal.RequireFromString("25.00").Equal(first.Credits), "credits = %s", first.Credits)

	second, err := svc.ConfirmCheckout(context.Background(), principal, "cs_1")
	require.NoError(t, err)
	assert.True(t, first.Credits.Equal(second.Credits))

	purchases, err := svc.ListPurchases(context.Background(), principal)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, model.PurchaseStatusPaid, purchases[0].Status)
	assert.True(t, decimal.NewFromInt(20).Equal(purchases[0].Credits))
	assert.Equal(t, int64(500), purchases[0].AmountCents)

	assert.Equal(t, []string{metrics.OutcomeCredited, metrics.OutcomeDuplicate}, m.outcomes)
	assert.True(t, decimal.NewFromInt(20).Equal(m.granted))
}

func TestConfirmCheckout_Quantity(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	gw.addSession(paidSession("cs_q", 1, "20", 3))
	svc := newTestService(repo, gw, &fakeMetrics{})

	res, err := svc.ConfirmCheckout(context.Background(), &model.Principal{UserID: 1}, "cs_q")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(60).Equal(res.Credits), "credits = %s", res.Credits)
}

func TestConfirmCheckout_DefaultCredits(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()

	noMetadata := paidSession("cs_default", 1, "", 0)
	gw.addSession(noMetadata)

	noItems := paidSession("cs_noitems", 1, "", 0)
	noItems.LineItems = nil
	gw.addSession(noItems)

	svc := newTestService(repo, gw, &fakeMetrics{})
	principal := &model.Principal{UserID: 1}

	res, err := svc.ConfirmCheckout(context.Background(), principal, "cs_default")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1).Equal(res.Credits), "credits = %s", res.Credits)

	res, err = svc.ConfirmCheckout(context.Background(), principal, "cs_noitems")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(2).Equal(res.Credits), "credits = %s", res.Credits)
}

func TestConfirmCheckout_UnpaidDoesNotMutate(t *testing.T) {
	repo := newFakeRepo()
	repo.setCredits(1, "5.00")
	gw := newFakeGateway()

	s := paidSession("cs_unpaid", 1, "20", 1)
	s.PaymentStatus = gateway.PaymentStatusUnpaid
	gw.addSession(s)

	m := &fakeMetrics{}
	svc := newTestService(repo, gw, m)

	res, err := svc.ConfirmCheckout(context.Background(), &model.Principal{UserID: 1}, "cs_unpaid")
	require.NoError(t, err)
	assert.Equal(t, gateway.PaymentStatusUnpaid, res.Status)
	assert.True(t, decimal.RequireFromString("5").Equal(res.Credits))
	assert.Equal(t, 0, repo.fulfillCalls)
	assert.Empty(t, repo.purchases)
	assert.Equal(t, []string{metrics.OutcomeUnpaid}, m.outcomes)
}

func TestConfirmCheckout_NoPaymentRequiredIsNotCredited(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()

	s := paidSession("cs_free", 1, "20", 1)
	s.PaymentStatus = gateway.PaymentStatusNoPaymentRequired
	gw.addSession(s)

	svc := newTestService(repo, gw, &fakeMetrics{})

	res, err := svc.ConfirmCheckout(context.Background(), &model.Principal{UserID: 1}, "cs_free")
	require.NoError(t, err)
	assert.Equal(t, gateway.PaymentStatusNoPaymentRequired, res.Status)
	assert.Equal(t, 0, repo.fulfillCalls)
}

func TestConfirmCheckout_Ownership(t *testing.T) {
	tests := []struct {
		name      string
		metadata  map[string]string
		email     string
		details   *gateway.CustomerDetails
		principal model.Principal
		wantErr   error
	}{
		{
			name:      "metadata user id matches",
			metadata:  map[string]string{gateway.MetadataUserID: "7"},
			principal: model.Principal{UserID: 7, Email: "a@example.com"},
		},
		{
			name:      "metadata user id differs",
			metadata:  map[string]string{gateway.MetadataUserID: "8"},
			email:     "a@example.com",
			principal: model.Principal{UserID: 7, Email: "a@example.com"},
			wantErr:   ErrForbidden,
		},
		{
			name:      "customer email matches case insensitively",
			email:     "A@Example.com",
			principal: model.Principal{UserID: 7, Email: "a@example.com"},
		},
		{
			name:      "customer details email",
			details:   &gateway.CustomerDetails{Email: "a@example.com"},
			principal: model.Principal{UserID: 7, Email: "a@example.com"},
		},
		{
			name:      "email differs",
			email:     "b@example.com",
			principal: model.Principal{UserID: 7, Email: "a@example.com"},
			wantErr:   ErrForbidden,
		},
		{
			name:      "nothing to compare",
			principal: model.Principal{UserID: 7, Email: "a@example.com"},
			wantErr:   ErrForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			gw := newFakeGateway()

			s := paidSession("cs_owner", 0, "20", 1)
			s.Metadata = tt.metadata
			s.CustomerEmail = tt.email
			s.CustomerDetails = tt.details
			gw.addSession(s)

			svc := newTestService(repo, gw, &fakeMetrics{})
			principal := tt.principal

			_, err := svc.ConfirmCheckout(context.Background(), &principal, "cs_owner")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 0, repo.fulfillCalls)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, repo.fulfillCalls)
		})
	}
}

func TestConfirmCheckout_InputErrors(t *testing.T) {
	svc := newTestService(newFakeRepo(), newFakeGateway(), &fakeMetrics{})

	_, err := svc.ConfirmCheckout(context.Background(), nil, "cs_1")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = svc.ConfirmCheckout(context.Background(), &model.Principal{UserID: 1}, "  ")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestConfirmCheckout_GatewayError(t *testing.T) {
	gw := newFakeGateway()
	svc := newTestService(newFakeRepo(), gw, &fakeMetrics{})

	_, err := svc.ConfirmCheckout(context.Background(), &model.Principal{UserID: 1}, "cs_missing")
	var upstream *gateway.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Contains(t, upstream.Error(), "No such checkout.session")
}

func TestConfirmCheckout_RepositoryError(t *testing.T) {
	repo := newFakeRepo()
	repo.fulfillErr = errors.New("connection reset")
	gw := newFakeGateway()
	gw.addSession(paidSession("cs_err", 1, "20", 1))
	svc := newTestService(repo, gw, &fakeMetrics{})

	_, err := svc.ConfirmCheckout(context.Background(), &model.Principal{UserID: 1}, "cs_err")
	assert.Error(t, err)
}

func TestConfirmCheckout_ConcurrentSingleIncrement(t *testing.T) {
	const workers = 8

	repo := newFakeRepo()
	repo.lookupBarrier = &sync.WaitGroup{}
	repo.lookupBarrier.Add(workers)

	gw := newFakeGateway()
	gw.addSession(paidSession("cs_race", 1, "20", 1))
	m := &fakeMetrics{}
	svc := newTestService(repo, gw, m)

	principal := &model.Principal{UserID: 1}

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ConfirmCheckout(context.Background(), principal, "cs_race")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}

	ledger, err := repo.GetLedger(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(20).Equal(ledger.Credits), "credits = %s", ledger.Credits)
	assert.Len(t, repo.purchases, 1)
	assert.Equal(t, workers, repo.fulfillCalls)

	counts := make(map[string]int)
	for _, o := range m.outcomes {
		counts[o]++
	}
	assert.Equal(t, 1, counts[metrics.OutcomeCredited])
	assert.Equal(t, workers-1, counts[metrics.OutcomeRace])
	assert.Zero(t, counts[metrics.OutcomeDuplicate])
}

func TestConfirmCheckout_ForeignPriceMetadataIgnored(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()

	s := paidSession("cs_foreign", 1, "500", 2)
	s.LineItems.Data[0].Price.Metadata[gateway.MetadataApp] = "another-app"
	gw.addSession(s)

	svc := newTestService(repo, gw, &fakeMetrics{})

	res, err := svc.ConfirmCheckout(context.Background(), &model.Principal{UserID: 1}, "cs_foreign")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(2).Equal(res.Credits), "credits = %s", res.Credits)
}

func TestFulfillFromWebhook(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(3, "hook@example.com")
	gw := newFakeGateway()

	byMetadata := paidSession("cs_hook", 3, "100", 1)
	gw.addSession(byMetadata)

	byReference := paidSession("cs_ref", 0, "20", 1)
	byReference.Metadata = nil
	byReference.ClientReferenceID = "3"
	gw.addSession(byReference)

	orphan := paidSession("cs_orphan", 0, "20", 1)
	orphan.Metadata = nil
	gw.addSession(orphan)

	gw.addSession(paidSession("cs_ghost", 99, "20", 1))

	svc := newTestService(repo, gw, &fakeMetrics{})
	ctx := context.Background()

	res, err := svc.FulfillFromWebhook(ctx, "cs_hook")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(res.Credits))

	res, err = svc.FulfillFromWebhook(ctx, "cs_ref")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(120).Equal(res.Credits))

	// Повторная доставка события.
	res, err = svc.FulfillFromWebhook(ctx, "cs_hook")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(120).Equal(res.Credits))

	_, err = svc.FulfillFromWebhook(ctx, "cs_orphan")
	assert.ErrorIs(t, err, ErrSessionOwnerUnknown)

	_, err = svc.FulfillFromWebhook(ctx, "cs_ghost")
	assert.ErrorIs(t, err, ErrSessionOwnerUnknown)
}

func TestGetAccount(t *testing.T) {
	repo := newFakeRepo()
	repo.setCredits(4, "12.50")
	svc := newTestService(repo, newFakeGateway(), &fakeMetrics{})

	anon, err := svc.GetAccount(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, anon.Authenticated)
	assert.Equal(t, 0, anon.FreeUsed)
	assert.True(t, anon.Credits.IsZero())

	acc, err := svc.GetAccount(context.Background(), &model.Principal{UserID: 4})
	require.NoError(t, err)
	assert.True(t, acc.Authenticated)
	assert.True(t, decimal.RequireFromString("12.5").Equal(acc.Credits))

	fresh, err := svc.GetAccount(context.Background(), &model.Principal{UserID: 5})
	require.NoError(t, err)
	assert.True(t, fresh.Authenticated)
	assert.True(t, fresh.Credits.IsZero())
}

func TestListPurchases_Unauthenticated(t *testing.T) {
	svc := newTestService(newFakeRepo(), newFakeGateway(), &fakeMetrics{})

	purchases, err := svc.ListPurchases(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, purchases)
	assert.Empty(t, purchases)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeGateway(), &fakeMetrics{})
	ctx := context.Background()

	p, err := svc.RegisterUser(ctx, "  User@Example.com ", "secret-pass")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", p.Email)

	_, err = svc.RegisterUser(ctx, "user@example.com", "other")
	assert.ErrorIs(t, err, repository.ErrUserExists)

	got, err := svc.AuthenticateUser(ctx, "USER@example.com", "secret-pass")
	require.NoError(t, err)
	assert.Equal(t, p.UserID, got.UserID)

	_, err = svc.AuthenticateUser(ctx, "user@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.AuthenticateUser(ctx, "nobody@example.com", "secret-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func ownedPrice(lookupKey, id string) gateway.Price {
	return gateway.Price{
		ID:         id,
		LookupKey:  lookupKey,
		Active:     true,
		Currency:   "usd",
		UnitAmount: 500,
		Metadata: map[string]string{
			gateway.MetadataApp:     "photocredit",
			gateway.MetadataCredits: "20",
		},
		Product: gateway.ProductRef{ID: "prod_1", Product: &gateway.Product{ID: "prod_1", Name: "Starter pack"}},
	}
}

func TestListOffers_CachedAndOwnedOnly(t *testing.T) {
	gw := newFakeGateway()
	foreign := ownedPrice("credits_pro", "price_foreign")
	foreign.Metadata[gateway.MetadataApp] = "another-app"
	gw.prices = []gateway.Price{ownedPrice("credits_starter", "price_starter"), foreign}

	svc := newTestService(newFakeRepo(), gw, &fakeMetrics{})

	offers, err := svc.ListOffers(context.Background())
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, model.Offer{
		LookupKey:      "credits_starter",
		PriceID:        "price_starter",
		Name:           "Starter pack",
		UnitAmount:     500,
		Currency:       "usd",
		CreditsPerUnit: 20,
	}, offers[0])

	again, err := svc.ListOffers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, offers, again)
	assert.Equal(t, 1, gw.ensureCalls)
}

func TestCreateCheckout(t *testing.T) {
	gw := newFakeGateway()
	gw.prices = []gateway.Price{ownedPrice("credits_starter", "price_starter")}
	m := &fakeMetrics{}
	svc := newTestService(newFakeRepo(), gw, m)

	principal := &model.Principal{UserID: 42, Email: "buyer@example.com"}

	res, err := svc.CreateCheckout(context.Background(), principal, CheckoutRequest{
		LookupKey:   "credits_starter",
		Quantity:    2,
		RedirectURL: "/billing/done?from=pricing",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", res.ID)
	assert.Equal(t, "https://checkout.example.com/cs_test_1", res.URL)

	require.Len(t, gw.created, 1)
	params := gw.created[0]
	assert.Equal(t, "price_starter", params.PriceID)
	assert.Equal(t, int64(2), params.Quantity)
	assert.Equal(t, "https://photos.example.com/billing/done?from=pricing&session_id={CHECKOUT_SESSION_ID}", params.SuccessURL)
	assert.Equal(t, "https://photos.example.com/billing/done?from=pricing", params.CancelURL)
	assert.Equal(t, "buyer@example.com", params.CustomerEmail)
	assert.Equal(t, "42", params.ClientReferenceID)
	assert.Equal(t, map[string]string{
		gateway.MetadataUserID:    "42",
		gateway.MetadataLookupKey: "credits_starter",
	}, params.Metadata)
	assert.Equal(t, 1, m.checkout)
}

func TestCreateCheckout_RedirectWithFragment(t *testing.T) {
	gw := newFakeGateway()
	gw.prices = []gateway.Price{ownedPrice("credits_starter", "price_starter")}
	svc := newTestService(newFakeRepo(), gw, &fakeMetrics{})

	tests := []struct {
		redirect    string
		wantSuccess string
	}{
		{
			redirect:    "/billing#plans",
			wantSuccess: "https://photos.example.com/billing?session_id={CHECKOUT_SESSION_ID}#plans",
		},
		{
			redirect:    "https://photos.example.com/done?tab=1#top",
			wantSuccess: "https://photos.example.com/done?tab=1&session_id={CHECKOUT_SESSION_ID}#top",
		},
	}

	for _, tt := range tests {
		_, err := svc.CreateCheckout(context.Background(), &model.Principal{UserID: 1, Email: "a@example.com"}, CheckoutRequest{
			LookupKey:   "credits_starter",
			RedirectURL: tt.redirect,
		})
		require.NoError(t, err)

		params := gw.created[len(gw.created)-1]
		assert.Equal(t, tt.wantSuccess, params.SuccessURL)
	}
}

func TestCreateCheckout_Errors(t *testing.T) {
	gw := newFakeGateway()
	gw.prices = []gateway.Price{ownedPrice("credits_starter", "price_starter")}
	svc := newTestService(newFakeRepo(), gw, &fakeMetrics{})
	principal := &model.Principal{UserID: 1, Email: "a@example.com"}
	ctx := context.Background()

	_, err := svc.CreateCheckout(ctx, nil, CheckoutRequest{LookupKey: "credits_starter", RedirectURL: "/"})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = svc.CreateCheckout(ctx, principal, CheckoutRequest{LookupKey: "credits_unknown", RedirectURL: "/"})
	assert.ErrorIs(t, err, ErrUnknownOffer)

	var verr *ValidationError
	_, err = svc.CreateCheckout(ctx, principal, CheckoutRequest{LookupKey: "credits_starter", Quantity: 500, RedirectURL: "/"})
	assert.ErrorAs(t, err, &verr)

	_, err = svc.CreateCheckout(ctx, principal, CheckoutRequest{LookupKey: "credits_starter", RedirectURL: "https://evil.example.com/"})
	assert.ErrorAs(t, err, &verr)

	// Цена есть в каталоге приложения, но в шлюзе не помечена маркером.
	_, err = svc.CreateCheckout(ctx, principal, CheckoutRequest{LookupKey: "credits_pro", RedirectURL: "/"})
	assert.ErrorIs(t, err, gateway.ErrUnownedPrice)

	assert.Empty(t, gw.created)
}
