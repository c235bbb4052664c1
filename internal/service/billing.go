package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/photocredit/internal/gateway"
	"github.com/mmeshcher/photocredit/internal/metrics"
	"github.com/mmeshcher/photocredit/internal/model"
	"github.com/mmeshcher/photocredit/internal/repository"
	"github.com/mmeshcher/photocredit/internal/validation"
)

// Confirmation описывает результат подтверждения оплаты.
type Confirmation struct {
	Status   string
	Credits  decimal.Decimal
	FreeUsed int
}

// Account содержит сводку по кредитам текущего пользователя.
type Account struct {
	Authenticated bool
	FreeUsed      int
	Credits       decimal.Decimal
}

// CheckoutRequest содержит параметры создания оплаты.
type CheckoutRequest struct {
	LookupKey   string
	Quantity    int64
	RedirectURL string
}

// CheckoutResult описывает созданную checkout-сессию.
type CheckoutResult struct {
	ID  string
	URL string
}

const checkoutSessionPlaceholder = "session_id={CHECKOUT_SESSION_ID}"

// ConfirmCheckout подтверждает оплату checkout-сессии текущим пользователем и
// возвращает его баланс. Кредиты по одной сессии начисляются не более одного раза,
// сколько бы раз ни вызывался метод.
func (s *Service) ConfirmCheckout(ctx context.Context, principal *model.Principal, sessionID string) (*Confirmation, error) {
	if principal == nil {
		return nil, ErrUnauthenticated
	}

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, &ValidationError{Field: "session_id", Reason: "is required"}
	}

	session, err := s.gateway.RetrieveCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session: %w", err)
	}

	if !sessionOwnedBy(session, principal) {
		s.metrics.RecordFulfillment(metrics.OutcomeForbidden)
		s.logger.Warn("checkout session ownership mismatch",
			zap.String("session_id", sessionID),
			zap.Int64("user_id", principal.UserID),
		)
		return nil, ErrForbidden
	}

	return s.fulfill(ctx, principal.UserID, session)
}

// FulfillFromWebhook начисляет кредиты по сессии из проверенного webhook-события.
// Владелец определяется по метаданным сессии.
func (s *Service) FulfillFromWebhook(ctx context.Context, sessionID string) (*Confirmation, error) {
	session, err := s.gateway.RetrieveCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session: %w", err)
	}

	userID, ok := sessionOwnerID(session)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionOwnerUnknown, sessionID)
	}

	if _, err := s.repo.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionOwnerUnknown, sessionID)
		}
		return nil, err
	}

	return s.fulfill(ctx, userID, session)
}

func (s *Service) fulfill(ctx context.Context, userID int64, session *gateway.CheckoutSession) (*Confirmation, error) {
	if session.PaymentStatus != gateway.PaymentStatusPaid {
		s.metrics.RecordFulfillment(metrics.OutcomeUnpaid)
		return s.confirmation(ctx, userID, session.PaymentStatus)
	}

	_, err := s.repo.GetPurchaseBySession(ctx, session.ID)
	if err == nil {
		s.metrics.RecordFulfillment(metrics.OutcomeDuplicate)
		return s.confirmation(ctx, userID, gateway.PaymentStatusPaid)
	}
	if !errors.Is(err, repository.ErrPurchaseNotFound) {
		return nil, err
	}

	purchase := model.Purchase{
		SessionID:   session.ID,
		UserID:      userID,
		AmountCents: session.AmountTotal,
		Currency:    session.Currency,
		Credits:     s.sessionCredits(session),
		Status:      model.PurchaseStatusPaid,
	}

	err = s.repo.Fulfill(ctx, purchase)
	switch {
	case err == nil:
		s.metrics.RecordFulfillment(metrics.OutcomeCredited)
		s.metrics.RecordCreditsGranted(purchase.Credits)
		s.logger.Info("checkout session fulfilled",
			zap.String("session_id", session.ID),
			zap.Int64("user_id", userID),
			zap.String("credits", purchase.Credits.String()),
		)
	case errors.Is(err, repository.ErrPurchaseExists):
		// Параллельный вызов записал покупку между проверкой и вставкой.
		s.metrics.RecordFulfillment(metrics.OutcomeRace)
		s.logger.Info("checkout session fulfilled concurrently", zap.String("session_id", session.ID))
	default:
		return nil, err
	}

	return s.confirmation(ctx, userID, gateway.PaymentStatusPaid)
}

func (s *Service) confirmation(ctx context.Context, userID int64, status string) (*Confirmation, error) {
	ledger, err := s.repo.GetLedger(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Confirmation{Status: status, Credits: ledger.Credits, FreeUsed: ledger.FreeUsed}, nil
}

// sessionOwnedBy сравнивает user_id из метаданных сессии, а при его отсутствии email
// покупателя без учёта регистра.
func sessionOwnedBy(session *gateway.CheckoutSession, principal *model.Principal) bool {
	if raw := strings.TrimSpace(session.Metadata[gateway.MetadataUserID]); raw != "" {
		return raw == strconv.FormatInt(principal.UserID, 10)
	}
	email := session.Email()
	return email != "" && strings.EqualFold(email, strings.TrimSpace(principal.Email))
}

func sessionOwnerID(session *gateway.CheckoutSession) (int64, bool) {
	raw := strings.TrimSpace(session.Metadata[gateway.MetadataUserID])
	if raw == "" {
		raw = strings.TrimSpace(session.ClientReferenceID)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// sessionCredits считает кредиты как сумму по позициям: кредиты за единицу из
// метаданных цены (по умолчанию 1), умноженные на количество (по умолчанию 1).
// Метаданным цены без маркера приложения не доверяем.
func (s *Service) sessionCredits(session *gateway.CheckoutSession) decimal.Decimal {
	if session.LineItems == nil || len(session.LineItems.Data) == 0 {
		return decimal.NewFromInt(1)
	}

	total := decimal.Zero
	for _, item := range session.LineItems.Data {
		quantity := item.Quantity
		if quantity <= 0 {
			quantity = 1
		}

		perUnit := int64(1)
		if item.Price.OwnedBy(s.appName) {
			perUnit = item.Price.CreditsPerUnit()
		} else if item.Price != nil {
			s.logger.Warn("line item price is not owned by the application",
				zap.String("session_id", session.ID),
				zap.String("price_id", item.Price.ID),
			)
		}
		total = total.Add(decimal.NewFromInt(perUnit * quantity))
	}
	return total
}

// CreateCheckout создаёт checkout-сессию для покупки пакета кредитов.
func (s *Service) CreateCheckout(ctx context.Context, principal *model.Principal, req CheckoutRequest) (*CheckoutResult, error) {
	if principal == nil {
		return nil, ErrUnauthenticated
	}

	entry, ok := s.catalogEntry(req.LookupKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOffer, req.LookupKey)
	}

	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if !validation.IsValidQuantity(quantity) {
		return nil, &ValidationError{Field: "quantity", Reason: "must be between 1 and 100"}
	}

	redirect, err := s.resolveRedirect(req.RedirectURL)
	if err != nil {
		return nil, err
	}

	price, err := s.gateway.EnsurePrice(ctx, entry, s.appName)
	if err != nil {
		return nil, fmt.Errorf("ensure price: %w", err)
	}

	userID := strconv.FormatInt(principal.UserID, 10)
	session, err := s.gateway.CreateCheckoutSession(ctx, gateway.CheckoutParams{
		PriceID:           price.ID,
		Quantity:          quantity,
		SuccessURL:        withSessionPlaceholder(redirect),
		CancelURL:         redirect,
		CustomerEmail:     principal.Email,
		ClientReferenceID: userID,
		Metadata: map[string]string{
			gateway.MetadataUserID:    userID,
			gateway.MetadataLookupKey: entry.LookupKey,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	s.metrics.RecordCheckoutCreated()

	return &CheckoutResult{ID: session.ID, URL: session.URL}, nil
}

func (s *Service) catalogEntry(lookupKey string) (model.CatalogEntry, bool) {
	for _, e := range s.catalog {
		if e.LookupKey == lookupKey {
			return e, true
		}
	}
	return model.CatalogEntry{}, false
}

func (s *Service) resolveRedirect(raw string) (string, error) {
	if !validation.IsValidRedirectURL(raw, s.appBaseURL) {
		return "", &ValidationError{Field: "redirectURL", Reason: "must be a path or an absolute URL on the application host"}
	}

	target, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", &ValidationError{Field: "redirectURL", Reason: err.Error()}
	}
	if target.IsAbs() || s.appBaseURL == "" {
		return target.String(), nil
	}

	base, err := url.Parse(s.appBaseURL)
	if err != nil {
		return "", fmt.Errorf("parse app base url: %w", err)
	}
	return base.ResolveReference(target).String(), nil
}

// withSessionPlaceholder добавляет шаблон session_id в query, фрагмент остаётся последним.
// Фигурные скобки шаблона не экранируются: шлюз подставляет значение по точному совпадению.
func withSessionPlaceholder(redirect string) string {
	u, err := url.Parse(redirect)
	if err != nil {
		return redirect
	}
	if u.RawQuery == "" {
		u.RawQuery = checkoutSessionPlaceholder
	} else {
		u.RawQuery += "&" + checkoutSessionPlaceholder
	}
	return u.String()
}

// ListOffers возвращает пакеты кредитов, доступные для покупки. Недостающие цены
// создаются в шлюзе, цены без маркера приложения пропускаются.
func (s *Service) ListOffers(ctx context.Context) ([]model.Offer, error) {
	key := "offers:" + s.appName

	if data, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn("offers cache read failed", zap.Error(err))
	} else if ok {
		var offers []model.Offer
		if err := json.Unmarshal(data, &offers); err == nil {
			return offers, nil
		}
	}

	prices, err := s.gateway.EnsurePrices(ctx, s.catalog, s.appName)
	if err != nil {
		return nil, fmt.Errorf("ensure prices: %w", err)
	}

	offers := make([]model.Offer, 0, len(prices))
	for _, p := range prices {
		name := p.Product.Name()
		if entry, ok := s.catalogEntry(p.LookupKey); ok && name == "" {
			name = entry.Name
		}
		offers = append(offers, model.Offer{
			LookupKey:      p.LookupKey,
			PriceID:        p.ID,
			Name:           name,
			UnitAmount:     p.UnitAmount,
			Currency:       p.Currency,
			CreditsPerUnit: p.CreditsPerUnit(),
		})
	}

	if len(offers) < len(s.catalog) {
		s.logger.Warn("some catalog prices are not owned by the application",
			zap.Int("catalog", len(s.catalog)),
			zap.Int("owned", len(offers)),
		)
	}

	if data, err := json.Marshal(offers); err == nil {
		if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
			s.logger.Warn("offers cache write failed", zap.Error(err))
		}
	}

	return offers, nil
}

// GetAccount возвращает баланс текущего пользователя. Для неаутентифицированного
// пользователя возвращаются нули.
func (s *Service) GetAccount(ctx context.Context, principal *model.Principal) (*Account, error) {
	if principal == nil {
		return &Account{Credits: decimal.Zero}, nil
	}

	ledger, err := s.repo.GetLedger(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}

	return &Account{Authenticated: true, FreeUsed: ledger.FreeUsed, Credits: ledger.Credits}, nil
}

// ListPurchases возвращает историю покупок текущего пользователя.
func (s *Service) ListPurchases(ctx context.Context, principal *model.Principal) ([]model.Purchase, error) {
	if principal == nil {
		return []model.Purchase{}, nil
	}

	purchases, err := s.repo.ListPurchases(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	if purchases == nil {
		purchases = []model.Purchase{}
	}
	return purchases, nil
}
