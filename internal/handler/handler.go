// Package handler содержит HTTP-обработчики API сервиса photocredit.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/photocredit/internal/gateway"
	"github.com/mmeshcher/photocredit/internal/middleware"
	"github.com/mmeshcher/photocredit/internal/model"
	"github.com/mmeshcher/photocredit/internal/service"
	"github.com/mmeshcher/photocredit/internal/validation"
)

// maxWebhookBody совпадает с лимитом, который шлюз рекомендует для тела события.
const maxWebhookBody = 65536

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, email, password string) (*model.Principal, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.Principal, error)
	ConfirmCheckout(ctx context.Context, principal *model.Principal, sessionID string) (*service.Confirmation, error)
	FulfillFromWebhook(ctx context.Context, sessionID string) (*service.Confirmation, error)
	CreateCheckout(ctx context.Context, principal *model.Principal, req service.CheckoutRequest) (*service.CheckoutResult, error)
	ListOffers(ctx context.Context) ([]model.Offer, error)
	GetAccount(ctx context.Context, principal *model.Principal) (*service.Account, error)
	ListPurchases(ctx context.Context, principal *model.Principal) ([]model.Purchase, error)
}

// Options содержит необязательные зависимости обработчика.
type Options struct {
	WebhookSecret   string
	Metrics         http.Handler
	CheckoutLimiter *middleware.RateLimiter
}

// Handler реализует HTTP-обработчики API сервиса photocredit.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	webhookSecret  string
	metrics        http.Handler
	limiter        *middleware.RateLimiter
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, opts Options) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		webhookSecret:  opts.WebhookSecret,
		metrics:        opts.Metrics,
		limiter:        opts.CheckoutLimiter,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type principalResponse struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, &service.ValidationError{Field: "body", Reason: "malformed JSON"})
		return
	}

	if !validation.IsValidEmail(req.Email) {
		h.writeError(w, r, &service.ValidationError{Field: "email", Reason: "must be a valid address"})
		return
	}
	if req.Password == "" {
		h.writeError(w, r, &service.ValidationError{Field: "password", Reason: "is required"})
		return
	}

	principal, err := h.service.RegisterUser(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, principal)
	writeJSON(w, http.StatusOK, principalResponse{ID: principal.UserID, Email: principal.Email})
}

// Login выполняет аутентификацию пользователя и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, &service.ValidationError{Field: "body", Reason: "malformed JSON"})
		return
	}

	if req.Email == "" || req.Password == "" {
		h.writeError(w, r, &service.ValidationError{Field: "credentials", Reason: "email and password are required"})
		return
	}

	principal, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, principal)
	writeJSON(w, http.StatusOK, principalResponse{ID: principal.UserID, Email: principal.Email})
}

type confirmResponse struct {
	Status   string  `json:"status"`
	Credits  float64 `json:"credits"`
	FreeUsed int     `json:"freeUsed"`
}

// Confirm подтверждает оплату checkout-сессии и возвращает баланс пользователя.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))

	res, err := h.service.ConfirmCheckout(r.Context(), middleware.PrincipalFromContext(r.Context()), sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, confirmResponse{
		Status:   res.Status,
		Credits:  res.Credits.InexactFloat64(),
		FreeUsed: res.FreeUsed,
	})
}

type checkoutRequest struct {
	LookupKey   string `json:"lookupKey"`
	Quantity    int64  `json:"quantity"`
	RedirectURL string `json:"redirectURL"`
}

type checkoutResponse struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

// CreateCheckout создаёт checkout-сессию для покупки пакета кредитов.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, &service.ValidationError{Field: "body", Reason: "malformed JSON"})
		return
	}

	if !validation.IsValidLookupKey(req.LookupKey) {
		h.writeError(w, r, &service.ValidationError{Field: "lookupKey", Reason: "is required"})
		return
	}

	res, err := h.service.CreateCheckout(r.Context(), middleware.PrincipalFromContext(r.Context()), service.CheckoutRequest{
		LookupKey:   req.LookupKey,
		Quantity:    req.Quantity,
		RedirectURL: req.RedirectURL,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{URL: res.URL, ID: res.ID})
}

type accountResponse struct {
	Authenticated bool    `json:"authenticated"`
	FreeUsed      int     `json:"freeUsed"`
	Credits       float64 `json:"credits"`
}

// Me возвращает баланс текущего пользователя. Аутентификация не обязательна.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	acc, err := h.service.GetAccount(r.Context(), middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, accountResponse{
		Authenticated: acc.Authenticated,
		FreeUsed:      acc.FreeUsed,
		Credits:       acc.Credits.InexactFloat64(),
	})
}

type offersResponse struct {
	Offers []model.Offer `json:"offers"`
}

// Products возвращает пакеты кредитов, доступные для покупки.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	offers, err := h.service.ListOffers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if offers == nil {
		offers = []model.Offer{}
	}

	writeJSON(w, http.StatusOK, offersResponse{Offers: offers})
}

type purchaseResponse struct {
	SessionID   string  `json:"sessionId"`
	AmountCents int64   `json:"amountCents"`
	Currency    string  `json:"currency"`
	Credits     float64 `json:"credits"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"createdAt"`
}

type purchasesResponse struct {
	Purchases []purchaseResponse `json:"purchases"`
}

// Purchases возвращает историю покупок текущего пользователя.
func (h *Handler) Purchases(w http.ResponseWriter, r *http.Request) {
	purchases, err := h.service.ListPurchases(r.Context(), middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := purchasesResponse{Purchases: make([]purchaseResponse, 0, len(purchases))}
	for _, p := range purchases {
		resp.Purchases = append(resp.Purchases, purchaseResponse{
			SessionID:   p.SessionID,
			AmountCents: p.AmountCents,
			Currency:    p.Currency,
			Credits:     p.Credits.InexactFloat64(),
			Status:      string(p.Status),
			CreatedAt:   p.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// Webhook принимает события платёжного шлюза. Кредиты начисляются по событию
// checkout.session.completed, остальные события подтверждаются без обработки.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret == "" {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "webhook is not configured"})
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, r, &service.ValidationError{Field: "body", Reason: "cannot be read"})
		return
	}

	event, err := gateway.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		h.logger.Warn("webhook signature rejected", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: gateway.ErrInvalidSignature.Error()})
		return
	}

	if event.Type != gateway.EventCheckoutSessionCompleted {
		h.logger.Debug("webhook event ignored", zap.String("event_id", event.ID), zap.String("type", event.Type))
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	session, err := event.CheckoutSession()
	if err != nil {
		h.writeError(w, r, &service.ValidationError{Field: "data.object", Reason: err.Error()})
		return
	}

	res, err := h.service.FulfillFromWebhook(r.Context(), session.ID)
	if err != nil {
		if errors.Is(err, service.ErrSessionOwnerUnknown) {
			// Повторная доставка такого события ничего не изменит.
			h.logger.Warn("webhook session owner unknown", zap.String("event_id", event.ID), zap.String("session_id", session.ID))
			writeJSON(w, http.StatusOK, map[string]bool{"received": true})
			return
		}
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("webhook checkout session processed",
		zap.String("event_id", event.ID),
		zap.String("session_id", session.ID),
		zap.String("status", res.Status),
	)
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
