// Package gateway предоставляет клиент HTTP API платёжного шлюза.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/mmeshcher/photocredit/internal/model"
)

const maxResponseBody = 1 << 20

// Observer получает сведения о каждом запросе к шлюзу.
type Observer interface {
	ObserveGatewayRequest(operation string, statusCode int, d time.Duration)
}

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *retryablehttp.Client
	observer   Observer
	newKey     func() string
}

// Option настраивает Client.
type Option func(*Client)

// WithObserver подключает наблюдателя запросов (метрики).
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// WithRetryMax задаёт максимальное число повторов запроса.
func WithRetryMax(n int) Option {
	return func(c *Client) {
		c.httpClient.RetryMax = n
	}
}

// WithIdempotencyKeys подменяет генератор ключей идемпотентности.
func WithIdempotencyKeys(fn func() string) Option {
	return func(c *Client) {
		c.newKey = fn
	}
}

// NewClient создаёт клиент шлюза. Пустой secretKey допустим: все операции
// в этом случае возвращают ErrNotConfigured без обращения к сети.
func NewClient(baseURL, secretKey string, logger *zap.Logger, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	if logger != nil {
		rc.Logger = leveledLogger{logger.Named("gateway.http").Sugar()}
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  strings.TrimSpace(secretKey),
		httpClient: rc,
		newKey:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured сообщает, задан ли секретный ключ шлюза.
func (c *Client) Configured() bool {
	return c != nil && c.secretKey != ""
}

// RetrieveCheckoutSession запрашивает checkout-сессию с развёрнутыми позициями и ценами.
func (c *Client) RetrieveCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("checkout session id is required")
	}

	params := NewParams().Add("expand", "line_items.data.price")

	var session CheckoutSession
	if err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(id), params, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// CheckoutParams содержит параметры создания checkout-сессии.
type CheckoutParams struct {
	PriceID           string
	Quantity          int64
	SuccessURL        string
	CancelURL         string
	CustomerEmail     string
	ClientReferenceID string
	Metadata          map[string]string
}

// CreateCheckoutSession создаёт checkout-сессию в режиме разовой оплаты.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	params := NewParams().
		Set("mode", "payment").
		SetIndexed("line_items", 0, "price", p.PriceID).
		SetIndexed("line_items", 0, "quantity", fmt.Sprint(p.Quantity)).
		Set("success_url", p.SuccessURL).
		Set("cancel_url", p.CancelURL)
	if p.CustomerEmail != "" {
		params.Set("customer_email", p.CustomerEmail)
	}
	if p.ClientReferenceID != "" {
		params.Set("client_reference_id", p.ClientReferenceID)
	}
	params.SetMap("metadata", p.Metadata)

	var session CheckoutSession
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", params, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListPricesByLookupKeys возвращает активные цены с указанными lookup-ключами.
func (c *Client) ListPricesByLookupKeys(ctx context.Context, keys []string) ([]Price, error) {
	params := NewParams().
		Set("active", "true").
		SetInt("limit", 100).
		Add("lookup_keys", keys...).
		Add("expand", "data.product")

	var list priceList
	if err := c.do(ctx, http.MethodGet, "/v1/prices", params, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

// CreateProduct создаёт товар каталога.
func (c *Client) CreateProduct(ctx context.Context, name string, metadata map[string]string) (*Product, error) {
	params := NewParams().Set("name", name).SetMap("metadata", metadata)

	var product Product
	if err := c.do(ctx, http.MethodPost, "/v1/products", params, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

// PriceParams содержит параметры создания цены.
type PriceParams struct {
	ProductID  string
	LookupKey  string
	UnitAmount int64
	Currency   string
	Metadata   map[string]string
}

// CreatePrice создаёт цену для товара.
func (c *Client) CreatePrice(ctx context.Context, p PriceParams) (*Price, error) {
	params := NewParams().
		Set("product", p.ProductID).
		Set("lookup_key", p.LookupKey).
		SetInt("unit_amount", p.UnitAmount).
		Set("currency", p.Currency).
		SetMap("metadata", p.Metadata)

	var price Price
	if err := c.do(ctx, http.MethodPost, "/v1/prices", params, &price); err != nil {
		return nil, err
	}
	return &price, nil
}

// EnsurePrices находит цены для пакетов каталога и создаёт недостающие (товар + цена)
// с маркером приложения. Цены без маркера в результат не попадают.
// Результат упорядочен как entries.
func (c *Client) EnsurePrices(ctx context.Context, entries []model.CatalogEntry, marker string) ([]Price, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if len(entries) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.LookupKey)
	}

	existing, err := c.ListPricesByLookupKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}

	byKey := make(map[string]Price, len(existing))
	for _, p := range existing {
		byKey[p.LookupKey] = p
	}

	res := make([]Price, 0, len(entries))
	for _, e := range entries {
		if p, ok := byKey[e.LookupKey]; ok {
			if p.OwnedBy(marker) {
				res = append(res, p)
			}
			continue
		}

		created, err := c.createCatalogPrice(ctx, e, marker)
		if err != nil {
			return nil, fmt.Errorf("create price %s: %w", e.LookupKey, err)
		}
		res = append(res, *created)
	}

	return res, nil
}

// EnsurePrice возвращает цену для одного пакета каталога, создавая её при необходимости.
func (c *Client) EnsurePrice(ctx context.Context, entry model.CatalogEntry, marker string) (*Price, error) {
	prices, err := c.EnsurePrices(ctx, []model.CatalogEntry{entry}, marker)
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnownedPrice, entry.LookupKey)
	}
	return &prices[0], nil
}

func (c *Client) createCatalogPrice(ctx context.Context, e model.CatalogEntry, marker string) (*Price, error) {
	metadata := map[string]string{
		MetadataApp:     marker,
		MetadataCredits: fmt.Sprint(e.CreditsPerUnit),
	}

	product, err := c.CreateProduct(ctx, e.Name, metadata)
	if err != nil {
		return nil, err
	}

	price, err := c.CreatePrice(ctx, PriceParams{
		ProductID:  product.ID,
		LookupKey:  e.LookupKey,
		UnitAmount: e.UnitAmount,
		Currency:   e.Currency,
		Metadata:   metadata,
	})
	if err != nil {
		return nil, err
	}
	if price.Product.Product == nil {
		price.Product = ProductRef{ID: product.ID, Product: product}
	}
	return price, nil
}

func (c *Client) do(ctx context.Context, method, path string, params *Params, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	endpoint := c.baseURL + path
	var body []byte
	if encoded := params.Encode(); encoded != "" {
		if method == http.MethodGet {
			endpoint += "?" + encoded
		} else {
			body = []byte(encoded)
		}
	}

	var rawBody any
	if body != nil {
		rawBody = body
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, rawBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Idempotency-Key", c.newKey())
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(method+" "+operationName(path), 0, time.Since(start))
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	c.observe(method+" "+operationName(path), resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newUpstreamError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) observe(operation string, status int, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveGatewayRequest(operation, status, d)
	}
}

// operationName убирает идентификаторы объектов из пути, чтобы не раздувать метки метрик.
func operationName(path string) string {
	if strings.HasPrefix(path, "/v1/checkout/sessions/") {
		return "/v1/checkout/sessions/{id}"
	}
	return path
}

func newUpstreamError(status int, data []byte) error {
	upstream := &UpstreamError{StatusCode: status}

	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil {
		upstream.Type = body.Error.Type
		upstream.Code = body.Error.Code
		upstream.Message = body.Error.Message
	}

	return upstream
}

// leveledLogger адаптирует zap к интерфейсу retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
