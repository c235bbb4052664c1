// Package service реализует бизнес-логику сервиса photocredit.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/photocredit/internal/cache"
	"github.com/mmeshcher/photocredit/internal/gateway"
	"github.com/mmeshcher/photocredit/internal/model"
	"github.com/mmeshcher/photocredit/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, email string, passwordHash []byte) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetLedger(ctx context.Context, userID int64) (*model.Ledger, error)
	GetPurchaseBySession(ctx context.Context, sessionID string) (*model.Purchase, error)
	ListPurchases(ctx context.Context, userID int64) ([]model.Purchase, error)
	Fulfill(ctx context.Context, p model.Purchase) error
}

// Gateway описывает операции платёжного шлюза, используемые сервисом.
type Gateway interface {
	RetrieveCheckoutSession(ctx context.Context, id string) (*gateway.CheckoutSession, error)
	CreateCheckoutSession(ctx context.Context, p gateway.CheckoutParams) (*gateway.CheckoutSession, error)
	EnsurePrice(ctx context.Context, entry model.CatalogEntry, marker string) (*gateway.Price, error)
	EnsurePrices(ctx context.Context, entries []model.CatalogEntry, marker string) ([]gateway.Price, error)
}

// Metrics принимает события биллинга для учёта в метриках.
type Metrics interface {
	RecordFulfillment(outcome string)
	RecordCreditsGranted(credits decimal.Decimal)
	RecordCheckoutCreated()
}

// Options содержит необязательные параметры сервиса.
type Options struct {
	AppName    string
	AppBaseURL string
	Catalog    []model.CatalogEntry
	Cache      cache.Cache
	CacheTTL   time.Duration
	Metrics    Metrics
	Logger     *zap.Logger
	BcryptCost int
}

// Service содержит бизнес-логику сервиса photocredit.
type Service struct {
	repo       Repository
	gateway    Gateway
	cache      cache.Cache
	cacheTTL   time.Duration
	metrics    Metrics
	logger     *zap.Logger
	appName    string
	appBaseURL string
	catalog    []model.CatalogEntry
	bcryptCost int
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом платёжного шлюза.
func NewService(repo Repository, gw Gateway, opts Options) *Service {
	s := &Service{
		repo:       repo,
		gateway:    gw,
		cache:      opts.Cache,
		cacheTTL:   opts.CacheTTL,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		appName:    opts.AppName,
		appBaseURL: opts.AppBaseURL,
		catalog:    opts.Catalog,
		bcryptCost: opts.BcryptCost,
	}
	if s.cache == nil {
		s.cache = cache.NewMemory()
	}
	if s.cacheTTL == 0 {
		s.cacheTTL = 5 * time.Minute
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.appName == "" {
		s.appName = "photocredit"
	}
	if s.catalog == nil {
		s.catalog = model.DefaultCatalog
	}
	if s.bcryptCost == 0 {
		s.bcryptCost = bcrypt.DefaultCost
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	var errs []error
	if s.repo != nil {
		errs = append(errs, s.repo.Close())
	}
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	return errors.Join(errs...)
}

// NormalizeEmail приводит email к виду, в котором он хранится и сравнивается.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, email, password string) (*model.Principal, error) {
	email = NormalizeEmail(email)

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id, err := s.repo.CreateUser(ctx, email, hashed)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return nil, repository.ErrUserExists
		}
		return nil, err
	}
	return &model.Principal{UserID: id, Email: email}, nil
}

// AuthenticateUser проверяет email и пароль пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*model.Principal, error) {
	email = NormalizeEmail(email)

	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return &model.Principal{UserID: u.ID, Email: u.Email}, nil
}

type nopMetrics struct{}

func (nopMetrics) RecordFulfillment(string)              {}
func (nopMetrics) RecordCreditsGranted(decimal.Decimal) {}
func (nopMetrics) RecordCheckoutCreated()               {}
