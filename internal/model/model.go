// Package model содержит доменные сущности сервиса photocredit.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User представляет зарегистрированного пользователя.
type User struct {
	ID           int64
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Principal описывает аутентифицированного пользователя, выполняющего запрос.
type Principal struct {
	UserID int64
	Email  string
}

// Ledger содержит кредитный баланс пользователя и счётчик бесплатных генераций.
// Нулевое значение соответствует пользователю без покупок.
type Ledger struct {
	UserID   int64
	Credits  decimal.Decimal
	FreeUsed int
}

// PurchaseStatus описывает статус покупки.
type PurchaseStatus string

const (
	PurchaseStatusPending PurchaseStatus = "pending"
	PurchaseStatusPaid    PurchaseStatus = "paid"
)

// Purchase описывает факт оплаты checkout-сессии платёжного шлюза.
type Purchase struct {
	SessionID   string
	UserID      int64
	AmountCents int64
	Currency    string
	Credits     decimal.Decimal
	Status      PurchaseStatus
	CreatedAt   time.Time
}

// Offer описывает цену из каталога платёжного шлюза, доступную для покупки.
type Offer struct {
	LookupKey      string `json:"lookupKey"`
	PriceID        string `json:"priceId"`
	Name           string `json:"name"`
	UnitAmount     int64  `json:"unitAmount"`
	Currency       string `json:"currency"`
	CreditsPerUnit int64  `json:"credits"`
}

// CatalogEntry описывает пакет кредитов, который продаёт приложение.
// По LookupKey цена ищется в шлюзе и создаётся, если её ещё нет.
type CatalogEntry struct {
	LookupKey      string
	Name           string
	UnitAmount     int64
	Currency       string
	CreditsPerUnit int64
}

// DefaultCatalog содержит пакеты кредитов по умолчанию.
var DefaultCatalog = []CatalogEntry{
	{LookupKey: "credits_starter", Name: "Starter pack", UnitAmount: 500, Currency: "usd", CreditsPerUnit: 20},
	{LookupKey: "credits_pro", Name: "Pro pack", UnitAmount: 2000, Currency: "usd", CreditsPerUnit: 100},
	{LookupKey: "credits_studio", Name: "Studio pack", UnitAmount: 5000, Currency: "usd", CreditsPerUnit: 300},
}
