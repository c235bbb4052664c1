package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured возвращается, если не задан секретный ключ шлюза.
	ErrNotConfigured = errors.New("payment gateway is not configured")
	// ErrUnownedPrice возвращается, если цена в шлюзе не помечена маркером приложения.
	ErrUnownedPrice = errors.New("price is not owned by this application")
	// ErrInvalidSignature возвращается при неверной подписи webhook-события.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// UpstreamError описывает ответ шлюза с кодом статуса вне диапазона 2xx.
type UpstreamError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("payment gateway returned status %d", e.StatusCode)
	}
	return e.Message
}
