package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82/webhook"
)

// EventCheckoutSessionCompleted задаёт тип события об успешном завершении checkout-сессии.
const EventCheckoutSessionCompleted = "checkout.session.completed"

// Event описывает проверенное webhook-событие шлюза.
type Event struct {
	ID     string
	Type   string
	Object json.RawMessage
}

// ConstructEvent проверяет подпись заголовка Stripe-Signature и разбирает событие.
func ConstructEvent(payload []byte, signatureHeader, secret string) (*Event, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	res := &Event{ID: event.ID, Type: string(event.Type)}
	if event.Data != nil {
		res.Object = event.Data.Raw
	}
	return res, nil
}

// CheckoutSession разбирает объект события как checkout-сессию.
func (e *Event) CheckoutSession() (*CheckoutSession, error) {
	var s CheckoutSession
	if err := json.Unmarshal(e.Object, &s); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	if strings.TrimSpace(s.ID) == "" {
		return nil, fmt.Errorf("checkout session without id")
	}
	return &s, nil
}
