package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials возвращается при неверном email или пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthenticated возвращается, если операция требует аутентификации.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden возвращается, если checkout-сессия принадлежит другому пользователю.
	ErrForbidden = errors.New("checkout session belongs to another user")
	// ErrUnknownOffer возвращается для lookup-ключа, которого нет в каталоге.
	ErrUnknownOffer = errors.New("unknown offer")
	// ErrSessionOwnerUnknown возвращается, если владельца сессии из webhook определить нельзя.
	ErrSessionOwnerUnknown = errors.New("checkout session owner is unknown")
)

// ValidationError описывает некорректный параметр запроса.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
