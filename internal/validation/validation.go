// Package validation содержит функции валидации входных данных.
package validation

import (
	"net/mail"
	"net/url"
	"strings"
	"unicode"
)

const (
	maxQuantity     = 100
	maxLookupKeyLen = 200
)

// IsValidEmail проверяет, что строка является одиночным адресом электронной почты без имени.
func IsValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email && addr.Name == ""
}

// IsValidLookupKey проверяет lookup-ключ цены: латиница, цифры, '_', '-' и '.'.
func IsValidLookupKey(key string) bool {
	if key == "" || len(key) > maxLookupKeyLen {
		return false
	}
	for _, ch := range key {
		if ch > unicode.MaxASCII {
			return false
		}
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '-' || ch == '.' {
			continue
		}
		return false
	}
	return true
}

// IsValidQuantity проверяет количество единиц в покупке.
func IsValidQuantity(quantity int64) bool {
	return quantity >= 1 && quantity <= maxQuantity
}

// IsValidRedirectURL проверяет адрес возврата после оплаты. Допускается путь от корня
// либо абсолютный http(s) адрес на хосте baseURL. Если baseURL пуст, хост не сверяется.
func IsValidRedirectURL(raw, baseURL string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	if !u.IsAbs() {
		// "//evil.example" разбирается как относительный адрес с хостом.
		return u.Host == "" && strings.HasPrefix(u.Path, "/")
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Host == "" {
		return false
	}
	if baseURL == "" {
		return true
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, base.Host)
}
