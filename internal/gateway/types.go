package gateway

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Ключи метаданных, которые приложение записывает в объекты шлюза.
const (
	MetadataApp       = "app"
	MetadataCredits   = "credits"
	MetadataUserID    = "user_id"
	MetadataLookupKey = "lookup_key"
)

// Статусы оплаты checkout-сессии.
const (
	PaymentStatusPaid              = "paid"
	PaymentStatusUnpaid            = "unpaid"
	PaymentStatusNoPaymentRequired = "no_payment_required"
)

// CheckoutSession описывает checkout-сессию шлюза.
type CheckoutSession struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	CustomerEmail     string            `json:"customer_email"`
	CustomerDetails   *CustomerDetails  `json:"customer_details"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	LineItems         *LineItemList     `json:"line_items"`
}

// CustomerDetails содержит данные покупателя, введённые на странице оплаты.
type CustomerDetails struct {
	Email string `json:"email"`
}

// Email возвращает email покупателя: указанный при создании сессии либо введённый при оплате.
func (s *CheckoutSession) Email() string {
	if email := strings.TrimSpace(s.CustomerEmail); email != "" {
		return email
	}
	if s.CustomerDetails != nil {
		return strings.TrimSpace(s.CustomerDetails.Email)
	}
	return ""
}

// LineItemList содержит развёрнутый список позиций сессии.
type LineItemList struct {
	Data []LineItem `json:"data"`
}

// LineItem описывает позицию checkout-сессии.
type LineItem struct {
	ID          string `json:"id"`
	Quantity    int64  `json:"quantity"`
	AmountTotal int64  `json:"amount_total"`
	Price       *Price `json:"price"`
}

// Price описывает цену каталога шлюза.
type Price struct {
	ID         string            `json:"id"`
	LookupKey  string            `json:"lookup_key"`
	Active     bool              `json:"active"`
	Currency   string            `json:"currency"`
	UnitAmount int64             `json:"unit_amount"`
	Metadata   map[string]string `json:"metadata"`
	Product    ProductRef        `json:"product"`
}

// CreditsPerUnit возвращает количество кредитов за единицу из метаданных цены.
// При отсутствии или некорректном значении возвращается 1.
func (p *Price) CreditsPerUnit() int64 {
	if p == nil {
		return 1
	}
	raw := strings.TrimSpace(p.Metadata[MetadataCredits])
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

// OwnedBy сообщает, помечена ли цена маркером приложения.
func (p *Price) OwnedBy(marker string) bool {
	return p != nil && marker != "" && p.Metadata[MetadataApp] == marker
}

// Product описывает товар каталога шлюза.
type Product struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata"`
}

// ProductRef ссылается на товар строковым идентификатором либо развёрнутым объектом.
type ProductRef struct {
	ID      string
	Product *Product
}

// UnmarshalJSON разбирает как строковый идентификатор, так и развёрнутый объект.
func (r *ProductRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}

	var p Product
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	r.ID = p.ID
	r.Product = &p
	return nil
}

// MarshalJSON кодирует развёрнутый объект либо строковый идентификатор.
func (r ProductRef) MarshalJSON() ([]byte, error) {
	if r.Product != nil {
		return json.Marshal(r.Product)
	}
	if r.ID == "" {
		return []byte("null"), nil
	}
	return json.Marshal(r.ID)
}

// Name возвращает название товара, если объект был развёрнут.
func (r ProductRef) Name() string {
	if r.Product == nil {
		return ""
	}
	return r.Product.Name
}

type priceList struct {
	Data []Price `json:"data"`
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
