package gateway

import (
	"fmt"
	"net/url"
	"strconv"
)

// Params собирает параметры запроса в формате платёжного шлюза:
// массивы передаются как key[]=value, вложенные словари как key[k]=v.
type Params struct {
	values url.Values
}

// NewParams создаёт пустой набор параметров.
func NewParams() *Params {
	return &Params{values: url.Values{}}
}

// Set устанавливает скалярный параметр.
func (p *Params) Set(key, value string) *Params {
	p.values.Set(key, value)
	return p
}

// SetInt устанавливает целочисленный параметр.
func (p *Params) SetInt(key string, value int64) *Params {
	return p.Set(key, strconv.FormatInt(value, 10))
}

// Add добавляет значения массива key[].
func (p *Params) Add(key string, values ...string) *Params {
	for _, v := range values {
		p.values.Add(key+"[]", v)
	}
	return p
}

// SetMap раскладывает словарь в параметры key[k]=v.
func (p *Params) SetMap(key string, m map[string]string) *Params {
	for k, v := range m {
		p.values.Set(fmt.Sprintf("%s[%s]", key, k), v)
	}
	return p
}

// SetIndexed устанавливает поле элемента списка объектов: key[i][field]=value.
func (p *Params) SetIndexed(key string, index int, field, value string) *Params {
	return p.Set(fmt.Sprintf("%s[%d][%s]", key, index, field), value)
}

// Encode кодирует параметры в строку с детерминированным порядком ключей.
func (p *Params) Encode() string {
	if p == nil {
		return ""
	}
	return p.values.Encode()
}
