// Package metrics собирает метрики Prometheus сервиса photocredit.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Исходы подтверждения оплаты.
const (
	OutcomeCredited  = "credited"
	OutcomeDuplicate = "duplicate"
	OutcomeRace      = "race"
	OutcomeUnpaid    = "unpaid"
	OutcomeForbidden = "forbidden"
)

// Collector собирает метрики биллинга и обращений к платёжному шлюзу.
type Collector struct {
	fulfillments     *prometheus.CounterVec
	creditsGranted   prometheus.Counter
	checkoutsCreated prometheus.Counter
	gatewayLatency   *prometheus.HistogramVec
}

// NewCollector создаёт Collector и регистрирует метрики в указанном реестре.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fulfillments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photocredit_fulfillments_total",
			Help: "Checkout confirmations by outcome.",
		}, []string{"outcome"}),
		creditsGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "photocredit_credits_granted_total",
			Help: "Credits added to user ledgers.",
		}),
		checkoutsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "photocredit_checkout_sessions_created_total",
			Help: "Checkout sessions created at the payment gateway.",
		}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "photocredit_gateway_request_duration_seconds",
			Help:    "Payment gateway request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status_code"}),
	}

	reg.MustRegister(c.fulfillments, c.creditsGranted, c.checkoutsCreated, c.gatewayLatency)

	return c
}

// RecordFulfillment учитывает исход подтверждения оплаты.
func (c *Collector) RecordFulfillment(outcome string) {
	c.fulfillments.WithLabelValues(outcome).Inc()
}

// RecordCreditsGranted учитывает начисленные кредиты.
func (c *Collector) RecordCreditsGranted(credits decimal.Decimal) {
	c.creditsGranted.Add(credits.InexactFloat64())
}

// RecordCheckoutCreated учитывает созданную checkout-сессию.
func (c *Collector) RecordCheckoutCreated() {
	c.checkoutsCreated.Inc()
}

// ObserveGatewayRequest учитывает длительность запроса к шлюзу.
func (c *Collector) ObserveGatewayRequest(operation string, statusCode int, d time.Duration) {
	c.gatewayLatency.WithLabelValues(operation, strconv.Itoa(statusCode)).Observe(d.Seconds())
}

// Handler возвращает HTTP-обработчик для сбора метрик Prometheus.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
