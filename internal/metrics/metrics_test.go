package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFulfillment(OutcomeCredited)
	c.RecordFulfillment(OutcomeCredited)
	c.RecordFulfillment(OutcomeDuplicate)
	c.RecordCreditsGranted(decimal.NewFromInt(20))
	c.RecordCheckoutCreated()
	c.ObserveGatewayRequest("GET /v1/prices", http.StatusOK, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.fulfillments.WithLabelValues(OutcomeCredited)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fulfillments.WithLabelValues(OutcomeDuplicate)))
	assert.Equal(t, 20.0, testutil.ToFloat64(c.creditsGranted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.checkoutsCreated))
	assert.Equal(t, 1, testutil.CollectAndCount(c.gatewayLatency))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordCheckoutCreated()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "photocredit_checkout_sessions_created_total 1"))
}
