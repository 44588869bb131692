package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCycle(t *testing.T) {
	before := testutil.ToFloat64(CyclesTotal.WithLabelValues("scan", "error"))
	ObserveCycle("scan", time.Now().Add(-time.Second), errors.New("boom"))
	ObserveCycle("scan", time.Now(), nil)
	assert.Equal(t, before+1, testutil.ToFloat64(CyclesTotal.WithLabelValues("scan", "error")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(CyclesTotal.WithLabelValues("scan", "ok")), 1.0)
}

func TestRegistered(t *testing.T) {
	SignalsTotal.WithLabelValues("PENDING").Inc()
	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "tradeengine_signals_total" {
			found = true
			break
		}
	}
	assert.True(t, found)
}

func TestHandlerServesText(t *testing.T) {
	OrdersTotal.WithLabelValues("BTCUSDT", "BUY", "filled").Inc()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "tradeengine_orders_total")
}
