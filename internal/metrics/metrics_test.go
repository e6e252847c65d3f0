package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_OrderComposed(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newWithRegisterer(registry)

	m.OrderComposed(0)
	m.OrderComposed(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ordersComposed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.productsSkipped))
}

func TestMetrics_RegisterTwiceReturnsExisting(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := newWithRegisterer(registry)
	second := newWithRegisterer(registry)

	first.OrderComposed(0)
	second.OrderComposed(0)

	// Both instances must share the same underlying collector.
	assert.Equal(t, 2.0, testutil.ToFloat64(first.ordersComposed))
	assert.Equal(t, 2.0, testutil.ToFloat64(second.ordersComposed))
}

func TestMetrics_MiddlewareLabelsByRoutePattern(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newWithRegisterer(registry)

	router := chi.NewRouter()
	router.Use(m.Middleware)
	router.Get("/products/{productId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := httptest.NewServer(router)
	defer server.Close()

	res, err := http.Get(server.URL + "/products/42")
	require.NoError(t, err)
	res.Body.Close()

	counter := m.httpRequests.WithLabelValues(http.MethodGet, "/products/{productId}", "200")
	assert.Equal(t, 1.0, testutil.ToFloat64(counter))
}
