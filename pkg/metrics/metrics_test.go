package metrics_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/illmade-knight/go-llmescache/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()

	require.NoError(t, metrics.Register(reg))
	require.NoError(t, metrics.Register(reg), "registering twice is not an error")

	metrics.Write(metrics.ComponentRecord, "update")
	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "llmescache_writes_total")
}

func TestLookup(t *testing.T) {
	hit := metrics.LookupsTotal.WithLabelValues(metrics.ComponentVector, metrics.ResultHit)
	miss := metrics.LookupsTotal.WithLabelValues(metrics.ComponentVector, metrics.ResultMiss)
	failed := metrics.LookupsTotal.WithLabelValues(metrics.ComponentVector, metrics.ResultError)
	hitBefore, missBefore, errBefore := testutil.ToFloat64(hit), testutil.ToFloat64(miss), testutil.ToFloat64(failed)

	metrics.Lookup(metrics.ComponentVector, true, nil)
	metrics.Lookup(metrics.ComponentVector, false, nil)
	metrics.Lookup(metrics.ComponentVector, true, errors.New("boom"))

	assert.Equal(t, hitBefore+1, testutil.ToFloat64(hit))
	assert.Equal(t, missBefore+1, testutil.ToFloat64(miss))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(failed), "an error wins over the hit flag")
}

func TestMiddleware(t *testing.T) {
	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.CollectAndCount(metrics.HTTPRequestSeconds)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/middleware-test", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, testutil.CollectAndCount(metrics.HTTPRequestSeconds))
}

func TestTime(t *testing.T) {
	before := testutil.CollectAndCount(metrics.BackendSeconds)

	metrics.Time("time-test")()

	assert.Equal(t, before+1, testutil.CollectAndCount(metrics.BackendSeconds))
}
