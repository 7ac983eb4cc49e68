package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEntry(t *testing.T) {
	before := testutil.ToFloat64(entriesWritten.WithLabelValues("tick"))
	RecordEntry("tick", 2.5)
	assert.Equal(t, before+1, testutil.ToFloat64(entriesWritten.WithLabelValues("tick")))
}

func TestInstrumentHandlerAndExposition(t *testing.T) {
	h := InstrumentHandler("/api/v1/test", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/test", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/v1/test", "418")))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "pointsx_http_requests_total"))
}
