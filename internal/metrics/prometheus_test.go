package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest(t *testing.T) {
	r := NewRecorder()
	r.ObserveRequest("chat", "gpt-test", 10, 5, nil, 200*time.Millisecond)
	r.ObserveRequest("chat", "gpt-test", 99, 99, fmt.Errorf("wrapped: %w", context.DeadlineExceeded), time.Second)
	r.ObserveRequest("chat", "gpt-test", 0, 0, errors.New("boom"), time.Second)

	require.Equal(t, 1.0, testutil.ToFloat64(r.requestsTotal.WithLabelValues("chat", "gpt-test", "success", "")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.requestsTotal.WithLabelValues("chat", "gpt-test", "error", "timeout")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.requestsTotal.WithLabelValues("chat", "gpt-test", "error", "other")))
	require.Equal(t, 10.0, testutil.ToFloat64(r.tokensTotal.WithLabelValues("chat", "gpt-test", "prompt")))
	require.Equal(t, 5.0, testutil.ToFloat64(r.tokensTotal.WithLabelValues("chat", "gpt-test", "completion")))
}

func TestRecordersAreIndependent(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	a.SetActiveSessions(3)
	require.Equal(t, 3.0, testutil.ToFloat64(a.activeSessions))
	require.Equal(t, 0.0, testutil.ToFloat64(b.activeSessions))
}

func TestMiddlewareAndHandler(t *testing.T) {
	r := NewRecorder()
	router := chi.NewRouter()
	router.Use(r.Middleware)
	router.Get("/sessions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	router.Method(http.MethodGet, "/metrics", r.Handler())

	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sessions/abc")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 1.0, testutil.ToFloat64(r.httpRequests.WithLabelValues("/sessions/{id}", "GET", "404")))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `http_requests_total{code="404",method="GET",route="/sessions/{id}"} 1`), string(body))
	require.Contains(t, string(body), "go_goroutines")
}
