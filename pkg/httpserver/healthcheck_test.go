package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotaledger/pkg/httpserver"
)

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func serve(t *testing.T, h http.Handler) (int, report) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	var r report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&r))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return rec.Code, r
}

func TestLivenessHandler(t *testing.T) {
	t.Parallel()
	code, r := serve(t, httpserver.LivenessHandler())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", r.Status)
}

func TestReadinessHandler(t *testing.T) {
	t.Parallel()
	ok := func(context.Context) error { return nil }

	t.Run("all checks pass", func(t *testing.T) {
		t.Parallel()
		code, r := serve(t, httpserver.ReadinessHandler(nil, time.Second,
			httpserver.Check{Name: "postgres", Fn: ok},
			httpserver.Check{Name: "redis", Fn: ok},
		))
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ready", r.Status)
		assert.Equal(t, map[string]string{"postgres": "ok", "redis": "ok"}, r.Checks)
	})

	t.Run("failing check", func(t *testing.T) {
		t.Parallel()
		code, r := serve(t, httpserver.ReadinessHandler(nil, time.Second,
			httpserver.Check{Name: "postgres", Fn: ok},
			httpserver.Check{Name: "redis", Fn: func(context.Context) error { return errors.New("connection refused") }},
		))
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "not_ready", r.Status)
		assert.Equal(t, "ok", r.Checks["postgres"])
		assert.Equal(t, "connection refused", r.Checks["redis"])
	})

	t.Run("timeout bounds checks", func(t *testing.T) {
		t.Parallel()
		slow := func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}
		code, r := serve(t, httpserver.ReadinessHandler(nil, 20*time.Millisecond,
			httpserver.Check{Name: "slow", Fn: slow},
		))
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, context.DeadlineExceeded.Error(), r.Checks["slow"])
	})

	t.Run("no checks", func(t *testing.T) {
		t.Parallel()
		code, r := serve(t, httpserver.ReadinessHandler(nil, 0))
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ready", r.Status)
	})
}
