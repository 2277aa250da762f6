package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alwaysOK(_ context.Context) error { return nil }

func alwaysFail(msg string) CheckFunc {
	return func(_ context.Context) error { return errors.New(msg) }
}

func getStatus(t *testing.T, serve http.HandlerFunc, path string) (int, statusResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	serve(w, httptest.NewRequest(http.MethodGet, path, nil))

	var body statusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func TestLiveEndpoint(t *testing.T) {
	t.Run("AllPassing", func(t *testing.T) {
		h := New()
		h.AddLivenessCheck("one", time.Second, alwaysOK)
		h.AddLivenessCheck("two", time.Second, alwaysOK)

		code, body := getStatus(t, h.LiveEndpoint, "/livez")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", body.Status)
	})

	t.Run("NoProbes", func(t *testing.T) {
		code, body := getStatus(t, New().LiveEndpoint, "/livez")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", body.Status)
	})

	t.Run("FailingPastThreshold", func(t *testing.T) {
		h := New()
		h.AddLivenessCheck("db", time.Second, alwaysFail("connection refused"))

		ctx := context.Background()
		for range defaultFailAfter {
			h.live[0].exec(ctx)
		}

		code, body := getStatus(t, h.LiveEndpoint, "/livez")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", body.Status)
		assert.Equal(t, "connection refused", body.Checks["db"])
	})

	t.Run("FailingBelowThreshold", func(t *testing.T) {
		h := New()
		h.AddLivenessCheck("flaky", time.Second, alwaysFail("temporary"))

		ctx := context.Background()
		for range defaultFailAfter - 1 {
			h.live[0].exec(ctx)
		}

		code, _ := getStatus(t, h.LiveEndpoint, "/livez")
		assert.Equal(t, http.StatusOK, code)
	})
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("ReadyAndPassing", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("postgres", time.Second, alwaysOK)
		h.SetReady(true)

		code, body := getStatus(t, h.ReadyEndpoint, "/readyz")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", body.Status)
	})

	t.Run("GateClosedByDefault", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("postgres", time.Second, alwaysOK)

		code, body := getStatus(t, h.ReadyEndpoint, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Contains(t, body.Checks, "_readiness")
	})

	t.Run("GateReclosedForShutdown", func(t *testing.T) {
		h := New()
		h.SetReady(true)

		code, _ := getStatus(t, h.ReadyEndpoint, "/readyz")
		assert.Equal(t, http.StatusOK, code)

		h.SetReady(false)
		code, _ = getStatus(t, h.ReadyEndpoint, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, code)
	})

	t.Run("OnlyFailingProbeReported", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("postgres", time.Second, alwaysOK)
		h.AddReadinessCheck("cache", time.Second, alwaysFail("cache miss"))
		h.SetReady(true)

		ctx := context.Background()
		for range defaultFailAfter {
			h.readiness[1].exec(ctx)
		}

		code, body := getStatus(t, h.ReadyEndpoint, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Contains(t, body.Checks, "cache")
		assert.NotContains(t, body.Checks, "postgres")
	})
}

func TestIsReady(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, alwaysOK)

	assert.False(t, h.IsReady())
	h.SetReady(true)
	assert.True(t, h.IsReady())
	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestProbeRecovery(t *testing.T) {
	failing := true
	h := New()
	h.AddLivenessCheck("flaky", time.Second, func(_ context.Context) error {
		if failing {
			return errors.New("down")
		}
		return nil
	})
	p := h.live[0]
	ctx := context.Background()

	for range defaultFailAfter {
		p.exec(ctx)
	}
	assert.False(t, p.healthy())

	failing = false
	p.exec(ctx)
	assert.True(t, p.healthy(), "one pass should recover the probe")
}

func TestProbeLastFailureStored(t *testing.T) {
	h := New()
	h.AddLivenessCheck("db", time.Second, alwaysFail("timeout"))
	p := h.live[0]

	assert.Nil(t, p.failure())
	p.exec(context.Background())
	assert.EqualError(t, p.failure(), "timeout")
}

func TestStopIsIdempotent(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, alwaysOK)

	h.Start(context.Background(), 100*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.AddLivenessCheck("live", time.Second, alwaysFail("err"))
	h.AddReadinessCheck("ready", time.Second, alwaysOK)
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, 10*time.Millisecond)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				h.IsReady()

				w := httptest.NewRecorder()
				h.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

				w = httptest.NewRecorder()
				h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			}
		}()
	}
	wg.Wait()
	h.Stop()
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))

	err := GoroutineCountCheck(0)(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds threshold")
}

func TestGCMaxPauseCheck(t *testing.T) {
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
}
