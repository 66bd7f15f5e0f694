package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(w http.ResponseWriter, status int, data interface{}, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": status >= 200 && status < 300,
		"data":    data,
		"error":   errCode,
		"message": message,
	})
}

// refreshServer serves a protected endpoint that accepts only freshToken and
// a refresh endpoint that can be told to fail.
type refreshServer struct {
	freshToken   string
	refreshCalls int64
	refreshFails bool
	refreshDelay time.Duration

	// barrier, when set, holds 401 responses until size requests arrived.
	barrier     chan struct{}
	barrierSize int64
	arrived     int64
}

func (s *refreshServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.refreshCalls, 1)
		if s.refreshDelay > 0 {
			time.Sleep(s.refreshDelay)
		}
		if s.refreshFails {
			writeEnvelope(w, http.StatusUnauthorized, nil, "auth_failed", "Token expired or invalid.")
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]string{"access_token": s.freshToken}, "", "Token refreshed.")
	})
	mux.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer "+s.freshToken {
			writeEnvelope(w, http.StatusOK, map[string]string{"ok": "yes"}, "", "")
			return
		}
		if s.barrier != nil {
			if atomic.AddInt64(&s.arrived, 1) == s.barrierSize {
				close(s.barrier)
			}
			<-s.barrier
		}
		writeEnvelope(w, http.StatusUnauthorized, nil, "auth_failed", "Token expired or invalid.")
	})
	return mux
}

func TestConcurrent401sShareOneRefresh(t *testing.T) {
	const workers = 8

	srv := &refreshServer{
		freshToken:   "fresh-token",
		refreshDelay: 150 * time.Millisecond,
		barrier:      make(chan struct{}),
		barrierSize:  workers,
	}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := New(ts.URL)
	c.SetTokens("stale-token", "refresh-token")

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var out map[string]string
			errs[i] = c.Do(context.Background(), http.MethodGet, "/protected", nil, &out)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "worker %d", i)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&srv.refreshCalls))

	access, _ := c.Tokens()
	assert.Equal(t, "fresh-token", access)
}

func TestFailedRefreshDropsAllAndLogsOutOnce(t *testing.T) {
	const workers = 6

	srv := &refreshServer{
		freshToken:   "unreachable",
		refreshFails: true,
		refreshDelay: 150 * time.Millisecond,
		barrier:      make(chan struct{}),
		barrierSize:  workers,
	}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	var logouts int64
	c := New(ts.URL, WithLogoutHook(func() { atomic.AddInt64(&logouts, 1) }))
	c.SetTokens("stale-token", "refresh-token")

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Do(context.Background(), http.MethodGet, "/protected", nil, nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.Error(t, err, "worker %d", i)
		assert.ErrorIs(t, err, ErrSessionExpired, "worker %d", i)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&logouts))
	assert.Equal(t, int64(1), atomic.LoadInt64(&srv.refreshCalls))

	access, refresh := c.Tokens()
	assert.Empty(t, access)
	assert.Empty(t, refresh)
}

func TestRequestIsRetriedAtMostOnce(t *testing.T) {
	var protectedHits int64
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]string{"access_token": "still-rejected"}, "", "")
	})
	mux.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&protectedHits, 1)
		writeEnvelope(w, http.StatusUnauthorized, nil, "auth_failed", "Token expired or invalid.")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := New(ts.URL)
	c.SetTokens("stale-token", "refresh-token")

	err := c.Do(context.Background(), http.MethodGet, "/protected", nil, nil)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, int64(2), atomic.LoadInt64(&protectedHits))
}

func TestNoRefreshTokenFailsFast(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, nil, "auth_failed", "Unauthorized.")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := New(ts.URL)

	err := c.Do(context.Background(), http.MethodGet, "/protected", nil, nil)
	assert.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestRetryCarriesRefreshedToken(t *testing.T) {
	var sawStaleRetry int64
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]string{"access_token": "fresh-token"}, "", "")
	})
	var hits int64
	mux.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&hits, 1)
		auth := r.Header.Get("Authorization")
		if n > 1 && auth != "Bearer fresh-token" {
			atomic.AddInt64(&sawStaleRetry, 1)
		}
		if auth == "Bearer fresh-token" {
			writeEnvelope(w, http.StatusOK, map[string]string{"ok": "yes"}, "", "")
			return
		}
		writeEnvelope(w, http.StatusUnauthorized, nil, "auth_failed", "Token expired or invalid.")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := New(ts.URL)
	c.SetTokens("stale-token", "refresh-token")

	var out map[string]string
	require.NoError(t, c.Do(context.Background(), http.MethodGet, "/protected", nil, &out))
	assert.Equal(t, "yes", out["ok"])
	assert.Equal(t, int64(0), atomic.LoadInt64(&sawStaleRetry))
}

func TestAPIErrorSurfacesEnvelope(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/things", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusConflict, nil, "conflict", "Already exists.")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := New(ts.URL)
	err := c.Do(context.Background(), http.MethodPost, "/things", map[string]string{"name": "x"}, nil)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "conflict", apiErr.Code)
	assert.Equal(t, "Already exists.", apiErr.Message)
}
