package httpshell

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testShell() *Shell {
	return New(Options{
		Timeout:          2 * time.Second,
		RetryAttempts:    3,
		RetryBaseWait:    time.Millisecond,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
	})
}

func TestGetJSONSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bearer x", r.Header.Get("Authorization"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := testShell()
	defer s.Close()

	data := s.GetJSON(context.Background(), ServiceDexScreener, srv.URL, map[string]string{"Authorization": "bearer x"})
	require.NotNil(t, data)
	assert.JSONEq(t, `{"ok":true}`, string(data))
	assert.Equal(t, uint64(1), s.Breaker(ServiceDexScreener).Stats().Successes)
}

func TestRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`"ok"`))
	}))
	defer srv.Close()

	s := testShell()
	defer s.Close()

	data := s.GetJSON(context.Background(), ServiceRPC, srv.URL, nil)
	require.NotNil(t, data)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestReturnsNilAfterExhaustedRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := testShell()
	defer s.Close()

	data := s.GetJSON(context.Background(), ServiceRPC, srv.URL, nil)
	assert.Nil(t, data)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestForbiddenFailsFast(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := testShell()
	defer s.Close()

	data := s.GetJSON(context.Background(), ServiceJupiter, srv.URL, nil)
	assert.Nil(t, data)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "403 must not be retried")
}

func TestRateLimitHonorsRetryAfter(t *testing.T) {
	var calls int32
	var secondCallAt time.Time
	start := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		secondCallAt = time.Now()
		w.Write([]byte(`"ok"`))
	}))
	defer srv.Close()

	s := testShell()
	defer s.Close()

	data := s.GetJSON(context.Background(), ServiceDexScreener, srv.URL, nil)
	require.NotNil(t, data)
	assert.GreaterOrEqual(t, secondCallAt.Sub(start), time.Second)
}

func TestOpenBreakerSkipsNetwork(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := testShell()
	defer s.Close()

	// Two exhausted calls = 6 failures, past the threshold of 5.
	s.GetJSON(context.Background(), ServiceRPC, srv.URL, nil)
	s.GetJSON(context.Background(), ServiceRPC, srv.URL, nil)
	require.Equal(t, StateOpen, s.Breaker(ServiceRPC).State())

	before := atomic.LoadInt32(&calls)
	data := s.GetJSON(context.Background(), ServiceRPC, srv.URL, nil)
	assert.Nil(t, data)
	assert.Equal(t, before, atomic.LoadInt32(&calls), "open breaker must not hit the network")
}

func TestBypassBreakerIgnoresOpenState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":1}`))
	}))
	defer srv.Close()

	s := testShell()
	defer s.Close()

	// Force the RPC breaker open.
	for i := 0; i < 5; i++ {
		s.Breaker(ServiceRPC).Allow()
		s.Breaker(ServiceRPC).OnFailure()
	}
	require.Equal(t, StateOpen, s.Breaker(ServiceRPC).State())

	data := s.PostJSON(context.Background(), ServiceRPC, srv.URL, map[string]any{"jsonrpc": "2.0"}, true)
	assert.NotNil(t, data)
}

func TestContextCancelStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := New(Options{RetryAttempts: 3, RetryBaseWait: time.Hour, FailureThreshold: 50})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan []byte, 1)
	go func() { done <- s.GetJSON(ctx, ServiceRPC, srv.URL, nil) }()

	select {
	case data := <-done:
		assert.Nil(t, data)
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not interrupt the backoff wait")
	}
}

func TestBreakerStatsCoversAllServices(t *testing.T) {
	s := testShell()
	defer s.Close()

	stats := s.BreakerStats()
	require.Len(t, stats, 5)
	names := map[string]bool{}
	for _, st := range stats {
		names[st.Name] = true
		assert.Equal(t, "CLOSED", st.State)
	}
	assert.True(t, names[ServiceRPC])
	assert.True(t, names[ServiceImage])
}
