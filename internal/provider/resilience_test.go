package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/marine"
)

func testBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: name})
}

// TestRetryBudgetExhaustion verifies that a permanently failing transport
// produces exactly one FetchError after exactly maxAttempts attempts, with
// non-decreasing backoff delays between them.
func TestRetryBudgetExhaustion(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var delays []time.Duration
	cfg := resilienceConfig{
		client:      srv.Client(),
		maxAttempts: 3,
		backoffBase: time.Second,
		sleep: func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	}

	build := func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	}
	handle := func(resp *http.Response) error { return nil }

	err := doWithResilience(context.Background(), cfg, testBreaker("exhaustion"), marine.SourceCoops, "9414290", build, handle)
	if err == nil {
		t.Fatal("expected an error after retry exhaustion")
	}

	var fetchErr *marine.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *marine.FetchError, got %T: %v", err, err)
	}
	if fetchErr.Attempts != 3 {
		t.Errorf("expected 3 attempts recorded, got %d", fetchErr.Attempts)
	}
	if attempts != 3 {
		t.Errorf("expected 3 requests issued, got %d", attempts)
	}

	if len(delays) != 2 {
		t.Fatalf("expected 2 backoff delays, got %d", len(delays))
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] < delays[i-1] {
			t.Errorf("backoff delays decreased: %v then %v", delays[i-1], delays[i])
		}
	}
	if delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Errorf("expected exponential delays [1s 2s], got %v", delays)
	}
}

// TestSuccessStopsRetrying verifies a well-formed success returns
// immediately without burning further attempts.
func TestSuccessStopsRetrying(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := resilienceConfig{
		client:      srv.Client(),
		maxAttempts: 5,
		backoffBase: time.Millisecond,
		sleep:       func(ctx context.Context, d time.Duration) error { return nil },
	}

	build := func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	}
	handle := func(resp *http.Response) error { return nil }

	if err := doWithResilience(context.Background(), cfg, testBreaker("success"), marine.SourceNdbc, "46087", build, handle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 requests, got %d", attempts)
	}
}

// TestPermanentFailureSkipsRetries verifies a 404 maps straight to
// ErrNotAvailable without consuming the retry budget.
func TestPermanentFailureSkipsRetries(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := resilienceConfig{
		client:      srv.Client(),
		maxAttempts: 3,
		backoffBase: time.Millisecond,
		sleep:       func(ctx context.Context, d time.Duration) error { return nil },
	}

	build := func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	}
	handle := func(resp *http.Response) error { return nil }

	err := doWithResilience(context.Background(), cfg, testBreaker("permanent"), marine.SourceNdbc, "46087", build, handle)
	if !errors.Is(err, marine.ErrNotAvailable) {
		t.Fatalf("expected ErrNotAvailable, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected a single request, got %d", attempts)
	}
}

// TestMalformedBodyRetried verifies that a handle failure (unparsable
// body) counts as a failed attempt and is retried.
func TestMalformedBodyRetried(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := resilienceConfig{
		client:      srv.Client(),
		maxAttempts: 2,
		backoffBase: time.Millisecond,
		sleep:       func(ctx context.Context, d time.Duration) error { return nil },
	}

	build := func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	}
	handle := func(resp *http.Response) error { return errors.New("unparsable body") }

	err := doWithResilience(context.Background(), cfg, testBreaker("malformed"), marine.SourceCoops, "9414290", build, handle)
	var fetchErr *marine.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *marine.FetchError, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 requests, got %d", attempts)
	}
}
