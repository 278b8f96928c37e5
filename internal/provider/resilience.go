package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/marine"
)

// resilienceConfig controls retry behaviour for one client.
type resilienceConfig struct {
	client      *http.Client
	maxAttempts int
	backoffBase time.Duration

	// sleep is swapped out in tests to observe backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

var (
	errRateLimited = errors.New("rate limited")
	errServerError = errors.New("server error")
)

// permanentError wraps outcomes that retrying cannot fix (404, provider
// rejects the station). doWithResilience stops immediately on these.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// doWithResilience performs one logical fetch with bounded retries,
// exponential backoff and a circuit breaker. handle consumes the response
// body; a handle error counts as a failed attempt (malformed bodies and
// provider-reported error payloads are retried like transport failures).
// After the attempt budget is exhausted it returns a *marine.FetchError.
func doWithResilience(
	ctx context.Context,
	cfg resilienceConfig,
	cb *gobreaker.CircuitBreaker,
	source marine.Source,
	stationID string,
	buildRequest func() (*http.Request, error),
	handle func(*http.Response) error,
) error {
	if cfg.sleep == nil {
		cfg.sleep = sleepCtx
	}
	maxAttempts := cfg.maxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return &marine.FetchError{Source: source, StationID: stationID, Attempts: attempt - 1, Cause: ctx.Err()}
		}

		req, err := buildRequest()
		if err != nil {
			return &marine.FetchError{Source: source, StationID: stationID, Attempts: attempt - 1, Cause: err}
		}
		req = req.WithContext(ctx)

		_, err = cb.Execute(func() (interface{}, error) {
			resp, execErr := cfg.client.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusNotFound:
				return nil, permanent(marine.ErrNotAvailable)
			case resp.StatusCode == http.StatusTooManyRequests:
				return nil, errRateLimited
			case resp.StatusCode >= 500:
				return nil, fmt.Errorf("%w: %d", errServerError, resp.StatusCode)
			case resp.StatusCode < 200 || resp.StatusCode >= 300:
				return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
			}
			return nil, handle(resp)
		})
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &marine.FetchError{Source: source, StationID: stationID, Attempts: attempt - 1,
				Cause: fmt.Errorf("circuit breaker open: %w", err)}
		}

		lastErr = err
		if attempt == maxAttempts {
			break
		}

		delay := cfg.backoffBase * time.Duration(math.Pow(2, float64(attempt-1)))
		if err := cfg.sleep(ctx, delay); err != nil {
			return &marine.FetchError{Source: source, StationID: stationID, Attempts: attempt, Cause: err}
		}
	}

	return &marine.FetchError{Source: source, StationID: stationID, Attempts: maxAttempts, Cause: lastErr}
}
