package core

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"civicwatch/internal/types"
)

// HTTPDoer is the minimal HTTP client interface the gateway clients need,
// satisfied by *http.Client and by test doubles.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// GatewayClient wraps an HTTP client with a circuit breaker so that a push
// gateway melting down stops being hammered by every worker in the pool.
// An open breaker surfaces as a transient error; the caller classifies it
// as a default-backoff retry like any other network failure.
type GatewayClient struct {
	client  HTTPDoer
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// NewGatewayClient creates a breaker-wrapped gateway client. The breaker
// trips after a run of consecutive transport failures; HTTP error statuses
// do not count, they are delivery outcomes, not gateway health signals.
func NewGatewayClient(client HTTPDoer, name string) *GatewayClient {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &GatewayClient{client: client, breaker: cb}
}

// Do executes the request through the breaker. The returned error is
// non-nil for transport failures and for an open breaker; both are
// transient from the delivery pipeline's point of view.
func (g *GatewayClient) Do(req *http.Request) (*http.Response, error) {
	return g.breaker.Execute(func() (*http.Response, error) {
		return g.client.Do(req)
	})
}

// IsBreakerOpen reports whether err came from an open or saturated breaker.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// ParseRetryAfter parses a Retry-After header value, which is either a
// delay in seconds or an HTTP date. A missing or malformed value yields 0,
// which callers treat as "no gateway guidance".
func ParseRetryAfter(value string, clock types.Clock) time.Duration {
	if value == "" {
		return 0
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}

	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(clock.Now()); d > 0 {
			return d
		}
	}

	return 0
}
