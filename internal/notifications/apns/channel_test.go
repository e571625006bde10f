package apns

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicwatch/internal/config"
	"civicwatch/internal/notifications/core"
	"civicwatch/internal/types"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...any)      {}
func (nopLogger) Error(string, ...any)     {}
func (nopLogger) Warn(string, ...any)      {}
func (nopLogger) With(...any) types.Logger { return nopLogger{} }

func testChannel(url string) *Channel {
	cfg := config.PushConfig{
		ApnsURL:   url,
		ApnsToken: types.SecretString("provider-token"),
		ApnsTopic: "it.civicwatch.app",
	}
	return NewChannel(cfg, http.DefaultClient, nopLogger{})
}

func TestSend_OneRequestPerToken(t *testing.T) {
	expireAt := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		assert.Equal(t, "bearer provider-token", r.Header.Get("Authorization"))
		assert.Equal(t, "it.civicwatch.app", r.Header.Get("apns-topic"))
		assert.Equal(t, "alert", r.Header.Get("apns-push-type"))
		assert.Equal(t, strconv.FormatInt(expireAt.Unix(), 10), r.Header.Get("apns-expiration"))

		var p payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "Comune di Milano", p.Aps.Alert.Title)
		assert.Equal(t, "Segnalazione r1: c'è una nuova attività", p.Aps.Alert.Body)

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testChannel(srv.URL)
	outcome := c.Send(context.Background(), core.Notification{
		Title:    "Comune di Milano",
		Body:     "Segnalazione r1: c'è una nuova attività",
		ExpireAt: expireAt,
		Targets:  []string{"tok-a", "tok-b"},
	})

	assert.Equal(t, core.OutcomeSuccess, outcome.Kind)
	assert.Equal(t, []string{"/3/device/tok-a", "/3/device/tok-b"}, paths)
}

func TestSend_GoneTokenSkipped(t *testing.T) {
	// One dead device must not fail the event for everyone else.
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path == "/3/device/tok-dead" {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testChannel(srv.URL)
	outcome := c.Send(context.Background(), core.Notification{
		Targets: []string{"tok-a", "tok-dead", "tok-b"},
	})

	assert.Equal(t, core.OutcomeSuccess, outcome.Kind)
	assert.Equal(t, 3, calls)
}

func TestSend_StatusClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		wantKind   core.OutcomeKind
		wantDelay  time.Duration
	}{
		{"accepted", http.StatusOK, "", core.OutcomeSuccess, 0},
		{"bad request", http.StatusBadRequest, "", core.OutcomePermanent, 0},
		{"forbidden", http.StatusForbidden, "", core.OutcomePermanent, 0},
		{"gone", http.StatusGone, "", core.OutcomeSuccess, 0},
		{"throttled with header", http.StatusTooManyRequests, "60", core.OutcomeRetryAfter, time.Minute},
		{"server error", http.StatusInternalServerError, "", core.OutcomeRetryDefault, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := testChannel(srv.URL)
			outcome := c.Send(context.Background(), core.Notification{Targets: []string{"tok-a"}})

			assert.Equal(t, tt.wantKind, outcome.Kind)
			if tt.wantDelay > 0 {
				assert.Equal(t, tt.wantDelay, outcome.RetryAfter)
			}
		})
	}
}

func TestSend_TransientFailureAbortsRemainingTokens(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testChannel(srv.URL)
	outcome := c.Send(context.Background(), core.Notification{
		Targets: []string{"tok-a", "tok-b", "tok-c"},
	})

	assert.Equal(t, core.OutcomeRetryDefault, outcome.Kind)
	assert.Equal(t, 1, calls)
}
