// Package apns implements the iOS push channel against the APNs provider
// API: one HTTP call per device token, with the notification expiry carried
// in the apns-expiration header.
package apns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"civicwatch/internal/config"
	"civicwatch/internal/notifications/core"
	"civicwatch/internal/types"
)

const maxResponseBodyRead = 4096

// Compile-time assertion that Channel implements core.Channel.
var _ core.Channel = (*Channel)(nil)

// payload is the APNs request body.
type payload struct {
	Aps aps `json:"aps"`
}

type aps struct {
	Alert alert `json:"alert"`
}

type alert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Channel delivers notifications to iOS devices. Targets are pushed one
// token at a time; a transient failure on any token classifies the whole
// event as retryable, and the retry re-resolves recipients.
type Channel struct {
	url     string
	token   types.SecretString
	topic   string
	gateway *core.GatewayClient
	logger  types.Logger
	clock   types.Clock
}

// NewChannel creates the APNs channel from push configuration.
func NewChannel(cfg config.PushConfig, client core.HTTPDoer, logger types.Logger) *Channel {
	return &Channel{
		url:     cfg.ApnsURL,
		token:   cfg.ApnsToken,
		topic:   cfg.ApnsTopic,
		gateway: core.NewGatewayClient(client, "apns"),
		logger:  logger,
		clock:   types.RealClock{},
	}
}

// SetClock overrides the clock for testing.
func (c *Channel) SetClock(clk types.Clock) { c.clock = clk }

// Platform returns the platform family this channel serves.
func (c *Channel) Platform() types.Platform { return types.PlatformIOS }

// Send dispatches the notification to every target token. The first
// non-success outcome aborts the loop and classifies the event.
func (c *Channel) Send(ctx context.Context, n core.Notification) core.DispatchOutcome {
	body, err := json.Marshal(payload{Aps: aps{Alert: alert{Title: n.Title, Body: n.Body}}})
	if err != nil {
		return core.Permanent(fmt.Sprintf("marshal payload: %v", err))
	}

	for _, token := range n.Targets {
		outcome := c.push(ctx, token, body, n)
		if outcome.Kind != core.OutcomeSuccess {
			return outcome
		}
	}

	return core.Success()
}

// push sends one device notification and classifies the result: 200
// accepted, 400/403 permanent, 410 (token no longer valid) logged and
// treated as delivered so one dead device cannot wedge the event, anything
// else transient with Retry-After honored.
func (c *Channel) push(ctx context.Context, token string, body []byte, n core.Notification) core.DispatchOutcome {
	url := fmt.Sprintf("%s/3/device/%s", c.url, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return core.Permanent(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "bearer "+c.token.Unmask())
	req.Header.Set("apns-topic", c.topic)
	req.Header.Set("apns-push-type", "alert")
	if !n.ExpireAt.IsZero() {
		req.Header.Set("apns-expiration", strconv.FormatInt(n.ExpireAt.Unix(), 10))
	}

	resp, err := c.gateway.Do(req)
	if err != nil {
		if core.IsBreakerOpen(err) {
			c.logger.Warn("apns circuit breaker open")
			return core.RetryDefault("circuit breaker open")
		}
		c.logger.Warn("apns network error",
			"error", err.Error(),
		)
		return core.RetryDefault(fmt.Sprintf("network error: %v", err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))

	switch resp.StatusCode {
	case http.StatusOK:
		return core.Success()

	case http.StatusGone:
		// The token is permanently invalid for this topic. Skip the device
		// rather than failing the event for everyone else.
		c.logger.Warn("apns token gone, device skipped")
		return core.Success()

	case http.StatusBadRequest, http.StatusForbidden:
		c.logger.Error("apns rejected request",
			"status", resp.StatusCode,
			"response", string(respBody),
		)
		return core.Permanent(fmt.Sprintf("apns status %d", resp.StatusCode))

	default:
		if retryAfter := core.ParseRetryAfter(resp.Header.Get("Retry-After"), c.clock); retryAfter > 0 {
			return core.RetryAfter(retryAfter, fmt.Sprintf("apns status %d", resp.StatusCode))
		}
		return core.RetryDefault(fmt.Sprintf("apns status %d", resp.StatusCode))
	}
}
