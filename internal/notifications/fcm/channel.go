// Package fcm implements the Android push channel against the FCM legacy
// HTTP endpoint. Recipients are chunked into fixed-size blocks, each block
// is one POST, and the outcome of the whole event is classified from the
// raw transport status codes.
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"civicwatch/internal/config"
	"civicwatch/internal/notifications/core"
	"civicwatch/internal/types"
)

// maxResponseBodyRead limits how much of a gateway response body is read
// for log messages.
const maxResponseBodyRead = 4096

// Compile-time assertion that Channel implements core.Channel.
var _ core.Channel = (*Channel)(nil)

// request is the FCM legacy downstream message body.
type request struct {
	RegistrationIDs []string `json:"registration_ids"`
	Data            data     `json:"data"`
}

type data struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Image string `json:"image,omitempty"`
}

// Channel delivers notifications to Android devices. One Send fans the
// target list out into blocks of at most MaxRecipients, one HTTP call per
// block. If any block fails transiently the entire event is reported as
// retryable: the retry re-resolves recipients rather than replaying block
// boundaries, so block membership may differ between attempts.
type Channel struct {
	url           string
	key           types.SecretString
	maxRecipients int
	gateway       *core.GatewayClient
	logger        types.Logger
	clock         types.Clock
}

// NewChannel creates the FCM channel from push configuration.
func NewChannel(cfg config.PushConfig, client core.HTTPDoer, logger types.Logger) *Channel {
	maxRecipients := cfg.FcmMaxRecipients
	if maxRecipients < 1 {
		maxRecipients = 1
	}
	return &Channel{
		url:           cfg.FcmURL,
		key:           cfg.FcmKey,
		maxRecipients: maxRecipients,
		gateway:       core.NewGatewayClient(client, "fcm"),
		logger:        logger,
		clock:         types.RealClock{},
	}
}

// SetClock overrides the clock for testing.
func (c *Channel) SetClock(clk types.Clock) { c.clock = clk }

// Platform returns the platform family this channel serves.
func (c *Channel) Platform() types.Platform { return types.PlatformAndroid }

// Send dispatches the notification to all targets in chunks. The first
// non-success block outcome aborts the loop and classifies the event.
func (c *Channel) Send(ctx context.Context, n core.Notification) core.DispatchOutcome {
	payload := data{Title: n.Title, Body: n.Body, Image: n.ImageURL}

	for from := 0; from < len(n.Targets); from += c.maxRecipients {
		to := from + c.maxRecipients
		if to > len(n.Targets) {
			to = len(n.Targets)
		}

		outcome := c.sendChunk(ctx, request{
			RegistrationIDs: n.Targets[from:to],
			Data:            payload,
		})
		if outcome.Kind != core.OutcomeSuccess {
			return outcome
		}
	}

	return core.Success()
}

// sendChunk posts one block of registration ids and classifies the result:
// 200 accepted, 400/401 permanent, anything else transient with the
// Retry-After header honored when present.
func (c *Channel) sendChunk(ctx context.Context, r request) core.DispatchOutcome {
	body, err := json.Marshal(r)
	if err != nil {
		return core.Permanent(fmt.Sprintf("marshal request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return core.Permanent(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+c.key.Unmask())

	resp, err := c.gateway.Do(req)
	if err != nil {
		if core.IsBreakerOpen(err) {
			c.logger.Warn("fcm circuit breaker open")
			return core.RetryDefault("circuit breaker open")
		}
		c.logger.Warn("fcm network error",
			"error", err.Error(),
		)
		return core.RetryDefault(fmt.Sprintf("network error: %v", err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))

	switch resp.StatusCode {
	case http.StatusOK:
		return core.Success()

	case http.StatusBadRequest:
		c.logger.Error("fcm rejected request",
			"status", resp.StatusCode,
			"response", string(respBody),
		)
		return core.Permanent("invalid request")

	case http.StatusUnauthorized:
		c.logger.Error("fcm authentication error")
		return core.Permanent("authentication error")

	default:
		if retryAfter := core.ParseRetryAfter(resp.Header.Get("Retry-After"), c.clock); retryAfter > 0 {
			return core.RetryAfter(retryAfter, fmt.Sprintf("gateway status %d", resp.StatusCode))
		}
		return core.RetryDefault(fmt.Sprintf("gateway status %d", resp.StatusCode))
	}
}
