// Package core provides the shared notification infrastructure used by the
// platform delivery workers (FCM, APNs): the dispatch outcome model, the
// retry policy, recipient resolution, and the job processor that ties them
// together. It centralizes retry logic and observability so both platform
// families behave identically.
package core

import (
	"context"
	"time"

	"civicwatch/internal/types"
)

// OutcomeKind categorizes the result of one gateway dispatch.
type OutcomeKind string

const (
	// OutcomeSuccess: delivery accepted by the gateway; the job is discarded.
	OutcomeSuccess OutcomeKind = "success"

	// OutcomeRetryAfter: the gateway signaled an explicit backoff (rate
	// limiting, Retry-After header); the job is requeued with exactly that
	// delay, bypassing exponential backoff.
	OutcomeRetryAfter OutcomeKind = "retry_after"

	// OutcomeRetryDefault: transient failure with no gateway guidance; the
	// job is requeued with exponential backoff.
	OutcomeRetryDefault OutcomeKind = "retry_default"

	// OutcomePermanent: malformed request or authentication failure; the job
	// is dropped and logged at error level, never retried.
	OutcomePermanent OutcomeKind = "permanent"
)

// DispatchOutcome is the tagged result of a dispatch attempt, consumed by
// explicit matching in the processor instead of error control flow.
type DispatchOutcome struct {
	Kind       OutcomeKind
	RetryAfter time.Duration // set only for OutcomeRetryAfter
	Reason     string
}

// Success returns a successful outcome.
func Success() DispatchOutcome {
	return DispatchOutcome{Kind: OutcomeSuccess}
}

// RetryAfter returns a gateway-directed backoff outcome.
func RetryAfter(d time.Duration, reason string) DispatchOutcome {
	return DispatchOutcome{Kind: OutcomeRetryAfter, RetryAfter: d, Reason: reason}
}

// RetryDefault returns a transient-failure outcome with no gateway guidance.
func RetryDefault(reason string) DispatchOutcome {
	return DispatchOutcome{Kind: OutcomeRetryDefault, Reason: reason}
}

// Permanent returns an unrecoverable outcome.
func Permanent(reason string) DispatchOutcome {
	return DispatchOutcome{Kind: OutcomePermanent, Reason: reason}
}

// Notification is the rendered payload handed to a platform channel.
type Notification struct {
	Title    string
	Body     string
	ImageURL string // FCM only; broadcast thumbnail
	ExpireAt time.Time
	Targets  []string // registration tokens
}

// Channel is the per-platform dispatch contract. Send attempts delivery to
// all targets and classifies the result; it never returns an error - every
// failure mode is an outcome.
type Channel interface {
	Platform() types.Platform
	Send(ctx context.Context, n Notification) DispatchOutcome
}

// JobPublisher re-enqueues a delivery job on its own platform queue with a
// broker-managed delay. The job carries its own attempt state, so a lineage
// stays causally ordered regardless of queue FIFO semantics.
type JobPublisher interface {
	Publish(ctx context.Context, job types.DeliveryJob, delay time.Duration) error
}

// MetricResult categorizes a delivery outcome for metrics reporting.
type MetricResult string

const (
	MetricSuccess   MetricResult = "success"
	MetricRetried   MetricResult = "retried"
	MetricDropped   MetricResult = "dropped"
	MetricExpired   MetricResult = "expired"
	MetricNoTargets MetricResult = "no_targets"
)

// NotificationMetrics abstracts CloudWatch/telemetry operations for the
// notification system.
type NotificationMetrics interface {
	RecordDelivery(ctx context.Context, platform types.Platform, result MetricResult)
	RecordLatency(ctx context.Context, platform types.Platform, duration time.Duration)
	RecordQueueLag(ctx context.Context, lag time.Duration)
}

// RetryPolicy defines the exponential backoff parameters for requeued jobs.
// Both the delay cap and the give-up threshold are explicit configuration.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NextDelay computes the delay before the next attempt of a job whose
// current attempt number is `attempt` (1-based):
//
//	delay = min(BaseDelay * 2^(attempt-1), MaxDelay)
//
// The doubling makes consecutive delays monotonically non-decreasing.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay || delay < 0 { // overflow guard
			return p.MaxDelay
		}
	}

	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
