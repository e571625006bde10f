// Package queue provides the SQS-based producer and consumer bridging domain
// events to the per-platform delivery workers. The broker supplies the
// durable per-message delivery delay; the core only selects a delay value
// and an attempt count.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"civicwatch/internal/notifications/core"
	"civicwatch/internal/types"
)

// sqsMaxDelaySeconds is the maximum per-message delay SQS supports
// (15 minutes). Larger delays are clamped.
const sqsMaxDelaySeconds = 900

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Compile-time assertion that Producer implements types.NotificationProducer.
var _ types.NotificationProducer = (*Producer)(nil)

// Producer fans one domain event out into one delivery job per platform
// family. Each platform owns its own queue, so the two families retry and
// scale independently.
type Producer struct {
	client    SQSSender
	queueURLs map[types.Platform]string
	logger    types.Logger
	clock     types.Clock
}

// NewProducer creates a Producer over the per-platform queue URLs.
func NewProducer(client SQSSender, queueURLs map[types.Platform]string, logger types.Logger) *Producer {
	return &Producer{
		client:    client,
		queueURLs: queueURLs,
		logger:    logger,
		clock:     types.RealClock{},
	}
}

// SetClock overrides the clock for testing.
func (p *Producer) SetClock(c types.Clock) { p.clock = c }

// MessageBroadcast enqueues a broadcast job per platform. The job carries
// the message id and its expiry; the consumer checks the expiry again at
// consume time.
func (p *Producer) MessageBroadcast(ctx context.Context, municipalityName string, msg *types.Message, delay time.Duration, expireAt time.Time, attempt int) error {
	job := p.newJob(types.JobMessageBroadcast, municipalityName, attempt, delay)
	job.MessageID = msg.ID
	if !expireAt.IsZero() {
		job.ExpireAtMillis = expireAt.UnixMilli()
	}
	return p.fanOut(ctx, job, delay)
}

// ActivityNotice enqueues an activity job per platform. Only the report id
// travels; the consumer re-fetches the report so late watcher changes are
// honored.
func (p *Producer) ActivityNotice(ctx context.Context, municipalityName, reportID, actorID string, delay time.Duration, attempt int) error {
	job := p.newJob(types.JobActivityNotice, municipalityName, attempt, delay)
	job.ReportID = reportID
	job.ExcludedActorID = actorID
	return p.fanOut(ctx, job, delay)
}

// WatcherChange enqueues a watcher add/remove job per platform, addressed
// to exactly the affected watcher.
func (p *Producer) WatcherChange(ctx context.Context, municipalityName, watcherID, reportID string, added bool, delay time.Duration, attempt int) error {
	job := p.newJob(types.JobWatcherChange, municipalityName, attempt, delay)
	job.ReportID = reportID
	job.WatcherID = watcherID
	job.WatcherAdded = added
	return p.fanOut(ctx, job, delay)
}

func (p *Producer) newJob(kind types.JobKind, municipalityName string, attempt int, delay time.Duration) types.DeliveryJob {
	if attempt < 1 {
		attempt = 1
	}
	return types.DeliveryJob{
		Kind:                   kind,
		MunicipalityName:       municipalityName,
		CreatedAtMillis:        p.clock.Now().UnixMilli(),
		Attempt:                attempt,
		NextAttemptDelayMillis: delay.Milliseconds(),
		TraceID:                uuid.New().String(),
	}
}

func (p *Producer) fanOut(ctx context.Context, job types.DeliveryJob, delay time.Duration) error {
	for platform, queueURL := range p.queueURLs {
		if err := sendJob(ctx, p.client, queueURL, job, delay); err != nil {
			return fmt.Errorf("queue: enqueue %s job for %s: %w", job.Kind, platform, err)
		}
		p.logger.Info("delivery job enqueued",
			"kind", string(job.Kind),
			"platform", string(platform),
			"trace_id", job.TraceID,
			"delay_ms", delay.Milliseconds(),
		)
	}
	return nil
}

// sendJob serializes the job and dispatches it with the broker-managed
// delay, clamped to the SQS maximum of 900 seconds.
func sendJob(ctx context.Context, client SQSSender, queueURL string, job types.DeliveryJob, delay time.Duration) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal delivery job: %w", err)
	}

	delaySec := int32(delay.Seconds())
	if delaySec > sqsMaxDelaySeconds {
		delaySec = sqsMaxDelaySeconds
	}
	if delaySec < 0 {
		delaySec = 0
	}

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySec,
	}

	if _, err := client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message to %s: %w", queueURL, err)
	}
	return nil
}

// Compile-time assertion that RetryPublisher satisfies the processor's
// publisher contract.
var _ core.JobPublisher = (*RetryPublisher)(nil)

// RetryPublisher re-enqueues a job on its own platform queue. A job and its
// retries share the one queue; the job carries its own attempt state, so
// lineage ordering does not depend on queue FIFO semantics.
type RetryPublisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// NewRetryPublisher creates a RetryPublisher bound to one platform queue.
func NewRetryPublisher(client SQSSender, queueURL string, logger types.Logger) *RetryPublisher {
	return &RetryPublisher{client: client, queueURL: queueURL, logger: logger}
}

// Publish re-enqueues the successor job with the selected delay. The caller
// has already incremented the attempt count.
func (p *RetryPublisher) Publish(ctx context.Context, job types.DeliveryJob, delay time.Duration) error {
	if err := sendJob(ctx, p.client, p.queueURL, job, delay); err != nil {
		return err
	}
	p.logger.Info("delivery job requeued",
		"kind", string(job.Kind),
		"attempt", job.Attempt,
		"delay_ms", delay.Milliseconds(),
		"trace_id", job.TraceID,
	)
	return nil
}
