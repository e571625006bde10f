package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"civicwatch/internal/notifications/core"
	"civicwatch/internal/types"
)

const (
	// receiveWaitSeconds is the SQS long-poll wait. Long polling keeps the
	// empty-queue request rate near zero.
	receiveWaitSeconds = 20

	// receiveBatchSize is the maximum SQS allows per ReceiveMessage call.
	receiveBatchSize = 10

	// visibilityTimeoutSeconds must exceed the worst-case processing time of
	// one job (bookkeeping + recipient query + gateway round trip) so a live
	// worker never races broker redelivery.
	visibilityTimeoutSeconds = 60
)

// SQSReceiver abstracts the SQS operations the consumer needs.
type SQSReceiver interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// JobProcessor handles one delivery job to completion. Satisfied by
// *core.Processor.
type JobProcessor interface {
	Process(ctx context.Context, job types.DeliveryJob) error
}

// Consumer long-polls one platform queue and drives each received job
// through the processor. A pool of goroutines shares the queue; a rate
// limiter paces job starts so the pool cannot stampede the push gateway.
type Consumer struct {
	client    SQSReceiver
	queueURL  string
	processor JobProcessor
	metrics   core.NotificationMetrics
	limiter   *rate.Limiter
	pool      int
	logger    types.Logger
	clock     types.Clock
}

// NewConsumer creates a consumer over one platform queue.
func NewConsumer(
	client SQSReceiver,
	queueURL string,
	processor JobProcessor,
	metrics core.NotificationMetrics,
	concurrency int,
	gatewayRate float64,
	logger types.Logger,
) *Consumer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Consumer{
		client:    client,
		queueURL:  queueURL,
		processor: processor,
		metrics:   metrics,
		limiter:   rate.NewLimiter(rate.Limit(gatewayRate), 1),
		pool:      concurrency,
		logger:    logger,
		clock:     types.RealClock{},
	}
}

// SetClock overrides the clock for testing.
func (c *Consumer) SetClock(clk types.Clock) { c.clock = clk }

// Run blocks until the context is cancelled, polling the queue with a pool
// of workers. Receive errors are logged and retried after a short pause so
// a transient SQS outage never kills the process.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.pool; i++ {
		g.Go(func() error {
			return c.pollLoop(ctx)
		})
	}
	return g.Wait()
}

func (c *Consumer) pollLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: receiveBatchSize,
			WaitTimeSeconds:     receiveWaitSeconds,
			VisibilityTimeout:   visibilityTimeoutSeconds,
			AttributeNames:      []sqstypes.QueueAttributeName{"SentTimestamp"},
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("queue receive failed",
				"queue_url", c.queueURL,
				"error", err.Error(),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, msg := range out.Messages {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
			c.handle(ctx, msg)
		}
	}
}

// handle processes one raw queue message. A nil processor error acknowledges
// the message; a non-nil error leaves it in flight for broker redelivery. An
// unparseable body is a poison message and is deleted outright.
func (c *Consumer) handle(ctx context.Context, msg sqstypes.Message) {
	c.recordLag(ctx, msg)

	var job types.DeliveryJob
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &job); err != nil {
		c.logger.Error("poison message, deleting",
			"queue_url", c.queueURL,
			"error", err.Error(),
		)
		c.delete(ctx, msg)
		return
	}

	if err := c.processor.Process(ctx, job); err != nil {
		c.logger.Error("job processing failed, leaving for redelivery",
			"kind", string(job.Kind),
			"attempt", job.Attempt,
			"trace_id", job.TraceID,
			"error", err.Error(),
		)
		return
	}

	c.delete(ctx, msg)
}

func (c *Consumer) delete(ctx context.Context, msg sqstypes.Message) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		// Redelivery of an acknowledged job is harmless; processing is
		// idempotent under at-least-once semantics.
		c.logger.Warn("failed to delete queue message",
			"queue_url", c.queueURL,
			"error", err.Error(),
		)
	}
}

// recordLag emits the time the message spent in the queue, derived from the
// broker's SentTimestamp attribute. The delay portion of a scheduled retry
// is included on purpose; dashboards read it alongside the attempt count.
func (c *Consumer) recordLag(ctx context.Context, msg sqstypes.Message) {
	sent, ok := msg.Attributes["SentTimestamp"]
	if !ok {
		return
	}
	ms, err := strconv.ParseInt(sent, 10, 64)
	if err != nil {
		return
	}
	lag := c.clock.Now().Sub(time.UnixMilli(ms))
	if lag < 0 {
		lag = 0
	}
	c.metrics.RecordQueueLag(ctx, lag)
}
