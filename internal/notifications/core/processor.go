package core

import (
	"context"
	"fmt"
	"time"

	"civicwatch/internal/types"
)

// User-facing notification copy. The status labels and this copy share the
// same locale as the mobile clients.
const (
	activityBody       = "Segnalazione %s: c'è una nuova attività"
	watcherAddedBody   = "Segnalazione %s: sei un osservatore"
	watcherRemovedBody = "Segnalazione %s: non sei più un osservatore"
)

// Processor drains delivery jobs for one platform family: it performs the
// consume-time bookkeeping, resolves recipients fresh, dispatches through
// the platform channel, and turns failures into delayed re-delivery attempts
// or drops. It embodies the at-least-once contract: a crash between gateway
// acceptance and job acknowledgement can duplicate a push, never lose state.
type Processor struct {
	channel   Channel
	resolver  *RecipientResolver
	publisher JobPublisher
	policy    RetryPolicy
	metrics   NotificationMetrics

	users    types.UserStore
	reports  types.ReportStore
	messages types.MessageStore

	logger types.Logger
	clock  types.Clock

	notificationValidity time.Duration
}

// NewProcessor wires a processor for one platform queue.
func NewProcessor(
	channel Channel,
	resolver *RecipientResolver,
	publisher JobPublisher,
	policy RetryPolicy,
	metrics NotificationMetrics,
	users types.UserStore,
	reports types.ReportStore,
	messages types.MessageStore,
	notificationValidity time.Duration,
	logger types.Logger,
) *Processor {
	return &Processor{
		channel:              channel,
		resolver:             resolver,
		publisher:            publisher,
		policy:               policy,
		metrics:              metrics,
		users:                users,
		reports:              reports,
		messages:             messages,
		notificationValidity: notificationValidity,
		logger:               logger,
		clock:                types.RealClock{},
	}
}

// SetClock overrides the clock for testing.
func (p *Processor) SetClock(c types.Clock) { p.clock = c }

// Process handles one delivery job to completion. A nil return means the
// job is finished from the queue's perspective (delivered, dropped, or
// requeued as a successor job) and the message may be acknowledged. An error
// means an infrastructure failure where broker redelivery should kick in.
func (p *Processor) Process(ctx context.Context, job types.DeliveryJob) error {
	start := p.clock.Now()
	platform := p.channel.Platform()

	logger := p.logger.With(
		"kind", string(job.Kind),
		"platform", string(platform),
		"attempt", job.Attempt,
		"trace_id", job.TraceID,
	)

	var err error
	switch job.Kind {
	case types.JobMessageBroadcast:
		err = p.processBroadcast(ctx, job, logger)
	case types.JobActivityNotice:
		err = p.processActivity(ctx, job, logger)
	case types.JobWatcherChange:
		err = p.processWatcherChange(ctx, job, logger)
	default:
		// Unknown kind is a poison message: drop it.
		logger.Error("unknown delivery job kind, dropping")
		p.metrics.RecordDelivery(ctx, platform, MetricDropped)
		return nil
	}

	p.metrics.RecordLatency(ctx, platform, p.clock.Now().Sub(start))
	return err
}

// processBroadcast delivers a municipality message to its recipient list.
// The expiry check happens here, at consume time: a job that sat in the
// delay queue past its expiry (or whose message expired) is dropped without
// a delivery attempt.
func (p *Processor) processBroadcast(ctx context.Context, job types.DeliveryJob, logger types.Logger) error {
	now := p.clock.Now()
	if job.Expired(now) {
		logger.Info("broadcast job expired, dropped without dispatch",
			"message_id", job.MessageID,
		)
		p.metrics.RecordDelivery(ctx, p.channel.Platform(), MetricExpired)
		return nil
	}

	msg, err := p.messages.Find(ctx, job.MessageID)
	if err != nil {
		if types.IsNotFound(err) {
			logger.Info("message no longer exists, job dropped",
				"message_id", job.MessageID,
			)
			p.metrics.RecordDelivery(ctx, p.channel.Platform(), MetricNoTargets)
			return nil
		}
		return err
	}

	if !msg.ExpireOn.IsZero() && !msg.ExpireOn.After(now) {
		logger.Info("message expired, job dropped",
			"message_id", msg.ID,
		)
		p.metrics.RecordDelivery(ctx, p.channel.Platform(), MetricExpired)
		return nil
	}

	// Consume-time bookkeeping: mark the message unread for its recipients.
	// Set semantics make this safe under at-least-once redelivery.
	if err := p.users.AddUnreadMessage(ctx, msg.ID, msg.Recipients); err != nil {
		logger.Warn("failed to record unread message",
			"message_id", msg.ID,
			"error", err.Error(),
		)
	}

	targets, err := p.resolver.ForMessage(ctx, msg, p.channel.Platform())
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		p.metrics.RecordDelivery(ctx, p.channel.Platform(), MetricNoTargets)
		return nil
	}

	n := Notification{
		Title:    job.MunicipalityName,
		Body:     msg.Header,
		ImageURL: msg.Thumbnail,
		ExpireAt: now.Add(p.notificationValidity),
		Targets:  targets,
	}

	return p.dispatch(ctx, job, n, logger)
}

// processActivity notifies a report's watchers about a new activity. The
// report is re-fetched here so status and watcher list reflect the latest
// state, not the state at enqueue time.
func (p *Processor) processActivity(ctx context.Context, job types.DeliveryJob, logger types.Logger) error {
	rep, err := p.reports.Find(ctx, job.ReportID)
	if err != nil {
		if types.IsNotFound(err) {
			logger.Info("report no longer exists, job dropped",
				"report_id", job.ReportID,
			)
			p.metrics.RecordDelivery(ctx, p.channel.Platform(), MetricNoTargets)
			return nil
		}
		return err
	}

	// Mark the report unseen for its citizen watchers.
	citizenIDs := rep.WatcherIDs(types.Watcher.IsUser)
	if err := p.users.AddUnseenReport(ctx, rep.ID, citizenIDs); err != nil {
		logger.Warn("failed to record unseen report",
			"report_id", rep.ID,
			"error", err.Error(),
		)
	}

	targets, err := p.resolver.ForReport(ctx, rep, job.ExcludedActorID, p.channel.Platform())
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		p.metrics.RecordDelivery(ctx, p.channel.Platform(), MetricNoTargets)
		return nil
	}

	n := Notification{
		Title:    job.MunicipalityName,
		Body:     fmt.Sprintf(activityBody, rep.ID),
		ExpireAt: p.clock.Now().Add(p.notificationValidity),
		Targets:  targets,
	}

	return p.dispatch(ctx, job, n, logger)
}

// processWatcherChange notifies exactly the affected watcher that they
// gained or lost visibility into a report.
func (p *Processor) processWatcherChange(ctx context.Context, job types.DeliveryJob, logger types.Logger) error {
	// Keep the watcher's unseen set in step with their visibility.
	var bookErr error
	if job.WatcherAdded {
		bookErr = p.users.AddUnseenReport(ctx, job.ReportID, []string{job.WatcherID})
	} else {
		bookErr = p.users.RemoveUnseenReport(ctx, job.ReportID, job.WatcherID)
	}
	if bookErr != nil {
		logger.Warn("failed to update unseen report set",
			"report_id", job.ReportID,
			"watcher_id", job.WatcherID,
			"error", bookErr.Error(),
		)
	}

	targets, err := p.resolver.ForWatcher(ctx, job.WatcherID, p.channel.Platform())
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		p.metrics.RecordDelivery(ctx, p.channel.Platform(), MetricNoTargets)
		return nil
	}

	body := fmt.Sprintf(watcherRemovedBody, job.ReportID)
	if job.WatcherAdded {
		body = fmt.Sprintf(watcherAddedBody, job.ReportID)
	}

	n := Notification{
		Title:    job.MunicipalityName,
		Body:     body,
		ExpireAt: p.clock.Now().Add(p.notificationValidity),
		Targets:  targets,
	}

	return p.dispatch(ctx, job, n, logger)
}

// dispatch sends the notification through the platform channel and matches
// the outcome: discard on success, drop on permanent failure or give-up,
// requeue a successor job otherwise.
func (p *Processor) dispatch(ctx context.Context, job types.DeliveryJob, n Notification, logger types.Logger) error {
	outcome := p.channel.Send(ctx, n)
	platform := p.channel.Platform()

	switch outcome.Kind {
	case OutcomeSuccess:
		logger.Info("notification delivered",
			"targets", len(n.Targets),
		)
		p.metrics.RecordDelivery(ctx, platform, MetricSuccess)
		return nil

	case OutcomePermanent:
		logger.Error("permanent delivery failure, job dropped",
			"reason", outcome.Reason,
		)
		p.metrics.RecordDelivery(ctx, platform, MetricDropped)
		return nil

	case OutcomeRetryAfter, OutcomeRetryDefault:
		return p.requeue(ctx, job, outcome, logger)

	default:
		logger.Error("unknown dispatch outcome, job dropped",
			"outcome", string(outcome.Kind),
		)
		p.metrics.RecordDelivery(ctx, platform, MetricDropped)
		return nil
	}
}

// requeue schedules the next attempt of a transiently failed job, or gives
// up once the attempt budget is exhausted. The successor job carries the
// incremented attempt count and the selected delay, so the retry lineage
// stays causally ordered without relying on queue FIFO semantics.
func (p *Processor) requeue(ctx context.Context, job types.DeliveryJob, outcome DispatchOutcome, logger types.Logger) error {
	if job.Attempt >= p.policy.MaxAttempts {
		logger.Error("delivery attempts exhausted, job dropped",
			"max_attempts", p.policy.MaxAttempts,
			"reason", outcome.Reason,
		)
		p.metrics.RecordDelivery(ctx, p.channel.Platform(), MetricDropped)
		return nil
	}

	delay := p.policy.NextDelay(job.Attempt)
	if outcome.Kind == OutcomeRetryAfter {
		// Gateway-directed backoff bypasses the exponential schedule.
		delay = outcome.RetryAfter
		if delay > p.policy.MaxDelay {
			delay = p.policy.MaxDelay
		}
	}

	next := job
	next.Attempt++
	next.NextAttemptDelayMillis = delay.Milliseconds()

	if err := p.publisher.Publish(ctx, next, delay); err != nil {
		// Leave the original message to broker redelivery.
		return types.NewAppError(types.ErrCodeQueuePublish, "failed to requeue delivery job", err)
	}

	logger.Warn("transient delivery failure, job requeued",
		"reason", outcome.Reason,
		"next_attempt", next.Attempt,
		"delay_ms", next.NextAttemptDelayMillis,
	)
	p.metrics.RecordDelivery(ctx, p.channel.Platform(), MetricRetried)

	return nil
}
