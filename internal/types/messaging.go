package types

import "time"

// DeliveryJob is the unit of work passed through a platform delivery queue.
// One job notifies one platform's recipients about one domain event. A job
// and its retries form a single lineage: the retry carries the same payload
// reference with an incremented Attempt and the delay the scheduler chose.
type DeliveryJob struct {
	Kind JobKind `json:"kind"`

	// MunicipalityName is the display name used as the notification title.
	MunicipalityName string `json:"municipality_name"`

	// Payload references. Exactly one of MessageID / ReportID+ActorID /
	// ReportID+WatcherID is meaningful depending on Kind. Reports are
	// re-fetched at consume time so the job never embeds a snapshot.
	MessageID string `json:"message_id,omitempty"`
	ReportID  string `json:"report_id,omitempty"`
	WatcherID string `json:"watcher_id,omitempty"`

	// ExcludedActorID is the watcher who caused the event; never a recipient.
	ExcludedActorID string `json:"excluded_actor_id,omitempty"`

	// WatcherAdded is true when a WatcherChange job notifies an addition,
	// false for a removal.
	WatcherAdded bool `json:"watcher_added,omitempty"`

	CreatedAtMillis int64 `json:"created_at_millis"`

	// ExpireAtMillis voids a MessageBroadcast job observed past this instant.
	// Zero means no expiry (ActivityNotice, WatcherChange).
	ExpireAtMillis int64 `json:"expire_at_millis,omitempty"`

	// Attempt starts at 1 and is incremented on every requeue.
	Attempt int `json:"attempt"`

	// NextAttemptDelayMillis is the delay the scheduler selected for this
	// attempt; 0 on the first attempt.
	NextAttemptDelayMillis int64 `json:"next_attempt_delay_millis"`

	TraceID string `json:"trace_id,omitempty"`
}

// Expired reports whether the job's own expiry has passed at the given
// instant. Jobs without an expiry never expire.
func (j DeliveryJob) Expired(now time.Time) bool {
	return j.ExpireAtMillis > 0 && now.UnixMilli() > j.ExpireAtMillis
}
