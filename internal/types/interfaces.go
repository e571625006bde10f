package types

import (
	"context"
	"time"
)

// ReportStore is the document-store boundary for reports. Every mutation is
// a single-document conditional update; the store, not the caller, provides
// atomicity, so two workers racing on the same report stay consistent.
type ReportStore interface {
	// Find returns the report with the given id, or an AppError with code
	// not_found_report.
	Find(ctx context.Context, id string) (*Report, error)

	// Insert persists a new report.
	Insert(ctx context.Context, r *Report) error

	// Delete removes the report. The caller enforces the "only while
	// Created" rule before calling.
	Delete(ctx context.Context, id string) error

	// AddActivity appends an activity to the report's activity list.
	AddActivity(ctx context.Context, id string, a Activity) error

	// AddWatcher adds a watcher with set semantics: a watcher id already in
	// the list is not added twice, and the repeated call is not an error.
	AddWatcher(ctx context.Context, id string, w Watcher) error

	// DeleteWatcher removes a non-creator watcher. Removing the creator
	// yields conflict_watcher_is_creator; a watcher not on the list, or a
	// missing report, yields not_found_report. In both cases nothing is
	// removed.
	DeleteWatcher(ctx context.Context, id, watcherID string) error

	// Reopen flips status Closed to Reopened as a conditional update. It is
	// a no-op (not an error) when the current status is anything else.
	Reopen(ctx context.Context, id string) error

	// SetActionRequired sets the actionRequired flag.
	SetActionRequired(ctx context.Context, id string, value bool) error

	// ApplyStatusUpdate persists status and clears actionRequired in one
	// update; category is written only when withCategory is true.
	ApplyStatusUpdate(ctx context.Context, id string, status ReportStatus, category string, withCategory bool) error

	// CountActionRequired returns the number of the municipality's reports
	// awaiting administrator attention.
	CountActionRequired(ctx context.Context, municipality string) (int, error)
}

// UserStore is the document-store boundary for app users and their
// registration tokens.
type UserStore interface {
	// Find returns the user with the given id, or an AppError with code
	// not_found_user.
	Find(ctx context.Context, id string) (*User, error)

	// FindRecipientTokens returns the non-empty registration tokens of the
	// given users that belong to the municipality and platform.
	FindRecipientTokens(ctx context.Context, municipality string, ids []string, platform Platform) ([]string, error)

	// AddUnreadMessage adds the message id to every recipient's unread set.
	AddUnreadMessage(ctx context.Context, messageID string, recipients []string) error

	// AddUnseenReport adds the report id to every watcher's unseen set.
	AddUnseenReport(ctx context.Context, reportID string, watcherIDs []string) error

	// RemoveUnseenReport removes the report id from one watcher's unseen set.
	RemoveUnseenReport(ctx context.Context, reportID, watcherID string) error
}

// MessageStore is the read-only boundary for municipality broadcasts.
type MessageStore interface {
	// Find returns the message with the given id, or an AppError with code
	// not_found_message.
	Find(ctx context.Context, id string) (*Message, error)
}

// NotificationProducer turns a durably persisted domain event into queued
// delivery jobs, one per platform family. Every call is fire-and-forget from
// the caller's perspective: a failed enqueue is logged, never surfaced.
type NotificationProducer interface {
	MessageBroadcast(ctx context.Context, municipalityName string, msg *Message, delay time.Duration, expireAt time.Time, attempt int) error
	ActivityNotice(ctx context.Context, municipalityName, reportID, actorID string, delay time.Duration, attempt int) error
	WatcherChange(ctx context.Context, municipalityName, watcherID, reportID string, added bool, delay time.Duration, attempt int) error
}

// PendingCountBroadcaster pushes the count of reports requiring administrator
// action to the live dashboard collaborator. Implementations must be
// fire-and-forget; the caller never acts on a failure.
type PendingCountBroadcaster interface {
	NotifyPendingCount(ctx context.Context, municipality, reportID string, count int)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Logger defines the structured logging interface used throughout the
// service.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}
