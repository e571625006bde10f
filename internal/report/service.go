package report

import (
	"context"

	"civicwatch/internal/types"
)

// Service orchestrates report mutations against the document store, signals
// the administrator dashboard, and enqueues delivery jobs for the
// notification pipeline. It is the producer side of the event bridge: a job
// is enqueued only after the triggering state change is durably persisted.
type Service struct {
	reports     types.ReportStore
	producer    types.NotificationProducer
	broadcaster types.PendingCountBroadcaster
	logger      types.Logger
	clock       types.Clock
}

// NewService creates a report Service.
func NewService(
	reports types.ReportStore,
	producer types.NotificationProducer,
	broadcaster types.PendingCountBroadcaster,
	logger types.Logger,
) *Service {
	return &Service{
		reports:     reports,
		producer:    producer,
		broadcaster: broadcaster,
		logger:      logger,
		clock:       types.RealClock{},
	}
}

// SetClock overrides the clock for testing.
func (s *Service) SetClock(c types.Clock) { s.clock = c }

// Create persists a new report. The watcher list must carry the submitting
// watcher (the creator) as its first entry. Status is forced to Created, and
// actionRequired is set when the creator is a citizen, in which case the
// dashboard is signaled.
func (s *Service) Create(ctx context.Context, r *types.Report) error {
	if len(r.Watchers) == 0 {
		return types.NewAppError(types.ErrCodeValidationWatchers,
			"report must carry its creator as the first watcher", nil)
	}

	r.Status = types.StatusCreated
	r.ActionRequired = r.Creator().IsUser()

	if err := s.reports.Insert(ctx, r); err != nil {
		return err
	}

	if r.ActionRequired {
		s.signalPendingCount(ctx, r.Municipality, r.ID)
	}

	s.logger.Info("report created",
		"report_id", r.ID,
		"municipality", r.Municipality,
		"action_required", r.ActionRequired,
	)

	return nil
}

// Update applies an administrator status update. The persisted status is
// read first, the transition is validated against the table, and only
// {status, actionRequired=false} is written - plus category, but category is
// persisted only while the prior status is Created: category is fixed once
// triage begins.
func (s *Service) Update(ctx context.Context, incoming *types.Report) error {
	current, err := s.reports.Find(ctx, incoming.ID)
	if err != nil {
		return err
	}

	if err := ValidateTransition(current.Status, incoming.Status); err != nil {
		return err
	}

	withCategory := current.Status == types.StatusCreated
	if err := s.reports.ApplyStatusUpdate(ctx, incoming.ID, incoming.Status, incoming.Category, withCategory); err != nil {
		return err
	}

	s.logger.Info("report updated",
		"report_id", incoming.ID,
		"from", string(current.Status),
		"to", string(incoming.Status),
		"category_written", withCategory,
	)

	return nil
}

// ReopenIfClosed flips Closed to Reopened as a conditional store update.
// Any other current status is a no-op, never an error.
func (s *Service) ReopenIfClosed(ctx context.Context, id string) error {
	return s.reports.Reopen(ctx, id)
}

// Delete removes a report. Deletion is allowed only while the status is
// still Created, before any administrator action.
func (s *Service) Delete(ctx context.Context, id string) error {
	current, err := s.reports.Find(ctx, id)
	if err != nil {
		return err
	}
	if current.Status != types.StatusCreated {
		return types.NewAppError(types.ErrCodeReportNotDeletable,
			"report can only be deleted while status is CREATA", nil)
	}
	return s.reports.Delete(ctx, id)
}

// RecordActivity appends an activity to a report. A citizen-authored
// activity sets actionRequired, reopens the report if it was closed, and
// pushes the pending count to the dashboard; an administrator-authored one
// clears actionRequired. Either way an ActivityNotice job is enqueued for
// every platform, excluding the author from the recipients.
func (s *Service) RecordActivity(ctx context.Context, id, municipalityName string, a types.Activity) error {
	current, err := s.reports.Find(ctx, id)
	if err != nil {
		return err
	}

	if a.Date.IsZero() {
		a.Date = s.clock.Now()
	}
	if err := s.reports.AddActivity(ctx, id, a); err != nil {
		return err
	}

	actionRequired := a.Watcher.IsUser()
	if err := s.reports.SetActionRequired(ctx, id, actionRequired); err != nil {
		return err
	}

	if actionRequired {
		if err := s.reports.Reopen(ctx, id); err != nil {
			return err
		}
		s.signalPendingCount(ctx, current.Municipality, id)
	}

	// The state change is durable; enqueue is fire-and-forget from here on.
	if err := s.producer.ActivityNotice(ctx, municipalityName, id, a.Watcher.ID, 0, 1); err != nil {
		s.logger.Error("failed to enqueue activity notice",
			"report_id", id,
			"error", err.Error(),
		)
	}

	return nil
}

// AddWatcher adds a watcher to a report with set semantics and notifies the
// affected watcher's own devices that they gained visibility.
func (s *Service) AddWatcher(ctx context.Context, id, municipalityName string, w types.Watcher) error {
	if err := s.reports.AddWatcher(ctx, id, w); err != nil {
		return err
	}

	if err := s.producer.WatcherChange(ctx, municipalityName, w.ID, id, true, 0, 1); err != nil {
		s.logger.Error("failed to enqueue watcher change",
			"report_id", id,
			"watcher_id", w.ID,
			"error", err.Error(),
		)
	}

	return nil
}

// RemoveWatcher deletes a non-creator watcher from a report and notifies the
// affected watcher that they lost visibility. The creator can never be
// removed: the store rejects the delete and no notification is enqueued.
func (s *Service) RemoveWatcher(ctx context.Context, id, municipalityName, watcherID string) error {
	if err := s.reports.DeleteWatcher(ctx, id, watcherID); err != nil {
		return err
	}

	if err := s.producer.WatcherChange(ctx, municipalityName, watcherID, id, false, 0, 1); err != nil {
		s.logger.Error("failed to enqueue watcher change",
			"report_id", id,
			"watcher_id", watcherID,
			"error", err.Error(),
		)
	}

	return nil
}

// signalPendingCount pushes the municipality's pending-report count to the
// dashboard collaborator. A count query failure is logged, never surfaced.
func (s *Service) signalPendingCount(ctx context.Context, municipality, reportID string) {
	count, err := s.reports.CountActionRequired(ctx, municipality)
	if err != nil {
		s.logger.Warn("failed to count pending reports",
			"municipality", municipality,
			"error", err.Error(),
		)
		return
	}
	s.broadcaster.NotifyPendingCount(ctx, municipality, reportID, count)
}
