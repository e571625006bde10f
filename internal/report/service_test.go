package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicwatch/internal/types"
)

// nopLogger discards all log output.
type nopLogger struct{}

func (nopLogger) Info(string, ...any)      {}
func (nopLogger) Error(string, ...any)     {}
func (nopLogger) Warn(string, ...any)      {}
func (nopLogger) With(...any) types.Logger { return nopLogger{} }

// fixedClock returns a constant instant.
type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// fakeReportStore is an in-memory ReportStore with the same conditional
// semantics as the SQL implementation.
type fakeReportStore struct {
	reports map[string]*types.Report

	setActionRequired []bool
	reopenCalls       int
	statusUpdates     []statusUpdate
}

type statusUpdate struct {
	status       types.ReportStatus
	category     string
	withCategory bool
}

func newFakeReportStore(reports ...*types.Report) *fakeReportStore {
	s := &fakeReportStore{reports: map[string]*types.Report{}}
	for _, r := range reports {
		s.reports[r.ID] = r
	}
	return s
}

func (s *fakeReportStore) Find(_ context.Context, id string) (*types.Report, error) {
	r, ok := s.reports[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundReport, "report not found", nil)
	}
	cp := *r
	return &cp, nil
}

func (s *fakeReportStore) Insert(_ context.Context, r *types.Report) error {
	s.reports[r.ID] = r
	return nil
}

func (s *fakeReportStore) Delete(_ context.Context, id string) error {
	if _, ok := s.reports[id]; !ok {
		return types.NewAppError(types.ErrCodeNotFoundReport, "report not found", nil)
	}
	delete(s.reports, id)
	return nil
}

func (s *fakeReportStore) AddActivity(_ context.Context, id string, a types.Activity) error {
	r, ok := s.reports[id]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundReport, "report not found", nil)
	}
	r.Activities = append(r.Activities, a)
	return nil
}

func (s *fakeReportStore) AddWatcher(_ context.Context, id string, w types.Watcher) error {
	r, ok := s.reports[id]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundReport, "report not found", nil)
	}
	for _, existing := range r.Watchers {
		if existing.ID == w.ID {
			return nil
		}
	}
	r.Watchers = append(r.Watchers, w)
	return nil
}

func (s *fakeReportStore) DeleteWatcher(_ context.Context, id, watcherID string) error {
	r, ok := s.reports[id]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundReport, "report not found", nil)
	}
	for i, w := range r.Watchers {
		if w.ID != watcherID {
			continue
		}
		if w.Creator {
			return types.NewAppError(types.ErrCodeWatcherIsCreator, "watcher is the report creator", nil)
		}
		r.Watchers = append(r.Watchers[:i], r.Watchers[i+1:]...)
		return nil
	}
	return types.NewAppError(types.ErrCodeNotFoundReport, "watcher not on report", nil)
}

func (s *fakeReportStore) Reopen(_ context.Context, id string) error {
	s.reopenCalls++
	r, ok := s.reports[id]
	if !ok {
		return nil
	}
	if r.Status == types.StatusClosed {
		r.Status = types.StatusReopened
	}
	return nil
}

func (s *fakeReportStore) SetActionRequired(_ context.Context, id string, value bool) error {
	r, ok := s.reports[id]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundReport, "report not found", nil)
	}
	r.ActionRequired = value
	s.setActionRequired = append(s.setActionRequired, value)
	return nil
}

func (s *fakeReportStore) ApplyStatusUpdate(_ context.Context, id string, status types.ReportStatus, category string, withCategory bool) error {
	r, ok := s.reports[id]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundReport, "report not found", nil)
	}
	r.Status = status
	r.ActionRequired = false
	if withCategory {
		r.Category = category
	}
	s.statusUpdates = append(s.statusUpdates, statusUpdate{status, category, withCategory})
	return nil
}

func (s *fakeReportStore) CountActionRequired(_ context.Context, municipality string) (int, error) {
	count := 0
	for _, r := range s.reports {
		if r.Municipality == municipality && r.ActionRequired {
			count++
		}
	}
	return count, nil
}

// fakeProducer records enqueued jobs.
type fakeProducer struct {
	activities []activityCall
	watchers   []watcherCall
	err        error
}

type activityCall struct {
	municipality string
	reportID     string
	actorID      string
}

type watcherCall struct {
	municipality string
	watcherID    string
	reportID     string
	added        bool
}

func (p *fakeProducer) MessageBroadcast(context.Context, string, *types.Message, time.Duration, time.Time, int) error {
	return p.err
}

func (p *fakeProducer) ActivityNotice(_ context.Context, municipality, reportID, actorID string, _ time.Duration, _ int) error {
	p.activities = append(p.activities, activityCall{municipality, reportID, actorID})
	return p.err
}

func (p *fakeProducer) WatcherChange(_ context.Context, municipality, watcherID, reportID string, added bool, _ time.Duration, _ int) error {
	p.watchers = append(p.watchers, watcherCall{municipality, watcherID, reportID, added})
	return p.err
}

// fakeBroadcaster records pending-count notifications.
type fakeBroadcaster struct {
	calls []pendingCall
}

type pendingCall struct {
	municipality string
	reportID     string
	count        int
}

func (b *fakeBroadcaster) NotifyPendingCount(_ context.Context, municipality, reportID string, count int) {
	b.calls = append(b.calls, pendingCall{municipality, reportID, count})
}

func newTestService(store *fakeReportStore) (*Service, *fakeProducer, *fakeBroadcaster) {
	producer := &fakeProducer{}
	broadcaster := &fakeBroadcaster{}
	svc := NewService(store, producer, broadcaster, nopLogger{})
	svc.SetClock(fixedClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)})
	return svc, producer, broadcaster
}

func citizenReport(id string, status types.ReportStatus) *types.Report {
	return &types.Report{
		ID:           id,
		Category:     "roads",
		Municipality: "Milano",
		Status:       status,
		Watchers: []types.Watcher{
			{ID: "device-1", Creator: true},
		},
	}
}

func TestCreate_CitizenReportRequiresAction(t *testing.T) {
	store := newFakeReportStore()
	svc, _, broadcaster := newTestService(store)

	r := citizenReport("r1", "")
	r.Status = types.StatusClosed // must be overridden

	require.NoError(t, svc.Create(context.Background(), r))

	stored := store.reports["r1"]
	assert.Equal(t, types.StatusCreated, stored.Status)
	assert.True(t, stored.ActionRequired)

	require.Len(t, broadcaster.calls, 1)
	assert.Equal(t, "Milano", broadcaster.calls[0].municipality)
	assert.Equal(t, 1, broadcaster.calls[0].count)
}

func TestCreate_AdminReportNeedsNoAction(t *testing.T) {
	store := newFakeReportStore()
	svc, _, broadcaster := newTestService(store)

	r := citizenReport("r1", "")
	r.Watchers = []types.Watcher{{ID: "operator@milano.it", Creator: true}}

	require.NoError(t, svc.Create(context.Background(), r))

	assert.False(t, store.reports["r1"].ActionRequired)
	assert.Empty(t, broadcaster.calls)
}

func TestCreate_RejectsEmptyWatcherList(t *testing.T) {
	store := newFakeReportStore()
	svc, _, broadcaster := newTestService(store)

	err := svc.Create(context.Background(), &types.Report{ID: "r1", Municipality: "Milano"})
	require.Error(t, err)

	var ae *types.AppError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, types.ErrCodeValidationWatchers, ae.Code)

	assert.Empty(t, store.reports)
	assert.Empty(t, broadcaster.calls)
}

func TestUpdate_CategoryWrittenOnlyOnFirstTriage(t *testing.T) {
	store := newFakeReportStore(citizenReport("r1", types.StatusCreated))
	svc, _, _ := newTestService(store)

	// First triage: category may change.
	require.NoError(t, svc.Update(context.Background(), &types.Report{
		ID:       "r1",
		Status:   types.StatusOpen,
		Category: "lighting",
	}))
	assert.Equal(t, "lighting", store.reports["r1"].Category)
	assert.False(t, store.reports["r1"].ActionRequired)

	// Second update: category is immutable.
	require.NoError(t, svc.Update(context.Background(), &types.Report{
		ID:       "r1",
		Status:   types.StatusClosed,
		Category: "vandalism",
	}))
	assert.Equal(t, "lighting", store.reports["r1"].Category)

	require.Len(t, store.statusUpdates, 2)
	assert.True(t, store.statusUpdates[0].withCategory)
	assert.False(t, store.statusUpdates[1].withCategory)
}

func TestUpdate_InvalidTransitionRejected(t *testing.T) {
	store := newFakeReportStore(citizenReport("r1", types.StatusOpen))
	svc, _, _ := newTestService(store)

	err := svc.Update(context.Background(), &types.Report{
		ID:     "r1",
		Status: types.StatusReopened,
	})
	require.Error(t, err)

	var ae *types.AppError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, types.ErrCodeInvalidTransition, ae.Code)
	assert.Empty(t, store.statusUpdates)
}

func TestDelete_OnlyWhileCreated(t *testing.T) {
	store := newFakeReportStore(
		citizenReport("fresh", types.StatusCreated),
		citizenReport("triaged", types.StatusOpen),
	)
	svc, _, _ := newTestService(store)

	require.NoError(t, svc.Delete(context.Background(), "fresh"))
	assert.NotContains(t, store.reports, "fresh")

	err := svc.Delete(context.Background(), "triaged")
	require.Error(t, err)

	var ae *types.AppError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, types.ErrCodeReportNotDeletable, ae.Code)
	assert.Contains(t, store.reports, "triaged")
}

func TestRecordActivity_CitizenSetsActionAndReopens(t *testing.T) {
	store := newFakeReportStore(citizenReport("r1", types.StatusClosed))
	svc, producer, broadcaster := newTestService(store)

	a := types.Activity{
		Comment: "still broken",
		Watcher: types.Watcher{ID: "device-2"},
	}
	require.NoError(t, svc.RecordActivity(context.Background(), "r1", "Milano", a))

	stored := store.reports["r1"]
	assert.True(t, stored.ActionRequired)
	assert.Equal(t, types.StatusReopened, stored.Status)
	require.Len(t, stored.Activities, 1)
	assert.False(t, stored.Activities[0].Date.IsZero())

	require.Len(t, producer.activities, 1)
	assert.Equal(t, "device-2", producer.activities[0].actorID)
	assert.Equal(t, "r1", producer.activities[0].reportID)

	require.Len(t, broadcaster.calls, 1)
	assert.Equal(t, 1, broadcaster.calls[0].count)
}

func TestRecordActivity_AdminClearsActionAndNeverReopens(t *testing.T) {
	r := citizenReport("r1", types.StatusClosed)
	r.ActionRequired = true
	store := newFakeReportStore(r)
	svc, producer, broadcaster := newTestService(store)

	a := types.Activity{
		Comment: "scheduled for repair",
		Watcher: types.Watcher{ID: "operator@milano.it"},
	}
	require.NoError(t, svc.RecordActivity(context.Background(), "r1", "Milano", a))

	stored := store.reports["r1"]
	assert.False(t, stored.ActionRequired)
	assert.Equal(t, types.StatusClosed, stored.Status)
	assert.Zero(t, store.reopenCalls)

	require.Len(t, producer.activities, 1)
	assert.Equal(t, "operator@milano.it", producer.activities[0].actorID)
	assert.Empty(t, broadcaster.calls)
}

func TestRecordActivity_EnqueueFailureDoesNotFail(t *testing.T) {
	store := newFakeReportStore(citizenReport("r1", types.StatusOpen))
	svc, producer, _ := newTestService(store)
	producer.err = errors.New("queue unavailable")

	a := types.Activity{Comment: "update", Watcher: types.Watcher{ID: "device-2"}}
	assert.NoError(t, svc.RecordActivity(context.Background(), "r1", "Milano", a))
}

func TestAddWatcher_IdempotentAndNotifies(t *testing.T) {
	store := newFakeReportStore(citizenReport("r1", types.StatusOpen))
	svc, producer, _ := newTestService(store)

	w := types.Watcher{ID: "device-9"}
	require.NoError(t, svc.AddWatcher(context.Background(), "r1", "Milano", w))
	require.NoError(t, svc.AddWatcher(context.Background(), "r1", "Milano", w))

	assert.Len(t, store.reports["r1"].Watchers, 2)

	require.Len(t, producer.watchers, 2)
	assert.True(t, producer.watchers[0].added)
	assert.Equal(t, "device-9", producer.watchers[0].watcherID)
}

func TestRemoveWatcher_NotifiesRemovedWatcher(t *testing.T) {
	r := citizenReport("r1", types.StatusOpen)
	r.Watchers = append(r.Watchers, types.Watcher{ID: "device-9"})
	store := newFakeReportStore(r)
	svc, producer, _ := newTestService(store)

	require.NoError(t, svc.RemoveWatcher(context.Background(), "r1", "Milano", "device-9"))

	watchers := store.reports["r1"].Watchers
	require.Len(t, watchers, 1)
	assert.Equal(t, "device-1", watchers[0].ID)
	assert.True(t, watchers[0].Creator)

	require.Len(t, producer.watchers, 1)
	assert.False(t, producer.watchers[0].added)
	assert.Equal(t, "device-9", producer.watchers[0].watcherID)
}

func TestRemoveWatcher_CreatorRejectedWithoutNotice(t *testing.T) {
	r := citizenReport("r1", types.StatusOpen)
	r.Watchers = append(r.Watchers, types.Watcher{ID: "device-9"})
	store := newFakeReportStore(r)
	svc, producer, _ := newTestService(store)

	err := svc.RemoveWatcher(context.Background(), "r1", "Milano", "device-1")
	require.Error(t, err)

	var ae *types.AppError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, types.ErrCodeWatcherIsCreator, ae.Code)

	watchers := store.reports["r1"].Watchers
	require.Len(t, watchers, 2)
	assert.Equal(t, "device-1", watchers[0].ID)
	assert.True(t, watchers[0].Creator)
	assert.Empty(t, producer.watchers)
}

func TestRemoveWatcher_UnknownWatcherRejectedWithoutNotice(t *testing.T) {
	store := newFakeReportStore(citizenReport("r1", types.StatusOpen))
	svc, producer, _ := newTestService(store)

	err := svc.RemoveWatcher(context.Background(), "r1", "Milano", "device-404")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))

	require.Len(t, store.reports["r1"].Watchers, 1)
	assert.Empty(t, producer.watchers)
}

func TestReopenIfClosed(t *testing.T) {
	store := newFakeReportStore(
		citizenReport("closed", types.StatusClosed),
		citizenReport("open", types.StatusOpen),
	)
	svc, _, _ := newTestService(store)

	require.NoError(t, svc.ReopenIfClosed(context.Background(), "closed"))
	assert.Equal(t, types.StatusReopened, store.reports["closed"].Status)

	require.NoError(t, svc.ReopenIfClosed(context.Background(), "open"))
	assert.Equal(t, types.StatusOpen, store.reports["open"].Status)
}
