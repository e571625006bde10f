package core

import (
	"context"
	"time"

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

// fakeUserStore serves canned users and records bookkeeping calls.
type fakeUserStore struct {
	users map[string]*types.User

	unreadMessages map[string][]string // messageID -> recipients
	unseenAdds     map[string][]string // reportID -> watchers
	unseenRemovals []string            // "reportID/watcherID"
	tokensErr      error
}

func newFakeUserStore(users ...*types.User) *fakeUserStore {
	s := &fakeUserStore{
		users:          map[string]*types.User{},
		unreadMessages: map[string][]string{},
		unseenAdds:     map[string][]string{},
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeUserStore) Find(_ context.Context, id string) (*types.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return u, nil
}

func (s *fakeUserStore) FindRecipientTokens(_ context.Context, municipality string, ids []string, platform types.Platform) ([]string, error) {
	if s.tokensErr != nil {
		return nil, s.tokensErr
	}
	var tokens []string
	for _, id := range ids {
		u, ok := s.users[id]
		if !ok || u.Municipality != municipality {
			continue
		}
		if u.Reachable(platform) {
			tokens = append(tokens, u.RegistrationID)
		}
	}
	return tokens, nil
}

func (s *fakeUserStore) AddUnreadMessage(_ context.Context, messageID string, recipients []string) error {
	s.unreadMessages[messageID] = append(s.unreadMessages[messageID], recipients...)
	return nil
}

func (s *fakeUserStore) AddUnseenReport(_ context.Context, reportID string, watcherIDs []string) error {
	s.unseenAdds[reportID] = append(s.unseenAdds[reportID], watcherIDs...)
	return nil
}

func (s *fakeUserStore) RemoveUnseenReport(_ context.Context, reportID, watcherID string) error {
	s.unseenRemovals = append(s.unseenRemovals, reportID+"/"+watcherID)
	return nil
}

// fakeReportStore serves canned reports; mutations are not needed by the
// consumer-side tests.
type fakeReportStore struct {
	reports map[string]*types.Report
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
	return r, nil
}

func (s *fakeReportStore) Insert(context.Context, *types.Report) error { return nil }
func (s *fakeReportStore) Delete(context.Context, string) error        { return nil }
func (s *fakeReportStore) AddActivity(context.Context, string, types.Activity) error {
	return nil
}
func (s *fakeReportStore) AddWatcher(context.Context, string, types.Watcher) error { return nil }
func (s *fakeReportStore) DeleteWatcher(context.Context, string, string) error     { return nil }
func (s *fakeReportStore) Reopen(context.Context, string) error                    { return nil }
func (s *fakeReportStore) SetActionRequired(context.Context, string, bool) error   { return nil }
func (s *fakeReportStore) ApplyStatusUpdate(context.Context, string, types.ReportStatus, string, bool) error {
	return nil
}
func (s *fakeReportStore) CountActionRequired(context.Context, string) (int, error) { return 0, nil }

// fakeMessageStore serves canned messages.
type fakeMessageStore struct {
	messages map[string]*types.Message
}

func newFakeMessageStore(messages ...*types.Message) *fakeMessageStore {
	s := &fakeMessageStore{messages: map[string]*types.Message{}}
	for _, m := range messages {
		s.messages[m.ID] = m
	}
	return s
}

func (s *fakeMessageStore) Find(_ context.Context, id string) (*types.Message, error) {
	m, ok := s.messages[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundMessage, "message not found", nil)
	}
	return m, nil
}

// fakeChannel returns scripted outcomes in order, then repeats the last one.
type fakeChannel struct {
	platform types.Platform
	outcomes []DispatchOutcome
	sent     []Notification
}

func (c *fakeChannel) Platform() types.Platform { return c.platform }

func (c *fakeChannel) Send(_ context.Context, n Notification) DispatchOutcome {
	c.sent = append(c.sent, n)
	idx := len(c.sent) - 1
	if idx >= len(c.outcomes) {
		idx = len(c.outcomes) - 1
	}
	return c.outcomes[idx]
}

// fakePublisher records requeued jobs.
type fakePublisher struct {
	published []publishedJob
	err       error
}

type publishedJob struct {
	job   types.DeliveryJob
	delay time.Duration
}

func (p *fakePublisher) Publish(_ context.Context, job types.DeliveryJob, delay time.Duration) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, publishedJob{job: job, delay: delay})
	return nil
}

// fakeMetrics counts recorded results.
type fakeMetrics struct {
	deliveries map[MetricResult]int
	latencies  int
	queueLags  []time.Duration
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{deliveries: map[MetricResult]int{}}
}

func (m *fakeMetrics) RecordDelivery(_ context.Context, _ types.Platform, result MetricResult) {
	m.deliveries[result]++
}

func (m *fakeMetrics) RecordLatency(context.Context, types.Platform, time.Duration) {
	m.latencies++
}

func (m *fakeMetrics) RecordQueueLag(_ context.Context, lag time.Duration) {
	m.queueLags = append(m.queueLags, lag)
}
