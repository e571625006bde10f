// Package dashboard holds the live operator-dashboard integration. The
// workers only compute the pending count; the real-time fanout to connected
// dashboards lives in the front-of-house API and is reached through the
// PendingCountBroadcaster seam.
package dashboard

import (
	"context"

	"civicwatch/internal/types"
)

// LogBroadcaster is the worker-side PendingCountBroadcaster. Worker
// processes have no dashboard sessions of their own, so the count is
// surfaced as a structured log line that the API tier tails.
type LogBroadcaster struct {
	logger types.Logger
}

// NewLogBroadcaster creates a LogBroadcaster.
func NewLogBroadcaster(logger types.Logger) *LogBroadcaster {
	return &LogBroadcaster{logger: logger}
}

// NotifyPendingCount publishes the municipality's pending-report count.
// Fire-and-forget: there is nothing for the caller to act on.
func (b *LogBroadcaster) NotifyPendingCount(ctx context.Context, municipality, reportID string, count int) {
	b.logger.Info("pending report count changed",
		"municipality", municipality,
		"report_id", reportID,
		"pending_count", count,
	)
}
