package types

// ReportStatus is the lifecycle state of a citizen report. The wire labels
// are the historical Italian status names and are persisted verbatim; they
// must never be translated in storage or on the wire.
type ReportStatus string

const (
	StatusCreated  ReportStatus = "CREATA"
	StatusOpen     ReportStatus = "APERTA"
	StatusClosed   ReportStatus = "CHIUSA"
	StatusReopened ReportStatus = "RIAPERTA"
)

// Valid reports whether s is one of the four known lifecycle states.
func (s ReportStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusOpen, StatusClosed, StatusReopened:
		return true
	}
	return false
}

// Platform identifies a push-gateway family. Each platform has its own
// delivery queue, its own worker pool, and its own gateway channel.
type Platform string

const (
	PlatformAndroid Platform = "Android"
	PlatformIOS     Platform = "iOS"
)

// Valid reports whether p is a known platform family.
func (p Platform) Valid() bool {
	return p == PlatformAndroid || p == PlatformIOS
}

// JobKind distinguishes the three domain events that produce delivery jobs.
type JobKind string

const (
	JobMessageBroadcast JobKind = "message_broadcast"
	JobActivityNotice   JobKind = "activity_notice"
	JobWatcherChange    JobKind = "watcher_change"
)
