package types

import (
	"strings"
	"time"
)

// Watcher is a citizen or administrator with visibility into a report.
// The first watcher of a report is always its creator.
type Watcher struct {
	ID        string `json:"id"`
	Firstname string `json:"firstname,omitempty"`
	Lastname  string `json:"lastname,omitempty"`
	Creator   bool   `json:"creator"`
}

// IsAdministrator reports whether the watcher is an administrator identity.
// Administrator ids are email addresses; citizen ids are opaque device-bound
// identifiers that never contain '@'.
func (w Watcher) IsAdministrator() bool {
	return strings.Contains(w.ID, "@")
}

// IsUser reports whether the watcher is a citizen identity.
func (w Watcher) IsUser() bool {
	return !w.IsAdministrator()
}

// Activity is an append-only status/comment entry attached to a report.
type Activity struct {
	Date       time.Time `json:"date"`
	Comment    string    `json:"comment"`
	Attachment string    `json:"attachment,omitempty"`
	MimeType   string    `json:"mimeType,omitempty"`
	Thumbnail  string    `json:"thumbnail,omitempty"`
	Latitude   float64   `json:"latitude,omitempty"`
	Longitude  float64   `json:"longitude,omitempty"`
	Watcher    Watcher   `json:"watcher"`
}

// Report is the lifecycle entity filed by a citizen and triaged by
// administrators.
type Report struct {
	ID             string       `json:"id"`
	Category       string       `json:"category"`
	Description    string       `json:"description"`
	Date           time.Time    `json:"date"`
	Attachment     string       `json:"attachment,omitempty"`
	MimeType       string       `json:"mimeType,omitempty"`
	Thumbnail      string       `json:"thumbnail,omitempty"`
	Latitude       float64      `json:"latitude"`
	Longitude      float64      `json:"longitude"`
	Municipality   string       `json:"municipality"`
	Status         ReportStatus `json:"status"`
	ActionRequired bool         `json:"actionRequired"`
	Watchers       []Watcher    `json:"watchers"`
	Activities     []Activity   `json:"activities"`
}

// Creator returns the report's creator, always the first watcher.
// Returns a zero Watcher if the watcher list is empty (an invalid report).
func (r *Report) Creator() Watcher {
	if len(r.Watchers) == 0 {
		return Watcher{}
	}
	return r.Watchers[0]
}

// WatcherIDs returns the ids of all watchers for which keep returns true.
func (r *Report) WatcherIDs(keep func(Watcher) bool) []string {
	ids := make([]string, 0, len(r.Watchers))
	for _, w := range r.Watchers {
		if keep == nil || keep(w) {
			ids = append(ids, w.ID)
		}
	}
	return ids
}

// User is a registered mobile app identity. RegistrationID is the push token
// for the user's device on its platform; an empty token means the device is
// not reachable.
type User struct {
	ID             string    `json:"id"`
	Municipality   string    `json:"municipality"`
	Platform       Platform  `json:"platform"`
	RegistrationID string    `json:"registrationId"`
	Mobile         string    `json:"mobile,omitempty"`
	Firstname      string    `json:"firstname,omitempty"`
	Lastname       string    `json:"lastname,omitempty"`
	Messages       []string  `json:"messages"`
	Reports        []string  `json:"reports"`
	CreatedOn      time.Time `json:"createdOn"`
}

// Reachable reports whether the user can receive a push on the given
// platform: the platform matches and a registration token is present.
func (u *User) Reachable(p Platform) bool {
	return u.Platform == p && u.RegistrationID != ""
}

// Message is a municipality broadcast addressed to an explicit recipient
// list materialized at creation time.
type Message struct {
	ID           string    `json:"id"`
	Header       string    `json:"header"`
	Text         string    `json:"text"`
	Interest     string    `json:"interest,omitempty"`
	CreatedOn    time.Time `json:"createdOn"`
	ExpireOn     time.Time `json:"expireOn"`
	Attachment   string    `json:"attachment,omitempty"`
	MimeType     string    `json:"mimeType,omitempty"`
	Thumbnail    string    `json:"thumbnail,omitempty"`
	Municipality string    `json:"municipality"`
	Recipients   []string  `json:"recipients"`
}
