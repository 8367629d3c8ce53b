package notify

import "time"

// AppName is the application name used in notifications.
const AppName = "ZuidWest FM Soundwatch"

// Event names shared by the webhook payload and the alert log.
const (
	EventAlert = "threshold_exceeded"
	EventTest  = "test"
)

// timestampUTC returns t in UTC RFC3339 format.
func timestampUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
