package notifier

import "time"

type Config struct {
	// RatePerSec caps outgoing messages across all recipients.
	RatePerSec  int
	SendTimeout time.Duration
	HistorySize int
}

type HistoryItem struct {
	At        time.Time `json:"at"`
	Recipient string    `json:"recipient"`
	Text      string    `json:"text"`
	Error     string    `json:"error,omitempty"`
}

// Event is the payload of notifier.sent and notifier.failed bus events.
type Event struct {
	Recipient string    `json:"recipient"`
	ChatID    int64     `json:"chat_id"`
	ThreadID  int       `json:"thread_id,omitempty"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}
