// Package domain holds the types shared by every stage of the posting pipeline.
package domain

import "time"

// Keyword is a lowercase vocabulary term.
type Keyword = string

// RawPosting is one item as delivered by a source, before normalization.
type RawPosting struct {
	Title       string    `json:"title" yaml:"title"`
	Body        string    `json:"body" yaml:"body"`
	Origin      string    `json:"origin" yaml:"origin"`
	URL         string    `json:"url" yaml:"url"`
	PublishedAt time.Time `json:"published_at" yaml:"published_at"`
}

// Posting is a stored posting. URL is the normalized unique key.
type Posting struct {
	ID          int64     `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Origin      string    `json:"origin"`
	PublishedAt time.Time `json:"published_at"`
	IngestedAt  time.Time `json:"ingested_at"`
	Keywords    []Keyword `json:"keywords,omitempty"`
}

// Match is one candidate notification: a recipient subscribed to a keyword
// that a posting surfaced.
type Match struct {
	RecipientID string
	Keyword     Keyword
}

type Subscription struct {
	RecipientID string    `json:"recipient_id"`
	Keyword     Keyword   `json:"keyword"`
	CreatedAt   time.Time `json:"created_at"`
}

// Recipient is the optional registration row written by the chat bot.
type Recipient struct {
	ID        string    `json:"id"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationRecord is the append-only audit row of a delivered notification.
type NotificationRecord struct {
	RecipientID string    `json:"recipient_id"`
	PostingID   int64     `json:"posting_id"`
	PostingURL  string    `json:"posting_url,omitempty"`
	Keyword     Keyword   `json:"keyword"`
	SentAt      time.Time `json:"sent_at"`
}

// RunResult summarizes one pipeline invocation.
type RunResult struct {
	RunID        string        `json:"run_id"`
	PostingsSeen int           `json:"postings_seen"`
	PostingsNew  int           `json:"postings_new"`
	Sent         int           `json:"sent"`
	Suppressed   int           `json:"suppressed"`
	SendFailed   int           `json:"send_failed"`
	Failed       int           `json:"failed"`
	Took         time.Duration `json:"took"`
}
