package domain

import "time"

// MessageSummary is one entry from an inbox listing.
type MessageSummary struct {
	ID         string
	Subject    string
	From       string
	ReceivedAt time.Time
	Body       string
	LinkURL    string
}

// ConfirmationMessage is produced by the inbox poller and consumed once by
// the orchestrator.
type ConfirmationMessage struct {
	ReceivedAt time.Time
	LinkURL    string
	RawSubject string
}

// InboxQuery narrows an inbox search to messages for one mailbox within a
// time window.
type InboxQuery struct {
	To              string
	SubjectContains string
	FromContains    string
	NewerThan       time.Duration
	MaxResults      int
}
