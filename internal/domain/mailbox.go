package domain

import "time"

// MailboxHandle identifies a disposable forwarding address provisioned for
// one run. The owning run must deactivate it on completion or failure.
type MailboxHandle struct {
	ForwardingAddress string
	ProviderID        string
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

func (h MailboxHandle) IsZero() bool {
	return h.ForwardingAddress == "" && h.ProviderID == ""
}
