package ports

import (
	"context"

	"github.com/dstn-dev/autoenroll/internal/domain"
)

// MailboxService provisions and releases disposable forwarding addresses.
type MailboxService interface {
	Provision(ctx context.Context, aliasHint string) (domain.MailboxHandle, error)
	Deactivate(ctx context.Context, handle domain.MailboxHandle) error
	CheckActive(ctx context.Context, handle domain.MailboxHandle) (bool, error)
}
