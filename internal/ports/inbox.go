package ports

import (
	"context"

	"github.com/dstn-dev/autoenroll/internal/domain"
)

// InboxClient lists message summaries for a mailbox, newest first. A
// provider signal that the mailbox is gone surfaces as
// domain.ErrMailboxDeactivated.
type InboxClient interface {
	Search(ctx context.Context, query domain.InboxQuery) ([]domain.MessageSummary, error)
}
