package ports

import (
	"context"

	"github.com/dstn-dev/autoenroll/internal/domain"
)

type AccountRepository interface {
	Save(ctx context.Context, account domain.RegisteredAccount) error
	List(ctx context.Context) ([]domain.RegisteredAccount, error)
}
