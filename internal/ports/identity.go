package ports

import (
	"context"

	"github.com/dstn-dev/autoenroll/internal/domain"
)

// IdentityProvider supplies candidate user profiles. Upstream
// unavailability is reported as a transient classified error.
type IdentityProvider interface {
	Generate(ctx context.Context) (domain.Identity, error)
}
