// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"

	"circdesk/internal/policy"
)

// Service defines the interface for the membership service. It doubles as the
// patron directory the circulation engine and the notification dispatcher
// consult.
type Service interface {
	Load(ctx context.Context) error
	RegisterMember(ctx context.Context, in NewMember) (*Member, error)
	Authenticate(ctx context.Context, email, password string) (string, *Member, error)
	ParseToken(token string) (*Claims, error)
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
	ListMembers(ctx context.Context) []*Member
	SetClass(ctx context.Context, id uuid.UUID, class policy.Class) (*Member, error)
	SetRole(ctx context.Context, id uuid.UUID, role Role) (*Member, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (*Member, error)
	SetFavoriteGenres(ctx context.Context, id uuid.UUID, genres []string) (*Member, error)

	AccountClass(id uuid.UUID) (policy.Class, bool)
	IsActive(id uuid.UUID) bool
	PatronsFavoring(genre string) []uuid.UUID
}
