package repository

import (
	"context"

	"org-auth-service/internal/membership/domain"
)

// Repository defines persistence for memberships. The auth core only reads;
// writes exist for collaborators (invitations, admin tooling) and the seeder.
//
// ListActiveByUser must return a stable creation order (created_at, then id),
// because the first entry is the default org binding at login.
type Repository interface {
	GetActiveByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.Membership, error)
	Create(ctx context.Context, m *domain.Membership) error
	Deactivate(ctx context.Context, userID, orgID string) error
	UpdateRole(ctx context.Context, userID, orgID string, role domain.Role) error
}
