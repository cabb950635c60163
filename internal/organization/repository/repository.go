package repository

import (
	"context"

	"org-auth-service/internal/organization/domain"
)

// Repository defines persistence for organizations.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Org, error)
	ListByIDs(ctx context.Context, ids []string) ([]*domain.Org, error)
	Create(ctx context.Context, o *domain.Org) error
}
