package repository

import (
	"context"

	"org-auth-service/internal/user/domain"
)

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	SetStatus(ctx context.Context, id string, status domain.UserStatus) error
}
