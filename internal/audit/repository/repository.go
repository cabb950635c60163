package repository

import (
	"context"

	"org-auth-service/internal/audit/domain"
)

// Repository defines persistence for audit logs: the recorder appends,
// org admins read back pages.
type Repository interface {
	ListByOrg(ctx context.Context, orgID string, limit, offset int32) ([]*domain.AuditLog, error)
	Create(ctx context.Context, a *domain.AuditLog) error
}
