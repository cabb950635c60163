package repository

import (
	"context"
	"database/sql"
	"errors"

	"org-auth-service/internal/membership/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a membership repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const membershipColumns = `id, user_id, org_id, role, is_org_admin, active, created_at`

// GetActiveByUserAndOrg returns the active membership for (user, org), or nil if
// none exists or it has been deactivated. It returns an error only for database failures.
func (r *PostgresRepository) GetActiveByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM memberships
		 WHERE user_id = $1 AND org_id = $2 AND active`, userID, orgID)
	m, err := scanMembership(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// ListActiveByUser returns the user's active memberships in creation order
// (created_at, then id as a tiebreak). The order is load-bearing: the first
// entry is the default org bound at login when no org is requested.
func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string) ([]*domain.Membership, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+membershipColumns+` FROM memberships
		 WHERE user_id = $1 AND active
		 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Membership
	for rows.Next() {
		var m domain.Membership
		var role string
		if err := rows.Scan(&m.ID, &m.UserID, &m.OrgID, &role, &m.IsOrgAdmin, &m.Active, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Create persists the membership. The membership must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, m *domain.Membership) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO memberships (id, user_id, org_id, role, is_org_admin, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.UserID, m.OrgID, string(m.Role), m.IsOrgAdmin, m.Active, m.CreatedAt)
	return err
}

// Deactivate marks the (user, org) membership inactive. Missing rows are not an error.
func (r *PostgresRepository) Deactivate(ctx context.Context, userID, orgID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE memberships SET active = false WHERE user_id = $1 AND org_id = $2`, userID, orgID)
	return err
}

// UpdateRole changes the role on the (user, org) membership. Missing rows are not an error.
func (r *PostgresRepository) UpdateRole(ctx context.Context, userID, orgID string, role domain.Role) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE memberships SET role = $3 WHERE user_id = $1 AND org_id = $2`,
		userID, orgID, string(role))
	return err
}

func scanMembership(row *sql.Row) (*domain.Membership, error) {
	var m domain.Membership
	var role string
	if err := row.Scan(&m.ID, &m.UserID, &m.OrgID, &role, &m.IsOrgAdmin, &m.Active, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Role = domain.Role(role)
	return &m, nil
}
