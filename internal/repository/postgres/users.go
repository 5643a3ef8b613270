package postgres

import (
	"context"

	"github.com/zrcvae/partnermatch/internal/domain"
)

// CreateUser inserts a user and assigns its identifier.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (username, role) VALUES ($1, $2)
		RETURNING id, created_at`
	row := r.db(ctx).QueryRow(ctx, query, user.Username, user.Role)
	return mapWriteError(row.Scan(&user.ID, &user.CreatedAt))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	const query = `SELECT id, username, role, created_at FROM users WHERE id = $1`
	var u domain.User
	if err := r.db(ctx).QueryRow(ctx, query, id).Scan(&u.ID, &u.Username, &u.Role, &u.CreatedAt); err != nil {
		return nil, mapRowError(err)
	}
	return &u, nil
}

// ListUsersByIDs returns the users that exist among ids.
func (r *Repository) ListUsersByIDs(ctx context.Context, ids []int64) ([]domain.User, error) {
	users := make([]domain.User, 0, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	const query = `SELECT id, username, role, created_at FROM users WHERE id = ANY($1) ORDER BY id`
	rows, err := r.db(ctx).Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
