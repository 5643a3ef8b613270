package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/zrcvae/partnermatch/internal/domain"
	"github.com/zrcvae/partnermatch/internal/repository"
)

const teamColumns = `id, owner_id, name, description, max_num, status, password_hash, expire_time, created_at, updated_at`

func scanTeam(row pgx.Row) (domain.Team, error) {
	var (
		t      domain.Team
		status int16
	)
	err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.Description, &t.MaxNum, &status, &t.PasswordHash, &t.ExpireTime, &t.CreatedAt, &t.UpdatedAt)
	t.Status = domain.TeamStatus(status)
	return t, err
}

// CreateTeam inserts a team and assigns its identifier and timestamps.
func (r *Repository) CreateTeam(ctx context.Context, team *domain.Team) error {
	const query = `INSERT INTO teams (owner_id, name, description, max_num, status, password_hash, expire_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`
	row := r.db(ctx).QueryRow(ctx, query, team.OwnerID, team.Name, team.Description, team.MaxNum, int16(team.Status), team.PasswordHash, team.ExpireTime)
	return mapWriteError(row.Scan(&team.ID, &team.CreatedAt, &team.UpdatedAt))
}

// GetTeamByID returns a team by identifier.
func (r *Repository) GetTeamByID(ctx context.Context, id int64) (*domain.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE id = $1`
	team, err := scanTeam(r.db(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapRowError(err)
	}
	return &team, nil
}

// UpdateTeam overwrites the mutable columns of a team.
func (r *Repository) UpdateTeam(ctx context.Context, team *domain.Team) error {
	const query = `UPDATE teams
		SET name = $2, description = $3, max_num = $4, status = $5, password_hash = $6, expire_time = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
	row := r.db(ctx).QueryRow(ctx, query, team.ID, team.Name, team.Description, team.MaxNum, int16(team.Status), team.PasswordHash, team.ExpireTime)
	if err := row.Scan(&team.UpdatedAt); err != nil {
		return mapWriteError(mapRowError(err))
	}
	return nil
}

// UpdateTeamOwner transfers ownership of a team.
func (r *Repository) UpdateTeamOwner(ctx context.Context, teamID, ownerID int64) error {
	const query = `UPDATE teams SET owner_id = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.db(ctx).Exec(ctx, query, teamID, ownerID)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteTeam removes a team row. Memberships must be removed first.
func (r *Repository) DeleteTeam(ctx context.Context, id int64) error {
	tag, err := r.db(ctx).Exec(ctx, `DELETE FROM teams WHERE id = $1`, id)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%w: team %d still has members", repository.ErrInvalidArgument, id)
	}
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CountTeamsByOwner counts teams owned by a user, expired ones included.
func (r *Repository) CountTeamsByOwner(ctx context.Context, ownerID int64) (int, error) {
	var count int
	if err := r.db(ctx).QueryRow(ctx, `SELECT COUNT(1) FROM teams WHERE owner_id = $1`, ownerID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListTeams returns unexpired teams matching query ordered by id.
func (r *Repository) ListTeams(ctx context.Context, query domain.TeamQuery, now time.Time) ([]domain.Team, error) {
	var (
		where = []string{"(expire_time IS NULL OR expire_time > $1)"}
		args  = []any{now}
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if query.ID > 0 {
		add("id = $%d", query.ID)
	}
	if len(query.IDs) > 0 {
		add("id = ANY($%d)", query.IDs)
	}
	if text := strings.TrimSpace(query.SearchText); text != "" {
		args = append(args, strings.ToLower(text))
		n := len(args)
		where = append(where, fmt.Sprintf("(strpos(lower(name), $%d) > 0 OR strpos(lower(description), $%d) > 0)", n, n))
	}
	if name := strings.TrimSpace(query.Name); name != "" {
		add("strpos(lower(name), $%d) > 0", strings.ToLower(name))
	}
	if desc := strings.TrimSpace(query.Description); desc != "" {
		add("strpos(lower(description), $%d) > 0", strings.ToLower(desc))
	}
	if query.MaxNum > 0 {
		add("max_num = $%d", query.MaxNum)
	}
	if query.OwnerID > 0 {
		add("owner_id = $%d", query.OwnerID)
	}
	if query.Status != nil {
		add("status = $%d", int16(*query.Status))
	}

	sql := `SELECT ` + teamColumns + ` FROM teams WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id`
	if query.Limit > 0 {
		args = append(args, query.Limit, query.Offset)
		sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := r.db(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	teams := make([]domain.Team, 0)
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}
	return teams, rows.Err()
}

// TeamStats counts active and expired teams plus all memberships.
func (r *Repository) TeamStats(ctx context.Context, now time.Time) (domain.TeamStats, error) {
	const query = `SELECT
		(SELECT COUNT(1) FROM teams WHERE expire_time IS NULL OR expire_time > $1),
		(SELECT COUNT(1) FROM teams WHERE expire_time <= $1),
		(SELECT COUNT(1) FROM team_members)`
	var stats domain.TeamStats
	if err := r.db(ctx).QueryRow(ctx, query, now).Scan(&stats.Active, &stats.Expired, &stats.Memberships); err != nil {
		return domain.TeamStats{}, err
	}
	return stats, nil
}
