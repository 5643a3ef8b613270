package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/zrcvae/partnermatch/internal/domain"
	"github.com/zrcvae/partnermatch/internal/repository"
)

func membershipWhere(filter domain.MembershipFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.TeamID > 0 {
		args = append(args, filter.TeamID)
		clauses = append(clauses, fmt.Sprintf("team_id = $%d", len(args)))
	}
	if filter.UserID > 0 {
		args = append(args, filter.UserID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// CreateMembership inserts a membership. A duplicate (team, user) pair
// surfaces as repository.ErrConflict.
func (r *Repository) CreateMembership(ctx context.Context, member *domain.Membership) error {
	const query = `INSERT INTO team_members (team_id, user_id, join_time) VALUES ($1, $2, $3)
		RETURNING id`
	row := r.db(ctx).QueryRow(ctx, query, member.TeamID, member.UserID, member.JoinTime)
	return mapWriteError(row.Scan(&member.ID))
}

// CountMemberships counts memberships matching filter.
func (r *Repository) CountMemberships(ctx context.Context, filter domain.MembershipFilter) (int, error) {
	where, args := membershipWhere(filter)
	var count int
	if err := r.db(ctx).QueryRow(ctx, `SELECT COUNT(1) FROM team_members`+where, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CountMembershipsByTeam returns member counts keyed by team id.
func (r *Repository) CountMembershipsByTeam(ctx context.Context, teamIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(teamIDs))
	if len(teamIDs) == 0 {
		return counts, nil
	}
	const query = `SELECT team_id, COUNT(1) FROM team_members WHERE team_id = ANY($1) GROUP BY team_id`
	rows, err := r.db(ctx).Query(ctx, query, teamIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			teamID int64
			count  int
		)
		if err := rows.Scan(&teamID, &count); err != nil {
			return nil, err
		}
		counts[teamID] = count
	}
	return counts, rows.Err()
}

// ListMemberships returns memberships matching filter, oldest first.
func (r *Repository) ListMemberships(ctx context.Context, filter domain.MembershipFilter) ([]domain.Membership, error) {
	where, args := membershipWhere(filter)
	rows, err := r.db(ctx).Query(ctx, `SELECT id, team_id, user_id, join_time FROM team_members`+where+` ORDER BY join_time, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]domain.Membership, 0)
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.ID, &m.TeamID, &m.UserID, &m.JoinTime); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// DeleteMemberships removes memberships matching filter and reports how
// many rows went away. An empty filter is refused.
func (r *Repository) DeleteMemberships(ctx context.Context, filter domain.MembershipFilter) (int, error) {
	if filter.Empty() {
		return 0, fmt.Errorf("%w: empty membership filter", repository.ErrInvalidArgument)
	}
	where, args := membershipWhere(filter)
	tag, err := r.db(ctx).Exec(ctx, `DELETE FROM team_members`+where, args...)
	if err != nil {
		return 0, mapWriteError(err)
	}
	return int(tag.RowsAffected()), nil
}
