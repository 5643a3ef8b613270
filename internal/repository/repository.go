package repository

import (
	"context"
	"time"

	"github.com/zrcvae/partnermatch/internal/domain"
)

// Transactor runs fn inside a single atomic unit of work. Repository calls
// made with the ctx passed to fn join that unit; nested calls reuse it.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	ListUsersByIDs(ctx context.Context, ids []int64) ([]domain.User, error)
}

// TeamRepository persists team records.
type TeamRepository interface {
	CreateTeam(ctx context.Context, team *domain.Team) error
	GetTeamByID(ctx context.Context, id int64) (*domain.Team, error)
	UpdateTeam(ctx context.Context, team *domain.Team) error
	UpdateTeamOwner(ctx context.Context, teamID, ownerID int64) error
	DeleteTeam(ctx context.Context, id int64) error
	CountTeamsByOwner(ctx context.Context, ownerID int64) (int, error)
	ListTeams(ctx context.Context, query domain.TeamQuery, now time.Time) ([]domain.Team, error)
	TeamStats(ctx context.Context, now time.Time) (domain.TeamStats, error)
}

// MembershipRepository persists team memberships. ListMemberships orders by
// join time and then id, oldest first.
type MembershipRepository interface {
	CreateMembership(ctx context.Context, member *domain.Membership) error
	CountMemberships(ctx context.Context, filter domain.MembershipFilter) (int, error)
	CountMembershipsByTeam(ctx context.Context, teamIDs []int64) (map[int64]int, error)
	ListMemberships(ctx context.Context, filter domain.MembershipFilter) ([]domain.Membership, error)
	DeleteMemberships(ctx context.Context, filter domain.MembershipFilter) (int, error)
}

// Store bundles every repository the team service needs.
type Store interface {
	Transactor
	UserRepository
	TeamRepository
	MembershipRepository
}
