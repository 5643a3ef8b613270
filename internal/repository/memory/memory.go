// Package memory provides an in-process implementation of repository.Store.
// Writes are serialized and transactions roll back to a snapshot on error.
// Readers are not isolated from an open transaction.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zrcvae/partnermatch/internal/domain"
	"github.com/zrcvae/partnermatch/internal/repository"
)

// Operation names accepted by FailNext.
const (
	OpCreateTeam        = "CreateTeam"
	OpUpdateTeam        = "UpdateTeam"
	OpUpdateTeamOwner   = "UpdateTeamOwner"
	OpDeleteTeam        = "DeleteTeam"
	OpCreateMembership  = "CreateMembership"
	OpDeleteMemberships = "DeleteMemberships"
	OpListMemberships   = "ListMemberships"
)

var _ repository.Store = (*Store)(nil)

type state struct {
	nextUserID   int64
	nextTeamID   int64
	nextMemberID int64
	users        map[int64]domain.User
	teams        map[int64]domain.Team
	members      map[int64]domain.Membership
}

func (s state) clone() state {
	out := s
	out.users = make(map[int64]domain.User, len(s.users))
	for k, v := range s.users {
		out.users[k] = v
	}
	out.teams = make(map[int64]domain.Team, len(s.teams))
	for k, v := range s.teams {
		out.teams[k] = v
	}
	out.members = make(map[int64]domain.Membership, len(s.members))
	for k, v := range s.members {
		out.members[k] = v
	}
	return out
}

// Store keeps users, teams and memberships in maps.
type Store struct {
	writeMu sync.Mutex

	mu     sync.RWMutex
	data   state
	faults map[string]error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		data: state{
			users:   make(map[int64]domain.User),
			teams:   make(map[int64]domain.Team),
			members: make(map[int64]domain.Membership),
		},
		faults: make(map[string]error),
	}
}

// FailNext makes the next call of op return err.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

func (s *Store) fault(op string) error {
	err, ok := s.faults[op]
	if ok {
		delete(s.faults, op)
	}
	return err
}

type txKey struct{}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(struct{})
	return ok
}

// write serializes a standalone mutation against open transactions.
func (s *Store) write(ctx context.Context, fn func() error) error {
	if !inTx(ctx) {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// WithinTx runs fn exclusively with respect to other writers and restores
// the previous state when fn fails.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, struct{}{})); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// CreateUser stores a user and assigns its identifier.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	return s.write(ctx, func() error {
		for _, existing := range s.data.users {
			if existing.Username == user.Username {
				return fmt.Errorf("%w: username %q", repository.ErrConflict, user.Username)
			}
		}
		s.data.nextUserID++
		user.ID = s.data.nextUserID
		if user.CreatedAt.IsZero() {
			user.CreatedAt = time.Now().UTC()
		}
		s.data.users[user.ID] = *user
		return nil
	})
}

// GetUserByID retrieves a user by identifier.
func (s *Store) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.data.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

// ListUsersByIDs returns the users that exist among ids.
func (s *Store) ListUsersByIDs(_ context.Context, ids []int64) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.data.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

// CreateTeam stores a team and assigns its identifier.
func (s *Store) CreateTeam(ctx context.Context, team *domain.Team) error {
	return s.write(ctx, func() error {
		if err := s.fault(OpCreateTeam); err != nil {
			return err
		}
		if team.MaxNum < 1 || !team.Status.Valid() {
			return repository.ErrInvalidArgument
		}
		s.data.nextTeamID++
		now := time.Now().UTC()
		team.ID = s.data.nextTeamID
		team.CreatedAt, team.UpdatedAt = now, now
		s.data.teams[team.ID] = copyTeam(*team)
		return nil
	})
}

// GetTeamByID returns a team by identifier.
func (s *Store) GetTeamByID(_ context.Context, id int64) (*domain.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.data.teams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	t = copyTeam(t)
	return &t, nil
}

// UpdateTeam overwrites the mutable fields of a team.
func (s *Store) UpdateTeam(ctx context.Context, team *domain.Team) error {
	return s.write(ctx, func() error {
		if err := s.fault(OpUpdateTeam); err != nil {
			return err
		}
		current, ok := s.data.teams[team.ID]
		if !ok {
			return repository.ErrNotFound
		}
		current.Name = team.Name
		current.Description = team.Description
		current.MaxNum = team.MaxNum
		current.Status = team.Status
		current.PasswordHash = team.PasswordHash
		current.ExpireTime = team.ExpireTime
		current.UpdatedAt = time.Now().UTC()
		team.UpdatedAt = current.UpdatedAt
		s.data.teams[team.ID] = copyTeam(current)
		return nil
	})
}

// UpdateTeamOwner transfers ownership of a team.
func (s *Store) UpdateTeamOwner(ctx context.Context, teamID, ownerID int64) error {
	return s.write(ctx, func() error {
		if err := s.fault(OpUpdateTeamOwner); err != nil {
			return err
		}
		t, ok := s.data.teams[teamID]
		if !ok {
			return repository.ErrNotFound
		}
		t.OwnerID = ownerID
		t.UpdatedAt = time.Now().UTC()
		s.data.teams[teamID] = t
		return nil
	})
}

// DeleteTeam removes a team. Remaining memberships are refused like a
// foreign key would.
func (s *Store) DeleteTeam(ctx context.Context, id int64) error {
	return s.write(ctx, func() error {
		if err := s.fault(OpDeleteTeam); err != nil {
			return err
		}
		if _, ok := s.data.teams[id]; !ok {
			return repository.ErrNotFound
		}
		for _, m := range s.data.members {
			if m.TeamID == id {
				return fmt.Errorf("%w: team %d still has members", repository.ErrInvalidArgument, id)
			}
		}
		delete(s.data.teams, id)
		return nil
	})
}

// CountTeamsByOwner counts teams owned by a user, expired ones included.
func (s *Store) CountTeamsByOwner(_ context.Context, ownerID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, t := range s.data.teams {
		if t.OwnerID == ownerID {
			count++
		}
	}
	return count, nil
}

// ListTeams returns unexpired teams matching query ordered by id.
func (s *Store) ListTeams(_ context.Context, query domain.TeamQuery, now time.Time) ([]domain.Team, error) {
	s.mu.RLock()
	matched := make([]domain.Team, 0)
	for _, t := range s.data.teams {
		if !t.Expired(now) && matchTeam(t, query) {
			matched = append(matched, copyTeam(t))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	if query.Limit <= 0 {
		return matched, nil
	}
	if query.Offset >= len(matched) {
		return []domain.Team{}, nil
	}
	end := min(query.Offset+query.Limit, len(matched))
	return matched[query.Offset:end], nil
}

func matchTeam(t domain.Team, q domain.TeamQuery) bool {
	contains := func(haystack, needle string) bool {
		return strings.Contains(strings.ToLower(haystack), strings.ToLower(strings.TrimSpace(needle)))
	}
	switch {
	case q.ID > 0 && t.ID != q.ID:
		return false
	case len(q.IDs) > 0 && !slices.Contains(q.IDs, t.ID):
		return false
	case strings.TrimSpace(q.SearchText) != "" && !contains(t.Name, q.SearchText) && !contains(t.Description, q.SearchText):
		return false
	case strings.TrimSpace(q.Name) != "" && !contains(t.Name, q.Name):
		return false
	case strings.TrimSpace(q.Description) != "" && !contains(t.Description, q.Description):
		return false
	case q.MaxNum > 0 && t.MaxNum != q.MaxNum:
		return false
	case q.OwnerID > 0 && t.OwnerID != q.OwnerID:
		return false
	case q.Status != nil && t.Status != *q.Status:
		return false
	}
	return true
}

// TeamStats counts active and expired teams plus all memberships.
func (s *Store) TeamStats(_ context.Context, now time.Time) (domain.TeamStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats domain.TeamStats
	for _, t := range s.data.teams {
		if t.Expired(now) {
			stats.Expired++
		} else {
			stats.Active++
		}
	}
	stats.Memberships = len(s.data.members)
	return stats, nil
}

// CreateMembership stores a membership. A duplicate (team, user) pair
// returns repository.ErrConflict; an unknown team returns ErrNotFound.
func (s *Store) CreateMembership(ctx context.Context, member *domain.Membership) error {
	return s.write(ctx, func() error {
		if err := s.fault(OpCreateMembership); err != nil {
			return err
		}
		if _, ok := s.data.teams[member.TeamID]; !ok {
			return fmt.Errorf("%w: team %d", repository.ErrNotFound, member.TeamID)
		}
		for _, m := range s.data.members {
			if m.TeamID == member.TeamID && m.UserID == member.UserID {
				return fmt.Errorf("%w: team_members_team_user_key", repository.ErrConflict)
			}
		}
		s.data.nextMemberID++
		member.ID = s.data.nextMemberID
		if member.JoinTime.IsZero() {
			member.JoinTime = time.Now().UTC()
		}
		s.data.members[member.ID] = *member
		return nil
	})
}

func matchMember(m domain.Membership, f domain.MembershipFilter) bool {
	if f.TeamID > 0 && m.TeamID != f.TeamID {
		return false
	}
	if f.UserID > 0 && m.UserID != f.UserID {
		return false
	}
	return true
}

// CountMemberships counts memberships matching filter.
func (s *Store) CountMemberships(_ context.Context, filter domain.MembershipFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, m := range s.data.members {
		if matchMember(m, filter) {
			count++
		}
	}
	return count, nil
}

// CountMembershipsByTeam returns member counts keyed by team id.
func (s *Store) CountMembershipsByTeam(_ context.Context, teamIDs []int64) (map[int64]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[int64]int, len(teamIDs))
	for _, m := range s.data.members {
		if slices.Contains(teamIDs, m.TeamID) {
			counts[m.TeamID]++
		}
	}
	return counts, nil
}

// ListMemberships returns memberships matching filter, oldest first.
func (s *Store) ListMemberships(_ context.Context, filter domain.MembershipFilter) ([]domain.Membership, error) {
	s.mu.Lock()
	err := s.fault(OpListMemberships)
	list := make([]domain.Membership, 0)
	for _, m := range s.data.members {
		if matchMember(m, filter) {
			list = append(list, m)
		}
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sort.Slice(list, func(i, j int) bool {
		if !list[i].JoinTime.Equal(list[j].JoinTime) {
			return list[i].JoinTime.Before(list[j].JoinTime)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// DeleteMemberships removes memberships matching filter and reports how
// many went away. An empty filter is refused.
func (s *Store) DeleteMemberships(ctx context.Context, filter domain.MembershipFilter) (int, error) {
	if filter.Empty() {
		return 0, fmt.Errorf("%w: empty membership filter", repository.ErrInvalidArgument)
	}
	removed := 0
	err := s.write(ctx, func() error {
		if err := s.fault(OpDeleteMemberships); err != nil {
			return err
		}
		for id, m := range s.data.members {
			if matchMember(m, filter) {
				delete(s.data.members, id)
				removed++
			}
		}
		return nil
	})
	return removed, err
}

func copyTeam(t domain.Team) domain.Team {
	if t.PasswordHash != nil {
		t.PasswordHash = slices.Clone(t.PasswordHash)
	}
	if t.ExpireTime != nil {
		exp := *t.ExpireTime
		t.ExpireTime = &exp
	}
	return t
}
