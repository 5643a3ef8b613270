package team

import (
	"context"
	"errors"
	"fmt"

	"github.com/zrcvae/partnermatch/internal/domain"
	"github.com/zrcvae/partnermatch/internal/repository"
	"github.com/zrcvae/partnermatch/pkg/crypto"
)

// JoinInput identifies the team to join and the password for secret teams.
type JoinInput struct {
	TeamID   int64
	Password string
}

// acquire takes the named lock and returns its release func. Cancellation
// while waiting maps to interrupted.
func (s Service) acquire(ctx context.Context, name string, interrupted error) (func(), error) {
	h, err := s.locker.Acquire(ctx, name)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("lock wait interrupted", "lock", name, "error", err)
			return nil, interrupted
		}
		return nil, s.fail("acquire lock", err, "lock", name)
	}
	return func() {
		if err := h.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("lock release failed", "lock", name, "error", err)
		}
	}, nil
}

// lockTeam takes the per-team lock when membership serialization is on.
func (s Service) lockTeam(ctx context.Context, teamID int64, interrupted error) (func(), error) {
	if !s.limits.SerializeMembership {
		return func() {}, nil
	}
	return s.acquire(ctx, teamLockName(teamID), interrupted)
}

// Join adds caller to a team. Checks that depend on membership counts run
// under the join lock so concurrent joins cannot overfill a team.
func (s Service) Join(ctx context.Context, caller *domain.User, in JoinInput) (err error) {
	defer func() { s.metrics.observe("join", err) }()
	if caller == nil {
		return ErrLoginRequired
	}
	team, err := s.loadTeam(ctx, in.TeamID)
	if err != nil {
		return err
	}
	if team.Expired(s.now()) {
		return ErrTeamExpired
	}
	if team.OwnerID == caller.ID {
		return ErrOwnTeam
	}
	switch team.Status {
	case domain.TeamStatusPrivate:
		return ErrPrivateTeam
	case domain.TeamStatusSecret:
		if in.Password == "" || crypto.ComparePassword(team.PasswordHash, in.Password) != nil {
			return ErrWrongPassword
		}
	}

	team, size, err := s.joinLocked(ctx, caller, team.ID)
	if err != nil {
		return err
	}
	s.logger.Info("team joined", "team_id", team.ID, "user_id", caller.ID, "members", size)
	s.publish(domain.EventMemberJoined, team.ID, caller.ID, team.OwnerID)
	return nil
}

// joinLocked inserts the membership while holding the join lock and, when
// enabled, the team lock. Both are released on return. It reports the team
// as re-read under the locks and its size after the insert.
func (s Service) joinLocked(ctx context.Context, caller *domain.User, teamID int64) (*domain.Team, int, error) {
	release, err := s.acquire(ctx, s.limits.JoinLockName, ErrJoinInterrupted)
	if err != nil {
		return nil, 0, err
	}
	defer release()
	releaseTeam, err := s.lockTeam(ctx, teamID, ErrJoinInterrupted)
	if err != nil {
		return nil, 0, err
	}
	defer releaseTeam()

	// The team may have been disbanded or resized while we waited.
	team, err := s.loadTeam(ctx, teamID)
	if err != nil {
		return nil, 0, err
	}

	joined, err := s.store.CountMemberships(ctx, domain.MembershipFilter{UserID: caller.ID})
	if err != nil {
		return nil, 0, s.fail("count joined teams", err, "user_id", caller.ID)
	}
	if joined >= s.limits.MaxJoinedTeams {
		return nil, 0, ErrJoinQuota
	}
	already, err := s.store.CountMemberships(ctx, domain.MembershipFilter{TeamID: team.ID, UserID: caller.ID})
	if err != nil {
		return nil, 0, s.fail("check membership", err, "team_id", team.ID, "user_id", caller.ID)
	}
	if already > 0 {
		return nil, 0, ErrAlreadyJoined
	}
	size, err := s.store.CountMemberships(ctx, domain.MembershipFilter{TeamID: team.ID})
	if err != nil {
		return nil, 0, s.fail("count team members", err, "team_id", team.ID)
	}
	if size >= team.MaxNum {
		return nil, 0, ErrTeamFull
	}

	member := &domain.Membership{TeamID: team.ID, UserID: caller.ID, JoinTime: s.now()}
	err = s.store.CreateMembership(ctx, member)
	switch {
	case errors.Is(err, repository.ErrConflict):
		return nil, 0, ErrAlreadyJoined
	case errors.Is(err, repository.ErrNotFound):
		return nil, 0, ErrTeamNotFound
	case err != nil:
		return nil, 0, s.fail("insert membership", err, "team_id", team.ID, "user_id", caller.ID)
	}
	return team, size + 1, nil
}

// Quit removes caller from a team. The last member leaving disbands the
// team; an owner leaving hands the team to the longest-standing member.
func (s Service) Quit(ctx context.Context, caller *domain.User, teamID int64) (err error) {
	defer func() { s.metrics.observe("quit", err) }()
	if caller == nil {
		return ErrLoginRequired
	}
	team, err := s.loadTeam(ctx, teamID)
	if err != nil {
		return err
	}
	disbanded, successor, err := s.quitLocked(ctx, caller, team)
	if err != nil {
		return err
	}

	switch {
	case disbanded:
		s.logger.Info("team disbanded", "team_id", team.ID, "user_id", caller.ID, "reason", "last member left")
		s.publish(domain.EventMemberLeft, team.ID, caller.ID, 0)
		s.publish(domain.EventTeamDisbanded, team.ID, caller.ID, 0)
	case successor != 0:
		s.logger.Info("team ownership transferred", "team_id", team.ID, "from", caller.ID, "to", successor)
		s.publish(domain.EventMemberLeft, team.ID, caller.ID, successor)
		s.publish(domain.EventOwnerChanged, team.ID, successor, successor)
	default:
		s.logger.Info("team left", "team_id", team.ID, "user_id", caller.ID)
		s.publish(domain.EventMemberLeft, team.ID, caller.ID, team.OwnerID)
	}
	return nil
}

// quitLocked removes caller's membership under the team lock. It reports
// whether the team was disbanded and who inherited it, if anyone.
func (s Service) quitLocked(ctx context.Context, caller *domain.User, team *domain.Team) (disbanded bool, successor int64, err error) {
	release, err := s.lockTeam(ctx, team.ID, ErrLockInterrupted)
	if err != nil {
		return false, 0, err
	}
	defer release()

	mine, err := s.store.CountMemberships(ctx, domain.MembershipFilter{TeamID: team.ID, UserID: caller.ID})
	if err != nil {
		return false, 0, s.fail("check membership", err, "team_id", team.ID, "user_id", caller.ID)
	}
	if mine == 0 {
		return false, 0, ErrNotMember
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		size, err := s.store.CountMemberships(ctx, domain.MembershipFilter{TeamID: team.ID})
		if err != nil {
			return fmt.Errorf("count team members: %w", err)
		}
		if size == 1 {
			disbanded = true
			return s.disband(ctx, team.ID)
		}
		if team.OwnerID == caller.ID {
			next, err := s.successor(ctx, team)
			if err != nil {
				return err
			}
			if err := s.store.UpdateTeamOwner(ctx, team.ID, next); err != nil {
				return fmt.Errorf("transfer ownership: %w", err)
			}
			successor = next
		}
		removed, err := s.store.DeleteMemberships(ctx, domain.MembershipFilter{TeamID: team.ID, UserID: caller.ID})
		if err != nil {
			return fmt.Errorf("delete membership: %w", err)
		}
		if removed == 0 {
			return ErrNotMember
		}
		return nil
	})
	if err != nil {
		return false, 0, s.fail("quit team", err, "team_id", team.ID, "user_id", caller.ID)
	}
	return disbanded, successor, nil
}

// successor picks the earliest-joined member other than the owner. Ties on
// join time fall back to membership id.
func (s Service) successor(ctx context.Context, team *domain.Team) (int64, error) {
	members, err := s.store.ListMemberships(ctx, domain.MembershipFilter{TeamID: team.ID})
	if err != nil {
		return 0, fmt.Errorf("list team members: %w", err)
	}
	for _, m := range members {
		if m.UserID != team.OwnerID {
			return m.UserID, nil
		}
	}
	return 0, ErrNoSuccessor
}

// disband removes memberships before the team row. Must run inside a tx.
// Finding no memberships means a concurrent disband got there first unless
// the team row is still present.
func (s Service) disband(ctx context.Context, teamID int64) error {
	removed, err := s.store.DeleteMemberships(ctx, domain.MembershipFilter{TeamID: teamID})
	if err != nil {
		return fmt.Errorf("delete memberships: %w", err)
	}
	if removed == 0 {
		_, err := s.store.GetTeamByID(ctx, teamID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return ErrTeamNotFound
		case err != nil:
			return fmt.Errorf("reload team: %w", err)
		}
		return system("disband team", fmt.Errorf("team %d had no memberships", teamID))
	}
	if err := s.store.DeleteTeam(ctx, teamID); err != nil {
		return fmt.Errorf("delete team: %w", err)
	}
	return nil
}

// Delete disbands a team. Only the owner may delete; admins may not.
func (s Service) Delete(ctx context.Context, caller *domain.User, teamID int64) (err error) {
	defer func() { s.metrics.observe("delete", err) }()
	if caller == nil {
		return ErrLoginRequired
	}
	team, err := s.loadTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if team.OwnerID != caller.ID {
		return ErrNotOwner
	}
	if err := s.deleteLocked(ctx, team.ID); err != nil {
		return err
	}
	s.logger.Info("team disbanded", "team_id", team.ID, "user_id", caller.ID, "reason", "deleted by owner")
	s.publish(domain.EventTeamDisbanded, team.ID, caller.ID, 0)
	return nil
}

func (s Service) deleteLocked(ctx context.Context, teamID int64) error {
	release, err := s.lockTeam(ctx, teamID, ErrLockInterrupted)
	if err != nil {
		return err
	}
	defer release()

	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		return s.disband(ctx, teamID)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return ErrTeamNotFound
	}
	if err != nil {
		return s.fail("delete team", err, "team_id", teamID)
	}
	return nil
}
