package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zrcvae/partnermatch/internal/domain"
	"github.com/zrcvae/partnermatch/internal/lock"
	"github.com/zrcvae/partnermatch/internal/repository"
	"github.com/zrcvae/partnermatch/pkg/crypto"
)

// DefaultJoinLockName is the lock every join serializes on.
const DefaultJoinLockName = "partnermatch:join_team:lock"

// Limits captures configurable quotas and locking policy.
type Limits struct {
	// MaxOwnedTeams caps teams a user may own; expired teams count.
	MaxOwnedTeams int
	// MaxJoinedTeams rejects a join once the user already has this many
	// memberships.
	MaxJoinedTeams int
	JoinLockName   string
	// SerializeMembership additionally takes a per-team lock in Join, Quit
	// and Delete.
	SerializeMembership bool
}

func (l Limits) withDefaults() Limits {
	if l.MaxOwnedTeams <= 0 {
		l.MaxOwnedTeams = 5
	}
	if l.MaxJoinedTeams <= 0 {
		l.MaxJoinedTeams = 5
	}
	if l.JoinLockName == "" {
		l.JoinLockName = DefaultJoinLockName
	}
	return l
}

func teamLockName(teamID int64) string {
	return fmt.Sprintf("partnermatch:team:%d:lock", teamID)
}

// Authorizer decides whether a caller holds the admin role.
type Authorizer interface {
	IsAdmin(user *domain.User) bool
}

// EventPublisher receives committed team changes.
type EventPublisher interface {
	Publish(event domain.TeamEvent)
}

// Service handles team workflows.
type Service struct {
	store   repository.Store
	locker  lock.Locker
	authz   Authorizer
	limits  Limits
	logger  *slog.Logger
	events  EventPublisher
	metrics *Metrics
	now     func() time.Time
}

// New constructs a Service.
func New(store repository.Store, locker lock.Locker, authz Authorizer, limits Limits, logger *slog.Logger) Service {
	return Service{
		store:  store,
		locker: locker,
		authz:  authz,
		limits: limits.withDefaults(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithEvents returns a copy of s that publishes to p.
func (s Service) WithEvents(p EventPublisher) Service {
	s.events = p
	return s
}

// WithMetrics returns a copy of s that records outcomes on m.
func (s Service) WithMetrics(m *Metrics) Service {
	s.metrics = m
	return s
}

// Limits reports the effective limits.
func (s Service) Limits() Limits { return s.limits }

func (s Service) publish(eventType string, teamID, userID, ownerID int64) {
	if s.events == nil {
		return
	}
	s.events.Publish(domain.TeamEvent{Type: eventType, TeamID: teamID, UserID: userID, OwnerID: ownerID, At: s.now()})
}

// fail passes classified errors through and logs anything else as a system
// failure before wrapping it.
func (s Service) fail(op string, err error, attrs ...any) error {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindSystem {
		return err
	}
	s.logger.Error("team operation failed", append([]any{"op", op, "error", err}, attrs...)...)
	if e != nil {
		return err
	}
	return system(op+" failed", err)
}

func (s Service) loadTeam(ctx context.Context, id int64) (*domain.Team, error) {
	if id <= 0 {
		return nil, invalid("team id is required")
	}
	team, err := s.store.GetTeamByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTeamNotFound
	}
	if err != nil {
		return nil, s.fail("load team", err, "team_id", id)
	}
	return team, nil
}

// CreateInput carries the fields of a new team.
type CreateInput struct {
	Name        string
	Description string
	MaxNum      int
	Status      *int
	Password    string
	ExpireTime  *time.Time
}

// Create registers a team owned by caller and makes caller its first member.
func (s Service) Create(ctx context.Context, caller *domain.User, in CreateInput) (id int64, err error) {
	defer func() { s.metrics.observe("create", err) }()
	if caller == nil {
		return 0, ErrLoginRequired
	}
	now := s.now()
	if err := validateMaxNum(in.MaxNum); err != nil {
		return 0, err
	}
	if err := validateName(in.Name); err != nil {
		return 0, err
	}
	if err := validateDescription(in.Description); err != nil {
		return 0, err
	}
	status, err := resolveStatus(in.Status)
	if err != nil {
		return 0, err
	}
	if status == domain.TeamStatusSecret {
		if err := validatePassword(in.Password); err != nil {
			return 0, err
		}
	}
	if err := validateExpiry(in.ExpireTime, now); err != nil {
		return 0, err
	}

	owned, err := s.store.CountTeamsByOwner(ctx, caller.ID)
	if err != nil {
		return 0, s.fail("count owned teams", err, "user_id", caller.ID)
	}
	if owned >= s.limits.MaxOwnedTeams {
		return 0, ErrOwnedQuota
	}

	team := &domain.Team{
		OwnerID:     caller.ID,
		Name:        in.Name,
		Description: in.Description,
		MaxNum:      in.MaxNum,
		Status:      status,
		ExpireTime:  in.ExpireTime,
	}
	if status == domain.TeamStatusSecret {
		hash, err := crypto.HashPassword(in.Password)
		if err != nil {
			return 0, s.fail("hash team password", err)
		}
		team.PasswordHash = hash
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateTeam(ctx, team); err != nil {
			return fmt.Errorf("insert team: %w", err)
		}
		owner := &domain.Membership{TeamID: team.ID, UserID: caller.ID, JoinTime: now}
		if err := s.store.CreateMembership(ctx, owner); err != nil {
			return fmt.Errorf("insert owner membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, s.fail("create team", err, "owner_id", caller.ID)
	}

	s.logger.Info("team created", "team_id", team.ID, "owner_id", caller.ID, "status", status.String())
	s.publish(domain.EventTeamCreated, team.ID, caller.ID, caller.ID)
	return team.ID, nil
}

// UpdateInput carries a partial team update. Nil fields are left unchanged.
type UpdateInput struct {
	ID          int64
	Name        *string
	Description *string
	MaxNum      *int
	Status      *int
	Password    *string
	ExpireTime  *time.Time
}

// Update modifies a team. Only the owner or an admin may update.
func (s Service) Update(ctx context.Context, caller *domain.User, in UpdateInput) (err error) {
	defer func() { s.metrics.observe("update", err) }()
	if caller == nil {
		return ErrLoginRequired
	}
	team, err := s.loadTeam(ctx, in.ID)
	if err != nil {
		return err
	}
	if team.OwnerID != caller.ID && !s.isAdmin(caller) {
		return ErrForbidden
	}

	next := *team
	if in.Name != nil {
		if err := validateName(*in.Name); err != nil {
			return err
		}
		next.Name = *in.Name
	}
	if in.Description != nil {
		if err := validateDescription(*in.Description); err != nil {
			return err
		}
		next.Description = *in.Description
	}
	if in.MaxNum != nil {
		if err := validateMaxNum(*in.MaxNum); err != nil {
			return err
		}
		next.MaxNum = *in.MaxNum
	}
	if in.Status != nil {
		status := domain.TeamStatus(*in.Status)
		if !status.Valid() {
			return invalid("team status is not recognised")
		}
		next.Status = status
	}
	if in.ExpireTime != nil {
		if err := validateExpiry(in.ExpireTime, s.now()); err != nil {
			return err
		}
		next.ExpireTime = in.ExpireTime
	}

	switch {
	case next.Status != domain.TeamStatusSecret:
		next.PasswordHash = nil
	case in.Password != nil:
		if err := validatePassword(*in.Password); err != nil {
			return err
		}
		hash, err := crypto.HashPassword(*in.Password)
		if err != nil {
			return s.fail("hash team password", err)
		}
		next.PasswordHash = hash
	case in.Status != nil || team.Status != domain.TeamStatusSecret:
		return invalid("secret teams require a password of 1 to 32 characters")
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		return s.store.UpdateTeam(ctx, &next)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return ErrTeamNotFound
	}
	if err != nil {
		return s.fail("update team", err, "team_id", team.ID)
	}
	s.logger.Info("team updated", "team_id", team.ID, "user_id", caller.ID)
	s.publish(domain.EventTeamUpdated, team.ID, caller.ID, next.OwnerID)
	return nil
}

func (s Service) isAdmin(user *domain.User) bool {
	return s.authz != nil && s.authz.IsAdmin(user)
}

// Get returns a single team by id with its owner and member count.
func (s Service) Get(ctx context.Context, caller *domain.User, id int64) (*domain.TeamView, error) {
	team, err := s.loadTeam(ctx, id)
	if err != nil {
		return nil, err
	}
	views, err := s.enrich(ctx, caller, []domain.Team{*team})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// List returns unexpired teams matching query.
func (s Service) List(ctx context.Context, caller *domain.User, query domain.TeamQuery) ([]domain.TeamView, error) {
	if query.Status != nil && !query.Status.Valid() {
		return nil, invalid("team status is not recognised")
	}
	if query.Limit <= 0 {
		query.Limit = defaultPageSize
	}
	if query.Limit > maxPageSize {
		query.Limit = maxPageSize
	}
	if query.Offset < 0 {
		query.Offset = 0
	}
	teams, err := s.store.ListTeams(ctx, query, s.now())
	if err != nil {
		return nil, s.fail("list teams", err)
	}
	return s.enrich(ctx, caller, teams)
}

// ListOwned returns the caller's unexpired teams.
func (s Service) ListOwned(ctx context.Context, caller *domain.User, query domain.TeamQuery) ([]domain.TeamView, error) {
	if caller == nil {
		return nil, ErrLoginRequired
	}
	query.OwnerID = caller.ID
	return s.List(ctx, caller, query)
}

// ListJoined returns unexpired teams the caller is a member of.
func (s Service) ListJoined(ctx context.Context, caller *domain.User, query domain.TeamQuery) ([]domain.TeamView, error) {
	if caller == nil {
		return nil, ErrLoginRequired
	}
	members, err := s.store.ListMemberships(ctx, domain.MembershipFilter{UserID: caller.ID})
	if err != nil {
		return nil, s.fail("list memberships", err, "user_id", caller.ID)
	}
	if len(members) == 0 {
		return []domain.TeamView{}, nil
	}
	query.IDs = make([]int64, 0, len(members))
	for _, m := range members {
		query.IDs = append(query.IDs, m.TeamID)
	}
	return s.List(ctx, caller, query)
}

func (s Service) enrich(ctx context.Context, caller *domain.User, teams []domain.Team) ([]domain.TeamView, error) {
	views := make([]domain.TeamView, 0, len(teams))
	if len(teams) == 0 {
		return views, nil
	}
	teamIDs := make([]int64, 0, len(teams))
	ownerIDs := make([]int64, 0, len(teams))
	for _, t := range teams {
		teamIDs = append(teamIDs, t.ID)
		ownerIDs = append(ownerIDs, t.OwnerID)
	}

	owners, err := s.store.ListUsersByIDs(ctx, ownerIDs)
	if err != nil {
		return nil, s.fail("load team owners", err)
	}
	profiles := make(map[int64]domain.UserProfile, len(owners))
	for _, u := range owners {
		profiles[u.ID] = u.Profile()
	}
	counts, err := s.store.CountMembershipsByTeam(ctx, teamIDs)
	if err != nil {
		return nil, s.fail("count team members", err)
	}
	joined := make(map[int64]bool)
	if caller != nil {
		mine, err := s.store.ListMemberships(ctx, domain.MembershipFilter{UserID: caller.ID})
		if err != nil {
			return nil, s.fail("list memberships", err, "user_id", caller.ID)
		}
		for _, m := range mine {
			joined[m.TeamID] = true
		}
	}

	for _, t := range teams {
		view := domain.NewTeamView(t)
		if p, ok := profiles[t.OwnerID]; ok {
			view.Owner = &p
		}
		view.JoinedCount = counts[t.ID]
		view.HasJoined = joined[t.ID]
		views = append(views, view)
	}
	return views, nil
}
