package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/zrcvae/partnermatch/internal/domain"
	"github.com/zrcvae/partnermatch/internal/repository"
	jwtpkg "github.com/zrcvae/partnermatch/pkg/jwt"
)

// ErrTokenRequired is returned when no token is presented.
var ErrTokenRequired = errors.New("token required")

// Service resolves callers from bearer tokens and answers role checks.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	secret string
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, secret string) Service {
	return Service{users: users, logger: logger, secret: secret}
}

// Authorize validates token and loads the user it names.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, *jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil, ErrTokenRequired
	}
	claims, err := jwtpkg.Parse(trimmed, s.secret)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	return user, claims, nil
}

// IsAdmin reports whether user holds the admin role.
func (s Service) IsAdmin(user *domain.User) bool {
	return user != nil && user.Role == domain.RoleAdmin
}

type callerKey struct{}

// WithCaller stores the authenticated user on ctx.
func WithCaller(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, callerKey{}, user)
}

// CallerFromContext returns the user stored by WithCaller, or nil.
func CallerFromContext(ctx context.Context) *domain.User {
	user, _ := ctx.Value(callerKey{}).(*domain.User)
	return user
}
