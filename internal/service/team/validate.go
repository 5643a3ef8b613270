package team

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zrcvae/partnermatch/internal/domain"
)

const (
	maxTeamSize       = 20
	maxNameLength     = 20
	maxDescLength     = 512
	maxPasswordLength = 32
)

func validateMaxNum(n int) error {
	if n < 1 || n >= maxTeamSize {
		return invalid("maxNum must be between 1 and 19")
	}
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" || utf8.RuneCountInString(name) > maxNameLength {
		return invalid("team name must be 1 to 20 characters")
	}
	return nil
}

func validateDescription(desc string) error {
	if strings.TrimSpace(desc) == "" || utf8.RuneCountInString(desc) > maxDescLength {
		return invalid("team description must be 1 to 512 characters")
	}
	return nil
}

func resolveStatus(code *int) (domain.TeamStatus, error) {
	if code == nil {
		return domain.TeamStatusPublic, nil
	}
	status := domain.TeamStatus(*code)
	if !status.Valid() {
		return 0, invalid("team status is not recognised")
	}
	return status, nil
}

func validatePassword(password string) error {
	if strings.TrimSpace(password) == "" || utf8.RuneCountInString(password) > maxPasswordLength {
		return invalid("secret teams require a password of 1 to 32 characters")
	}
	return nil
}

func validateExpiry(expire *time.Time, now time.Time) error {
	if expire != nil && !expire.After(now) {
		return invalid("expire time must be in the future")
	}
	return nil
}
